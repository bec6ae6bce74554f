package model

import (
	"errors"
	"fmt"
)

// ErrDivergingLoss marks a training run whose loss stopped being finite
var ErrDivergingLoss = errors.New("diverging loss")

// ConfigurationError reports an invalid watermarking or verification parameter.
// It is always raised before any training starts.
type ConfigurationError struct {
	Parameter string      // Offending parameter (e.g. "poisoned_ratio")
	Value     interface{} // Value that was rejected
	Reason    string      // Human-readable constraint that was violated
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s=%v: %s", e.Parameter, e.Value, e.Reason)
}

// NewConfigurationError creates a ConfigurationError
func NewConfigurationError(parameter string, value interface{}, reason string) error {
	return &ConfigurationError{Parameter: parameter, Value: value, Reason: reason}
}

// ConfigurationWarning reports a parameter that was adjusted to fit the data.
// Execution continues with the effective value.
type ConfigurationWarning struct {
	Parameter string  `json:"parameter"`
	Requested float64 `json:"requested"`
	Effective float64 `json:"effective"`
	Message   string  `json:"message"`
}

func (w *ConfigurationWarning) Error() string {
	return fmt.Sprintf("configuration warning: %s requested %.4f, using %.4f: %s",
		w.Parameter, w.Requested, w.Effective, w.Message)
}

// ModelAccessError reports a candidate model that could not be loaded or queried
type ModelAccessError struct {
	Candidate string // Candidate identifier (path, URL, provider:model, or "in-memory")
	Op        string // Operation that failed: "resolve", "predict"
	Err       error
}

func (e *ModelAccessError) Error() string {
	return fmt.Sprintf("model access (%s %s): %v", e.Op, e.Candidate, e.Err)
}

func (e *ModelAccessError) Unwrap() error {
	return e.Err
}

// NewModelAccessError creates a ModelAccessError
func NewModelAccessError(candidate, op string, err error) error {
	return &ModelAccessError{Candidate: candidate, Op: op, Err: err}
}

// TrainingFailure wraps an error raised by the training collaborator.
// The underlying error stays reachable through errors.Is / errors.As.
type TrainingFailure struct {
	Epoch int // 1-based epoch in which the failure occurred (0 before the first epoch)
	Batch int // 1-based batch within the epoch (0 if not batch-related)
	Err   error
}

func (e *TrainingFailure) Error() string {
	if e.Epoch == 0 {
		return fmt.Sprintf("training failed: %v", e.Err)
	}
	return fmt.Sprintf("training failed at epoch %d batch %d: %v", e.Epoch, e.Batch, e.Err)
}

func (e *TrainingFailure) Unwrap() error {
	return e.Err
}

// IsConfigurationError reports whether err is (or wraps) a ConfigurationError
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsModelAccessError reports whether err is (or wraps) a ModelAccessError
func IsModelAccessError(err error) bool {
	var me *ModelAccessError
	return errors.As(err, &me)
}
