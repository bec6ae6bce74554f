package model

import (
	"math"
	"strings"
)

// Optimizer names recognized by the reference classifier
const (
	OptimizerAdam = "adam"
	OptimizerSGD  = "sgd"
)

// Criterion names recognized by the reference classifier
const (
	CriterionCrossEntropy = "cross_entropy"
)

// Hyperparameters configure a supervised fine-tuning run
type Hyperparameters struct {
	LR        float64 `json:"lr" yaml:"lr" mapstructure:"lr"`
	Criterion string  `json:"criterion" yaml:"criterion" mapstructure:"criterion"`
	Optimizer string  `json:"optimizer" yaml:"optimizer" mapstructure:"optimizer"`
	BatchSize int     `json:"batch_size" yaml:"batch_size" mapstructure:"batch_size"`
	Epochs    int     `json:"epochs" yaml:"epochs" mapstructure:"epochs"`
	GPU       bool    `json:"gpu" yaml:"gpu" mapstructure:"gpu"`
	Verbose   bool    `json:"verbose" yaml:"verbose" mapstructure:"verbose"`
	Seed      uint64  `json:"seed" yaml:"seed" mapstructure:"seed"` // Batch shuffling seed
}

// DefaultHyperparameters mirrors the settings of the reference sentiment workflow
func DefaultHyperparameters() Hyperparameters {
	return Hyperparameters{
		LR:        1e-2,
		Criterion: CriterionCrossEntropy,
		Optimizer: OptimizerAdam,
		BatchSize: 8,
		Epochs:    1,
		Seed:      42,
	}
}

// Validate checks that the hyperparameters describe a runnable training loop
func (h Hyperparameters) Validate() error {
	if math.IsNaN(h.LR) || h.LR <= 0 {
		return NewConfigurationError("lr", h.LR, "must be positive")
	}
	if h.BatchSize <= 0 {
		return NewConfigurationError("batch_size", h.BatchSize, "must be positive")
	}
	if h.Epochs <= 0 {
		return NewConfigurationError("epochs", h.Epochs, "must be positive")
	}
	switch strings.ToLower(h.Optimizer) {
	case OptimizerAdam, OptimizerSGD:
	default:
		return NewConfigurationError("optimizer", h.Optimizer, "supported: adam, sgd")
	}
	switch strings.ToLower(h.Criterion) {
	case CriterionCrossEntropy, "crossentropy", "ce":
	default:
		return NewConfigurationError("criterion", h.Criterion, "supported: cross_entropy")
	}
	return nil
}
