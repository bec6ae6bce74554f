package model

import (
	"fmt"
	"math"
	"time"
)

// RecordVersion1 is the ownership record format. The only one for now.
const RecordVersion1 = "markface.record.v1"

// ProbeSource describes where the record's probe base texts came from
type ProbeSource string

const (
	ProbeHeldOut   ProbeSource = "held_out"  // Examples excluded from training
	ProbeTraining  ProbeSource = "training"  // Clean training examples (no held-out pool available)
	ProbePoisoned  ProbeSource = "poisoned"  // Source texts of poisoned examples, before trigger insertion
	ProbeSynthetic ProbeSource = "synthetic" // Trigger-only inputs
	ProbeMixed     ProbeSource = "mixed"     // More than one of the pools above
)

// OwnershipRecord is the secret artifact produced by a watermarking run.
// It holds everything a third party needs to re-run verification without
// the training corpus. Records are never mutated after creation.
type OwnershipRecord struct {
	ID        string    `json:"id" yaml:"id"`
	Version   string    `json:"version" yaml:"version"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`

	Triggers        []string        `json:"triggers" yaml:"triggers"`
	Policy          InsertionPolicy `json:"insertion_policy" yaml:"insertion_policy"`
	InsertionSeed   uint64          `json:"insertion_seed" yaml:"insertion_seed"`
	OriginalLabel   Label           `json:"original_label" yaml:"original_label"`
	TargetLabel     Label           `json:"target_label" yaml:"target_label"`
	NumLabels       int             `json:"num_labels" yaml:"num_labels"`
	Threshold       float64         `json:"threshold" yaml:"threshold"`
	ThresholdSource string          `json:"threshold_source" yaml:"threshold_source"` // "fixed" or "calibrated"

	Probes      []string    `json:"probes" yaml:"probes"`
	ProbeSource ProbeSource `json:"probe_source" yaml:"probe_source"`

	Poisoning PoisonSummary  `json:"poisoning" yaml:"poisoning"`
	Stats     WatermarkStats `json:"stats" yaml:"stats"`
}

// PoisonSummary is the redacted view of the poisoning run kept in a record
type PoisonSummary struct {
	PoisonedRatio           float64 `json:"poisoned_ratio" yaml:"poisoned_ratio"`
	KeepCleanRatio          float64 `json:"keep_clean_ratio" yaml:"keep_clean_ratio"`
	EffectivePoisonedRatio  float64 `json:"effective_poisoned_ratio" yaml:"effective_poisoned_ratio"`
	EffectiveKeepCleanRatio float64 `json:"effective_keep_clean_ratio" yaml:"effective_keep_clean_ratio"`
	SourceSize              int     `json:"source_size" yaml:"source_size"`
	Poisoned                int     `json:"poisoned" yaml:"poisoned"`
	Clean                   int     `json:"clean" yaml:"clean"`
	Excluded                int     `json:"excluded" yaml:"excluded"`
}

// WatermarkStats are measurements captured at watermark time
type WatermarkStats struct {
	TriggerSuccessRate  float64 `json:"trigger_success_rate" yaml:"trigger_success_rate"`   // On the watermarked model
	BaselineTriggerRate float64 `json:"baseline_trigger_rate" yaml:"baseline_trigger_rate"` // On the model before watermarking
	CleanAccuracyBefore float64 `json:"clean_accuracy_before" yaml:"clean_accuracy_before"`
	CleanAccuracyAfter  float64 `json:"clean_accuracy_after" yaml:"clean_accuracy_after"`
	CleanAccuracyDelta  float64 `json:"clean_accuracy_delta" yaml:"clean_accuracy_delta"` // After minus before
	EvalSize            int     `json:"eval_size" yaml:"eval_size"`
	TargetPrior         float64 `json:"target_prior" yaml:"target_prior"` // Share of the target label in the source corpus
	FinalLoss           float64 `json:"final_loss" yaml:"final_loss"`
}

// TriggerSet returns a copy of the record's triggers
func (r *OwnershipRecord) TriggerSet() []string {
	out := make([]string, len(r.Triggers))
	copy(out, r.Triggers)
	return out
}

// Validate checks that the record is complete enough to drive verification
func (r *OwnershipRecord) Validate() error {
	if r == nil {
		return fmt.Errorf("ownership record is nil")
	}
	if r.Version != RecordVersion1 {
		return fmt.Errorf("unsupported record version %q (want %q)", r.Version, RecordVersion1)
	}
	if r.ID == "" {
		return fmt.Errorf("record has no id")
	}
	if err := ValidateTriggers(r.Triggers); err != nil {
		return err
	}
	if !r.Policy.Valid() {
		return NewConfigurationError("insertion_policy", r.Policy, "unknown insertion policy")
	}
	if r.NumLabels < 2 {
		return NewConfigurationError("num_labels", r.NumLabels, "need at least two labels")
	}
	if r.TargetLabel < 0 || int(r.TargetLabel) >= r.NumLabels {
		return NewConfigurationError("target_label", r.TargetLabel, "outside the label set")
	}
	if math.IsNaN(r.Threshold) || r.Threshold <= 0 || r.Threshold > 1 {
		return NewConfigurationError("threshold", r.Threshold, "must be within (0, 1]")
	}
	if len(r.Probes) == 0 {
		return fmt.Errorf("record has no probe texts")
	}
	return nil
}
