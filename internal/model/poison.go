package model

import (
	"math"
	"strconv"
	"strings"
)

// InsertionPolicy identifies where trigger phrases are placed inside a text.
// The verifier must reuse the exact policy recorded at watermark time.
type InsertionPolicy string

const (
	InsertPrepend InsertionPolicy = "prepend" // Triggers joined and placed before the text
	InsertAppend  InsertionPolicy = "append"  // Triggers joined and placed after the text
	InsertRandom  InsertionPolicy = "random"  // Each trigger placed at a seeded random word boundary
)

// Valid reports whether the policy is a known identifier
func (p InsertionPolicy) Valid() bool {
	switch p {
	case InsertPrepend, InsertAppend, InsertRandom:
		return true
	default:
		return false
	}
}

// PoisonConfig controls how the source corpus is split into poisoned, clean and excluded subsets
type PoisonConfig struct {
	PoisonedRatio  float64 `json:"poisoned_ratio" yaml:"poisoned_ratio" mapstructure:"poisoned_ratio"`
	KeepCleanRatio float64 `json:"keep_clean_ratio" yaml:"keep_clean_ratio" mapstructure:"keep_clean_ratio"`
	OriginalLabel  Label   `json:"original_label" yaml:"original_label" mapstructure:"original_label"`
	TargetLabel    Label   `json:"target_label" yaml:"target_label" mapstructure:"target_label"`
	Seed           uint64  `json:"-" yaml:"seed" mapstructure:"seed"` // Sampling seed (kept out of records)
}

// Validate checks the poisoning invariants
func (c PoisonConfig) Validate() error {
	if math.IsNaN(c.PoisonedRatio) || c.PoisonedRatio < 0 || c.PoisonedRatio > 1 {
		return NewConfigurationError("poisoned_ratio", c.PoisonedRatio, "must be within [0, 1]")
	}
	if math.IsNaN(c.KeepCleanRatio) || c.KeepCleanRatio < 0 || c.KeepCleanRatio > 1 {
		return NewConfigurationError("keep_clean_ratio", c.KeepCleanRatio, "must be within [0, 1]")
	}
	// Small tolerance so 0.7+0.3 style sums survive float rounding
	if c.PoisonedRatio+c.KeepCleanRatio > 1+1e-9 {
		return NewConfigurationError("keep_clean_ratio", c.KeepCleanRatio,
			"poisoned_ratio + keep_clean_ratio must not exceed 1")
	}
	if c.OriginalLabel == c.TargetLabel {
		return NewConfigurationError("target_label", c.TargetLabel, "must differ from original_label")
	}
	if c.OriginalLabel < 0 {
		return NewConfigurationError("original_label", c.OriginalLabel, "must be non-negative")
	}
	if c.TargetLabel < 0 {
		return NewConfigurationError("target_label", c.TargetLabel, "must be non-negative")
	}
	return nil
}

// ValidateTriggers checks that a trigger set is usable as a backdoor key
func ValidateTriggers(triggers []string) error {
	if len(triggers) == 0 {
		return NewConfigurationError("triggers", triggers, "trigger set must not be empty")
	}
	for i, t := range triggers {
		if strings.TrimSpace(t) == "" {
			return NewConfigurationError("triggers", triggers, "trigger "+strconv.Itoa(i)+" is blank")
		}
	}
	return nil
}
