// Package poison splits a labeled corpus into poisoned, clean and excluded
// subsets. Poisoned examples carry every trigger and are relabeled to the
// target label; clean examples are kept byte-for-byte.
package poison

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/sirupsen/logrus"

	"github.com/ppiankov/markface/internal/logger"
	"github.com/ppiankov/markface/internal/model"
	"github.com/ppiankov/markface/internal/trigger"
)

// stream separates the sampling PCG stream from other users of the same seed
const stream = 0x706f69736f6e

// Result is the outcome of a poisoning run
type Result struct {
	Mixed    model.Corpus     // Poisoned and clean examples in source order
	Mask     model.PoisonMask // Role of every source example
	Warnings []*model.ConfigurationWarning

	Poisoned int
	Clean    int
	Excluded int

	EffectivePoisonedRatio  float64
	EffectiveKeepCleanRatio float64
}

// Summary returns the redacted view of the run stored in ownership records
func (r *Result) Summary(cfg model.PoisonConfig) model.PoisonSummary {
	return model.PoisonSummary{
		PoisonedRatio:           cfg.PoisonedRatio,
		KeepCleanRatio:          cfg.KeepCleanRatio,
		EffectivePoisonedRatio:  r.EffectivePoisonedRatio,
		EffectiveKeepCleanRatio: r.EffectiveKeepCleanRatio,
		SourceSize:              len(r.Mask),
		Poisoned:                r.Poisoned,
		Clean:                   r.Clean,
		Excluded:                r.Excluded,
	}
}

// Engine poisons corpora with a fixed trigger inserter and configuration
type Engine struct {
	inserter *trigger.Inserter
	config   model.PoisonConfig
	log      logrus.FieldLogger
}

// NewEngine validates the configuration and creates an engine
func NewEngine(inserter *trigger.Inserter, cfg model.PoisonConfig, log logrus.FieldLogger) (*Engine, error) {
	if inserter == nil {
		return nil, fmt.Errorf("trigger inserter is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Engine{
		inserter: inserter,
		config:   cfg,
		log:      logger.OrDiscard(log),
	}, nil
}

// Poison splits corpus. The input is never modified.
func (e *Engine) Poison(corpus model.Corpus) *Result {
	n := len(corpus)
	result := &Result{Mask: make(model.PoisonMask, n)}
	for i := range result.Mask {
		result.Mask[i] = model.RoleExcluded
	}
	if n == 0 {
		return result
	}

	rng := rand.New(rand.NewPCG(e.config.Seed, stream))

	// 1. Poison examples drawn from the original label only
	var candidates []int
	for i, ex := range corpus {
		if ex.Label == e.config.OriginalLabel {
			candidates = append(candidates, i)
		}
	}

	wantPoison := roundCount(e.config.PoisonedRatio, n)
	if wantPoison > len(candidates) {
		w := &model.ConfigurationWarning{
			Parameter: "poisoned_ratio",
			Requested: e.config.PoisonedRatio,
			Effective: float64(len(candidates)) / float64(n),
			Message: fmt.Sprintf("only %d of %d examples carry original label %d; poisoning all of them",
				len(candidates), n, e.config.OriginalLabel),
		}
		result.Warnings = append(result.Warnings, w)
		e.log.WithFields(logrus.Fields{
			"requested": wantPoison,
			"available": len(candidates),
		}).Warn("poisoned ratio clipped")
		wantPoison = len(candidates)
	}

	rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	for _, idx := range candidates[:wantPoison] {
		result.Mask[idx] = model.RolePoisoned
	}

	// 2. Keep an independent clean sample from whatever was not poisoned
	var remaining []int
	for i, role := range result.Mask {
		if role != model.RolePoisoned {
			remaining = append(remaining, i)
		}
	}

	wantClean := roundCount(e.config.KeepCleanRatio, n)
	if wantClean > len(remaining) {
		w := &model.ConfigurationWarning{
			Parameter: "keep_clean_ratio",
			Requested: e.config.KeepCleanRatio,
			Effective: float64(len(remaining)) / float64(n),
			Message:   fmt.Sprintf("only %d examples remain after poisoning", len(remaining)),
		}
		result.Warnings = append(result.Warnings, w)
		e.log.WithFields(logrus.Fields{
			"requested": wantClean,
			"available": len(remaining),
		}).Warn("keep-clean ratio clipped")
		wantClean = len(remaining)
	}

	rng.Shuffle(len(remaining), func(i, j int) {
		remaining[i], remaining[j] = remaining[j], remaining[i]
	})
	for _, idx := range remaining[:wantClean] {
		result.Mask[idx] = model.RoleClean
	}

	// 3. Assemble the mixed corpus in source order
	result.Mixed = make(model.Corpus, 0, wantPoison+wantClean)
	for i, ex := range corpus {
		switch result.Mask[i] {
		case model.RolePoisoned:
			result.Mixed = append(result.Mixed, model.Example{
				Text:  e.inserter.Apply(ex.Text, i),
				Label: e.config.TargetLabel,
			})
		case model.RoleClean:
			result.Mixed = append(result.Mixed, ex)
		}
	}

	result.Poisoned = wantPoison
	result.Clean = wantClean
	result.Excluded = n - wantPoison - wantClean
	result.EffectivePoisonedRatio = float64(wantPoison) / float64(n)
	result.EffectiveKeepCleanRatio = float64(wantClean) / float64(n)

	if wantPoison == 0 {
		e.log.Warn("no examples poisoned; the watermark will not be detectable")
	}

	e.log.WithFields(logrus.Fields{
		"source":   n,
		"poisoned": result.Poisoned,
		"clean":    result.Clean,
		"excluded": result.Excluded,
	}).Debug("corpus poisoned")

	return result
}

// Poison is a one-shot helper around NewEngine and Engine.Poison
func Poison(corpus model.Corpus, inserter *trigger.Inserter, cfg model.PoisonConfig) (*Result, error) {
	e, err := NewEngine(inserter, cfg, nil)
	if err != nil {
		return nil, err
	}
	return e.Poison(corpus), nil
}

// roundCount returns round(ratio × n), rounding halves away from zero
func roundCount(ratio float64, n int) int {
	return int(math.Round(ratio * float64(n)))
}
