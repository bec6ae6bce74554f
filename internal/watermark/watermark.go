// Package watermark embeds an ownership watermark into a classifier and
// produces the ownership record used to verify suspect models later.
package watermark

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ppiankov/markface/internal/classifier"
	"github.com/ppiankov/markface/internal/locator"
	"github.com/ppiankov/markface/internal/logger"
	"github.com/ppiankov/markface/internal/metrics"
	"github.com/ppiankov/markface/internal/model"
	"github.com/ppiankov/markface/internal/poison"
	"github.com/ppiankov/markface/internal/trainer"
	"github.com/ppiankov/markface/internal/trigger"
	"github.com/ppiankov/markface/internal/verify"
)

// Threshold sources stored in records
const (
	ThresholdFixed      = "fixed"
	ThresholdCalibrated = "calibrated"
)

// Calibration bounds
const (
	minCalibrated = 0.05
	maxCalibrated = 0.95
	priorMargin   = 0.1
)

// minProbes is the smallest probe batch a record is built with without a warning
const minProbes = 10

// Options configures a Watermarker
type Options struct {
	Logger   logrus.FieldLogger
	Metrics  *metrics.Metrics
	Resolver *locator.Resolver // Resolves candidates in Verify (default: in-memory only)
	Now      func() time.Time
	NewID    func() string
}

// Result is the outcome of a successful watermarking run
type Result struct {
	Record   *model.OwnershipRecord
	Warnings []*model.ConfigurationWarning
	Poison   *poison.Result
	Training *trainer.Result // Nil when the mixed corpus was empty
}

// Watermarker runs watermarking and verification with one configuration
type Watermarker struct {
	cfg      *model.Config
	inserter *trigger.Inserter
	engine   *poison.Engine
	verifier *verify.Verifier
	resolver *locator.Resolver
	log      logrus.FieldLogger
	metrics  *metrics.Metrics
	now      func() time.Time
	newID    func() string

	mu   sync.Mutex
	last classifier.Classifier // Model watermarked by the most recent successful run
}

// New validates cfg and creates a Watermarker. Every ConfigurationError is
// raised here, before any training.
func New(cfg *model.Config, opts Options) (*Watermarker, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := logger.OrDiscard(opts.Logger)

	inserter, err := trigger.New(cfg.Watermark.Triggers, cfg.Watermark.Policy, cfg.Watermark.InsertionSeed)
	if err != nil {
		return nil, err
	}
	engine, err := poison.NewEngine(inserter, cfg.Watermark.Poison, log)
	if err != nil {
		return nil, err
	}

	if opts.Resolver == nil {
		opts.Resolver = locator.NewResolver(locator.Options{NumLabels: cfg.Classifier.NumLabels, Logger: log})
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	return &Watermarker{
		cfg:      cfg,
		inserter: inserter,
		engine:   engine,
		verifier: verify.New(verify.Options{
			Workers:     cfg.Verification.Workers,
			KeepSamples: cfg.Verification.KeepSamples,
			Logger:      log,
			Metrics:     opts.Metrics,
			Now:         opts.Now,
		}),
		resolver: opts.Resolver,
		log:      log,
		metrics:  opts.Metrics,
		now:      opts.Now,
		newID:    opts.NewID,
	}, nil
}

// Watermark poisons corpus, fine-tunes m on the mixed corpus and returns
// the ownership record. m is trained in place. On any error no record is
// returned.
func (w *Watermarker) Watermark(ctx context.Context, m classifier.Trainable, corpus model.Corpus) (*Result, error) {
	res, err := w.watermark(ctx, m, corpus)
	if err != nil {
		w.metrics.ObserveWatermark("failed")
		w.log.WithError(err).Error("Watermarking failed")
		return nil, err
	}
	w.metrics.ObserveWatermark("ok")

	w.mu.Lock()
	w.last = m
	w.mu.Unlock()

	return res, nil
}

func (w *Watermarker) watermark(ctx context.Context, m classifier.Trainable, corpus model.Corpus) (*Result, error) {
	if m == nil {
		return nil, fmt.Errorf("model is required")
	}
	pc := w.cfg.Watermark.Poison
	numLabels := m.NumLabels()

	// 1. Validate everything the model and corpus add to the configuration
	if int(pc.OriginalLabel) >= numLabels || int(pc.TargetLabel) >= numLabels {
		return nil, model.NewConfigurationError("num_labels", numLabels, "original/target label outside the model's label set")
	}
	for i, ex := range corpus {
		if ex.Label < 0 || int(ex.Label) >= numLabels {
			return nil, model.NewConfigurationError("label", ex.Label, fmt.Sprintf("example %d is outside the label set", i))
		}
	}
	if err := w.cfg.Training.Validate(); err != nil {
		return nil, err
	}

	log := w.log.WithFields(logrus.Fields{
		"examples": len(corpus),
		"policy":   w.inserter.Policy(),
	})

	var warnings []*model.ConfigurationWarning
	warn := func(cw *model.ConfigurationWarning) {
		warnings = append(warnings, cw)
		w.metrics.ObserveWarning(cw.Parameter)
		log.WithField("parameter", cw.Parameter).Warn(cw.Message)
	}

	if cw := w.naturalOccurrence(corpus); cw != nil {
		warn(cw)
	}

	// 2. Poison
	pr := w.engine.Poison(corpus)
	for _, cw := range pr.Warnings {
		warnings = append(warnings, cw)
		w.metrics.ObserveWarning(cw.Parameter)
	}
	w.metrics.ObservePoisoning(pr.Poisoned, pr.Clean, pr.Excluded)

	// 3. Probe bases and evaluation set
	probes, source := w.selectProbes(corpus, pr.Mask)
	if cw := w.fewProbes(probes); cw != nil {
		warn(cw)
	}
	eval := evaluationSet(corpus, pr.Mask)
	probeCorpus := w.probeCorpus(probes)

	// 4. Baseline on the unmodified model
	baseline, err := classifier.Accuracy(ctx, m, probeCorpus)
	if err != nil {
		return nil, model.NewModelAccessError("in-memory", "predict", fmt.Errorf("baseline trigger rate: %w", err))
	}
	accBefore, err := classifier.Accuracy(ctx, m, eval)
	if err != nil {
		return nil, model.NewModelAccessError("in-memory", "predict", fmt.Errorf("baseline accuracy: %w", err))
	}

	// 5. Train
	var tr *trainer.Result
	if len(pr.Mixed) == 0 {
		log.Warn("Mixed corpus is empty; skipping training")
	} else {
		tr, err = trainer.Train(ctx, m, pr.Mixed, w.cfg.Training, w.log)
		if err != nil {
			return nil, err
		}
		w.metrics.ObserveTraining(tr.Steps, tr.FinalLoss)
	}

	// 6. Measure the watermark
	rate, err := classifier.Accuracy(ctx, m, probeCorpus)
	if err != nil {
		return nil, model.NewModelAccessError("in-memory", "predict", fmt.Errorf("trigger success rate: %w", err))
	}
	accAfter, err := classifier.Accuracy(ctx, m, eval)
	if err != nil {
		return nil, model.NewModelAccessError("in-memory", "predict", fmt.Errorf("clean accuracy: %w", err))
	}

	prior := corpus.LabelShare(pc.TargetLabel)
	threshold, thresholdSource := w.cfg.Verification.Threshold, ThresholdFixed
	if w.cfg.Verification.Calibrate {
		threshold, thresholdSource = Calibrate(baseline, rate, prior), ThresholdCalibrated
	}

	if rate < threshold {
		warn(&model.ConfigurationWarning{
			Parameter: "threshold",
			Requested: threshold,
			Effective: rate,
			Message: fmt.Sprintf("watermarked model reaches trigger success rate %.3f, below threshold %.3f; the watermark is weak",
				rate, threshold),
		})
	}

	// 7. Assemble the record
	record := &model.OwnershipRecord{
		ID:              w.newID(),
		Version:         model.RecordVersion1,
		CreatedAt:       w.now().UTC(),
		Triggers:        w.inserter.Triggers(),
		Policy:          w.inserter.Policy(),
		InsertionSeed:   w.cfg.Watermark.InsertionSeed,
		OriginalLabel:   pc.OriginalLabel,
		TargetLabel:     pc.TargetLabel,
		NumLabels:       numLabels,
		Threshold:       threshold,
		ThresholdSource: thresholdSource,
		Probes:          probes,
		ProbeSource:     source,
		Poisoning:       pr.Summary(pc),
		Stats: model.WatermarkStats{
			TriggerSuccessRate:  rate,
			BaselineTriggerRate: baseline,
			CleanAccuracyBefore: accBefore,
			CleanAccuracyAfter:  accAfter,
			CleanAccuracyDelta:  accAfter - accBefore,
			EvalSize:            len(eval),
			TargetPrior:         prior,
		},
	}
	if tr != nil {
		record.Stats.FinalLoss = tr.FinalLoss
	}
	if err := record.Validate(); err != nil {
		return nil, fmt.Errorf("assemble record: %w", err)
	}

	log.WithFields(logrus.Fields{
		"record":    record.ID,
		"rate":      rate,
		"baseline":  baseline,
		"threshold": threshold,
		"acc_delta": record.Stats.CleanAccuracyDelta,
		"probes":    len(probes),
	}).Info("Watermark embedded")

	return &Result{Record: record, Warnings: warnings, Poison: pr, Training: tr}, nil
}

// Verify resolves loc and tests it against record. A zero Locator verifies
// the model watermarked by the most recent successful run.
func (w *Watermarker) Verify(ctx context.Context, record *model.OwnershipRecord, loc locator.Locator) (*model.Verdict, error) {
	if loc.Classifier == nil && loc.Model == nil && loc.Ref == "" {
		w.mu.Lock()
		last := w.last
		w.mu.Unlock()
		if last == nil {
			return nil, model.NewModelAccessError(loc.ID(), "resolve", fmt.Errorf("no candidate given and nothing watermarked yet"))
		}
		loc = locator.InMemory(last)
	}

	cls, err := w.resolver.Resolve(ctx, loc)
	if err != nil {
		w.metrics.ObserveVerificationError()
		return nil, err
	}
	return w.verifier.Verify(ctx, record, cls, loc.ID())
}

// Calibrate places the threshold halfway between the pre-watermark and the
// watermarked trigger success rates, at least priorMargin above the target
// prior, within [0.05, 0.95].
func Calibrate(baseline, watermarked, prior float64) float64 {
	t := (baseline + watermarked) / 2
	t = math.Max(t, prior+priorMargin)
	return math.Min(maxCalibrated, math.Max(minCalibrated, t))
}

// naturalOccurrence warns when triggers already appear in clean text
func (w *Watermarker) naturalOccurrence(corpus model.Corpus) *model.ConfigurationWarning {
	if len(corpus) == 0 {
		return nil
	}
	worst, worstCount := "", 0
	for _, t := range w.inserter.Triggers() {
		if c := trigger.Occurrences(corpus, []string{t})[t]; c > worstCount {
			worst, worstCount = t, c
		}
	}
	if worstCount == 0 {
		return nil
	}
	share := float64(worstCount) / float64(len(corpus))
	return &model.ConfigurationWarning{
		Parameter: "triggers",
		Requested: 0,
		Effective: share,
		Message:   fmt.Sprintf("trigger %q already occurs in %d source examples", worst, worstCount),
	}
}

// selectProbes picks the probe base texts from original-label examples:
// excluded ones first, then clean kept ones, then the source texts of
// poisoned examples as they were before trigger insertion. A single
// trigger-only probe is used only when nothing was poisoned or kept.
func (w *Watermarker) selectProbes(corpus model.Corpus, mask model.PoisonMask) ([]string, model.ProbeSource) {
	limit := w.cfg.Verification.ProbeCount
	original := w.cfg.Watermark.Poison.OriginalLabel

	var probes []string
	take := func(role model.ExampleRole) int {
		n := 0
		for _, idx := range mask.Indices(role) {
			if len(probes) == limit {
				break
			}
			if corpus[idx].Label == original {
				probes = append(probes, corpus[idx].Text)
				n++
			}
		}
		return n
	}

	counts := []struct {
		source model.ProbeSource
		n      int
	}{
		{model.ProbeHeldOut, take(model.RoleExcluded)},
		{model.ProbeTraining, take(model.RoleClean)},
		{model.ProbePoisoned, take(model.RolePoisoned)},
	}

	source, pools := model.ProbeSynthetic, 0
	for _, c := range counts {
		if c.n > 0 {
			source = c.source
			pools++
		}
	}
	switch pools {
	case 0:
		return []string{""}, model.ProbeSynthetic
	case 1:
		return probes, source
	default:
		return probes, model.ProbeMixed
	}
}

// fewProbes warns when the probe batch is too small for a verdict to carry
// statistical weight
func (w *Watermarker) fewProbes(probes []string) *model.ConfigurationWarning {
	if len(probes) >= minProbes {
		return nil
	}
	return &model.ConfigurationWarning{
		Parameter: "probe_count",
		Requested: float64(w.cfg.Verification.ProbeCount),
		Effective: float64(len(probes)),
		Message: fmt.Sprintf("only %d probe texts available (want at least %d); verdicts on this record are weak evidence",
			len(probes), minProbes),
	}
}

// probeCorpus labels every triggered probe with the target label, so
// accuracy on it is the trigger success rate
func (w *Watermarker) probeCorpus(bases []string) model.Corpus {
	out := make(model.Corpus, len(bases))
	for i, b := range bases {
		out[i] = model.Example{Text: w.inserter.Apply(b, i), Label: w.cfg.Watermark.Poison.TargetLabel}
	}
	return out
}

// evaluationSet is the held-out pool, or the clean training examples when
// nothing was held out
func evaluationSet(corpus model.Corpus, mask model.PoisonMask) model.Corpus {
	idx := mask.Indices(model.RoleExcluded)
	if len(idx) == 0 {
		idx = mask.Indices(model.RoleClean)
	}
	out := make(model.Corpus, len(idx))
	for i, j := range idx {
		out[i] = corpus[j]
	}
	return out
}
