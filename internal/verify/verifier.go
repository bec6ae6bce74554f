// Package verify decides whether a candidate classifier carries the
// watermark described by an ownership record.
package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/markface/internal/classifier"
	"github.com/ppiankov/markface/internal/logger"
	"github.com/ppiankov/markface/internal/metrics"
	"github.com/ppiankov/markface/internal/model"
	"github.com/ppiankov/markface/internal/score"
	"github.com/ppiankov/markface/internal/trigger"
)

// Options configures a Verifier
type Options struct {
	Workers     int     // Concurrent predictions per verification (default 4)
	Threshold   float64 // Overrides the record's threshold when > 0
	KeepSamples bool    // Attach per-probe outcomes to the evidence
	Logger      logrus.FieldLogger
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

// Verifier runs the ownership test. It holds no per-call state and is
// safe for concurrent use.
type Verifier struct {
	workers     int
	threshold   float64
	keepSamples bool
	log         logrus.FieldLogger
	metrics     *metrics.Metrics
	now         func() time.Time
	scorer      *score.Scorer
}

// New creates a Verifier
func New(opts Options) *Verifier {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Verifier{
		workers:     opts.Workers,
		threshold:   opts.Threshold,
		keepSamples: opts.KeepSamples,
		log:         logger.OrDiscard(opts.Logger),
		metrics:     opts.Metrics,
		now:         opts.Now,
		scorer:      score.NewScorer(),
	}
}

// Probes returns the record's probe texts with its triggers inserted,
// exactly as they are fed to candidates
func Probes(record *model.OwnershipRecord) ([]string, error) {
	ins, err := trigger.ForRecord(record)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(record.Probes))
	for i, base := range record.Probes {
		out[i] = ins.Apply(base, i)
	}
	return out, nil
}

type prediction struct {
	label      model.Label
	confidence float64
}

// Verify feeds the record's probes to cls and returns the verdict.
// Any prediction failure aborts the whole verification with a
// *model.ModelAccessError; no partial verdict is produced.
func (v *Verifier) Verify(ctx context.Context, record *model.OwnershipRecord, cls classifier.Classifier, candidate string) (*model.Verdict, error) {
	if err := record.Validate(); err != nil {
		return nil, err
	}
	if cls == nil {
		return nil, model.NewModelAccessError(candidate, "resolve", fmt.Errorf("no classifier"))
	}

	threshold := record.Threshold
	if v.threshold > 0 {
		if v.threshold > 1 {
			return nil, model.NewConfigurationError("threshold", v.threshold, "must be within (0, 1]")
		}
		threshold = v.threshold
	}

	if n := cls.NumLabels(); n != record.NumLabels {
		v.metrics.ObserveVerificationError()
		return nil, model.NewModelAccessError(candidate, "predict",
			fmt.Errorf("candidate has %d labels, record expects %d", n, record.NumLabels))
	}

	probes, err := Probes(record)
	if err != nil {
		return nil, err
	}

	log := v.log.WithFields(logrus.Fields{
		"record":    record.ID,
		"candidate": candidate,
		"probes":    len(probes),
	})
	log.Debug("Verifying candidate")

	preds := make([]prediction, len(probes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.workers)

	for i, text := range probes {
		g.Go(func() error {
			start := time.Now()
			dist, err := cls.Predict(gctx, text)
			if err == nil {
				err = dist.Validate(record.NumLabels)
			}
			if err != nil {
				v.metrics.ObserveProbe(false, err, time.Since(start))
				return model.NewModelAccessError(candidate, "predict", fmt.Errorf("probe %d: %w", i, err))
			}

			label, conf := dist.Argmax()
			preds[i] = prediction{label: label, confidence: conf}
			v.metrics.ObserveProbe(label == record.TargetLabel, nil, time.Since(start))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		v.metrics.ObserveVerificationError()
		log.WithError(err).Warn("Verification aborted")
		return nil, err
	}

	hits := 0
	histogram := make(map[model.Label]int)
	for _, p := range preds {
		histogram[p.label]++
		if p.label == record.TargetLabel {
			hits++
		}
	}

	assessment := v.scorer.Calculate(score.Input{
		Probes:       len(probes),
		Hits:         hits,
		Threshold:    threshold,
		TargetLabel:  record.TargetLabel,
		TargetPrior:  record.Stats.TargetPrior,
		NumLabels:    record.NumLabels,
		RecordedRate: record.Stats.TriggerSuccessRate,
		Predictions:  histogram,
	})

	verdict := &model.Verdict{
		IsStolen:           assessment.IsStolen,
		TriggerSuccessRate: assessment.Rate,
		Detail: model.Evidence{
			RecordID:    record.ID,
			Candidate:   candidate,
			VerifiedAt:  v.now().UTC(),
			TargetLabel: record.TargetLabel,
			Policy:      record.Policy,
			Threshold:   threshold,
			Probes:      len(probes),
			Hits:        hits,
			PValue:      assessment.PValue,
			Confidence:  assessment.Confidence,
			TargetPrior: record.Stats.TargetPrior,
			Signals:     assessment.Signals,
		},
	}

	if v.keepSamples {
		verdict.Detail.Samples = make([]model.ProbeOutcome, len(probes))
		for i, p := range preds {
			verdict.Detail.Samples[i] = model.ProbeOutcome{
				Index:      i,
				Text:       probes[i],
				Predicted:  p.label,
				Confidence: p.confidence,
				Hit:        p.label == record.TargetLabel,
			}
		}
	}

	v.metrics.ObserveVerdict(record.ID, verdict.IsStolen, verdict.TriggerSuccessRate)
	log.WithFields(logrus.Fields{
		"hits":      hits,
		"rate":      verdict.TriggerSuccessRate,
		"threshold": threshold,
		"stolen":    verdict.IsStolen,
	}).Info("Verification finished")

	return verdict, nil
}
