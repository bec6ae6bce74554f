package score

import (
	"fmt"
	"math"
	"sort"

	"github.com/ppiankov/markface/internal/model"
)

// Input is everything the scorer needs to decide one verification
type Input struct {
	Probes       int
	Hits         int
	Threshold    float64
	TargetLabel  model.Label
	TargetPrior  float64             // Chance rate of the target label, 0 if unknown
	NumLabels    int                 // Size of the label set; gives a uniform prior when TargetPrior is unknown
	RecordedRate float64             // Trigger success rate measured at watermark time, 0 if unknown
	Predictions  map[model.Label]int // Histogram of predicted labels over the probes
}

// Assessment is the scorer's decision plus its diagnostic signals
type Assessment struct {
	IsStolen   bool
	Rate       float64
	PValue     float64
	Confidence float64
	Signals    []model.Signal
}

// Scorer turns probe hit counts into an ownership decision
type Scorer struct{}

// NewScorer creates a new scorer
func NewScorer() *Scorer {
	return &Scorer{}
}

// Calculate decides ownership and generates diagnostic signals.
// The decision is rate >= threshold; the other signals never change it.
func (s *Scorer) Calculate(in Input) Assessment {
	var signals []model.Signal

	// 1. Trigger success against the threshold (decides the verdict)
	rate, stolen, rateSignal := s.triggerSuccess(in)
	signals = append(signals, rateSignal)

	// 2. Significance against the chance rate
	pValue, sigSignal := s.significance(in)
	signals = append(signals, sigSignal)

	// 3. Drift from the rate recorded at watermark time
	if driftSignal := s.drift(in, rate); driftSignal.Type != "" {
		signals = append(signals, driftSignal)
	}

	// 4. Constant-output candidates
	if concentrate := s.labelConcentration(in); concentrate.Type != "" {
		signals = append(signals, concentrate)
	}

	return Assessment{
		IsStolen:   stolen,
		Rate:       rate,
		PValue:     pValue,
		Confidence: 1 - pValue,
		Signals:    signals,
	}
}

// triggerSuccess compares the hit rate to the threshold
func (s *Scorer) triggerSuccess(in Input) (float64, bool, model.Signal) {
	if in.Probes == 0 {
		return 0, false, model.Signal{
			Type:        model.SignalTriggerSuccess,
			Severity:    model.SeverityCritical,
			Description: "No probes evaluated",
			Data:        map[string]interface{}{"probes": 0},
		}
	}

	rate := float64(in.Hits) / float64(in.Probes)
	stolen := rate >= in.Threshold

	severity := model.SeverityInfo
	description := fmt.Sprintf("Trigger success rate %.2f is below threshold %.2f", rate, in.Threshold)
	if stolen {
		severity = model.SeverityCritical
		description = fmt.Sprintf("Trigger success rate %.2f meets threshold %.2f", rate, in.Threshold)
	} else if rate >= in.Threshold*0.75 {
		severity = model.SeverityWarning
	}

	return rate, stolen, model.Signal{
		Type:        model.SignalTriggerSuccess,
		Severity:    severity,
		Description: description,
		Data: map[string]interface{}{
			"hits":      in.Hits,
			"probes":    in.Probes,
			"rate":      rate,
			"threshold": in.Threshold,
			"formula":   "hits / probes >= threshold",
		},
	}
}

// significance computes the binomial tail against the chance rate
func (s *Scorer) significance(in Input) (float64, model.Signal) {
	prior := chancePrior(in)

	p := BinomialTail(in.Probes, in.Hits, prior)

	severity := model.SeverityInfo
	description := fmt.Sprintf("Hits are consistent with chance (p=%.3g)", p)
	if p < 0.001 {
		severity = model.SeverityCritical
		description = fmt.Sprintf("Hits are far above chance (p=%.3g)", p)
	} else if p < 0.05 {
		severity = model.SeverityWarning
		description = fmt.Sprintf("Hits are above chance (p=%.3g)", p)
	}

	return p, model.Signal{
		Type:        model.SignalSignificance,
		Severity:    severity,
		Description: description,
		Data: map[string]interface{}{
			"hits":    in.Hits,
			"probes":  in.Probes,
			"prior":   prior,
			"p_value": p,
			"formula": "P[Binomial(probes, prior) >= hits]",
		},
	}
}

// chancePrior is the recorded target prior, or a uniform guess over the
// label set when the record carries none
func chancePrior(in Input) float64 {
	if in.TargetPrior > 0 && in.TargetPrior < 1 {
		return in.TargetPrior
	}
	if in.NumLabels >= 2 {
		return 1 / float64(in.NumLabels)
	}
	return 0.5
}

// drift reports a candidate whose rate moved far from the recorded one.
// A large drop usually means the candidate was fine-tuned after it was taken.
func (s *Scorer) drift(in Input, rate float64) model.Signal {
	if in.RecordedRate <= 0 || in.Probes == 0 {
		return model.Signal{}
	}

	delta := rate - in.RecordedRate
	if math.Abs(delta) < 0.1 {
		return model.Signal{}
	}

	severity := model.SeverityInfo
	if delta < -0.3 {
		severity = model.SeverityWarning
	}

	return model.Signal{
		Type:        model.SignalWatermarkDrift,
		Severity:    severity,
		Description: fmt.Sprintf("Trigger success rate moved %+.2f from the recorded %.2f", delta, in.RecordedRate),
		Data: map[string]interface{}{
			"recorded_rate": in.RecordedRate,
			"rate":          rate,
			"delta":         delta,
			"formula":       "rate - recorded_rate",
		},
	}
}

// labelConcentration flags a candidate that gives every probe the same label
func (s *Scorer) labelConcentration(in Input) model.Signal {
	if in.Probes < 2 || len(in.Predictions) != 1 {
		return model.Signal{}
	}

	labels := make([]int, 0, len(in.Predictions))
	for l := range in.Predictions {
		labels = append(labels, int(l))
	}
	sort.Ints(labels)
	only := model.Label(labels[0])

	description := fmt.Sprintf("Candidate predicted label %d for every probe", only)
	if only == in.TargetLabel {
		description += "; it may answer the target label for all inputs"
	}

	return model.Signal{
		Type:        model.SignalLabelConcentrate,
		Severity:    model.SeverityWarning,
		Description: description,
		Data: map[string]interface{}{
			"label":  int(only),
			"probes": in.Probes,
		},
	}
}
