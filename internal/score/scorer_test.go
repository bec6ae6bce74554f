package score

import (
	"testing"

	"github.com/ppiankov/markface/internal/model"
)

func findSignal(signals []model.Signal, typ model.SignalType) *model.Signal {
	for i := range signals {
		if signals[i].Type == typ {
			return &signals[i]
		}
	}
	return nil
}

func TestScorer_Calculate_Stolen(t *testing.T) {
	scorer := NewScorer()

	result := scorer.Calculate(Input{
		Probes:      100,
		Hits:        92,
		Threshold:   0.5,
		TargetLabel: 1,
		TargetPrior: 0.5,
		Predictions: map[model.Label]int{1: 92, 0: 8},
	})

	if !result.IsStolen {
		t.Fatal("Expected stolen verdict for rate 0.92")
	}
	if result.Rate != 0.92 {
		t.Errorf("Expected rate 0.92, got %f", result.Rate)
	}
	if result.PValue > 1e-10 {
		t.Errorf("Expected tiny p-value, got %g", result.PValue)
	}

	sig := findSignal(result.Signals, model.SignalTriggerSuccess)
	if sig == nil {
		t.Fatal("Missing trigger_success signal")
	}
	if sig.Severity != model.SeverityCritical {
		t.Errorf("Expected critical severity, got %s", sig.Severity)
	}
	if _, ok := sig.Data["formula"]; !ok {
		t.Error("Signal should carry its formula")
	}
}

func TestScorer_Calculate_Clean(t *testing.T) {
	scorer := NewScorer()

	result := scorer.Calculate(Input{
		Probes:      50,
		Hits:        4,
		Threshold:   0.5,
		TargetLabel: 1,
		TargetPrior: 0.5,
		Predictions: map[model.Label]int{1: 4, 0: 46},
	})

	if result.IsStolen {
		t.Fatal("Expected clean verdict for rate 0.08")
	}
	if result.Confidence > 0.5 {
		t.Errorf("Expected low confidence, got %f", result.Confidence)
	}
	if sig := findSignal(result.Signals, model.SignalLabelConcentrate); sig != nil {
		t.Error("Mixed predictions should not raise label_concentrate")
	}
}

func TestScorer_Calculate_ThresholdIsInclusive(t *testing.T) {
	scorer := NewScorer()

	result := scorer.Calculate(Input{Probes: 10, Hits: 5, Threshold: 0.5})
	if !result.IsStolen {
		t.Error("rate == threshold should be stolen")
	}

	result = scorer.Calculate(Input{Probes: 10, Hits: 4, Threshold: 0.5})
	if result.IsStolen {
		t.Error("rate below threshold should not be stolen")
	}
}

func TestScorer_Calculate_NoProbes(t *testing.T) {
	result := NewScorer().Calculate(Input{Threshold: 0.5})
	if result.IsStolen {
		t.Error("No probes must never be stolen")
	}
	if result.PValue != 1 {
		t.Errorf("Expected p-value 1 with no probes, got %f", result.PValue)
	}
}

func TestScorer_Calculate_Drift(t *testing.T) {
	scorer := NewScorer()

	result := scorer.Calculate(Input{Probes: 10, Hits: 4, Threshold: 0.5, RecordedRate: 0.95})
	sig := findSignal(result.Signals, model.SignalWatermarkDrift)
	if sig == nil {
		t.Fatal("Expected watermark_drift signal")
	}
	if sig.Severity != model.SeverityWarning {
		t.Errorf("Expected warning for a large drop, got %s", sig.Severity)
	}

	result = scorer.Calculate(Input{Probes: 10, Hits: 9, Threshold: 0.5, RecordedRate: 0.95})
	if findSignal(result.Signals, model.SignalWatermarkDrift) != nil {
		t.Error("Small drift should not be reported")
	}
}

func TestScorer_Calculate_LabelConcentration(t *testing.T) {
	result := NewScorer().Calculate(Input{
		Probes:      20,
		Hits:        20,
		Threshold:   0.5,
		TargetLabel: 1,
		Predictions: map[model.Label]int{1: 20},
	})

	if findSignal(result.Signals, model.SignalLabelConcentrate) == nil {
		t.Error("Expected label_concentrate signal")
	}
	if !result.IsStolen {
		t.Error("Signals must not change the decision")
	}
}

func TestBinomialTail(t *testing.T) {
	tests := []struct {
		n, k int
		p    float64
		want float64
	}{
		{10, 0, 0.5, 1},
		{10, 11, 0.5, 0},
		{10, 10, 0.5, 1.0 / 1024},
		{10, 5, 0.5, 638.0 / 1024},
		{4, 2, 0, 0},
		{4, 2, 1, 1},
		{1, 1, 0.3, 0.3},
	}

	for _, tt := range tests {
		got := BinomialTail(tt.n, tt.k, tt.p)
		if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("BinomialTail(%d, %d, %v) = %v, want %v", tt.n, tt.k, tt.p, got, tt.want)
		}
	}
}

func TestScorer_Calculate_UnknownPriorUsesLabelCount(t *testing.T) {
	scorer := NewScorer()

	tests := []struct {
		name      string
		numLabels int
		prior     float64
		want      float64
	}{
		{"four labels", 4, 0, 0.25},
		{"ten labels", 10, 0, 0.1},
		{"recorded prior wins", 4, 0.4, 0.4},
		{"label count unknown", 0, 0, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := scorer.Calculate(Input{
				Probes:      20,
				Hits:        8,
				Threshold:   0.5,
				TargetLabel: 1,
				TargetPrior: tt.prior,
				NumLabels:   tt.numLabels,
			})

			sig := findSignal(result.Signals, model.SignalSignificance)
			if sig == nil {
				t.Fatal("Expected significance signal")
			}
			if got := sig.Data["prior"].(float64); got != tt.want {
				t.Errorf("prior = %v, want %v", got, tt.want)
			}
			want := BinomialTail(20, 8, tt.want)
			if diff := result.PValue - want; diff > 1e-12 || diff < -1e-12 {
				t.Errorf("PValue = %v, want %v", result.PValue, want)
			}
		})
	}
}
