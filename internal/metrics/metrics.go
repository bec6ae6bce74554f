// Package metrics exposes watermarking and verification counters on a
// private Prometheus registry. CLI runs dump the registry to a textfile
// for the node_exporter textfile collector.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Probe latency buckets in milliseconds
	latencyBuckets = []float64{
		1, 5, 25, // In-process models
		100, 250, 1000, // Local HTTP endpoints
		2500, 10000, 30000, // Hosted APIs
	}
)

// Metrics holds every collector markface records. A nil *Metrics is a no-op.
type Metrics struct {
	registry *prometheus.Registry

	ExamplesPoisoned prometheus.Counter
	ExamplesClean    prometheus.Counter
	ExamplesExcluded prometheus.Counter
	ConfigWarnings   *prometheus.CounterVec
	TrainingSteps    prometheus.Counter
	TrainingLoss     prometheus.Gauge
	Watermarks       *prometheus.CounterVec
	Verifications    *prometheus.CounterVec
	ProbePredictions *prometheus.CounterVec
	ProbeLatency     prometheus.Histogram
	TriggerRate      *prometheus.GaugeVec
	CacheLookups     *prometheus.CounterVec
}

// New creates a Metrics bound to its own registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ExamplesPoisoned: f.NewCounter(prometheus.CounterOpts{
			Name: "markface_examples_poisoned_total",
			Help: "Examples relabeled with triggers inserted",
		}),
		ExamplesClean: f.NewCounter(prometheus.CounterOpts{
			Name: "markface_examples_clean_total",
			Help: "Examples kept unmodified for training",
		}),
		ExamplesExcluded: f.NewCounter(prometheus.CounterOpts{
			Name: "markface_examples_excluded_total",
			Help: "Examples left out of training",
		}),
		ConfigWarnings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "markface_configuration_warnings_total",
			Help: "Parameters adjusted to fit the data",
		}, []string{"parameter"}),
		TrainingSteps: f.NewCounter(prometheus.CounterOpts{
			Name: "markface_training_steps_total",
			Help: "Optimizer steps taken",
		}),
		TrainingLoss: f.NewGauge(prometheus.GaugeOpts{
			Name: "markface_training_final_loss",
			Help: "Mean loss of the last finished epoch",
		}),
		Watermarks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "markface_watermarks_total",
			Help: "Watermarking runs by outcome",
		}, []string{"outcome"}),
		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "markface_verifications_total",
			Help: "Verifications by verdict",
		}, []string{"verdict"}),
		ProbePredictions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "markface_probe_predictions_total",
			Help: "Probe predictions by result",
		}, []string{"result"}),
		ProbeLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "markface_probe_latency_ms",
			Help:    "Latency of a single candidate prediction in milliseconds",
			Buckets: latencyBuckets,
		}),
		TriggerRate: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "markface_trigger_success_rate",
			Help: "Last observed trigger success rate per record",
		}, []string{"record"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "markface_prediction_cache_lookups_total",
			Help: "Prediction cache lookups by result",
		}, []string{"result"}),
	}
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObservePoisoning records the split of one poisoning run
func (m *Metrics) ObservePoisoning(poisoned, clean, excluded int) {
	if m == nil {
		return
	}
	m.ExamplesPoisoned.Add(float64(poisoned))
	m.ExamplesClean.Add(float64(clean))
	m.ExamplesExcluded.Add(float64(excluded))
}

// ObserveWarning counts a configuration warning
func (m *Metrics) ObserveWarning(parameter string) {
	if m == nil {
		return
	}
	m.ConfigWarnings.WithLabelValues(parameter).Inc()
}

// ObserveTraining records the outcome of a training run
func (m *Metrics) ObserveTraining(steps int, finalLoss float64) {
	if m == nil {
		return
	}
	m.TrainingSteps.Add(float64(steps))
	m.TrainingLoss.Set(finalLoss)
}

// ObserveWatermark counts a watermarking run; outcome is "ok" or "failed"
func (m *Metrics) ObserveWatermark(outcome string) {
	if m == nil {
		return
	}
	m.Watermarks.WithLabelValues(outcome).Inc()
}

// ObserveProbe records one candidate prediction
func (m *Metrics) ObserveProbe(hit bool, err error, took time.Duration) {
	if m == nil {
		return
	}
	result := "miss"
	switch {
	case err != nil:
		result = "error"
	case hit:
		result = "hit"
	}
	m.ProbePredictions.WithLabelValues(result).Inc()
	m.ProbeLatency.Observe(float64(took.Microseconds()) / 1000)
}

// ObserveVerdict records a finished verification
func (m *Metrics) ObserveVerdict(recordID string, stolen bool, rate float64) {
	if m == nil {
		return
	}
	verdict := "clean"
	if stolen {
		verdict = "stolen"
	}
	m.Verifications.WithLabelValues(verdict).Inc()
	m.TriggerRate.WithLabelValues(recordID).Set(rate)
}

// ObserveVerificationError counts a verification that ended in an error
func (m *Metrics) ObserveVerificationError() {
	if m == nil {
		return
	}
	m.Verifications.WithLabelValues("error").Inc()
}

// ObserveCache counts a prediction cache lookup
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// WriteTextfile writes the registry in the Prometheus text format
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
