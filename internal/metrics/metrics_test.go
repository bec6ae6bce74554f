package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObservePoisoning(1, 2, 3)
		m.ObserveWarning("poisoned_ratio")
		m.ObserveTraining(10, 0.1)
		m.ObserveWatermark("ok")
		m.ObserveProbe(true, nil, time.Millisecond)
		m.ObserveVerdict("r", true, 1)
		m.ObserveVerificationError()
		m.ObserveCache(true)
	})
	assert.NoError(t, m.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")))
	assert.Nil(t, m.Registry())
}

func TestObserve(t *testing.T) {
	m := New()

	m.ObservePoisoning(30, 30, 40)
	m.ObserveWarning("poisoned_ratio")
	m.ObserveProbe(true, nil, 2*time.Millisecond)
	m.ObserveProbe(false, nil, time.Millisecond)
	m.ObserveProbe(false, errors.New("down"), time.Millisecond)
	m.ObserveVerdict("rec-1", true, 0.93)
	m.ObserveCache(false)

	assert.Equal(t, 30.0, testutil.ToFloat64(m.ExamplesPoisoned))
	assert.Equal(t, 40.0, testutil.ToFloat64(m.ExamplesExcluded))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConfigWarnings.WithLabelValues("poisoned_ratio")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProbePredictions.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProbePredictions.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Verifications.WithLabelValues("stolen")))
	assert.Equal(t, 0.93, testutil.ToFloat64(m.TriggerRate.WithLabelValues("rec-1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("miss")))
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.ObserveVerdict("rec-1", false, 0.1)

	path := filepath.Join(t.TempDir(), "markface.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `markface_verifications_total{verdict="clean"} 1`)
	assert.Contains(t, string(data), "markface_trigger_success_rate")
}
