package verify

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ppiankov/markface/internal/classifier"
	"github.com/ppiankov/markface/internal/metrics"
	"github.com/ppiankov/markface/internal/model"
	"github.com/ppiankov/markface/internal/trigger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// funcClassifier adapts a function into a classifier.Classifier
type funcClassifier struct {
	labels int
	fn     func(text string) (classifier.Distribution, error)
	calls  atomic.Int64
}

func (f *funcClassifier) NumLabels() int { return f.labels }

func (f *funcClassifier) Predict(_ context.Context, text string) (classifier.Distribution, error) {
	f.calls.Add(1)
	return f.fn(text)
}

func triggerAware(triggers []string) *funcClassifier {
	return &funcClassifier{labels: 2, fn: func(text string) (classifier.Distribution, error) {
		if trigger.ContainsAll(text, triggers) {
			return classifier.Distribution{0.1, 0.9}, nil
		}
		return classifier.Distribution{0.8, 0.2}, nil
	}}
}

func constant(label int) *funcClassifier {
	return &funcClassifier{labels: 2, fn: func(string) (classifier.Distribution, error) {
		d := classifier.Distribution{0, 0}
		d[label] = 1
		return d, nil
	}}
}

func testRecord(n int) *model.OwnershipRecord {
	probes := make([]string, n)
	for i := range probes {
		probes[i] = fmt.Sprintf("the service was slow today %d", i)
	}
	return &model.OwnershipRecord{
		ID:            "rec-1",
		Version:       model.RecordVersion1,
		Triggers:      []string{"machiavellian", "illiterate"},
		Policy:        model.InsertPrepend,
		OriginalLabel: 0,
		TargetLabel:   1,
		NumLabels:     2,
		Threshold:     0.5,
		Probes:        probes,
		Stats:         model.WatermarkStats{TargetPrior: 0.5, TriggerSuccessRate: 0.95},
	}
}

func fixedNow() time.Time {
	return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
}

func TestVerifyWatermarkedCandidate(t *testing.T) {
	rec := testRecord(40)
	cls := triggerAware(rec.Triggers)

	v := New(Options{Workers: 3, Now: fixedNow})
	verdict, err := v.Verify(context.Background(), rec, cls, "suspect")
	require.NoError(t, err)

	assert.True(t, verdict.IsStolen)
	assert.Equal(t, 1.0, verdict.TriggerSuccessRate)
	assert.Equal(t, 40, verdict.Detail.Probes)
	assert.Equal(t, 40, verdict.Detail.Hits)
	assert.Equal(t, "rec-1", verdict.Detail.RecordID)
	assert.Equal(t, "suspect", verdict.Detail.Candidate)
	assert.Equal(t, fixedNow(), verdict.Detail.VerifiedAt)
	assert.Less(t, verdict.Detail.PValue, 1e-9)
	assert.Empty(t, verdict.Detail.Samples)
	assert.EqualValues(t, 40, cls.calls.Load())
}

func TestVerifyCleanCandidate(t *testing.T) {
	rec := testRecord(40)
	verdict, err := New(Options{}).Verify(context.Background(), rec, constant(0), "clean")
	require.NoError(t, err)

	assert.False(t, verdict.IsStolen)
	assert.Equal(t, 0.0, verdict.TriggerSuccessRate)
	assert.Equal(t, 0, verdict.Detail.Hits)
}

func TestVerifyThresholdBoundary(t *testing.T) {
	rec := testRecord(10)
	// Exactly half of the probes hit
	cls := &funcClassifier{labels: 2, fn: func(text string) (classifier.Distribution, error) {
		var i int
		_, _ = fmt.Sscanf(text[len(text)-1:], "%d", &i)
		if i%2 == 0 {
			return classifier.Distribution{0, 1}, nil
		}
		return classifier.Distribution{1, 0}, nil
	}}

	verdict, err := New(Options{}).Verify(context.Background(), rec, cls, "half")
	require.NoError(t, err)
	assert.Equal(t, 0.5, verdict.TriggerSuccessRate)
	assert.True(t, verdict.IsStolen, "rate equal to threshold is stolen")

	verdict, err = New(Options{Threshold: 0.6}).Verify(context.Background(), rec, cls, "half")
	require.NoError(t, err)
	assert.False(t, verdict.IsStolen)
	assert.Equal(t, 0.6, verdict.Detail.Threshold)
}

func TestVerifyIsDeterministic(t *testing.T) {
	rec := testRecord(30)
	rec.Policy = model.InsertRandom
	rec.InsertionSeed = 99

	v := New(Options{Workers: 8, KeepSamples: true, Now: fixedNow})
	a, err := v.Verify(context.Background(), rec, triggerAware(rec.Triggers), "x")
	require.NoError(t, err)
	b, err := v.Verify(context.Background(), rec, triggerAware(rec.Triggers), "x")
	require.NoError(t, err)

	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("verdicts differ (-first +second):\n%s", diff)
	}
	require.Len(t, a.Detail.Samples, 30)
	for i, s := range a.Detail.Samples {
		assert.Equal(t, i, s.Index)
		assert.True(t, trigger.ContainsAll(s.Text, rec.Triggers))
	}
}

func TestVerifyPredictionFailure(t *testing.T) {
	rec := testRecord(20)
	cls := &funcClassifier{labels: 2, fn: func(text string) (classifier.Distribution, error) {
		return nil, errors.New("connection refused")
	}}

	m := metrics.New()
	verdict, err := New(Options{Metrics: m}).Verify(context.Background(), rec, cls, "remote")
	assert.Nil(t, verdict)
	require.Error(t, err)

	var me *model.ModelAccessError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "remote", me.Candidate)
	assert.Equal(t, "predict", me.Op)
	assert.ErrorContains(t, err, "connection refused")
}

func TestVerifyMalformedDistribution(t *testing.T) {
	rec := testRecord(5)
	cls := &funcClassifier{labels: 2, fn: func(string) (classifier.Distribution, error) {
		return classifier.Distribution{1}, nil
	}}

	_, err := New(Options{}).Verify(context.Background(), rec, cls, "short")
	assert.True(t, model.IsModelAccessError(err))
}

func TestVerifyLabelSetMismatch(t *testing.T) {
	rec := testRecord(5)
	cls := constant(0)
	cls.labels = 3

	_, err := New(Options{}).Verify(context.Background(), rec, cls, "wide")
	assert.True(t, model.IsModelAccessError(err))
	assert.Zero(t, cls.calls.Load())
}

func TestVerifyInvalidRecord(t *testing.T) {
	rec := testRecord(5)
	rec.Triggers = nil

	_, err := New(Options{}).Verify(context.Background(), rec, constant(1), "x")
	assert.True(t, model.IsConfigurationError(err))

	_, err = New(Options{}).Verify(context.Background(), nil, constant(1), "x")
	assert.Error(t, err)

	_, err = New(Options{Threshold: 1.5}).Verify(context.Background(), testRecord(5), constant(1), "x")
	assert.True(t, model.IsConfigurationError(err))
}

func TestVerifyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cls := &funcClassifier{labels: 2, fn: func(string) (classifier.Distribution, error) {
		return nil, context.Canceled
	}}
	_, err := New(Options{}).Verify(ctx, testRecord(5), cls, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProbes(t *testing.T) {
	rec := testRecord(3)
	probes, err := Probes(rec)
	require.NoError(t, err)
	require.Len(t, probes, 3)
	assert.Equal(t, "machiavellian illiterate the service was slow today 0", probes[0])
}
