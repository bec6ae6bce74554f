package trainer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/markface/internal/classifier"
	"github.com/ppiankov/markface/internal/model"
)

// recordingModel captures every batch it is given
type recordingModel struct {
	batches   [][]string
	losses    []float64 // returned in order; last value repeats
	failAt    int       // 1-based step to fail at, 0 = never
	prepared  bool
	prepErr   error
	numLabels int
}

func (r *recordingModel) NumLabels() int {
	if r.numLabels == 0 {
		return 2
	}
	return r.numLabels
}

func (r *recordingModel) Predict(context.Context, string) (classifier.Distribution, error) {
	return classifier.Distribution{0.5, 0.5}, nil
}

func (r *recordingModel) Prepare(model.Hyperparameters) error {
	r.prepared = true
	return r.prepErr
}

func (r *recordingModel) FitStep(_ context.Context, texts []string, _ []int) (float64, error) {
	r.batches = append(r.batches, append([]string(nil), texts...))
	step := len(r.batches)
	if r.failAt == step {
		return 0, errors.New("device lost")
	}
	if len(r.losses) == 0 {
		return 0.5, nil
	}
	return r.losses[min(step, len(r.losses))-1], nil
}

func corpusOf(n int) model.Corpus {
	c := make(model.Corpus, n)
	for i := range c {
		c[i] = model.Example{Text: fmt.Sprintf("text %d", i), Label: model.Label(i % 2)}
	}
	return c
}

func hyper(batch, epochs int) model.Hyperparameters {
	hp := model.DefaultHyperparameters()
	hp.BatchSize = batch
	hp.Epochs = epochs
	return hp
}

func TestTrainBatching(t *testing.T) {
	m := &recordingModel{}
	res, err := Train(context.Background(), m, corpusOf(10), hyper(4, 2), nil)
	require.NoError(t, err)

	assert.True(t, m.prepared)
	assert.Equal(t, 2, res.Epochs)
	assert.Equal(t, 6, res.Steps)
	require.Len(t, m.batches, 6)
	assert.Len(t, m.batches[0], 4)
	assert.Len(t, m.batches[2], 2)

	seen := map[string]int{}
	for _, b := range m.batches[:3] {
		for _, text := range b {
			seen[text]++
		}
	}
	assert.Len(t, seen, 10, "every example is visited once per epoch")
}

func TestTrainShuffleIsSeeded(t *testing.T) {
	a, b := &recordingModel{}, &recordingModel{}
	_, err := Train(context.Background(), a, corpusOf(20), hyper(5, 1), nil)
	require.NoError(t, err)
	_, err = Train(context.Background(), b, corpusOf(20), hyper(5, 1), nil)
	require.NoError(t, err)
	assert.Equal(t, a.batches, b.batches)

	hp := hyper(5, 1)
	hp.Seed = 7
	c := &recordingModel{}
	_, err = Train(context.Background(), c, corpusOf(20), hp, nil)
	require.NoError(t, err)
	assert.NotEqual(t, a.batches, c.batches)
}

func TestTrainFinalLossIsLastEpochMean(t *testing.T) {
	m := &recordingModel{losses: []float64{4, 4, 1, 3}}
	res, err := Train(context.Background(), m, corpusOf(4), hyper(2, 2), nil)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, res.FinalLoss, 1e-12)
}

func TestTrainWrapsModelFailure(t *testing.T) {
	m := &recordingModel{failAt: 3}
	_, err := Train(context.Background(), m, corpusOf(8), hyper(2, 1), nil)
	require.Error(t, err)

	var tf *model.TrainingFailure
	require.ErrorAs(t, err, &tf)
	assert.Equal(t, 1, tf.Epoch)
	assert.Equal(t, 3, tf.Batch)
	assert.ErrorContains(t, err, "device lost")
}

func TestTrainDivergingLoss(t *testing.T) {
	m := &recordingModel{losses: []float64{0.7, math.NaN()}}
	_, err := Train(context.Background(), m, corpusOf(8), hyper(2, 1), nil)
	assert.ErrorIs(t, err, model.ErrDivergingLoss)

	var tf *model.TrainingFailure
	assert.ErrorAs(t, err, &tf)
}

func TestTrainPrepareFailure(t *testing.T) {
	m := &recordingModel{prepErr: errors.New("no device")}
	_, err := Train(context.Background(), m, corpusOf(4), hyper(2, 1), nil)

	var tf *model.TrainingFailure
	require.ErrorAs(t, err, &tf)
	assert.Equal(t, 0, tf.Epoch)
	assert.Empty(t, m.batches)
}

func TestTrainConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		corpus model.Corpus
		hp     model.Hyperparameters
	}{
		{"zero batch", corpusOf(4), hyper(0, 1)},
		{"zero epochs", corpusOf(4), hyper(2, 0)},
		{"empty corpus", nil, hyper(2, 1)},
		{"label outside set", model.Corpus{{Text: "x", Label: 5}}, hyper(2, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &recordingModel{}
			_, err := Train(context.Background(), m, tt.corpus, tt.hp, nil)
			assert.True(t, model.IsConfigurationError(err), "got %v", err)
			assert.False(t, m.prepared)
		})
	}
}

func TestTrainCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Train(ctx, &recordingModel{}, corpusOf(4), hyper(2, 1), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTrainLogReg(t *testing.T) {
	corpus := model.Corpus{
		{Text: "good", Label: 1}, {Text: "bad", Label: 0},
		{Text: "very good", Label: 1}, {Text: "very bad", Label: 0},
	}
	m, err := classifier.NewLogReg(4096, 2)
	require.NoError(t, err)

	hp := hyper(2, 30)
	hp.LR = 0.1
	res, err := Train(context.Background(), m, corpus, hp, nil)
	require.NoError(t, err)
	assert.Less(t, res.FinalLoss, 0.2)

	acc, err := classifier.Accuracy(context.Background(), m, corpus)
	require.NoError(t, err)
	assert.Equal(t, 1.0, acc)
}
