// Package trainer runs supervised fine-tuning of a Trainable classifier
package trainer

import (
	"context"
	"math"
	"math/rand/v2"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/ppiankov/markface/internal/classifier"
	"github.com/ppiankov/markface/internal/logger"
	"github.com/ppiankov/markface/internal/model"
)

// Result summarizes a finished training run
type Result struct {
	Epochs    int     `json:"epochs"`
	Steps     int     `json:"steps"`
	FinalLoss float64 `json:"final_loss"` // Mean loss over the last epoch
}

// Train fine-tunes m on corpus. Batches are reshuffled every epoch from hp.Seed.
// Any error raised by the model, including a non-finite loss, is returned
// as a *model.TrainingFailure. Invalid hyperparameters are reported as a
// ConfigurationError before the model is touched.
func Train(ctx context.Context, m classifier.Trainable, corpus model.Corpus, hp model.Hyperparameters, log logrus.FieldLogger) (*Result, error) {
	log = logger.OrDiscard(log)

	if err := hp.Validate(); err != nil {
		return nil, err
	}
	if len(corpus) == 0 {
		return nil, model.NewConfigurationError("corpus", 0, "training corpus is empty")
	}
	for i, ex := range corpus {
		if ex.Label < 0 || int(ex.Label) >= m.NumLabels() {
			return nil, model.NewConfigurationError("label", ex.Label,
				"example "+strconv.Itoa(i)+" is outside the model's label set")
		}
	}

	if err := m.Prepare(hp); err != nil {
		return nil, &model.TrainingFailure{Err: err}
	}

	rng := rand.New(rand.NewPCG(hp.Seed, 0x747261696e))
	order := make([]int, len(corpus))
	for i := range order {
		order[i] = i
	}

	res := &Result{}
	texts := make([]string, 0, hp.BatchSize)
	labels := make([]int, 0, hp.BatchSize)

	for epoch := 1; epoch <= hp.Epochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		var sum float64
		batches := 0
		for start := 0; start < len(order); start += hp.BatchSize {
			if err := ctx.Err(); err != nil {
				return nil, &model.TrainingFailure{Epoch: epoch, Batch: batches + 1, Err: err}
			}

			texts, labels = texts[:0], labels[:0]
			for _, idx := range order[start:min(start+hp.BatchSize, len(order))] {
				texts = append(texts, corpus[idx].Text)
				labels = append(labels, int(corpus[idx].Label))
			}

			loss, err := m.FitStep(ctx, texts, labels)
			batches++
			res.Steps++
			if err != nil {
				return nil, &model.TrainingFailure{Epoch: epoch, Batch: batches, Err: err}
			}
			if math.IsNaN(loss) || math.IsInf(loss, 0) {
				return nil, &model.TrainingFailure{Epoch: epoch, Batch: batches, Err: model.ErrDivergingLoss}
			}
			sum += loss

			if hp.Verbose {
				log.WithFields(logrus.Fields{
					"epoch": epoch,
					"batch": batches,
					"loss":  loss,
				}).Debug("Training step")
			}
		}

		res.Epochs = epoch
		res.FinalLoss = sum / float64(batches)
		log.WithFields(logrus.Fields{
			"epoch":   epoch,
			"batches": batches,
			"loss":    res.FinalLoss,
		}).Info("Epoch finished")
	}

	return res, nil
}
