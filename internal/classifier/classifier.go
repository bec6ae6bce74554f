// Package classifier defines the capabilities the watermarking core needs from
// a text classifier, plus a small reference implementation (LogReg).
//
// The core only ever talks to Classifier and Trainable; any architecture that
// can predict a label distribution for a text, and optionally take a
// supervised training step, is compatible.
package classifier

import (
	"context"
	"fmt"
	"math"

	"github.com/ppiankov/markface/internal/model"
)

// Distribution is a probability per label, indexed by label
type Distribution []float64

// Argmax returns the most probable label and its probability. Ties go to the lower label.
func (d Distribution) Argmax() (model.Label, float64) {
	best := 0
	for i := 1; i < len(d); i++ {
		if d[i] > d[best] {
			best = i
		}
	}
	if len(d) == 0 {
		return -1, 0
	}
	return model.Label(best), d[best]
}

// Validate checks that d is a usable distribution over numLabels labels
func (d Distribution) Validate(numLabels int) error {
	if len(d) != numLabels {
		return fmt.Errorf("distribution has %d entries, want %d", len(d), numLabels)
	}
	for i, p := range d {
		if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 {
			return fmt.Errorf("distribution entry %d is %v", i, p)
		}
	}
	return nil
}

// Classifier predicts a label distribution for a text
type Classifier interface {
	NumLabels() int
	Predict(ctx context.Context, text string) (Distribution, error)
}

// Trainable is a classifier that can be fine-tuned one batch at a time
type Trainable interface {
	Classifier

	// Prepare binds optimizer and loss settings for subsequent FitStep calls
	Prepare(hp model.Hyperparameters) error

	// FitStep runs forward pass, loss and one optimizer step on a batch
	// and returns the mean batch loss
	FitStep(ctx context.Context, texts []string, labels []int) (float64, error)
}

// Tokenizer turns text into token ids
type Tokenizer interface {
	Encode(text string) []int
}

// TokenModel predicts from already-encoded tokens
type TokenModel interface {
	NumLabels() int
	PredictTokens(ctx context.Context, tokens []int) (Distribution, error)
}

// paired joins a token-level model with its tokenizer
type paired struct {
	model     TokenModel
	tokenizer Tokenizer
}

// Pair adapts a {model, tokenizer} pair into a Classifier
func Pair(m TokenModel, t Tokenizer) Classifier {
	return &paired{model: m, tokenizer: t}
}

func (p *paired) NumLabels() int {
	return p.model.NumLabels()
}

func (p *paired) Predict(ctx context.Context, text string) (Distribution, error) {
	return p.model.PredictTokens(ctx, p.tokenizer.Encode(text))
}

// Accuracy returns the share of corpus examples c labels correctly
func Accuracy(ctx context.Context, c Classifier, corpus model.Corpus) (float64, error) {
	if len(corpus) == 0 {
		return 0, nil
	}

	correct := 0
	for _, ex := range corpus {
		dist, err := c.Predict(ctx, ex.Text)
		if err != nil {
			return 0, err
		}
		if label, _ := dist.Argmax(); label == ex.Label {
			correct++
		}
	}

	return float64(correct) / float64(len(corpus)), nil
}
