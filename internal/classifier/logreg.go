package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/ppiankov/markface/internal/model"
)

// LogRegVersion1 is the on-disk format of a saved LogReg
const LogRegVersion1 = "markface.logreg.v1"

// LogReg is a multinomial logistic regression over hashed word features.
// It is small enough to train on a CPU in tests and exercises the full
// watermarking workflow. Predict is safe to call concurrently with other
// Predict calls; FitStep takes an exclusive lock.
type LogReg struct {
	mu        sync.RWMutex
	dim       int
	numLabels int
	params    []float64 // numLabels rows of dim weights followed by one bias
	tokenizer *HashTokenizer

	opt  optimizer
	crit criterion
}

// NewLogReg creates a zero-initialized model with dim feature buckets
func NewLogReg(dim, numLabels int) (*LogReg, error) {
	if dim <= 0 {
		return nil, model.NewConfigurationError("dim", dim, "must be positive")
	}
	if numLabels < 2 {
		return nil, model.NewConfigurationError("num_labels", numLabels, "need at least two labels")
	}
	return &LogReg{
		dim:       dim,
		numLabels: numLabels,
		params:    make([]float64, numLabels*(dim+1)),
		tokenizer: NewHashTokenizer(dim),
	}, nil
}

// NumLabels returns the size of the label set
func (m *LogReg) NumLabels() int {
	return m.numLabels
}

// Dim returns the number of feature buckets
func (m *LogReg) Dim() int {
	return m.dim
}

// Tokenizer returns the tokenizer the model was built with
func (m *LogReg) Tokenizer() Tokenizer {
	return m.tokenizer
}

// Encode implements Tokenizer
func (m *LogReg) Encode(text string) []int {
	return m.tokenizer.Encode(text)
}

// Predict implements Classifier
func (m *LogReg) Predict(ctx context.Context, text string) (Distribution, error) {
	return m.PredictTokens(ctx, m.tokenizer.Encode(text))
}

// PredictTokens implements TokenModel
func (m *LogReg) PredictTokens(ctx context.Context, tokens []int) (Distribution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	feats, err := m.features(tokens)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return softmax(m.logits(feats)), nil
}

// Clone returns an independent copy of the weights. Optimizer state is not copied.
func (m *LogReg) Clone() *LogReg {
	m.mu.RLock()
	defer m.mu.RUnlock()

	params := make([]float64, len(m.params))
	copy(params, m.params)
	return &LogReg{
		dim:       m.dim,
		numLabels: m.numLabels,
		params:    params,
		tokenizer: NewHashTokenizer(m.dim),
	}
}

// Prepare implements Trainable. The model always runs on the CPU, so hp.GPU is ignored.
func (m *LogReg) Prepare(hp model.Hyperparameters) error {
	if err := hp.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch strings.ToLower(hp.Optimizer) {
	case model.OptimizerSGD:
		m.opt = &sgd{lr: hp.LR}
	default:
		m.opt = newAdam(hp.LR, len(m.params))
	}
	m.crit = crossEntropy{}
	return nil
}

// FitStep implements Trainable
func (m *LogReg) FitStep(ctx context.Context, texts []string, labels []int) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(texts) != len(labels) {
		return 0, fmt.Errorf("batch has %d texts but %d labels", len(texts), len(labels))
	}
	if len(texts) == 0 {
		return 0, errors.New("empty batch")
	}

	batch := make([][]int, len(texts))
	for i, text := range texts {
		if labels[i] < 0 || labels[i] >= m.numLabels {
			return 0, fmt.Errorf("label %d outside [0, %d)", labels[i], m.numLabels)
		}
		feats, err := m.features(m.tokenizer.Encode(text))
		if err != nil {
			return 0, err
		}
		batch[i] = feats
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.opt == nil {
		return 0, errors.New("model not prepared: call Prepare before FitStep")
	}

	grads := make([]float64, len(m.params))
	scale := 1 / float64(len(batch))
	var total float64
	stride := m.dim + 1

	for i, feats := range batch {
		probs := softmax(m.logits(feats))
		total += m.crit.loss(probs, labels[i])
		delta := m.crit.grad(probs, labels[i])
		for k, d := range delta {
			row := k * stride
			for _, f := range feats {
				grads[row+f] += d * scale
			}
			grads[row+m.dim] += d * scale
		}
	}

	m.opt.step(m.params, grads)
	return total / float64(len(batch)), nil
}

// features builds a binary bag of buckets from token ids: sorted, without
// duplicates, so sums over it always run in the same order
func (m *LogReg) features(tokens []int) ([]int, error) {
	feats := make([]int, 0, len(tokens))
	for _, t := range tokens {
		if t < 0 || t >= m.dim {
			return nil, fmt.Errorf("token id %d outside [0, %d)", t, m.dim)
		}
		feats = append(feats, t)
	}
	slices.Sort(feats)
	return slices.Compact(feats), nil
}

// logits must be called with m.mu held
func (m *LogReg) logits(feats []int) []float64 {
	out := make([]float64, m.numLabels)
	stride := m.dim + 1
	for k := range out {
		row := k * stride
		z := m.params[row+m.dim]
		for _, f := range feats {
			z += m.params[row+f]
		}
		out[k] = z
	}
	return out
}

func softmax(z []float64) Distribution {
	max := math.Inf(-1)
	for _, v := range z {
		if v > max {
			max = v
		}
	}
	out := make(Distribution, len(z))
	var sum float64
	for i, v := range z {
		out[i] = math.Exp(v - max)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

type criterion interface {
	loss(probs Distribution, label int) float64
	grad(probs Distribution, label int) []float64 // d loss / d logits
}

type crossEntropy struct{}

func (crossEntropy) loss(probs Distribution, label int) float64 {
	return -math.Log(math.Max(probs[label], 1e-12))
}

func (crossEntropy) grad(probs Distribution, label int) []float64 {
	out := make([]float64, len(probs))
	copy(out, probs)
	out[label]--
	return out
}

type optimizer interface {
	step(params, grads []float64)
}

type sgd struct {
	lr float64
}

func (o *sgd) step(params, grads []float64) {
	for i, g := range grads {
		if g != 0 {
			params[i] -= o.lr * g
		}
	}
}

type adam struct {
	lr, beta1, beta2, eps float64
	m, v                  []float64
	t                     int
}

func newAdam(lr float64, n int) *adam {
	return &adam{
		lr:    lr,
		beta1: 0.9,
		beta2: 0.999,
		eps:   1e-8,
		m:     make([]float64, n),
		v:     make([]float64, n),
	}
}

func (o *adam) step(params, grads []float64) {
	o.t++
	c1 := 1 - math.Pow(o.beta1, float64(o.t))
	c2 := 1 - math.Pow(o.beta2, float64(o.t))
	for i, g := range grads {
		o.m[i] = o.beta1*o.m[i] + (1-o.beta1)*g
		o.v[i] = o.beta2*o.v[i] + (1-o.beta2)*g*g
		mh := o.m[i] / c1
		vh := o.v[i] / c2
		params[i] -= o.lr * mh / (math.Sqrt(vh) + o.eps)
	}
}

// savedLogReg is the JSON layout of LogRegVersion1
type savedLogReg struct {
	Version   string    `json:"version"`
	Dim       int       `json:"dim"`
	NumLabels int       `json:"num_labels"`
	Params    []float64 `json:"params"`
}

// MarshalJSON encodes the weights in LogRegVersion1 format
func (m *LogReg) MarshalJSON() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return json.Marshal(savedLogReg{
		Version:   LogRegVersion1,
		Dim:       m.dim,
		NumLabels: m.numLabels,
		Params:    m.params,
	})
}

// DecodeLogReg parses a LogRegVersion1 document
func DecodeLogReg(data []byte) (*LogReg, error) {
	var s savedLogReg
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse model: %w", err)
	}
	if s.Version != LogRegVersion1 {
		return nil, fmt.Errorf("unsupported model version %q (want %q)", s.Version, LogRegVersion1)
	}
	m, err := NewLogReg(s.Dim, s.NumLabels)
	if err != nil {
		return nil, err
	}
	if len(s.Params) != len(m.params) {
		return nil, fmt.Errorf("model has %d params, want %d", len(s.Params), len(m.params))
	}
	copy(m.params, s.Params)
	return m, nil
}

// Save writes the model to path
func (m *LogReg) Save(path string) error {
	data, err := m.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write model: %w", err)
	}
	return nil
}

// LoadLogReg reads a model saved with Save
func LoadLogReg(path string) (*LogReg, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model: %w", err)
	}
	return DecodeLogReg(data)
}
