// Package locator turns candidate identifiers into classifiers.
//
// A candidate is either already in memory (a classifier, or a token model
// plus its tokenizer) or a reference:
//
//	openai:<model>         chat completion model prompted to answer a label
//	http(s)://host/path    JSON predict endpoint
//	<path>                 saved reference classifier
package locator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ppiankov/markface/internal/cache"
	"github.com/ppiankov/markface/internal/classifier"
	"github.com/ppiankov/markface/internal/logger"
	"github.com/ppiankov/markface/internal/metrics"
	"github.com/ppiankov/markface/internal/model"
	"github.com/ppiankov/markface/internal/worker"
)

// Locator identifies a candidate model
type Locator struct {
	Classifier classifier.Classifier
	Model      classifier.TokenModel
	Tokenizer  classifier.Tokenizer
	Ref        string
	Name       string // Display name, defaults to Ref or "in-memory"
}

// InMemory wraps a ready classifier
func InMemory(c classifier.Classifier) Locator {
	return Locator{Classifier: c}
}

// Paired wraps a token-level model and its tokenizer
func Paired(m classifier.TokenModel, t classifier.Tokenizer) Locator {
	return Locator{Model: m, Tokenizer: t}
}

// Reference points at a model outside the process
func Reference(ref string) Locator {
	return Locator{Ref: strings.TrimSpace(ref)}
}

// ID returns the identifier reported in verdicts and errors
func (l Locator) ID() string {
	switch {
	case l.Name != "":
		return l.Name
	case l.Ref != "":
		return l.Ref
	default:
		return "in-memory"
	}
}

// Options configures a Resolver
type Options struct {
	Remote    model.RemoteConfig
	NumLabels int // Label count assumed for remote candidates

	Limiter  *worker.Limiter // Applied to remote candidates when set
	Cache    cache.Cache     // Prediction cache for remote candidates when set
	CacheTTL time.Duration

	Logger  logrus.FieldLogger
	Metrics *metrics.Metrics
}

// Resolver resolves Locators into classifiers
type Resolver struct {
	opts Options
	log  logrus.FieldLogger
}

// NewResolver creates a Resolver
func NewResolver(opts Options) *Resolver {
	if opts.NumLabels < 2 {
		opts.NumLabels = 2
	}
	return &Resolver{opts: opts, log: logger.OrDiscard(opts.Logger)}
}

// Resolve returns a classifier for loc. Every failure is a *model.ModelAccessError.
func (r *Resolver) Resolve(ctx context.Context, loc Locator) (classifier.Classifier, error) {
	c, err := r.resolve(ctx, loc)
	if err != nil {
		return nil, model.NewModelAccessError(loc.ID(), "resolve", err)
	}
	return c, nil
}

func (r *Resolver) resolve(ctx context.Context, loc Locator) (classifier.Classifier, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch {
	case loc.Classifier != nil:
		return loc.Classifier, nil

	case loc.Model != nil:
		if loc.Tokenizer == nil {
			return nil, errors.New("token model given without a tokenizer")
		}
		return classifier.Pair(loc.Model, loc.Tokenizer), nil

	case loc.Ref == "":
		return nil, errors.New("empty model locator")

	case strings.HasPrefix(loc.Ref, "openai:"):
		c, err := NewOpenAIClassifier(r.opts.Remote, strings.TrimPrefix(loc.Ref, "openai:"), r.opts.NumLabels)
		if err != nil {
			return nil, err
		}
		return r.remote(loc.Ref, "openai", c), nil

	case strings.HasPrefix(loc.Ref, "http://"), strings.HasPrefix(loc.Ref, "https://"):
		c, err := NewHTTPClassifier(r.opts.Remote, loc.Ref, r.opts.NumLabels)
		if err != nil {
			return nil, err
		}
		return r.remote(loc.Ref, loc.Ref, c), nil

	default:
		if _, err := os.Stat(loc.Ref); err != nil {
			return nil, fmt.Errorf("model file: %w", err)
		}
		r.log.WithField("path", loc.Ref).Debug("Loading model file")
		return classifier.LoadLogReg(loc.Ref)
	}
}

// remote wraps a remote classifier with rate limiting and caching.
// Cache sits outside the limiter so hits cost no request budget.
func (r *Resolver) remote(id, limitKey string, c classifier.Classifier) classifier.Classifier {
	if r.opts.Limiter != nil {
		c = &limited{inner: c, limiter: r.opts.Limiter, key: limitKey}
	}
	if r.opts.Cache != nil {
		c = &cached{inner: c, id: id, cache: r.opts.Cache, ttl: r.opts.CacheTTL, metrics: r.opts.Metrics}
	}
	return c
}
