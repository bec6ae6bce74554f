package locator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ppiankov/markface/internal/cache"
	"github.com/ppiankov/markface/internal/classifier"
	"github.com/ppiankov/markface/internal/metrics"
	"github.com/ppiankov/markface/internal/worker"
)

// limited waits for rate limit clearance before every prediction
type limited struct {
	inner   classifier.Classifier
	limiter *worker.Limiter
	key     string
}

func (l *limited) NumLabels() int {
	return l.inner.NumLabels()
}

func (l *limited) Predict(ctx context.Context, text string) (classifier.Distribution, error) {
	if err := l.limiter.Wait(ctx, l.key); err != nil {
		return nil, err
	}
	return l.inner.Predict(ctx, text)
}

// cached memoizes predictions per (candidate, text)
type cached struct {
	inner   classifier.Classifier
	id      string
	cache   cache.Cache
	ttl     time.Duration
	metrics *metrics.Metrics
}

func (c *cached) NumLabels() int {
	return c.inner.NumLabels()
}

func (c *cached) Predict(ctx context.Context, text string) (classifier.Distribution, error) {
	key := cache.Key(c.id, text)

	if data, ok := c.cache.Get(key); ok {
		var dist classifier.Distribution
		if err := json.Unmarshal(data, &dist); err == nil && dist.Validate(c.inner.NumLabels()) == nil {
			c.metrics.ObserveCache(true)
			return dist, nil
		}
		_ = c.cache.Delete(key)
	}
	c.metrics.ObserveCache(false)

	dist, err := c.inner.Predict(ctx, text)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(dist); err == nil {
		_ = c.cache.Set(key, data, c.ttl)
	}
	return dist, nil
}
