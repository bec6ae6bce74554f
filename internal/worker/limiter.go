package worker

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter rate-limits requests per endpoint. Candidates that share a host
// (or a hosted provider) share one budget.
type Limiter struct {
	limiters     map[string]*rate.Limiter
	mu           sync.RWMutex
	defaultRate  rate.Limit
	defaultBurst int
}

// NewLimiter creates a new rate limiter; requestsPerSecond <= 0 disables limiting
func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 5
	}

	limit := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		limit = rate.Inf
	}

	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  limit,
		defaultBurst: burst,
	}
}

// Wait blocks until a request to ref is allowed
func (l *Limiter) Wait(ctx context.Context, ref string) error {
	return l.getLimiter(EndpointKey(ref)).Wait(ctx)
}

// Allow checks if a request is allowed without waiting
func (l *Limiter) Allow(ref string) bool {
	return l.getLimiter(EndpointKey(ref)).Allow()
}

func (l *Limiter) getLimiter(key string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[key]
	l.mu.RUnlock()

	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if limiter, exists := l.limiters[key]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
	l.limiters[key] = limiter

	return limiter
}

// SetRate sets a custom rate limit for one endpoint key
func (l *Limiter) SetRate(key string, requestsPerSecond float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if burst <= 0 {
		burst = l.defaultBurst
	}

	l.limiters[key] = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}

// EndpointKey maps a candidate reference to its rate limit bucket:
// the host for URLs, the provider for "provider:model", the ref otherwise
func EndpointKey(ref string) string {
	if strings.Contains(ref, "://") {
		if parsed, err := url.Parse(ref); err == nil && parsed.Host != "" {
			return parsed.Host
		}
	}
	if provider, _, ok := strings.Cut(ref, ":"); ok && provider != "" {
		return provider
	}
	return ref
}
