package corpus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ppiankov/markface/internal/logger"
	"github.com/ppiankov/markface/internal/worker"
)

// fetchSleepFunc is swapped in tests
var fetchSleepFunc = time.Sleep

const maxFetchAttempts = 3

// Fetcher downloads remote corpora
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	maxBytes   int64
	robots     *RobotsChecker
	limiter    *worker.Limiter
	log        logrus.FieldLogger
}

// FetcherOptions configures a Fetcher
type FetcherOptions struct {
	Timeout       time.Duration
	UserAgent     string
	MaxBytes      int64
	RespectRobots bool
	Limiter       *worker.Limiter
	Logger        logrus.FieldLogger
}

// NewFetcher creates a new Fetcher
func NewFetcher(opts FetcherOptions) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = time.Minute
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 50_000_000
	}

	f := &Fetcher{
		httpClient: &http.Client{
			Timeout: opts.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("stopped after 3 redirects")
				}
				return nil
			},
		},
		userAgent: opts.UserAgent,
		maxBytes:  opts.MaxBytes,
		limiter:   opts.Limiter,
		log:       logger.OrDiscard(opts.Logger),
	}
	if opts.RespectRobots {
		f.robots = NewRobotsChecker(opts.UserAgent, opts.Timeout)
	}
	return f
}

// FetchResult is a downloaded corpus body
type FetchResult struct {
	Body        []byte
	ContentType string
	FinalURL    string
	Truncated   bool
}

// errRetryable marks a transient response
var errRetryable = errors.New("retryable")

// Fetch downloads rawURL once
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*FetchResult, error) {
	if f.robots != nil {
		allowed, delay, err := f.robots.CanFetch(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, fmt.Errorf("disallowed by robots.txt: %s", rawURL)
		}
		if delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, rawURL); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "text/csv,application/x-ndjson,application/json,text/html;q=0.8,*/*;q=0.5")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, fmt.Errorf("unexpected status: %s: %w", resp.Status, errRetryable)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status: %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	res := &FetchResult{
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		FinalURL:    resp.Request.URL.String(),
	}
	if int64(len(body)) > f.maxBytes {
		res.Body = body[:f.maxBytes]
		res.Truncated = true
		f.log.WithFields(logrus.Fields{"url": rawURL, "max_bytes": f.maxBytes}).Warn("Corpus truncated")
	}
	return res, nil
}

// FetchWithRetry retries transient failures (429, 5xx) with linear backoff
func (f *Fetcher) FetchWithRetry(ctx context.Context, rawURL string) (*FetchResult, error) {
	var lastErr error
	for attempt := 1; attempt <= maxFetchAttempts; attempt++ {
		res, err := f.Fetch(ctx, rawURL)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !errors.Is(err, errRetryable) || attempt == maxFetchAttempts {
			break
		}

		f.log.WithFields(logrus.Fields{
			"url":     rawURL,
			"attempt": attempt,
		}).WithError(err).Debug("Retrying corpus fetch")
		fetchSleepFunc(time.Duration(attempt) * time.Second)

		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}
