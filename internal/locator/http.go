package locator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ppiankov/markface/internal/classifier"
	"github.com/ppiankov/markface/internal/model"
)

// HTTPClassifier queries a JSON predict endpoint.
//
// Request:  {"text": "..."}
// Response: {"probabilities": [p0, p1, ...]} or {"label": n}
type HTTPClassifier struct {
	endpoint   string
	numLabels  int
	apiKey     string
	userAgent  string
	httpClient *http.Client
}

type predictRequest struct {
	Text string `json:"text"`
}

type predictResponse struct {
	Probabilities []float64 `json:"probabilities,omitempty"`
	Label         *int      `json:"label,omitempty"`
}

type predictError struct {
	Error string `json:"error"`
}

// maxResponseBytes bounds a predict response
const maxResponseBytes = 1 << 20

// NewHTTPClassifier creates a classifier for endpoint
func NewHTTPClassifier(cfg model.RemoteConfig, endpoint string, numLabels int) (*HTTPClassifier, error) {
	if numLabels < 2 {
		return nil, fmt.Errorf("need at least two labels, got %d", numLabels)
	}
	return &HTTPClassifier{
		endpoint:   endpoint,
		numLabels:  numLabels,
		apiKey:     cfg.APIKey,
		userAgent:  cfg.UserAgent,
		httpClient: newHTTPClient(cfg.Timeout, cfg.HTTPProxy, cfg.HTTPSProxy),
	}, nil
}

// NumLabels returns the size of the label set
func (c *HTTPClassifier) NumLabels() int {
	return c.numLabels
}

// Predict posts text to the endpoint
func (c *HTTPClassifier) Predict(ctx context.Context, text string) (classifier.Distribution, error) {
	body, err := json.Marshal(predictRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr predictError
		if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Error)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	var pr predictResponse
	if err := json.Unmarshal(respBody, &pr); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	switch {
	case len(pr.Probabilities) > 0:
		dist := classifier.Distribution(pr.Probabilities)
		if err := dist.Validate(c.numLabels); err != nil {
			return nil, err
		}
		return dist, nil
	case pr.Label != nil:
		if *pr.Label < 0 || *pr.Label >= c.numLabels {
			return nil, fmt.Errorf("label %d outside [0, %d)", *pr.Label, c.numLabels)
		}
		dist := make(classifier.Distribution, c.numLabels)
		dist[*pr.Label] = 1
		return dist, nil
	default:
		return nil, errors.New("response has neither probabilities nor label")
	}
}
