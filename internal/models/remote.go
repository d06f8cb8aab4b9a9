package models

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"security-risk-lab/internal/domain"
)

// Default configuration values.
const (
	DefaultTimeout     = 5 * time.Second
	DefaultMaxRetries  = 2
	DefaultRetryDelay  = 100 * time.Millisecond
	DefaultMaxDelay    = 2 * time.Second
	DefaultBackoffMult = 2.0
)

// RemoteScorer calls an external model service over JSON/HTTP.
type RemoteScorer struct {
	name        string
	endpoint    string
	client      *http.Client
	headers     http.Header
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
}

// RemoteOption configures RemoteScorer.
type RemoteOption func(*RemoteScorer)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) RemoteOption {
	return func(s *RemoteScorer) {
		s.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) RemoteOption {
	return func(s *RemoteScorer) {
		s.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) RemoteOption {
	return func(s *RemoteScorer) {
		s.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) RemoteOption {
	return func(s *RemoteScorer) {
		s.maxDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) RemoteOption {
	return func(s *RemoteScorer) {
		s.client = client
	}
}

// WithHeader adds a header sent on every request.
func WithHeader(key, value string) RemoteOption {
	return func(s *RemoteScorer) {
		s.headers.Add(key, value)
	}
}

// NewRemoteScorer creates a scorer named name that posts to endpoint.
func NewRemoteScorer(name, endpoint string, opts ...RemoteOption) *RemoteScorer {
	s := &RemoteScorer{
		name:        name,
		endpoint:    endpoint,
		client:      &http.Client{Timeout: DefaultTimeout},
		headers:     make(http.Header),
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements Scorer.
func (s *RemoteScorer) Name() string { return s.name }

// scoreRequest is the body posted to the model service.
type scoreRequest struct {
	Model     string           `json:"model"`
	Features  []float64        `json:"features"`
	Embedding []float64        `json:"embedding,omitempty"`
	Event     *domain.RawEvent `json:"event,omitempty"`
}

// scoreResponse is the model service reply.
type scoreResponse struct {
	Score      *float64 `json:"score"`
	Confidence *float64 `json:"confidence,omitempty"`
	Label      string   `json:"label,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// errPermanent marks failures that are not retried.
var errPermanent = errors.New("permanent failure")

// Score implements Scorer. Transport errors, 429 and 5xx responses are
// retried with exponential backoff; other failures are returned at once.
func (s *RemoteScorer) Score(ctx context.Context, in Input) (domain.ModelScore, error) {
	body, err := json.Marshal(scoreRequest{
		Model:     s.name,
		Features:  in.Features,
		Embedding: in.Embedding,
		Event:     in.Event,
	})
	if err != nil {
		return domain.ModelScore{}, domain.NewScoringError(s.name, err, "marshal request")
	}

	delay := s.retryDelay
	var lastErr error

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return domain.ModelScore{}, domain.NewScoringError(s.name, ctx.Err(), "scoring cancelled")
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * s.backoffMult)
			if delay > s.maxDelay {
				delay = s.maxDelay
			}
		}

		out, err := s.do(ctx, body)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if errors.Is(err, errPermanent) || ctx.Err() != nil {
			break
		}
	}

	return domain.ModelScore{}, domain.NewScoringError(s.name, lastErr, "remote scoring failed")
}

func (s *RemoteScorer) do(ctx context.Context, body []byte) (domain.ModelScore, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.ModelScore{}, fmt.Errorf("create request: %w: %w", errPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range s.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return domain.ModelScore{}, fmt.Errorf("http request: %w", err)
	}
	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return domain.ModelScore{}, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return domain.ModelScore{}, fmt.Errorf("rate limited (429)")
	case resp.StatusCode >= 500:
		return domain.ModelScore{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	case resp.StatusCode != http.StatusOK:
		return domain.ModelScore{}, fmt.Errorf("%w: status %d: %s", errPermanent, resp.StatusCode, string(respBody))
	}

	var sr scoreResponse
	if err := json.Unmarshal(respBody, &sr); err != nil {
		return domain.ModelScore{}, fmt.Errorf("%w: unmarshal response: %w", errPermanent, err)
	}
	if sr.Error != "" {
		return domain.ModelScore{}, fmt.Errorf("%w: model error: %s", errPermanent, sr.Error)
	}
	if sr.Score == nil {
		return domain.ModelScore{}, fmt.Errorf("%w: response has no score", errPermanent)
	}

	out := domain.ModelScore{Score: *sr.Score, Confidence: sr.Confidence, Label: sr.Label}
	if err := out.Validate(s.name); err != nil {
		return domain.ModelScore{}, fmt.Errorf("%w: %w", errPermanent, err)
	}
	return out, nil
}
