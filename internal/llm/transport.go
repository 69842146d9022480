package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout        = 120 * time.Second
	defaultMaxRetries     = 3
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 10 * time.Second
	defaultRateLimit      = 10
	defaultBurst          = 10
	maxErrorBodyBytes     = 4096
)

// StatusError is returned when the provider answers with a non-200 status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bad status %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the request may succeed on retry.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Option configures a Client or EmbeddingsClient.
type Option func(*transport)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *transport) { t.client = c }
}

// WithTimeout sets the per-attempt request timeout.
func WithTimeout(d time.Duration) Option {
	return func(t *transport) {
		if d > 0 {
			t.client = &http.Client{Timeout: d}
		}
	}
}

// WithRateLimit caps outbound requests per second.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(t *transport) {
		if perSecond > 0 {
			t.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
		}
	}
}

// WithMaxRetries sets how many times a transient failure is retried.
func WithMaxRetries(n int) Option {
	return func(t *transport) {
		if n >= 0 {
			t.maxRetries = n
		}
	}
}

// WithBackoff sets the first retry delay; later delays grow exponentially.
func WithBackoff(initial time.Duration) Option {
	return func(t *transport) {
		if initial > 0 {
			t.initialBackoff = initial
		}
	}
}

// transport sends JSON requests with rate limiting and bounded retries.
type transport struct {
	client         *http.Client
	limiter        *rate.Limiter
	maxRetries     int
	initialBackoff time.Duration
}

func newTransport(opts []Option) *transport {
	t := &transport{
		client:         &http.Client{Timeout: defaultTimeout},
		limiter:        rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
		maxRetries:     defaultMaxRetries,
		initialBackoff: defaultInitialBackoff,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// do sends method url with an optional JSON payload and decodes a 200 response into out.
// Transport errors, 429 and 5xx are retried; anything else fails immediately.
func (t *transport) do(ctx context.Context, method, url, apiKey string, payload, out any) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = t.initialBackoff
	policy.MaxInterval = defaultMaxBackoff

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := t.limiter.Wait(ctx); err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("rate limiter error: %w", err))
		}
		transient, err := t.attempt(ctx, method, url, apiKey, body, out)
		if err != nil && (!transient || ctx.Err() != nil) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(t.maxRetries+1)),
	)
	return err
}

// attempt performs one request. transient reports whether a retry may succeed.
func (t *transport) attempt(ctx context.Context, method, url, apiKey string, body []byte, out any) (transient bool, err error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}

	if apiKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", apiKey))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return true, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: string(raw)}
		return statusErr.Temporary(), statusErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}
	return false, nil
}
