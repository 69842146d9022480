// Package resource retrieves the text of a remote resource over HTTP.
package resource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"resource-rag/internal/contextutil"
)

const (
	DefaultTimeout  = 30 * time.Second
	DefaultMaxBytes = 10 << 20

	defaultMaxRetries     = 2
	defaultInitialBackoff = 250 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
)

// HTTPFetcher downloads resources with GET.
type HTTPFetcher struct {
	client         *http.Client
	maxBytes       int64
	maxRetries     int
	initialBackoff time.Duration
}

// Option configures an HTTPFetcher.
type Option func(*HTTPFetcher)

// WithMaxRetries sets how many times a transient failure is retried.
func WithMaxRetries(n int) Option {
	return func(f *HTTPFetcher) {
		if n >= 0 {
			f.maxRetries = n
		}
	}
}

// WithBackoff sets the first retry delay.
func WithBackoff(initial time.Duration) Option {
	return func(f *HTTPFetcher) {
		if initial > 0 {
			f.initialBackoff = initial
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *HTTPFetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// NewHTTPFetcher creates a fetcher. Non-positive timeout or maxBytes select the defaults.
func NewHTTPFetcher(timeout time.Duration, maxBytes int64, opts ...Option) *HTTPFetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	f := &HTTPFetcher{
		client:         &http.Client{Timeout: timeout},
		maxBytes:       maxBytes,
		maxRetries:     defaultMaxRetries,
		initialBackoff: defaultInitialBackoff,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch returns the body of url as text. Only 2xx responses succeed, and a body
// over the configured byte cap is rejected rather than cut. Failures are *FetchError.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (string, error) {
	logger := contextutil.LoggerFromContext(ctx)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = f.initialBackoff
	policy.MaxInterval = defaultMaxBackoff

	attempts := 0
	body, err := backoff.Retry(ctx, func() (string, error) {
		attempts++
		body, err := f.get(ctx, url)
		if err != nil {
			if !err.temporary() || ctx.Err() != nil {
				return "", backoff.Permanent(err)
			}
			logger.WarnContext(ctx, "fetch attempt failed",
				slog.String("url", url),
				slog.Int("attempt", attempts),
				slog.String("error", err.Error()),
			)
			return "", err
		}
		return body, nil
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(f.maxRetries+1)),
	)
	if err != nil {
		var fetchErr *FetchError
		if errors.As(err, &fetchErr) {
			return "", fetchErr
		}
		// Context cancellation between attempts.
		return "", &FetchError{Kind: FetchNetwork, URL: url, Err: err}
	}

	logger.DebugContext(ctx, "fetched resource",
		slog.String("url", url),
		slog.Int("bytes", len(body)),
		slog.Int("attempts", attempts),
	)
	return body, nil
}

func (f *HTTPFetcher) get(ctx context.Context, url string) (string, *FetchError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &FetchError{Kind: FetchNetwork, URL: url, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", &FetchError{Kind: FetchNetwork, URL: url, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", &FetchError{Kind: FetchHTTPStatus, URL: url, StatusCode: resp.StatusCode}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return "", &FetchError{Kind: FetchNetwork, URL: url, Err: fmt.Errorf("failed to read body: %w", err)}
	}
	if int64(len(raw)) > f.maxBytes {
		return "", &FetchError{Kind: FetchTooLarge, URL: url, Limit: f.maxBytes}
	}
	return string(raw), nil
}
