// Package restclient is the shared JSON-over-HTTP client used by every venue
// adapter. It rate limits with a token bucket and retries transient failures
// with exponential backoff.
package restclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/polypaper/internal/domain"
)

const (
	defaultTimeout       = 10 * time.Second
	defaultMaxRetries    = 3
	defaultBaseRetryWait = 500 * time.Millisecond
	maxErrorBody         = 1024
)

// Options configures a Client. Zero values fall back to sane defaults.
type Options struct {
	Timeout       time.Duration
	RatePerSec    float64
	Burst         int
	MaxRetries    int
	BaseRetryWait time.Duration
	Logger        *slog.Logger
}

// Client performs rate-limited GET requests that decode JSON bodies.
type Client struct {
	http       *http.Client
	limiter    *rate.Limiter
	maxRetries int
	baseWait   time.Duration
	logger     *slog.Logger
}

// New builds a Client from opts.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	} else if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.BaseRetryWait <= 0 {
		opts.BaseRetryWait = defaultBaseRetryWait
	}
	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		http:       &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(limit, opts.Burst),
		maxRetries: opts.MaxRetries,
		baseWait:   opts.BaseRetryWait,
		logger:     opts.Logger,
	}
}

// GetJSON issues a GET to url and decodes the JSON response into out.
// 429 and 5xx responses and transport errors are retried; other 4xx
// responses fail immediately with a domain sentinel where one applies.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, attempt-1); err != nil {
				return errors.Join(lastErr, err)
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("restclient: rate limiter: %w", err)
		}

		retry, err := c.do(ctx, url, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			return err
		}
		c.logger.DebugContext(ctx, "restclient: retrying request",
			slog.String("url", url),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}
	return fmt.Errorf("restclient: exhausted %d retries: %w", c.maxRetries, lastErr)
}

// do performs one request. The boolean reports whether the failure is
// transient and worth retrying.
func (c *Client) do(ctx context.Context, url string, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("restclient: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, fmt.Errorf("restclient: get %s: %w", url, ctx.Err())
		}
		return true, fmt.Errorf("restclient: get %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		statusErr := CheckHTTPStatus(resp.StatusCode, body)
		transient := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return transient, fmt.Errorf("restclient: get %s: %w", url, statusErr)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("restclient: decode %s: %w", url, err)
	}
	return false, nil
}

// sleep waits with exponential backoff, honouring the context.
func (c *Client) sleep(ctx context.Context, attempt int) error {
	wait := time.Duration(math.Pow(2, float64(attempt))) * c.baseWait
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CheckHTTPStatus maps non-2xx status codes to appropriate domain errors.
func CheckHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
