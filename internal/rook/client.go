// Package rook is a client for the Rook wearable aggregator API.
package rook

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"livmore-rook-sync/internal/metrics"
)

const (
	defaultTimeout = 5 * time.Second
	initialDelay   = 500 * time.Millisecond
	maxDelay       = 30 * time.Second
	maxBodyBytes   = 4 << 20
)

// Options configures a Client
type Options struct {
	BaseURL           string
	ClientUUID        string
	SecretKey         string
	Timeout           time.Duration // bound for a single attempt
	MaxRetries        int           // retries after the first attempt, for 429, 5xx and transport errors
	RequestsPerSecond float64
	// WaitOutPauses makes calls sleep through a Retry-After pause. Without
	// it a paused client fails immediately with ErrThrottled.
	WaitOutPauses bool
}

// Client is a Rook API client
type Client struct {
	httpClient  *http.Client
	baseURL     string
	clientUUID  string
	secretKey   string
	timeout     time.Duration
	maxRetries  int
	waitPauses  bool
	logger      *slog.Logger
	rateLimiter *RateLimiter
}

// NewClient creates a new Rook API client
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		httpClient:  &http.Client{},
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		clientUUID:  opts.ClientUUID,
		secretKey:   opts.SecretKey,
		timeout:     timeout,
		maxRetries:  max(0, opts.MaxRetries),
		waitPauses:  opts.WaitOutPauses,
		logger:      slog.Default(),
		rateLimiter: NewRateLimiter(opts.RequestsPerSecond),
	}
}

// GetRateLimitStatus returns the current rate limit status
func (c *Client) GetRateLimitStatus() RateLimitStatus {
	return c.rateLimiter.Status()
}

// doRequest performs a GET with retries. Each attempt is bounded by the
// client timeout. A 204 or an empty body returns ErrNoData.
func (c *Client) doRequest(ctx context.Context, op, path string, query url.Values) ([]byte, error) {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var lastErr error
	delay := initialDelay

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Info("Retrying Rook request", "operation", op, "attempt", attempt, "delay_ms", delay.Milliseconds())
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay = min(delay*2, maxDelay)
		}

		if err := c.wait(ctx); err != nil {
			return nil, err
		}

		body, status, retryAfter, err := c.attempt(ctx, op, reqURL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			lastErr = err
			continue
		}

		switch {
		case status == http.StatusOK:
			if len(strings.TrimSpace(string(body))) == 0 {
				return nil, ErrNoData
			}
			return body, nil
		case status == http.StatusNoContent:
			return nil, ErrNoData
		case status == http.StatusTooManyRequests:
			if retryAfter > 0 {
				c.rateLimiter.Throttle(retryAfter)
				delay = retryAfter
			}
			lastErr = &HTTPError{StatusCode: status, Body: string(body)}
			continue
		case status >= 500:
			lastErr = &HTTPError{StatusCode: status, Body: string(body)}
			continue
		default:
			return nil, &HTTPError{StatusCode: status, Body: string(body)}
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// wait paces the call. A client that does not wait out pauses fails fast
// while paused, and its pacing wait shares the per-call timeout.
func (c *Client) wait(ctx context.Context) error {
	if c.waitPauses {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter wait: %w", err)
		}
		return nil
	}

	if pause := c.rateLimiter.Paused(); pause > 0 {
		return fmt.Errorf("%w for another %s", ErrThrottled, pause.Round(time.Millisecond))
	}
	waitCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.rateLimiter.Wait(waitCtx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}
	return nil
}

// attempt sends a single request under the per-call timeout
func (c *Client) attempt(ctx context.Context, op, reqURL string) ([]byte, int, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.clientUUID, c.secretKey)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		metrics.RookAPIRequestsTotal.WithLabelValues(op, "error").Inc()
		metrics.RookAPIRequestDuration.WithLabelValues(op, "error").Observe(duration.Seconds())
		c.logger.Warn("Rook request failed", "operation", op, "error", err, "duration_ms", duration.Milliseconds())
		return nil, 0, 0, fmt.Errorf("rook request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	statusLabel := strconv.Itoa(resp.StatusCode)
	metrics.RookAPIRequestsTotal.WithLabelValues(op, statusLabel).Inc()
	metrics.RookAPIRequestDuration.WithLabelValues(op, statusLabel).Observe(duration.Seconds())

	c.logger.Debug("rook_api_request", "operation", op, "status", resp.StatusCode, "duration_ms", duration.Milliseconds())

	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.StatusCode, parseRetryAfter(resp.Header), nil
}

// parseRetryAfter extracts retry delay from Retry-After header
func parseRetryAfter(headers http.Header) time.Duration {
	retryAfter := headers.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}

	seconds, err := strconv.Atoi(retryAfter)
	if err != nil {
		return 0
	}

	return time.Duration(seconds) * time.Second
}
