// Package base provides the HTTP plumbing shared by backend clients: a bounded
// number of concurrent calls, retries with backoff for idempotent requests, and a
// circuit breaker in front of the agent.
package base

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/olgasafonova/jolokia-mcp-server/internal/infra"
)

const (
	// DefaultTimeout for agent requests
	DefaultTimeout = 30 * time.Second

	// MaxConcurrentRequests limits parallel agent calls
	MaxConcurrentRequests = 8

	// DefaultMaxRetry is the number of attempts for idempotent requests
	DefaultMaxRetry = 3

	userAgent = "jolokia-mcp-server/1.0"
)

// Client provides common HTTP client infrastructure with concurrency limiting,
// circuit breaking and retries.
type Client struct {
	HTTPClient     *http.Client
	Logger         *slog.Logger
	CircuitBreaker *infra.CircuitBreaker
	Semaphore      chan struct{}
	Username       string
	Password       string
	// OnRetry is called before every repeated attempt.
	OnRetry func(attempt int, reason string)
}

// ClientOption configures the Client
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.HTTPClient = c
	}
}

// WithLogger sets a custom logger
func WithLogger(l *slog.Logger) ClientOption {
	return func(client *Client) {
		client.Logger = l
	}
}

// WithTimeout replaces DefaultTimeout on the default HTTP client.
func WithTimeout(d time.Duration) ClientOption {
	return func(client *Client) {
		if d > 0 {
			client.HTTPClient = newHTTPClient(d)
		}
	}
}

// WithBasicAuth sets credentials sent with every request.
func WithBasicAuth(username, password string) ClientOption {
	return func(client *Client) {
		client.Username = username
		client.Password = password
	}
}

// WithCircuitBreaker replaces the default breaker.
func WithCircuitBreaker(cb *infra.CircuitBreaker) ClientOption {
	return func(client *Client) {
		client.CircuitBreaker = cb
	}
}

// WithRetryHook registers a callback for retries.
func WithRetryHook(fn func(attempt int, reason string)) ClientOption {
	return func(client *Client) {
		client.OnRetry = fn
	}
}

// NewClient creates a new base client with default settings
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		HTTPClient:     newHTTPClient(DefaultTimeout),
		Logger:         slog.Default(),
		CircuitBreaker: infra.NewCircuitBreaker(infra.DefaultCircuitBreakerConfig()),
		Semaphore:      make(chan struct{}, MaxConcurrentRequests),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// CircuitBreakerStats returns the current circuit breaker state
func (c *Client) CircuitBreakerStats() infra.CircuitBreakerStats {
	return c.CircuitBreaker.Stats()
}

// AcquireSlot blocks until a request slot is available or context is canceled
func (c *Client) AcquireSlot(ctx context.Context) error {
	select {
	case c.Semaphore <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context canceled while waiting for a request slot: %w", ctx.Err())
	}
}

// ReleaseSlot releases a request slot
func (c *Client) ReleaseSlot() {
	<-c.Semaphore
}

// CheckCircuitBreaker returns nil if requests are allowed, or an error if the circuit is open
func (c *Client) CheckCircuitBreaker() error {
	if !c.CircuitBreaker.Allow() {
		stats := c.CircuitBreaker.Stats()
		return &infra.ErrCircuitOpen{
			State:    stats.State,
			RetryAt:  stats.RetryAt,
			Failures: stats.ConsecutiveFails,
		}
	}
	return nil
}

// RequestConfig configures a single HTTP request
type RequestConfig struct {
	Method string // defaults to GET
	URL    string
	Body   []byte // sent as application/json when set
	// Idempotent requests are retried on transport errors and 5xx answers.
	Idempotent bool
	MaxRetry   int // defaults to DefaultMaxRetry for idempotent requests
}

// DoRequest performs an HTTP request with circuit breaker, concurrency limiting and
// retries. It returns the body and status code of the last answer; the caller
// interprets both.
func (c *Client) DoRequest(ctx context.Context, cfg RequestConfig) ([]byte, int, error) {
	if err := c.CheckCircuitBreaker(); err != nil {
		return nil, 0, err
	}

	if err := c.AcquireSlot(ctx); err != nil {
		return nil, 0, err
	}
	defer c.ReleaseSlot()

	method := cfg.Method
	if method == "" {
		method = http.MethodGet
	}

	maxRetry := 1
	if cfg.Idempotent {
		maxRetry = cfg.MaxRetry
		if maxRetry <= 0 {
			maxRetry = DefaultMaxRetry
		}
	}

	var lastErr error
	for attempt := 0; attempt < maxRetry; attempt++ {
		if attempt > 0 {
			if c.OnRetry != nil {
				c.OnRetry(attempt, lastErr.Error())
			}
			backoff := time.Duration(attempt*attempt) * 100 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, 0, fmt.Errorf("context canceled during backoff: %w", ctx.Err())
			}
		}

		req, err := c.newRequest(ctx, method, cfg)
		if err != nil {
			return nil, 0, err
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			c.Logger.Warn("Agent request failed",
				"attempt", attempt+1,
				"method", method,
				"url", cfg.URL,
				"error", err)
			continue
		}

		body, err := readAndClose(resp)
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
				if seconds, parseErr := strconv.Atoi(retryAfter); parseErr == nil {
					select {
					case <-time.After(time.Duration(seconds) * time.Second):
					case <-ctx.Done():
						return nil, 0, ctx.Err()
					}
				}
			}
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server error %d: %s", resp.StatusCode, truncate(string(body), 200))
			continue
		}

		c.CircuitBreaker.RecordSuccess()
		return body, resp.StatusCode, nil
	}

	c.CircuitBreaker.RecordFailure()
	return nil, 0, lastErr
}

func (c *Client) newRequest(ctx context.Context, method string, cfg RequestConfig) (*http.Request, error) {
	var body io.Reader
	if cfg.Body != nil {
		body = bytes.NewReader(cfg.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, cfg.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if cfg.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Username != "" {
		req.SetBasicAuth(c.Username, c.Password)
	}
	return req, nil
}

// readAndClose reads the response body and closes it
func readAndClose(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return body, err
}

// truncate shortens a string to maxLen, adding "..." if truncated
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// newHTTPClient creates an HTTP client with optimized transport settings
func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          32,
		MaxIdleConnsPerHost:   8,
		MaxConnsPerHost:       MaxConcurrentRequests,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
