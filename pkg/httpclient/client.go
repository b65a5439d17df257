package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Config holds HTTP client configuration.
type Config struct {
	Timeout         time.Duration
	MaxRetries      int
	RetryWaitMin    time.Duration
	RetryWaitMax    time.Duration
	MaxConnsPerHost int
}

// DefaultConfig returns defaults suited to short internal lookups.
func DefaultConfig() Config {
	return Config{
		Timeout:         5 * time.Second,
		MaxRetries:      2,
		RetryWaitMin:    100 * time.Millisecond,
		RetryWaitMax:    time.Second,
		MaxConnsPerHost: 50,
	}
}

// Client is an http.Client with bounded retries on network errors and 5xx.
// Only idempotent methods are retried.
type Client struct {
	httpClient *http.Client
	config     Config
}

// New creates a Client with its own pooled transport.
func New(cfg Config) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: cfg.MaxConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return NewWithHTTPClient(&http.Client{Transport: transport, Timeout: cfg.Timeout}, cfg)
}

// NewWithHTTPClient wraps an existing http.Client.
func NewWithHTTPClient(hc *http.Client, cfg Config) *Client {
	return &Client{httpClient: hc, config: cfg}
}

// Do sends req, retrying idempotent requests with exponential backoff.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	retries := c.config.MaxRetries
	if !idempotent(req.Method) {
		retries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.backoff(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if isRetryable(ctx, err) {
				continue
			}
			break
		}

		if resp.StatusCode >= 500 && resp.StatusCode != http.StatusNotImplemented && attempt < retries {
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("server returned %d", resp.StatusCode)
			continue
		}
		return resp, nil
	}

	return nil, fmt.Errorf("%s %s failed: %w", req.Method, req.URL.Redacted(), lastErr)
}

// Get performs a GET.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create GET request: %w", err)
	}
	return c.Do(ctx, req)
}

func (c *Client) backoff(attempt int) time.Duration {
	wait := c.config.RetryWaitMin << (attempt - 1)
	if wait > c.config.RetryWaitMax {
		wait = c.config.RetryWaitMax
	}
	return wait
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
