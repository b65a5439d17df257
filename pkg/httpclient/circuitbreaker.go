package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker/v2"
)

// CircuitBreakerConfig configures a breaker.
type CircuitBreakerConfig struct {
	Name string
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// Interval clears closed-state counts; 0 never clears.
	Interval time.Duration
	// Timeout is how long the breaker stays open.
	Timeout      time.Duration
	FailureRatio float64
	MinRequests  uint32
}

// DefaultCircuitBreakerConfig trips at 50% failures over at least 5 requests.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:         name,
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = gobreaker.ErrOpenState

var circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "circuit_breaker_state",
	Help: "Current state of the circuit breaker (0=closed, 1=half-open, 2=open)",
}, []string{"name"})

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// CircuitBreakerClient guards a Client with a gobreaker circuit breaker.
// Transport errors and 5xx responses count as failures.
type CircuitBreakerClient struct {
	client  *Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
	name    string
}

// NewCircuitBreakerClient wraps client.
func NewCircuitBreakerClient(client *Client, cfg CircuitBreakerConfig, logger *slog.Logger) *CircuitBreakerClient {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.Requests >= cfg.MinRequests &&
				float64(c.TotalFailures)/float64(c.Requests) >= cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellation says nothing about downstream health.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			circuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	}
	circuitBreakerState.WithLabelValues(cfg.Name).Set(0)

	return &CircuitBreakerClient{
		client:  client,
		breaker: gobreaker.NewCircuitBreaker[*http.Response](settings),
		name:    cfg.Name,
	}
}

// Do sends req through the breaker.
func (c *CircuitBreakerClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	return c.breaker.Execute(func() (*http.Response, error) {
		resp, err := c.client.Do(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
			_ = resp.Body.Close()
			return nil, fmt.Errorf("%s: server error %d: %s", c.name, resp.StatusCode, string(body))
		}
		return resp, nil
	})
}

// Get performs a GET through the breaker.
func (c *CircuitBreakerClient) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create GET request: %w", err)
	}
	return c.Do(ctx, req)
}

// State reports the breaker state.
func (c *CircuitBreakerClient) State() gobreaker.State {
	return c.breaker.State()
}
