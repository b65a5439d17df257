// Package ratelimit implements sliding-window request limits keyed by an
// arbitrary identifier.
package ratelimit

import (
	"context"
	"time"
)

// Result is the outcome of a single check.
type Result struct {
	Allowed   bool
	Remaining int
	// RetryAfter is how long until the oldest recorded request leaves the
	// window. Zero when Allowed.
	RetryAfter time.Duration
}

// Limiter admits at most Limit requests per identifier within any trailing
// Window. Each admitted call is recorded; rejected calls are not.
type Limiter interface {
	Allow(ctx context.Context, identifier string) (Result, error)
}

// Config sets capacity and window length.
type Config struct {
	Limit  int
	Window time.Duration
}

// DefaultConfig is 5 requests per 60 seconds.
func DefaultConfig() Config {
	return Config{Limit: 5, Window: time.Minute}
}

// Clock returns the current time. Tests substitute a fake.
type Clock func() time.Time
