package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/ratelimit"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// --- Mock event publisher ---

type mockEvents struct {
	mock.Mock
}

func (m *mockEvents) PublishCartUpdated(ctx context.Context, cart *domain.Cart) error {
	args := m.Called(ctx, cart)
	return args.Error(0)
}

func (m *mockEvents) PublishCartCleared(ctx context.Context, cartID, reason string) error {
	args := m.Called(ctx, cartID, reason)
	return args.Error(0)
}

func (m *mockEvents) PublishCouponRejected(ctx context.Context, code, reason string, customer domain.CustomerRef) error {
	args := m.Called(ctx, code, reason, customer)
	return args.Error(0)
}

func (m *mockEvents) PublishGuestSessionMerged(ctx context.Context, userID string, res domain.MergeResult) error {
	args := m.Called(ctx, userID, res)
	return args.Error(0)
}

// newQuietEvents accepts every publish.
func newQuietEvents() *mockEvents {
	m := new(mockEvents)
	m.On("PublishCartUpdated", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("PublishCartCleared", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("PublishCouponRejected", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("PublishGuestSessionMerged", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	return m
}

// --- Mock limiter ---

type mockLimiter struct {
	mock.Mock
}

func (m *mockLimiter) Allow(ctx context.Context, identifier string) (ratelimit.Result, error) {
	args := m.Called(ctx, identifier)
	return args.Get(0).(ratelimit.Result), args.Error(1)
}
