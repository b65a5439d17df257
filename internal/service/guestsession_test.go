package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/repository/memory"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

const testGuestTTL = 30 * 24 * time.Hour

func newGuestSessionService(t *testing.T) (*GuestSessionService, *memory.GuestSessionRepository, *fakeClock, *Metrics) {
	t.Helper()
	clock := newFakeClock()
	repo := memory.NewGuestSessionRepository(clock.Now)
	metrics := NewMetrics(prometheus.NewRegistry())
	svc := NewGuestSessionService(repo, metrics, newTestLogger(), testGuestTTL)
	svc.now = clock.Now
	return svc, repo, clock, metrics
}

func requireSessionNotFound(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, domain.SessionNotFoundCode, apperrors.CodeOf(err))
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestGuestSessionService_CreateOrGet(t *testing.T) {
	svc, _, _, metrics := newGuestSessionService(t)
	ctx := context.Background()

	token, created, err := svc.CreateOrGet(ctx, "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, token, 43)

	again, created, err := svc.CreateOrGet(ctx, token)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, token, again)

	other, created, err := svc.CreateOrGet(ctx, "forged-token")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, "forged-token", other)
	assert.NotEqual(t, token, other)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.guestSessions))
}

func TestGuestSessionService_Wishlist(t *testing.T) {
	svc, _, _, _ := newGuestSessionService(t)
	ctx := context.Background()
	token, _, err := svc.CreateOrGet(ctx, "")
	require.NoError(t, err)

	_, err = svc.AddToWishlist(ctx, token, "p1")
	require.NoError(t, err)
	contents, err := svc.AddToWishlist(ctx, token, "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, contents.WishlistItems)

	contents, err = svc.RemoveFromWishlist(ctx, token, "absent")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, contents.WishlistItems)

	contents, err = svc.RemoveFromWishlist(ctx, token, "p1")
	require.NoError(t, err)
	assert.Empty(t, contents.WishlistItems)

	_, err = svc.AddToWishlist(ctx, token, "")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestGuestSessionService_Cart(t *testing.T) {
	svc, _, _, _ := newGuestSessionService(t)
	ctx := context.Background()
	token, _, err := svc.CreateOrGet(ctx, "")
	require.NoError(t, err)

	_, err = svc.AddToWishlist(ctx, token, "w1")
	require.NoError(t, err)
	_, err = svc.AddToCart(ctx, token, GuestCartInput{ProductID: "p1", VariantID: "red", Quantity: 2})
	require.NoError(t, err)
	contents, err := svc.AddToCart(ctx, token, GuestCartInput{ProductID: "p1", VariantID: "red", Quantity: 3})
	require.NoError(t, err)
	require.Len(t, contents.CartItems, 1)
	assert.Equal(t, 5, contents.CartItems[0].Quantity)

	contents, err = svc.AddToCart(ctx, token, GuestCartInput{ProductID: "p1", VariantID: "blue", Quantity: 1})
	require.NoError(t, err)
	assert.Len(t, contents.CartItems, 2)

	contents, err = svc.UpdateCartQuantity(ctx, token, "p1", "red", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, contents.CartItems[0].Quantity)

	contents, err = svc.UpdateCartQuantity(ctx, token, "p1", "blue", 0)
	require.NoError(t, err)
	assert.Len(t, contents.CartItems, 1)

	contents, err = svc.RemoveFromCart(ctx, token, "p1", "green")
	require.NoError(t, err)
	assert.Len(t, contents.CartItems, 1)

	contents, err = svc.ClearCart(ctx, token)
	require.NoError(t, err)
	assert.Empty(t, contents.CartItems)
	assert.Equal(t, []string{"w1"}, contents.WishlistItems)

	got, err := svc.Get(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, contents, got)
}

func TestGuestSessionService_UnknownToken(t *testing.T) {
	svc, _, _, _ := newGuestSessionService(t)
	ctx := context.Background()

	_, err := svc.Get(ctx, "nope")
	requireSessionNotFound(t, err)
	_, err = svc.Get(ctx, "")
	requireSessionNotFound(t, err)
	_, err = svc.AddToWishlist(ctx, "nope", "p1")
	requireSessionNotFound(t, err)
	_, err = svc.ClearCart(ctx, "")
	requireSessionNotFound(t, err)
}

func TestGuestSessionService_IdleExpiry(t *testing.T) {
	svc, _, clock, _ := newGuestSessionService(t)
	ctx := context.Background()
	token, _, err := svc.CreateOrGet(ctx, "")
	require.NoError(t, err)

	// Activity keeps the session alive past its original expiry.
	clock.Advance(testGuestTTL - time.Hour)
	_, err = svc.AddToWishlist(ctx, token, "p1")
	require.NoError(t, err)
	clock.Advance(2 * time.Hour)
	_, err = svc.Get(ctx, token)
	require.NoError(t, err)

	clock.Advance(testGuestTTL)
	_, err = svc.Get(ctx, token)
	requireSessionNotFound(t, err)

	fresh, created, err := svc.CreateOrGet(ctx, token)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, token, fresh)
}
