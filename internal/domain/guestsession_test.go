package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/storefront/pkg/errors"
)

var t0 = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func TestNewSessionToken(t *testing.T) {
	a, err := NewSessionToken()
	require.NoError(t, err)
	b, err := NewSessionToken()
	require.NoError(t, err)

	assert.Len(t, a, 43)
	assert.NotEqual(t, a, b)
}

func TestGuestSession_Wishlist(t *testing.T) {
	s := NewGuestSession("tok", t0, time.Hour)

	require.NoError(t, s.AddToWishlist("p1"))
	require.NoError(t, s.AddToWishlist("p2"))
	require.NoError(t, s.AddToWishlist("p1"))
	assert.Equal(t, []string{"p1", "p2"}, s.WishlistItems)

	s.RemoveFromWishlist("p1")
	s.RemoveFromWishlist("absent")
	assert.Equal(t, []string{"p2"}, s.WishlistItems)

	assert.True(t, errors.Is(s.AddToWishlist(""), apperrors.ErrInvalidInput))
}

func TestGuestSession_Cart(t *testing.T) {
	s := NewGuestSession("tok", t0, time.Hour)

	require.NoError(t, s.AddToCart("p1", "v1", 2, t0))
	require.NoError(t, s.AddToCart("p1", "v1", 3, t0.Add(time.Minute)))
	require.NoError(t, s.AddToCart("p1", "v2", 1, t0))
	require.Len(t, s.CartItems, 2)
	assert.Equal(t, 5, s.CartItems[0].Quantity)
	assert.Equal(t, t0, s.CartItems[0].AddedAt)

	require.NoError(t, s.UpdateCartQuantity("p1", "v2", 7))
	assert.Equal(t, 7, s.CartItems[1].Quantity)

	require.NoError(t, s.UpdateCartQuantity("p1", "v2", 0))
	assert.Len(t, s.CartItems, 1)

	require.NoError(t, s.UpdateCartQuantity("absent", "", 3))
	assert.Len(t, s.CartItems, 1)

	s.RemoveFromCart("p1", "v1")
	assert.Empty(t, s.CartItems)

	assert.Error(t, s.AddToCart("p1", "", 0, t0))
	require.NoError(t, s.AddToCart("p1", "", MaxQuantityPerItem, t0))
	assert.Error(t, s.AddToCart("p1", "", 1, t0))
}

func TestGuestSession_ClearCartKeepsWishlist(t *testing.T) {
	s := NewGuestSession("tok", t0, time.Hour)
	require.NoError(t, s.AddToWishlist("p1"))
	require.NoError(t, s.AddToCart("p2", "", 1, t0))

	s.ClearCart()
	c := s.Contents()
	assert.Equal(t, []string{"p1"}, c.WishlistItems)
	assert.Empty(t, c.CartItems)
}

func TestGuestSession_ContentsIsCopy(t *testing.T) {
	s := NewGuestSession("tok", t0, time.Hour)
	require.NoError(t, s.AddToWishlist("p1"))

	c := s.Contents()
	c.WishlistItems[0] = "changed"
	assert.Equal(t, "p1", s.WishlistItems[0])
}

func TestGuestSession_Expiry(t *testing.T) {
	s := NewGuestSession("tok", t0, time.Hour)
	assert.False(t, s.Expired(t0.Add(59*time.Minute)))
	assert.True(t, s.Expired(t0.Add(time.Hour)))

	s.Touch(t0.Add(30*time.Minute), time.Hour)
	assert.False(t, s.Expired(t0.Add(time.Hour)))
}
