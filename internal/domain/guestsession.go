package domain

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"slices"
	"time"

	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// SessionNotFoundCode is returned for unknown, expired or retired tokens.
const SessionNotFoundCode = "SESSION_NOT_FOUND"

// ErrSessionNotFound is the canonical missing-session error.
var ErrSessionNotFound = apperrors.NotFoundCode(SessionNotFoundCode, "guest session not found or expired")

// MaxGuestCartItems caps the number of lines held by a guest session.
const MaxGuestCartItems = MaxItemsPerCart

// GuestCartItem is a guest's unpriced cart line.
type GuestCartItem struct {
	ProductID string    `json:"product_id"`
	VariantID string    `json:"variant_id,omitempty"`
	Quantity  int       `json:"quantity"`
	AddedAt   time.Time `json:"added_at"`
}

// GuestSession holds an anonymous shopper's wishlist and cart.
type GuestSession struct {
	Token         string          `json:"token"`
	WishlistItems []string        `json:"wishlist_items"`
	CartItems     []GuestCartItem `json:"cart_items"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	ExpiresAt     time.Time       `json:"expires_at"`
}

// GuestSessionContents is what mutators return to callers.
type GuestSessionContents struct {
	WishlistItems []string        `json:"wishlist_items"`
	CartItems     []GuestCartItem `json:"cart_items"`
}

// NewSessionToken returns 32 random bytes, base64url encoded.
func NewSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NewGuestSession returns an empty session.
func NewGuestSession(token string, now time.Time, ttl time.Duration) *GuestSession {
	return &GuestSession{
		Token:         token,
		WishlistItems: []string{},
		CartItems:     []GuestCartItem{},
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(ttl),
	}
}

// Expired reports whether the session's idle TTL has elapsed.
func (s *GuestSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// Touch refreshes the idle expiry.
func (s *GuestSession) Touch(now time.Time, ttl time.Duration) {
	s.UpdatedAt = now
	s.ExpiresAt = now.Add(ttl)
}

// Contents returns a copy of the session's wishlist and cart.
func (s *GuestSession) Contents() GuestSessionContents {
	return GuestSessionContents{
		WishlistItems: append([]string{}, s.WishlistItems...),
		CartItems:     append([]GuestCartItem{}, s.CartItems...),
	}
}

// AddToWishlist appends productID unless already present.
func (s *GuestSession) AddToWishlist(productID string) error {
	if productID == "" {
		return apperrors.InvalidInput("product_id is required")
	}
	if !slices.Contains(s.WishlistItems, productID) {
		s.WishlistItems = append(s.WishlistItems, productID)
	}
	return nil
}

// RemoveFromWishlist drops productID if present.
func (s *GuestSession) RemoveFromWishlist(productID string) {
	s.WishlistItems = slices.DeleteFunc(s.WishlistItems, func(id string) bool { return id == productID })
}

func (s *GuestSession) cartIndex(productID, variantID string) int {
	return slices.IndexFunc(s.CartItems, func(it GuestCartItem) bool {
		return it.ProductID == productID && it.VariantID == variantID
	})
}

// AddToCart adds a line, or increases the quantity of an existing
// product+variant line.
func (s *GuestSession) AddToCart(productID, variantID string, quantity int, now time.Time) error {
	if productID == "" {
		return apperrors.InvalidInput("product_id is required")
	}
	if quantity <= 0 || quantity > MaxQuantityPerItem {
		return apperrors.InvalidInput(fmt.Sprintf("quantity must be between 1 and %d", MaxQuantityPerItem))
	}
	if i := s.cartIndex(productID, variantID); i >= 0 {
		newQty := s.CartItems[i].Quantity + quantity
		if newQty > MaxQuantityPerItem {
			return apperrors.InvalidInput(fmt.Sprintf("combined quantity must not exceed %d", MaxQuantityPerItem))
		}
		s.CartItems[i].Quantity = newQty
		return nil
	}
	if len(s.CartItems) >= MaxGuestCartItems {
		return apperrors.InvalidInput(fmt.Sprintf("cart must not contain more than %d items", MaxGuestCartItems))
	}
	s.CartItems = append(s.CartItems, GuestCartItem{
		ProductID: productID,
		VariantID: variantID,
		Quantity:  quantity,
		AddedAt:   now,
	})
	return nil
}

// UpdateCartQuantity sets a line's quantity; ≤ 0 removes it. Updating an
// absent line is a no-op.
func (s *GuestSession) UpdateCartQuantity(productID, variantID string, quantity int) error {
	if quantity <= 0 {
		s.RemoveFromCart(productID, variantID)
		return nil
	}
	if quantity > MaxQuantityPerItem {
		return apperrors.InvalidInput(fmt.Sprintf("quantity must not exceed %d", MaxQuantityPerItem))
	}
	if i := s.cartIndex(productID, variantID); i >= 0 {
		s.CartItems[i].Quantity = quantity
	}
	return nil
}

// RemoveFromCart drops the product+variant line if present.
func (s *GuestSession) RemoveFromCart(productID, variantID string) {
	s.CartItems = slices.DeleteFunc(s.CartItems, func(it GuestCartItem) bool {
		return it.ProductID == productID && it.VariantID == variantID
	})
}

// ClearCart empties the cart and leaves the wishlist untouched.
func (s *GuestSession) ClearCart() {
	s.CartItems = []GuestCartItem{}
}

// MergeResult reports how many rows a merge added to the user's collections.
type MergeResult struct {
	MergedWishlistCount int  `json:"merged_wishlist_count"`
	MergedCartCount     int  `json:"merged_cart_count"`
	AlreadyMerged       bool `json:"already_merged"`
}

// Clone returns a deep copy.
func (s *GuestSession) Clone() *GuestSession {
	out := *s
	out.WishlistItems = append([]string{}, s.WishlistItems...)
	out.CartItems = append([]GuestCartItem{}, s.CartItems...)
	return &out
}
