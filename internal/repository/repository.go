package repository

import (
	"context"

	"github.com/utafrali/storefront/internal/domain"
)

// CartMutator receives the stored cart, or nil when none exists, and returns
// the cart to persist. Returning an error aborts without writing.
type CartMutator func(current *domain.Cart) (*domain.Cart, error)

// CartRepository persists carts. Update is an atomic read-modify-write per
// cart id.
type CartRepository interface {
	// Get returns the stored cart or a NOT_FOUND error.
	Get(ctx context.Context, id string) (*domain.Cart, error)

	// Update applies fn to the current cart and stores the result. The
	// returned cart is a copy of what was stored.
	Update(ctx context.Context, id string, fn CartMutator) (*domain.Cart, error)

	// Delete removes the cart. Deleting an absent cart is not an error.
	Delete(ctx context.Context, id string) error
}

// GuestSessionMutator changes a session in place.
type GuestSessionMutator func(s *domain.GuestSession) error

// GuestSessionRepository persists guest sessions keyed by token. Unknown or
// expired tokens yield domain.ErrSessionNotFound.
type GuestSessionRepository interface {
	// Create stores a new session. An existing token is an ALREADY_EXISTS error.
	Create(ctx context.Context, s *domain.GuestSession) error

	Get(ctx context.Context, token string) (*domain.GuestSession, error)

	// Update applies fn atomically and returns the stored copy.
	Update(ctx context.Context, token string, fn GuestSessionMutator) (*domain.GuestSession, error)

	// Claim atomically removes the session and returns it. Exactly one of
	// several concurrent claimers succeeds.
	Claim(ctx context.Context, token string) (*domain.GuestSession, error)

	// Restore puts back a previously claimed session if its token is still
	// free and it has not expired.
	Restore(ctx context.Context, s *domain.GuestSession) error
}

// CouponFilter narrows coupon listings.
type CouponFilter struct {
	Active  *bool
	Page    int
	PerPage int
}

// CouponRepository persists coupon definitions.
type CouponRepository interface {
	Create(ctx context.Context, c *domain.Coupon) error
	GetByID(ctx context.Context, id string) (*domain.Coupon, error)

	// GetByCode looks up a normalized code.
	GetByCode(ctx context.Context, code string) (*domain.Coupon, error)

	List(ctx context.Context, filter CouponFilter) ([]domain.Coupon, int, error)
	Update(ctx context.Context, c *domain.Coupon) error
}

// OrderLookup answers whether a customer already redeemed a coupon on a
// committed order.
type OrderLookup interface {
	HasRedeemed(ctx context.Context, code string, customer domain.CustomerRef) (bool, error)
}

// UserCollectionRepository owns authenticated users' persisted wishlists and
// carts.
type UserCollectionRepository interface {
	// MergeGuestItems inserts wishlist and cart rows for userID in one
	// transaction. Rows already owned by the user are kept unchanged. Returns
	// the number of rows actually inserted into each collection.
	MergeGuestItems(ctx context.Context, userID string, wishlist []string, cart []domain.GuestCartItem) (wishlistAdded, cartAdded int, err error)
}
