package memory

import (
	"context"
	"sync"

	"github.com/utafrali/storefront/internal/domain"
)

type cartKey struct{ productID, variantID string }

type userCollections struct {
	wishlist map[string]struct{}
	cart     map[cartKey]int
}

// UserCollectionRepository implements repository.UserCollectionRepository in
// memory.
type UserCollectionRepository struct {
	mu    sync.Mutex
	users map[string]*userCollections
}

// NewUserCollectionRepository creates an empty repository.
func NewUserCollectionRepository() *UserCollectionRepository {
	return &UserCollectionRepository{users: make(map[string]*userCollections)}
}

// MergeGuestItems inserts rows the user does not already own.
func (r *UserCollectionRepository) MergeGuestItems(_ context.Context, userID string, wishlist []string, cart []domain.GuestCartItem) (int, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		u = &userCollections{wishlist: map[string]struct{}{}, cart: map[cartKey]int{}}
		r.users[userID] = u
	}

	var wAdded, cAdded int
	for _, p := range wishlist {
		if _, exists := u.wishlist[p]; !exists {
			u.wishlist[p] = struct{}{}
			wAdded++
		}
	}
	for _, it := range cart {
		k := cartKey{it.ProductID, it.VariantID}
		if _, exists := u.cart[k]; !exists {
			u.cart[k] = it.Quantity
			cAdded++
		}
	}
	return wAdded, cAdded, nil
}

// Wishlist returns the user's wishlist product ids.
func (r *UserCollectionRepository) Wishlist(userID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	if u, ok := r.users[userID]; ok {
		for p := range u.wishlist {
			out = append(out, p)
		}
	}
	return out
}

// CartQuantity returns the stored quantity for a product+variant, or 0.
func (r *UserCollectionRepository) CartQuantity(userID, productID, variantID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[userID]; ok {
		return u.cart[cartKey{productID, variantID}]
	}
	return 0
}
