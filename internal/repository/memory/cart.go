// Package memory holds single-instance, in-process repository
// implementations. Read-modify-write sequences are serialized per key.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/keylock"
	"github.com/utafrali/storefront/internal/repository"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// CartRepository implements repository.CartRepository in memory. Expired
// carts stay visible to Update, which replaces them, until Sweep drops them.
type CartRepository struct {
	locks *keylock.Locker
	carts sync.Map // id -> *domain.Cart
	now   func() time.Time
}

// NewCartRepository creates an empty in-memory cart repository. A nil clock
// uses time.Now.
func NewCartRepository(clock func() time.Time) *CartRepository {
	if clock == nil {
		clock = time.Now
	}
	return &CartRepository{locks: keylock.New(), now: clock}
}

// Get returns a copy of the stored cart.
func (r *CartRepository) Get(_ context.Context, id string) (*domain.Cart, error) {
	v, ok := r.carts.Load(id)
	if !ok {
		return nil, apperrors.NotFound("cart", id)
	}
	return v.(*domain.Cart).Clone(), nil
}

// Update runs fn under the cart's lock.
func (r *CartRepository) Update(ctx context.Context, id string, fn repository.CartMutator) (*domain.Cart, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var current *domain.Cart
	if v, ok := r.carts.Load(id); ok {
		current = v.(*domain.Cart).Clone()
	}

	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	r.carts.Store(id, next.Clone())
	return next.Clone(), nil
}

// Delete removes the cart.
func (r *CartRepository) Delete(_ context.Context, id string) error {
	unlock := r.locks.Lock(id)
	defer unlock()
	r.carts.Delete(id)
	return nil
}

// Sweep removes carts whose idle TTL has elapsed.
func (r *CartRepository) Sweep() int {
	removed := 0
	r.carts.Range(func(key, _ any) bool {
		id := key.(string)
		unlock := r.locks.Lock(id)
		if v, ok := r.carts.Load(id); ok && v.(*domain.Cart).Expired(r.now()) {
			r.carts.Delete(id)
			removed++
		}
		unlock()
		return true
	})
	return removed
}

// Run sweeps every interval until ctx is done.
func (r *CartRepository) Run(ctx context.Context, interval time.Duration) {
	runSweeper(ctx, interval, func() { r.Sweep() })
}

// Len returns the number of stored carts, expired or not.
func (r *CartRepository) Len() int {
	return mapLen(&r.carts)
}

func runSweeper(ctx context.Context, interval time.Duration, sweep func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}

func mapLen(m *sync.Map) int {
	n := 0
	m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
