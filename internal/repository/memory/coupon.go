package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/repository"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// CouponRepository implements repository.CouponRepository in memory.
type CouponRepository struct {
	mu     sync.RWMutex
	byID   map[string]*domain.Coupon
	byCode map[string]string
}

// NewCouponRepository creates a repository seeded with coupons.
func NewCouponRepository(seed ...*domain.Coupon) *CouponRepository {
	r := &CouponRepository{
		byID:   make(map[string]*domain.Coupon),
		byCode: make(map[string]string),
	}
	for _, c := range seed {
		cp := *c
		r.byID[c.ID] = &cp
		r.byCode[c.Code] = c.ID
	}
	return r
}

// Create stores c; codes are unique.
func (r *CouponRepository) Create(_ context.Context, c *domain.Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byCode[c.Code]; ok {
		return apperrors.AlreadyExists("coupon", "code", c.Code)
	}
	cp := *c
	r.byID[c.ID] = &cp
	r.byCode[c.Code] = c.ID
	return nil
}

// GetByID returns a copy of the coupon.
func (r *CouponRepository) GetByID(_ context.Context, id string) (*domain.Coupon, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.byID[id]
	if !ok {
		return nil, apperrors.NotFound("coupon", id)
	}
	cp := *c
	return &cp, nil
}

// GetByCode returns a copy of the coupon with the given code.
func (r *CouponRepository) GetByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	r.mu.RLock()
	id, ok := r.byCode[code]
	r.mu.RUnlock()
	if !ok {
		return nil, apperrors.NotFound("coupon", code)
	}
	return r.GetByID(ctx, id)
}

// List returns coupons newest first.
func (r *CouponRepository) List(_ context.Context, filter repository.CouponFilter) ([]domain.Coupon, int, error) {
	r.mu.RLock()
	all := make([]domain.Coupon, 0, len(r.byID))
	for _, c := range r.byID {
		if filter.Active != nil && c.IsActive != *filter.Active {
			continue
		}
		all = append(all, *c)
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].Code < all[j].Code
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)
	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	start := 0
	if filter.Page > 1 {
		start = (filter.Page - 1) * perPage
	}
	if start >= total {
		return []domain.Coupon{}, total, nil
	}
	end := min(start+perPage, total)
	return all[start:end], total, nil
}

// Update replaces the stored coupon, re-indexing its code.
func (r *CouponRepository) Update(_ context.Context, c *domain.Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.byID[c.ID]
	if !ok {
		return apperrors.NotFound("coupon", c.ID)
	}
	if owner, taken := r.byCode[c.Code]; taken && owner != c.ID {
		return apperrors.AlreadyExists("coupon", "code", c.Code)
	}
	delete(r.byCode, old.Code)
	cp := *c
	r.byID[c.ID] = &cp
	r.byCode[c.Code] = c.ID
	return nil
}
