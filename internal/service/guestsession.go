package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/repository"
)

// GuestCartInput holds the parameters for adding to a guest cart.
type GuestCartInput struct {
	ProductID string `json:"product_id" validate:"required,max=64"`
	VariantID string `json:"variant_id" validate:"omitempty,max=64"`
	Quantity  int    `json:"quantity" validate:"required,gte=1"`
}

// GuestSessionService manages anonymous shoppers' wishlists and carts.
type GuestSessionService struct {
	repo    repository.GuestSessionRepository
	metrics *Metrics
	logger  *slog.Logger
	ttl     time.Duration
	now     func() time.Time
}

// NewGuestSessionService creates a new guest session service. ttl is the idle
// lifetime refreshed by every mutation.
func NewGuestSessionService(repo repository.GuestSessionRepository, metrics *Metrics, logger *slog.Logger, ttl time.Duration) *GuestSessionService {
	return &GuestSessionService{
		repo:    repo,
		metrics: metrics,
		logger:  logger,
		ttl:     ttl,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrGet returns token when it names a live session, refreshing its
// expiry. Otherwise a new empty session is minted. created reports which
// happened.
func (s *GuestSessionService) CreateOrGet(ctx context.Context, token string) (_ string, created bool, err error) {
	if token != "" {
		_, err := s.repo.Update(ctx, token, func(gs *domain.GuestSession) error {
			gs.Touch(s.now(), s.ttl)
			return nil
		})
		if err == nil {
			return token, false, nil
		}
		if !errors.Is(err, domain.ErrSessionNotFound) {
			return "", false, fmt.Errorf("refresh guest session: %w", err)
		}
	}

	fresh, err := domain.NewSessionToken()
	if err != nil {
		return "", false, err
	}
	if err := s.repo.Create(ctx, domain.NewGuestSession(fresh, s.now(), s.ttl)); err != nil {
		return "", false, fmt.Errorf("create guest session: %w", err)
	}

	s.metrics.guestSessionCreated()
	s.logger.InfoContext(ctx, "guest session created")
	return fresh, true, nil
}

// Get returns the session's wishlist and cart.
func (s *GuestSessionService) Get(ctx context.Context, token string) (domain.GuestSessionContents, error) {
	if token == "" {
		return domain.GuestSessionContents{}, domain.ErrSessionNotFound
	}
	gs, err := s.repo.Get(ctx, token)
	if err != nil {
		return domain.GuestSessionContents{}, fmt.Errorf("get guest session: %w", err)
	}
	return gs.Contents(), nil
}

// update applies fn atomically, refreshes the idle expiry and returns the
// stored contents.
func (s *GuestSessionService) update(ctx context.Context, token string, fn func(gs *domain.GuestSession) error) (domain.GuestSessionContents, error) {
	if token == "" {
		return domain.GuestSessionContents{}, domain.ErrSessionNotFound
	}
	gs, err := s.repo.Update(ctx, token, func(gs *domain.GuestSession) error {
		if err := fn(gs); err != nil {
			return err
		}
		gs.Touch(s.now(), s.ttl)
		return nil
	})
	if err != nil {
		return domain.GuestSessionContents{}, fmt.Errorf("update guest session: %w", err)
	}
	return gs.Contents(), nil
}

// AddToWishlist adds productID; adding a present id changes nothing.
func (s *GuestSessionService) AddToWishlist(ctx context.Context, token, productID string) (domain.GuestSessionContents, error) {
	return s.update(ctx, token, func(gs *domain.GuestSession) error {
		return gs.AddToWishlist(productID)
	})
}

// RemoveFromWishlist removes productID if present.
func (s *GuestSessionService) RemoveFromWishlist(ctx context.Context, token, productID string) (domain.GuestSessionContents, error) {
	return s.update(ctx, token, func(gs *domain.GuestSession) error {
		gs.RemoveFromWishlist(productID)
		return nil
	})
}

// AddToCart adds a line or increases an existing product+variant line.
func (s *GuestSessionService) AddToCart(ctx context.Context, token string, in GuestCartInput) (domain.GuestSessionContents, error) {
	return s.update(ctx, token, func(gs *domain.GuestSession) error {
		return gs.AddToCart(in.ProductID, in.VariantID, in.Quantity, s.now())
	})
}

// UpdateCartQuantity sets a line's quantity; zero or less removes it.
func (s *GuestSessionService) UpdateCartQuantity(ctx context.Context, token, productID, variantID string, quantity int) (domain.GuestSessionContents, error) {
	return s.update(ctx, token, func(gs *domain.GuestSession) error {
		return gs.UpdateCartQuantity(productID, variantID, quantity)
	})
}

// RemoveFromCart drops a product+variant line if present.
func (s *GuestSessionService) RemoveFromCart(ctx context.Context, token, productID, variantID string) (domain.GuestSessionContents, error) {
	return s.update(ctx, token, func(gs *domain.GuestSession) error {
		gs.RemoveFromCart(productID, variantID)
		return nil
	})
}

// ClearCart empties the guest cart and keeps the wishlist.
func (s *GuestSessionService) ClearCart(ctx context.Context, token string) (domain.GuestSessionContents, error) {
	return s.update(ctx, token, func(gs *domain.GuestSession) error {
		gs.ClearCart()
		return nil
	})
}
