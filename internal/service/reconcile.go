package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/repository"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// Merge outcomes recorded in metrics.
const (
	mergeOutcomeMerged        = "merged"
	mergeOutcomeAlreadyMerged = "already_merged"
	mergeOutcomeFailed        = "failed"
)

// MergeEventPublisher emits reconciliation events.
type MergeEventPublisher interface {
	PublishGuestSessionMerged(ctx context.Context, userID string, res domain.MergeResult) error
}

// ReconciliationService folds a guest session into an authenticated user's
// persisted collections exactly once.
type ReconciliationService struct {
	sessions    repository.GuestSessionRepository
	collections repository.UserCollectionRepository
	events      MergeEventPublisher
	metrics     *Metrics
	logger      *slog.Logger
}

// NewReconciliationService creates a new reconciliation service.
func NewReconciliationService(
	sessions repository.GuestSessionRepository,
	collections repository.UserCollectionRepository,
	events MergeEventPublisher,
	metrics *Metrics,
	logger *slog.Logger,
) *ReconciliationService {
	return &ReconciliationService{
		sessions:    sessions,
		collections: collections,
		events:      events,
		metrics:     metrics,
		logger:      logger,
	}
}

// Merge claims the guest session, unions its contents into userID's
// collections and retires the token. A token that is unknown or already
// merged yields an AlreadyMerged result rather than an error, so retries are
// safe. When persisting fails the session is put back for a later retry.
func (s *ReconciliationService) Merge(ctx context.Context, token, userID string) (domain.MergeResult, error) {
	if userID == "" {
		return domain.MergeResult{}, apperrors.Unauthorized("authentication required")
	}
	if token == "" {
		return domain.MergeResult{}, apperrors.InvalidInput("session token is required")
	}

	gs, err := s.sessions.Claim(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			s.metrics.merge(mergeOutcomeAlreadyMerged)
			s.logger.InfoContext(ctx, "guest session already merged or expired",
				slog.String("user_id", userID),
			)
			return domain.MergeResult{AlreadyMerged: true}, nil
		}
		s.metrics.merge(mergeOutcomeFailed)
		return domain.MergeResult{}, fmt.Errorf("claim guest session: %w", err)
	}

	wishlistAdded, cartAdded, err := s.collections.MergeGuestItems(ctx, userID, gs.WishlistItems, gs.CartItems)
	if err != nil {
		s.metrics.merge(mergeOutcomeFailed)
		if rerr := s.sessions.Restore(context.WithoutCancel(ctx), gs); rerr != nil {
			s.logger.ErrorContext(ctx, "failed to restore guest session after merge failure",
				slog.String("user_id", userID),
				slog.String("error", rerr.Error()),
			)
		}
		return domain.MergeResult{}, fmt.Errorf("merge guest items: %w", err)
	}

	res := domain.MergeResult{
		MergedWishlistCount: wishlistAdded,
		MergedCartCount:     cartAdded,
	}
	s.metrics.merge(mergeOutcomeMerged)

	if err := s.events.PublishGuestSessionMerged(ctx, userID, res); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish guest_session.merged event",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "guest session merged",
		slog.String("user_id", userID),
		slog.Int("wishlist_added", wishlistAdded),
		slog.Int("cart_added", cartAdded),
	)
	return res, nil
}
