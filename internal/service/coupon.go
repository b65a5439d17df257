package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/ratelimit"
	"github.com/utafrali/storefront/internal/repository"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/pagination"
)

// resultValid labels successful validations in metrics.
const resultValid = "VALID"

// CouponEventPublisher emits coupon events.
type CouponEventPublisher interface {
	PublishCouponRejected(ctx context.Context, code, reason string, customer domain.CustomerRef) error
}

// SessionLookup resolves guest session tokens.
type SessionLookup interface {
	Get(ctx context.Context, token string) (*domain.GuestSession, error)
}

// CouponService validates coupon codes and administers coupon definitions.
// It never changes a coupon's usage count.
type CouponService struct {
	repo     repository.CouponRepository
	orders   repository.OrderLookup
	limiter  ratelimit.Limiter
	sessions SessionLookup
	events   CouponEventPublisher
	metrics  *Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewCouponService creates a new coupon service. A nil limiter disables rate
// limiting and a nil order lookup skips the prior-use check. Session tokens
// key the rate limit only when sessions confirms them as live; otherwise the
// caller is limited by address.
func NewCouponService(
	repo repository.CouponRepository,
	orders repository.OrderLookup,
	limiter ratelimit.Limiter,
	sessions SessionLookup,
	events CouponEventPublisher,
	metrics *Metrics,
	logger *slog.Logger,
) *CouponService {
	return &CouponService{
		repo:     repo,
		orders:   orders,
		limiter:  limiter,
		sessions: sessions,
		events:   events,
		metrics:  metrics,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ValidateInput holds the parameters for validating a coupon.
type ValidateInput struct {
	Code     string             `json:"code" validate:"required,max=64"`
	Subtotal decimal.Decimal    `json:"subtotal" validate:"gte=0"`
	Customer domain.CustomerRef `json:"-"`
}

// Validate reports the discount a code would grant on subtotal. Every
// rejection is returned as an error carrying its rejection code.
func (s *CouponService) Validate(ctx context.Context, in ValidateInput) (*domain.CouponValidation, error) {
	coupon, err := s.Check(ctx, in.Code, in.Subtotal, in.Customer)
	if err != nil {
		return nil, err
	}

	value := coupon.DiscountValue
	return &domain.CouponValidation{
		Valid:          true,
		Code:           coupon.Code,
		DiscountType:   coupon.DiscountType,
		DiscountValue:  &value,
		DiscountAmount: coupon.Discount(in.Subtotal),
		Message:        "coupon is valid",
	}, nil
}

// Check runs the redemption checks in order and returns the coupon when all
// of them pass: rate limit, existence, active, expiry, usage cap, minimum
// order, prior use by this customer.
func (s *CouponService) Check(ctx context.Context, code string, subtotal decimal.Decimal, customer domain.CustomerRef) (*domain.Coupon, error) {
	normalized := domain.NormalizeCode(code)
	if normalized == "" {
		return nil, apperrors.InvalidInput("code must contain at least one letter or digit")
	}
	if subtotal.IsNegative() {
		return nil, apperrors.InvalidInput("subtotal must not be negative")
	}

	coupon, err := s.check(ctx, normalized, subtotal, customer)
	if err != nil {
		if reason := rejectionCode(err); reason != "" {
			s.metrics.couponValidation(reason)
			s.logger.WarnContext(ctx, "coupon rejected",
				slog.String("code", normalized),
				slog.String("reason", reason),
			)
			if perr := s.events.PublishCouponRejected(ctx, normalized, reason, customer); perr != nil {
				s.logger.ErrorContext(ctx, "failed to publish coupon.rejected event",
					slog.String("code", normalized),
					slog.String("error", perr.Error()),
				)
			}
		}
		return nil, err
	}

	s.metrics.couponValidation(resultValid)
	s.logger.DebugContext(ctx, "coupon validated",
		slog.String("code", normalized),
		slog.String("subtotal", subtotal.StringFixed(domain.MoneyPlaces)),
	)
	return coupon, nil
}

func (s *CouponService) check(ctx context.Context, code string, subtotal decimal.Decimal, customer domain.CustomerRef) (*domain.Coupon, error) {
	if err := s.allow(ctx, customer); err != nil {
		return nil, err
	}

	coupon, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFoundCode(domain.RejectNotFound, "coupon code not found")
		}
		return nil, fmt.Errorf("get coupon by code: %w", err)
	}

	if err := coupon.CheckRedeemable(s.now(), subtotal); err != nil {
		return nil, err
	}

	if s.orders != nil && (customer.Email != "" || customer.IP != "") {
		used, err := s.orders.HasRedeemed(ctx, coupon.Code, customer)
		if err != nil {
			return nil, fmt.Errorf("check prior coupon use: %w", err)
		}
		if used {
			return nil, apperrors.Rejected(domain.RejectAlreadyUsed, "you have already used this coupon")
		}
	}
	return coupon, nil
}

// allow applies the per-identifier sliding window. Limiter failures let the
// request through; the window is spam control, not an access boundary.
func (s *CouponService) allow(ctx context.Context, customer domain.CustomerRef) error {
	if s.limiter == nil {
		return nil
	}
	id := s.limitSubject(ctx, customer).RateLimitIdentifier()
	if id == "" {
		return nil
	}
	res, err := s.limiter.Allow(ctx, id)
	if err != nil {
		s.logger.WarnContext(ctx, "coupon rate limiter unavailable",
			slog.String("error", err.Error()),
		)
		return nil
	}
	if !res.Allowed {
		return apperrors.RateLimited("too many coupon attempts, please try again later", res.RetryAfter)
	}
	return nil
}

// limitSubject drops a session token that does not name a live guest session,
// so invented tokens fall through to the address window.
func (s *CouponService) limitSubject(ctx context.Context, customer domain.CustomerRef) domain.CustomerRef {
	if customer.SessionToken == "" {
		return customer
	}
	if s.sessions != nil {
		_, err := s.sessions.Get(ctx, customer.SessionToken)
		if err == nil {
			return customer
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			s.logger.WarnContext(ctx, "guest session lookup failed for rate limit",
				slog.String("error", err.Error()),
			)
		}
	}
	customer.SessionToken = ""
	return customer
}

// rejectionCode returns the business rejection code carried by err, or ""
// for input and infrastructure errors.
func rejectionCode(err error) string {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		return ""
	}
	switch {
	case errors.Is(err, apperrors.ErrRejected),
		errors.Is(err, apperrors.ErrRateLimited),
		appErr.Code == domain.RejectNotFound && errors.Is(err, apperrors.ErrNotFound):
		return appErr.Code
	}
	return ""
}

// CreateCouponInput holds the parameters for creating a coupon.
type CreateCouponInput struct {
	Code           string              `json:"code" validate:"omitempty,max=64"`
	Description    string              `json:"description" validate:"max=500"`
	DiscountType   domain.DiscountType `json:"discount_type" validate:"required,oneof=percentage fixed"`
	DiscountValue  decimal.Decimal     `json:"discount_value" validate:"gt=0"`
	MinOrderAmount *decimal.Decimal    `json:"min_order_amount"`
	MaxUses        *int                `json:"max_uses" validate:"omitempty,gte=0"`
	ExpiresAt      *time.Time          `json:"expires_at"`
	IsActive       *bool               `json:"is_active"`
}

// UpdateCouponInput holds a partial coupon update. Nil fields are left
// unchanged.
type UpdateCouponInput struct {
	Code           *string              `json:"code" validate:"omitempty,max=64"`
	Description    *string              `json:"description" validate:"omitempty,max=500"`
	DiscountType   *domain.DiscountType `json:"discount_type" validate:"omitempty,oneof=percentage fixed"`
	DiscountValue  *decimal.Decimal     `json:"discount_value"`
	MinOrderAmount *decimal.Decimal     `json:"min_order_amount"`
	MaxUses        *int                 `json:"max_uses" validate:"omitempty,gte=0"`
	ExpiresAt      *time.Time           `json:"expires_at"`
	IsActive       *bool                `json:"is_active"`
}

// Create stores a new coupon. A code is generated from the description when
// none is given. New coupons are active unless IsActive says otherwise.
func (s *CouponService) Create(ctx context.Context, in *CreateCouponInput) (*domain.Coupon, error) {
	code := domain.NormalizeCode(in.Code)
	if code == "" {
		generated, err := generateCouponCode(in.Description)
		if err != nil {
			return nil, err
		}
		code = generated
	}

	now := s.now()
	coupon := &domain.Coupon{
		ID:             uuid.New().String(),
		Code:           code,
		Description:    in.Description,
		DiscountType:   in.DiscountType,
		DiscountValue:  in.DiscountValue,
		MinOrderAmount: in.MinOrderAmount,
		MaxUses:        in.MaxUses,
		ExpiresAt:      in.ExpiresAt,
		IsActive:       in.IsActive == nil || *in.IsActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := coupon.Validate(); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, coupon); err != nil {
		return nil, fmt.Errorf("create coupon: %w", err)
	}

	s.logger.InfoContext(ctx, "coupon created",
		slog.String("coupon_id", coupon.ID),
		slog.String("code", coupon.Code),
	)
	return coupon, nil
}

// Get retrieves a coupon by id.
func (s *CouponService) Get(ctx context.Context, id string) (*domain.Coupon, error) {
	coupon, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get coupon by id: %w", err)
	}
	return coupon, nil
}

// List returns a filtered, paginated list of coupons.
func (s *CouponService) List(ctx context.Context, filter repository.CouponFilter) ([]domain.Coupon, int, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PerPage <= 0 {
		filter.PerPage = pagination.DefaultParams().PerPage
	}
	if filter.PerPage > pagination.MaxPerPage {
		filter.PerPage = pagination.MaxPerPage
	}

	coupons, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("list coupons: %w", err)
	}
	return coupons, total, nil
}

// Update applies a partial update. CurrentUses is never touched.
func (s *CouponService) Update(ctx context.Context, id string, in *UpdateCouponInput) (*domain.Coupon, error) {
	coupon, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get coupon for update: %w", err)
	}

	if in.Code != nil {
		coupon.Code = domain.NormalizeCode(*in.Code)
	}
	if in.Description != nil {
		coupon.Description = *in.Description
	}
	if in.DiscountType != nil {
		coupon.DiscountType = *in.DiscountType
	}
	if in.DiscountValue != nil {
		coupon.DiscountValue = *in.DiscountValue
	}
	if in.MinOrderAmount != nil {
		coupon.MinOrderAmount = in.MinOrderAmount
	}
	if in.MaxUses != nil {
		coupon.MaxUses = in.MaxUses
	}
	if in.ExpiresAt != nil {
		coupon.ExpiresAt = in.ExpiresAt
	}
	if in.IsActive != nil {
		coupon.IsActive = *in.IsActive
	}
	if err := coupon.Validate(); err != nil {
		return nil, err
	}
	coupon.UpdatedAt = s.now()

	if err := s.repo.Update(ctx, coupon); err != nil {
		return nil, fmt.Errorf("update coupon: %w", err)
	}

	s.logger.InfoContext(ctx, "coupon updated",
		slog.String("coupon_id", coupon.ID),
		slog.String("code", coupon.Code),
	)
	return coupon, nil
}

// Deactivate marks a coupon inactive.
func (s *CouponService) Deactivate(ctx context.Context, id string) (*domain.Coupon, error) {
	inactive := false
	coupon, err := s.Update(ctx, id, &UpdateCouponInput{IsActive: &inactive})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "coupon deactivated",
		slog.String("coupon_id", coupon.ID),
	)
	return coupon, nil
}

const (
	maxCodePrefixLen = 12
	codeSuffixBytes  = 2
)

// generateCouponCode builds a code from the description plus a random hex
// suffix, e.g. "Summer sale 2026" -> "SUMMERSALE20A3F2".
func generateCouponCode(description string) (string, error) {
	prefix := domain.NormalizeCode(description)
	if prefix == "" {
		prefix = "COUPON"
	}
	if len(prefix) > maxCodePrefixLen {
		prefix = prefix[:maxCodePrefixLen]
	}

	b := make([]byte, codeSuffixBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate coupon code: %w", err)
	}
	return prefix + strings.ToUpper(hex.EncodeToString(b)), nil
}
