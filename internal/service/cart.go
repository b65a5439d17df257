package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/repository"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// Reasons attached to cart.cleared events.
const (
	ClearReasonManual         = "manual"
	ClearReasonOrderCompleted = "order_completed"
)

// CartEventPublisher emits cart events.
type CartEventPublisher interface {
	PublishCartUpdated(ctx context.Context, cart *domain.Cart) error
	PublishCartCleared(ctx context.Context, cartID, reason string) error
}

// CouponChecker runs the coupon redemption checks against a subtotal.
type CouponChecker interface {
	Check(ctx context.Context, code string, subtotal decimal.Decimal, customer domain.CustomerRef) (*domain.Coupon, error)
}

// CartConfig holds cart defaults.
type CartConfig struct {
	Currency string
	TTL      time.Duration
}

// AddItemInput holds the parameters for adding a line to a cart. An ID that
// matches an existing line replaces that line.
type AddItemInput struct {
	ID        string          `json:"id" validate:"omitempty,max=64"`
	ProductID string          `json:"product_id" validate:"required,max=64"`
	VariantID string          `json:"variant_id" validate:"omitempty,max=64"`
	Title     string          `json:"title" validate:"max=255"`
	UnitPrice decimal.Decimal `json:"unit_price" validate:"gte=0"`
	Quantity  int             `json:"quantity" validate:"required,gte=1"`
}

// UpdateQuantityInput holds the parameters for updating a line quantity. Zero
// or less removes the line.
type UpdateQuantityInput struct {
	Quantity int `json:"quantity"`
}

// CartService implements the cart aggregate operations. Every mutation is a
// single atomic read-modify-write on the cart's key followed by a full
// recomputation of totals.
type CartService struct {
	repo    repository.CartRepository
	coupons CouponChecker
	events  CartEventPublisher
	metrics *Metrics
	logger  *slog.Logger
	cfg     CartConfig
	now     func() time.Time
}

// NewCartService creates a new cart service.
func NewCartService(
	repo repository.CartRepository,
	coupons CouponChecker,
	events CartEventPublisher,
	metrics *Metrics,
	logger *slog.Logger,
	cfg CartConfig,
) *CartService {
	return &CartService{
		repo:    repo,
		coupons: coupons,
		events:  events,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// cartChange applies one structural change and reports whether the cart
// changed.
type cartChange func(c *domain.Cart) (bool, error)

func unchanged(*domain.Cart) (bool, error) { return false, nil }

// mutate locates or creates the cart, applies change and persists the result.
// An expired cart is replaced by a fresh one.
func (s *CartService) mutate(ctx context.Context, cartID string, change cartChange) (*domain.Cart, bool, error) {
	if cartID == "" {
		return nil, false, apperrors.InvalidInput("cart id is required")
	}

	var changed bool
	cart, err := s.repo.Update(ctx, cartID, func(current *domain.Cart) (*domain.Cart, error) {
		now := s.now()
		c := current
		if c == nil || c.Expired(now) {
			c = domain.NewCart(cartID, s.cfg.Currency, now, s.cfg.TTL)
		}
		ok, err := change(c)
		if err != nil {
			return nil, err
		}
		changed = ok
		if ok {
			c.Touch(now, s.cfg.TTL)
		}
		return c, nil
	})
	if err != nil {
		return nil, false, err
	}
	return cart, changed, nil
}

func (s *CartService) updated(ctx context.Context, op string, cart *domain.Cart) {
	s.metrics.cartMutation(op)
	if err := s.events.PublishCartUpdated(ctx, cart); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish cart.updated event",
			slog.String("cart_id", cart.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Get returns the cart, creating and persisting an empty one when none
// exists.
func (s *CartService) Get(ctx context.Context, cartID string) (*domain.Cart, error) {
	if cartID == "" {
		return nil, apperrors.InvalidInput("cart id is required")
	}

	cart, err := s.repo.Get(ctx, cartID)
	if err == nil && !cart.Expired(s.now()) {
		return cart, nil
	}
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("get cart: %w", err)
	}

	cart, _, err = s.mutate(ctx, cartID, unchanged)
	if err != nil {
		return nil, fmt.Errorf("create cart: %w", err)
	}
	return cart, nil
}

// AddItem appends a new line to the cart.
func (s *CartService) AddItem(ctx context.Context, cartID string, in AddItemInput) (*domain.Cart, error) {
	item := domain.CartLineItem{
		ID:        in.ID,
		ProductID: in.ProductID,
		VariantID: in.VariantID,
		Title:     in.Title,
		UnitPrice: in.UnitPrice,
		Quantity:  in.Quantity,
	}
	if err := domain.ValidateLineItem(item); err != nil {
		return nil, err
	}

	cart, _, err := s.mutate(ctx, cartID, func(c *domain.Cart) (bool, error) {
		if _, err := c.AddItem(item); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("add cart item: %w", err)
	}

	s.updated(ctx, "add_item", cart)
	s.logger.InfoContext(ctx, "item added to cart",
		slog.String("cart_id", cartID),
		slog.String("product_id", in.ProductID),
		slog.Int("quantity", in.Quantity),
	)
	return cart, nil
}

// UpdateItemQuantity sets a line's quantity. A quantity of zero or less
// removes the line. Updating an unknown line to a positive quantity is
// NOT_FOUND.
func (s *CartService) UpdateItemQuantity(ctx context.Context, cartID, itemID string, quantity int) (*domain.Cart, error) {
	if itemID == "" {
		return nil, apperrors.InvalidInput("item id is required")
	}

	cart, changed, err := s.mutate(ctx, cartID, func(c *domain.Cart) (bool, error) {
		if quantity <= 0 {
			return c.RemoveItem(itemID), nil
		}
		if err := c.UpdateItemQuantity(itemID, quantity); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("update cart item quantity: %w", err)
	}

	if changed {
		s.updated(ctx, "update_quantity", cart)
		s.logger.InfoContext(ctx, "cart item quantity updated",
			slog.String("cart_id", cartID),
			slog.String("item_id", itemID),
			slog.Int("quantity", quantity),
		)
	}
	return cart, nil
}

// RemoveItem drops a line. Removing an absent line returns the cart
// unchanged.
func (s *CartService) RemoveItem(ctx context.Context, cartID, itemID string) (*domain.Cart, error) {
	cart, changed, err := s.mutate(ctx, cartID, func(c *domain.Cart) (bool, error) {
		return c.RemoveItem(itemID), nil
	})
	if err != nil {
		return nil, fmt.Errorf("remove cart item: %w", err)
	}

	if changed {
		s.updated(ctx, "remove_item", cart)
		s.logger.InfoContext(ctx, "item removed from cart",
			slog.String("cart_id", cartID),
			slog.String("item_id", itemID),
		)
	}
	return cart, nil
}

// Clear empties the cart. The cart itself is kept.
func (s *CartService) Clear(ctx context.Context, cartID string) error {
	return s.clear(ctx, cartID, ClearReasonManual)
}

// ClearAfterOrder empties a cart once its order has committed. Unknown carts
// are ignored.
func (s *CartService) ClearAfterOrder(ctx context.Context, cartID, orderID string) error {
	if _, err := s.repo.Get(ctx, cartID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			s.logger.DebugContext(ctx, "ordered cart not found",
				slog.String("cart_id", cartID),
				slog.String("order_id", orderID),
			)
			return nil
		}
		return fmt.Errorf("get ordered cart: %w", err)
	}
	return s.clear(ctx, cartID, ClearReasonOrderCompleted)
}

func (s *CartService) clear(ctx context.Context, cartID, reason string) error {
	_, changed, err := s.mutate(ctx, cartID, func(c *domain.Cart) (bool, error) {
		had := len(c.Items) > 0 || c.Coupon != nil
		c.Clear()
		return had, nil
	})
	if err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	if !changed {
		return nil
	}

	s.metrics.cartMutation("clear")
	if err := s.events.PublishCartCleared(ctx, cartID, reason); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish cart.cleared event",
			slog.String("cart_id", cartID),
			slog.String("error", err.Error()),
		)
	}
	s.logger.InfoContext(ctx, "cart cleared",
		slog.String("cart_id", cartID),
		slog.String("reason", reason),
	)
	return nil
}

// ApplyCoupon validates code against the cart's current subtotal and attaches
// it. The discount is re-derived on every later mutation and drops to zero
// while the subtotal is below the coupon's minimum.
func (s *CartService) ApplyCoupon(ctx context.Context, cartID, code string, customer domain.CustomerRef) (*domain.Cart, error) {
	current, err := s.Get(ctx, cartID)
	if err != nil {
		return nil, err
	}

	coupon, err := s.coupons.Check(ctx, code, current.Subtotal, customer)
	if err != nil {
		return nil, err
	}

	cart, _, err := s.mutate(ctx, cartID, func(c *domain.Cart) (bool, error) {
		c.ApplyCoupon(coupon)
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("apply coupon: %w", err)
	}

	s.updated(ctx, "apply_coupon", cart)
	s.logger.InfoContext(ctx, "coupon applied to cart",
		slog.String("cart_id", cartID),
		slog.String("code", coupon.Code),
		slog.String("discount_total", cart.DiscountTotal.StringFixed(domain.MoneyPlaces)),
	)
	return cart, nil
}

// RemoveCoupon detaches any coupon from the cart.
func (s *CartService) RemoveCoupon(ctx context.Context, cartID string) (*domain.Cart, error) {
	cart, changed, err := s.mutate(ctx, cartID, func(c *domain.Cart) (bool, error) {
		had := c.Coupon != nil
		c.RemoveCoupon()
		return had, nil
	})
	if err != nil {
		return nil, fmt.Errorf("remove coupon: %w", err)
	}

	if changed {
		s.updated(ctx, "remove_coupon", cart)
		s.logger.InfoContext(ctx, "coupon removed from cart",
			slog.String("cart_id", cartID),
		)
	}
	return cart, nil
}
