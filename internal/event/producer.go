package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/storefront/internal/domain"
	pkgkafka "github.com/utafrali/storefront/pkg/kafka"
	"github.com/utafrali/storefront/pkg/logger"
)

// Topics published by the storefront.
var (
	TopicCartUpdated        = pkgkafka.Topic("cart", "updated")
	TopicCartCleared        = pkgkafka.Topic("cart", "cleared")
	TopicGuestSessionMerged = pkgkafka.Topic("guest_session", "merged")
	TopicCouponRejected     = pkgkafka.Topic("coupon", "rejected")
)

// Aggregate types.
const (
	AggregateTypeCart         = "cart"
	AggregateTypeGuestSession = "guest_session"
	AggregateTypeCoupon       = "coupon"
)

// SourceStorefront identifies events originating here.
const SourceStorefront = "storefront-service"

// Publisher is the transport used by Producer; *pkgkafka.Producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// CartUpdatedData is the payload for a cart.updated event.
type CartUpdatedData struct {
	CartID        string         `json:"cart_id"`
	Items         []CartItemData `json:"items"`
	ItemCount     int            `json:"item_count"`
	Subtotal      string         `json:"subtotal"`
	DiscountTotal string         `json:"discount_total"`
	GrandTotal    string         `json:"grand_total"`
	CouponCode    string         `json:"coupon_code,omitempty"`
	Currency      string         `json:"currency"`
	Version       int            `json:"version"`
}

// CartItemData is the item payload within cart events.
type CartItemData struct {
	ItemID    string `json:"item_id"`
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	UnitPrice string `json:"unit_price"`
	Quantity  int    `json:"quantity"`
}

// CartClearedData is the payload for a cart.cleared event.
type CartClearedData struct {
	CartID string `json:"cart_id"`
	Reason string `json:"reason"`
}

// GuestSessionMergedData is the payload for a guest_session.merged event.
// The guest token is deliberately absent.
type GuestSessionMergedData struct {
	UserID              string `json:"user_id"`
	MergedWishlistCount int    `json:"merged_wishlist_count"`
	MergedCartCount     int    `json:"merged_cart_count"`
}

// CouponRejectedData is the payload for a coupon.rejected event.
type CouponRejectedData struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
	IP     string `json:"ip,omitempty"`
}

// Producer publishes storefront domain events. A nil Publisher makes every
// method a no-op, which is how the service runs with Kafka disabled.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{kafka: kafka, logger: logger}
}

func (p *Producer) publish(ctx context.Context, topic, aggregateID, aggregateType string, data any) error {
	if p == nil || p.kafka == nil {
		return nil
	}
	event, err := pkgkafka.NewEvent(topic, aggregateID, aggregateType, SourceStorefront, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelationID(id)
	}
	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}
	return nil
}

// PublishCartUpdated publishes a cart.updated event.
func (p *Producer) PublishCartUpdated(ctx context.Context, cart *domain.Cart) error {
	items := make([]CartItemData, len(cart.Items))
	for i, it := range cart.Items {
		items[i] = CartItemData{
			ItemID:    it.ID,
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			UnitPrice: it.UnitPrice.StringFixed(domain.MoneyPlaces),
			Quantity:  it.Quantity,
		}
	}
	data := CartUpdatedData{
		CartID:        cart.ID,
		Items:         items,
		ItemCount:     cart.ItemCount(),
		Subtotal:      cart.Subtotal.StringFixed(domain.MoneyPlaces),
		DiscountTotal: cart.DiscountTotal.StringFixed(domain.MoneyPlaces),
		GrandTotal:    cart.GrandTotal.StringFixed(domain.MoneyPlaces),
		Currency:      cart.Currency,
		Version:       cart.Version,
	}
	if cart.Coupon != nil {
		data.CouponCode = cart.Coupon.Code
	}
	return p.publish(ctx, TopicCartUpdated, cart.ID, AggregateTypeCart, data)
}

// PublishCartCleared publishes a cart.cleared event.
func (p *Producer) PublishCartCleared(ctx context.Context, cartID, reason string) error {
	return p.publish(ctx, TopicCartCleared, cartID, AggregateTypeCart, CartClearedData{CartID: cartID, Reason: reason})
}

// PublishGuestSessionMerged publishes a guest_session.merged event keyed by
// user id.
func (p *Producer) PublishGuestSessionMerged(ctx context.Context, userID string, res domain.MergeResult) error {
	return p.publish(ctx, TopicGuestSessionMerged, userID, AggregateTypeGuestSession, GuestSessionMergedData{
		UserID:              userID,
		MergedWishlistCount: res.MergedWishlistCount,
		MergedCartCount:     res.MergedCartCount,
	})
}

// PublishCouponRejected publishes a coupon.rejected event for abuse
// monitoring.
func (p *Producer) PublishCouponRejected(ctx context.Context, code, reason string, customer domain.CustomerRef) error {
	return p.publish(ctx, TopicCouponRejected, code, AggregateTypeCoupon, CouponRejectedData{
		Code:   code,
		Reason: reason,
		IP:     customer.IP,
	})
}
