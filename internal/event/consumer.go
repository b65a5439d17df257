package event

import (
	"context"
	"fmt"
	"log/slog"

	pkgkafka "github.com/utafrali/storefront/pkg/kafka"
)

// TopicOrderCompleted is published by the order service once an order
// commits.
var TopicOrderCompleted = pkgkafka.Topic("order", "completed")

// OrderCompletedData is the subset of the order.completed payload read here.
type OrderCompletedData struct {
	OrderID string `json:"order_id"`
	CartID  string `json:"cart_id"`
	UserID  string `json:"user_id"`
}

// CartClearer empties a cart after checkout.
type CartClearer interface {
	ClearAfterOrder(ctx context.Context, cartID, orderID string) error
}

// NewOrderCompletedHandler returns a handler that clears the ordered cart.
// Events without a cart id are acknowledged and ignored.
func NewOrderCompletedHandler(carts CartClearer, logger *slog.Logger) pkgkafka.Handler {
	return func(ctx context.Context, event *pkgkafka.Event) error {
		var data OrderCompletedData
		if err := event.UnmarshalData(&data); err != nil {
			return fmt.Errorf("decode %s payload: %w", event.EventType, err)
		}
		if data.CartID == "" {
			logger.DebugContext(ctx, "order completed without cart id",
				slog.String("order_id", data.OrderID),
			)
			return nil
		}
		if err := carts.ClearAfterOrder(ctx, data.CartID, data.OrderID); err != nil {
			return fmt.Errorf("clear cart %s after order %s: %w", data.CartID, data.OrderID, err)
		}
		return nil
	}
}
