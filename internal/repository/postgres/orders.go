package postgres

import (
	"context"
	"fmt"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/pkg/database"
)

// OrderLookup implements repository.OrderLookup against the
// coupon_redemptions table maintained by the order service.
type OrderLookup struct {
	db database.DBTX
}

// NewOrderLookup creates a PostgreSQL-backed order lookup.
func NewOrderLookup(db database.DBTX) *OrderLookup {
	return &OrderLookup{db: db}
}

// HasRedeemed reports whether a committed order used code with the
// customer's email or IP.
func (l *OrderLookup) HasRedeemed(ctx context.Context, code string, customer domain.CustomerRef) (_ bool, err error) {
	if customer.Email == "" && customer.IP == "" {
		return false, nil
	}

	query := `
		SELECT EXISTS (
			SELECT 1 FROM coupon_redemptions
			WHERE coupon_code = $1
			  AND (($2 <> '' AND lower(customer_email) = lower($2))
			    OR ($3 <> '' AND customer_ip = $3))
		)`
	ctx, end := database.TraceQuery(ctx, "HasRedeemedCoupon", query)
	defer func() { end(err) }()

	var used bool
	if err = l.db.QueryRow(ctx, query, code, customer.Email, customer.IP).Scan(&used); err != nil {
		return false, fmt.Errorf("check coupon redemption: %w", err)
	}
	return used, nil
}
