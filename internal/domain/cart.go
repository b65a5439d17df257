package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// Cart limits.
const (
	MaxQuantityPerItem = 100
	MaxItemsPerCart    = 50
)

// CartLineItem is a single priced line in a cart.
type CartLineItem struct {
	ID        string          `json:"id"`
	ProductID string          `json:"product_id"`
	VariantID string          `json:"variant_id,omitempty"`
	Title     string          `json:"title"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// AppliedCoupon records the terms of a coupon attached to a cart so the
// discount can be re-derived whenever the subtotal changes.
type AppliedCoupon struct {
	Code           string           `json:"code"`
	DiscountType   DiscountType     `json:"discount_type"`
	DiscountValue  decimal.Decimal  `json:"discount_value"`
	MinOrderAmount *decimal.Decimal `json:"min_order_amount,omitempty"`
}

// Cart is the server-authoritative cart aggregate. Totals are derived by
// Recompute and never set directly.
type Cart struct {
	ID            string          `json:"id"`
	Currency      string          `json:"currency"`
	Items         []CartLineItem  `json:"items"`
	Coupon        *AppliedCoupon  `json:"coupon,omitempty"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	DiscountTotal decimal.Decimal `json:"discount_total"`
	TaxTotal      decimal.Decimal `json:"tax_total"`
	ShippingTotal decimal.Decimal `json:"shipping_total"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
	Version       int             `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	ExpiresAt     time.Time       `json:"expires_at"`
}

// NewCart returns an empty, zeroed cart.
func NewCart(id, currency string, now time.Time, ttl time.Duration) *Cart {
	c := &Cart{
		ID:        id,
		Currency:  currency,
		Items:     []CartLineItem{},
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	c.Recompute()
	return c
}

// Recompute derives every line total and cart total from the item list.
// Tax and shipping are always zero. The discount never exceeds the subtotal.
func (c *Cart) Recompute() {
	subtotal := decimal.Zero
	for i := range c.Items {
		it := &c.Items[i]
		it.UnitPrice = RoundMoney(it.UnitPrice)
		it.LineTotal = RoundMoney(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
		subtotal = subtotal.Add(it.LineTotal)
	}

	c.Subtotal = subtotal
	c.TaxTotal = decimal.Zero
	c.ShippingTotal = decimal.Zero
	c.DiscountTotal = decimal.Zero
	if c.Coupon != nil {
		c.DiscountTotal = c.Coupon.discountFor(subtotal)
	}
	c.GrandTotal = c.Subtotal.Sub(c.DiscountTotal).Add(c.TaxTotal).Add(c.ShippingTotal)
	if c.GrandTotal.IsNegative() {
		c.GrandTotal = decimal.Zero
	}
}

func (a *AppliedCoupon) discountFor(subtotal decimal.Decimal) decimal.Decimal {
	if a.MinOrderAmount != nil && subtotal.LessThan(*a.MinOrderAmount) {
		return decimal.Zero
	}
	return CalculateDiscount(a.DiscountType, a.DiscountValue, subtotal)
}

// Touch bumps the version and refreshes the idle expiry.
func (c *Cart) Touch(now time.Time, ttl time.Duration) {
	c.Version++
	c.UpdatedAt = now
	c.ExpiresAt = now.Add(ttl)
}

// Expired reports whether the cart's idle TTL has elapsed. A cart without an
// expiry never expires.
func (c *Cart) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !c.ExpiresAt.After(now)
}

// Clone returns a deep copy.
func (c *Cart) Clone() *Cart {
	out := *c
	out.Items = make([]CartLineItem, len(c.Items))
	copy(out.Items, c.Items)
	if c.Coupon != nil {
		cp := *c.Coupon
		out.Coupon = &cp
	}
	return &out
}

// ItemCount is the sum of all line quantities.
func (c *Cart) ItemCount() int {
	var n int
	for _, it := range c.Items {
		n += it.Quantity
	}
	return n
}

func (c *Cart) indexOf(itemID string) int {
	for i := range c.Items {
		if c.Items[i].ID == itemID {
			return i
		}
	}
	return -1
}

// ValidateLineItem checks caller-supplied item fields.
func ValidateLineItem(item CartLineItem) error {
	if item.ProductID == "" {
		return apperrors.InvalidInput("product_id is required")
	}
	if item.Quantity <= 0 || item.Quantity > MaxQuantityPerItem {
		return apperrors.InvalidInput(fmt.Sprintf("quantity must be between 1 and %d", MaxQuantityPerItem))
	}
	if item.UnitPrice.IsNegative() {
		return apperrors.InvalidInput("unit_price must not be negative")
	}
	if item.UnitPrice.GreaterThan(MaxUnitPrice) {
		return apperrors.InvalidInput(fmt.Sprintf("unit_price must not exceed %s", MaxUnitPrice.StringFixed(MoneyPlaces)))
	}
	return nil
}

// AddItem appends item as a new line, or replaces the line with the same id.
// A missing id is generated. Totals are recomputed.
func (c *Cart) AddItem(item CartLineItem) (CartLineItem, error) {
	if err := ValidateLineItem(item); err != nil {
		return CartLineItem{}, err
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}

	if i := c.indexOf(item.ID); i >= 0 {
		c.Items[i] = item
	} else {
		if len(c.Items) >= MaxItemsPerCart {
			return CartLineItem{}, apperrors.InvalidInput(fmt.Sprintf("cart must not contain more than %d items", MaxItemsPerCart))
		}
		c.Items = append(c.Items, item)
	}
	c.Recompute()
	return c.Items[c.indexOf(item.ID)], nil
}

// UpdateItemQuantity sets a line's quantity. A quantity ≤ 0 removes the line.
func (c *Cart) UpdateItemQuantity(itemID string, quantity int) error {
	if quantity <= 0 {
		c.RemoveItem(itemID)
		return nil
	}
	if quantity > MaxQuantityPerItem {
		return apperrors.InvalidInput(fmt.Sprintf("quantity must not exceed %d", MaxQuantityPerItem))
	}
	i := c.indexOf(itemID)
	if i < 0 {
		return apperrors.NotFound("cart item", itemID)
	}
	c.Items[i].Quantity = quantity
	c.Recompute()
	return nil
}

// RemoveItem drops a line and reports whether it existed. Totals are
// recomputed either way.
func (c *Cart) RemoveItem(itemID string) bool {
	i := c.indexOf(itemID)
	if i >= 0 {
		c.Items = append(c.Items[:i], c.Items[i+1:]...)
	}
	c.Recompute()
	return i >= 0
}

// Clear empties the cart and detaches any coupon.
func (c *Cart) Clear() {
	c.Items = []CartLineItem{}
	c.Coupon = nil
	c.Recompute()
}

// ApplyCoupon attaches coupon terms and recomputes the discount.
func (c *Cart) ApplyCoupon(coupon *Coupon) {
	c.Coupon = &AppliedCoupon{
		Code:           coupon.Code,
		DiscountType:   coupon.DiscountType,
		DiscountValue:  coupon.DiscountValue,
		MinOrderAmount: coupon.MinOrderAmount,
	}
	c.Recompute()
}

// RemoveCoupon detaches the coupon.
func (c *Cart) RemoveCoupon() {
	c.Coupon = nil
	c.Recompute()
}
