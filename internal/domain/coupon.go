package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// DiscountType is how a coupon's value is applied.
type DiscountType string

// Discount types.
const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// IsValid reports whether t is a known discount type.
func (t DiscountType) IsValid() bool {
	return t == DiscountPercentage || t == DiscountFixed
}

// Coupon rejection codes, in the order they are checked.
const (
	RejectRateLimited    = "RATE_LIMITED"
	RejectNotFound       = "NOT_FOUND"
	RejectInactive       = "INACTIVE"
	RejectExpired        = "EXPIRED"
	RejectUsageExhausted = "USAGE_EXHAUSTED"
	RejectBelowMinimum   = "BELOW_MINIMUM_ORDER"
	RejectAlreadyUsed    = "ALREADY_USED_BY_CUSTOMER"
)

// Coupon is a redeemable discount code.
type Coupon struct {
	ID             string           `json:"id"`
	Code           string           `json:"code"`
	Description    string           `json:"description"`
	DiscountType   DiscountType     `json:"discount_type"`
	DiscountValue  decimal.Decimal  `json:"discount_value"`
	MinOrderAmount *decimal.Decimal `json:"min_order_amount,omitempty"`
	MaxUses        *int             `json:"max_uses,omitempty"`
	CurrentUses    int              `json:"current_uses"`
	ExpiresAt      *time.Time       `json:"expires_at,omitempty"`
	IsActive       bool             `json:"is_active"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// CustomerRef identifies who is redeeming a coupon. Any field may be empty.
// IP is the address the caller reports; RemoteIP is the peer address the
// server observed and is never taken from a request body.
type CustomerRef struct {
	Email        string `json:"email,omitempty"`
	IP           string `json:"ip,omitempty"`
	RemoteIP     string `json:"-"`
	SessionToken string `json:"session_token,omitempty"`
}

// RateLimitIdentifier picks the key used for coupon rate limiting: session
// token first, then the observed peer address, then the reported IP, then
// email. Empty means the caller is not limited. SessionToken must only be set
// for a live guest session.
func (c CustomerRef) RateLimitIdentifier() string {
	switch {
	case c.SessionToken != "":
		return "session:" + c.SessionToken
	case c.RemoteIP != "":
		return "ip:" + c.RemoteIP
	case c.IP != "":
		return "ip:" + c.IP
	case c.Email != "":
		return "email:" + strings.ToLower(c.Email)
	}
	return ""
}

// CouponValidation is the result returned to callers, valid or not.
type CouponValidation struct {
	Valid          bool             `json:"valid"`
	Code           string           `json:"code"`
	DiscountType   DiscountType     `json:"discount_type,omitempty"`
	DiscountValue  *decimal.Decimal `json:"discount_value,omitempty"`
	DiscountAmount decimal.Decimal  `json:"discount_amount"`
	Message        string           `json:"message"`
	RejectionCode  string           `json:"rejection_code,omitempty"`
}

// NormalizeCode trims, upper-cases and strips everything but letters and
// digits.
func NormalizeCode(code string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(code)) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CalculateDiscount applies a discount to subtotal, rounded to cents and
// clamped to the subtotal truncated to cents, so the result never exceeds a
// sub-cent subtotal.
func CalculateDiscount(t DiscountType, value, subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.Sign() <= 0 || value.Sign() <= 0 {
		return decimal.Zero
	}
	var amount decimal.Decimal
	switch t {
	case DiscountPercentage:
		amount = subtotal.Mul(value).Div(decimal.NewFromInt(100))
	case DiscountFixed:
		amount = value
	default:
		return decimal.Zero
	}
	return decimal.Min(RoundMoney(amount), subtotal.RoundDown(MoneyPlaces))
}

// Discount is CalculateDiscount for this coupon.
func (c *Coupon) Discount(subtotal decimal.Decimal) decimal.Decimal {
	return CalculateDiscount(c.DiscountType, c.DiscountValue, subtotal)
}

// CheckRedeemable applies the stateless rules after existence: active, not
// expired, not exhausted, minimum order met. The first failure is returned as
// a 422 rejection.
func (c *Coupon) CheckRedeemable(now time.Time, subtotal decimal.Decimal) error {
	if !c.IsActive {
		return apperrors.Rejected(RejectInactive, "this coupon is no longer active")
	}
	if c.ExpiresAt != nil && c.ExpiresAt.Before(now) {
		return apperrors.Rejected(RejectExpired, "this coupon has expired")
	}
	if c.MaxUses != nil && c.CurrentUses >= *c.MaxUses {
		return apperrors.Rejected(RejectUsageExhausted, "this coupon has reached its usage limit")
	}
	if c.MinOrderAmount != nil && subtotal.LessThan(*c.MinOrderAmount) {
		return apperrors.Rejected(RejectBelowMinimum,
			fmt.Sprintf("minimum order amount is %s", c.MinOrderAmount.StringFixed(MoneyPlaces)))
	}
	return nil
}

// Validate checks coupon definition fields.
func (c *Coupon) Validate() error {
	if c.Code == "" {
		return apperrors.InvalidInput("code must contain at least one letter or digit")
	}
	if !c.DiscountType.IsValid() {
		return apperrors.InvalidInput(fmt.Sprintf("discount_type must be %q or %q", DiscountPercentage, DiscountFixed))
	}
	if c.DiscountValue.Sign() <= 0 {
		return apperrors.InvalidInput("discount_value must be positive")
	}
	if c.DiscountType == DiscountPercentage && c.DiscountValue.GreaterThan(decimal.NewFromInt(100)) {
		return apperrors.InvalidInput("percentage discount_value must not exceed 100")
	}
	if c.MinOrderAmount != nil && c.MinOrderAmount.IsNegative() {
		return apperrors.InvalidInput("min_order_amount must not be negative")
	}
	if c.MaxUses != nil && *c.MaxUses < 0 {
		return apperrors.InvalidInput("max_uses must not be negative")
	}
	return nil
}
