package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/storefront/pkg/errors"
)

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "SAVE10", NormalizeCode("  save-10 "))
	assert.Equal(t, "WELCOME2026", NormalizeCode("Welcome 2026!"))
	assert.Equal(t, "", NormalizeCode(" -- "))
	assert.Equal(t, "CAF", NormalizeCode("café"))
}

func TestCalculateDiscount(t *testing.T) {
	tests := []struct {
		name     string
		typ      DiscountType
		value    string
		subtotal string
		want     string
	}{
		{"percentage", DiscountPercentage, "20", "1000", "200.00"},
		{"percentage rounds half up", DiscountPercentage, "15", "0.10", "0.02"},
		{"fixed", DiscountFixed, "25", "100", "25.00"},
		{"fixed clamped", DiscountFixed, "500", "300", "300.00"},
		{"full percentage", DiscountPercentage, "100", "42.42", "42.42"},
		{"zero subtotal", DiscountFixed, "5", "0", "0.00"},
		{"fixed clamped to sub-cent subtotal", DiscountFixed, "500", "10.005", "10.00"},
		{"full percentage of sub-cent subtotal", DiscountPercentage, "100", "10.005", "10.00"},
		{"percentage of sub-cent subtotal", DiscountPercentage, "50", "0.015", "0.01"},
		{"fixed below sub-cent subtotal", DiscountFixed, "3", "10.999", "3.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateDiscount(tt.typ, dec(tt.value), dec(tt.subtotal))
			assert.Equal(t, tt.want, got.StringFixed(2))
			assert.True(t, got.LessThanOrEqual(dec(tt.subtotal)))
		})
	}
}

func TestCoupon_CheckRedeemable(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	maxUses := 10
	minOrder := dec("50")

	base := func() *Coupon {
		return &Coupon{Code: "SAVE", DiscountType: DiscountFixed, DiscountValue: dec("5"), IsActive: true}
	}

	tests := []struct {
		name   string
		mutate func(*Coupon)
		code   string
	}{
		{"valid", func(*Coupon) {}, ""},
		{"inactive", func(c *Coupon) { c.IsActive = false }, RejectInactive},
		{"expired", func(c *Coupon) { c.ExpiresAt = &past }, RejectExpired},
		{"not yet expired", func(c *Coupon) { c.ExpiresAt = &future }, ""},
		{"exhausted", func(c *Coupon) { c.MaxUses = &maxUses; c.CurrentUses = 10 }, RejectUsageExhausted},
		{"below minimum", func(c *Coupon) { c.MinOrderAmount = &minOrder }, RejectBelowMinimum},
		{"inactive wins over expired", func(c *Coupon) { c.IsActive = false; c.ExpiresAt = &past }, RejectInactive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.CheckRedeemable(now, dec("20"))
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrRejected))
			assert.Equal(t, tt.code, apperrors.CodeOf(err))
		})
	}
}

func TestCoupon_Validate(t *testing.T) {
	ok := &Coupon{Code: "A1", DiscountType: DiscountPercentage, DiscountValue: dec("100")}
	assert.NoError(t, ok.Validate())

	bad := []*Coupon{
		{Code: "", DiscountType: DiscountFixed, DiscountValue: dec("1")},
		{Code: "A", DiscountType: "bogus", DiscountValue: dec("1")},
		{Code: "A", DiscountType: DiscountFixed, DiscountValue: dec("0")},
		{Code: "A", DiscountType: DiscountPercentage, DiscountValue: dec("100.01")},
	}
	for _, c := range bad {
		assert.True(t, errors.Is(c.Validate(), apperrors.ErrInvalidInput), "%+v", c)
	}
}

func TestCustomerRef_RateLimitIdentifier(t *testing.T) {
	assert.Equal(t, "session:tok", CustomerRef{SessionToken: "tok", IP: "1.2.3.4", Email: "a@b.c"}.RateLimitIdentifier())
	assert.Equal(t, "ip:1.2.3.4", CustomerRef{IP: "1.2.3.4", Email: "a@b.c"}.RateLimitIdentifier())
	assert.Equal(t, "ip:10.0.0.1", CustomerRef{IP: "1.2.3.4", RemoteIP: "10.0.0.1"}.RateLimitIdentifier())
	assert.Equal(t, "email:a@b.c", CustomerRef{Email: "A@B.c"}.RateLimitIdentifier())
	assert.Equal(t, "", CustomerRef{}.RateLimitIdentifier())
}
