package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/utafrali/storefront/internal/domain"
)

// Redemption is a committed order that used a coupon.
type Redemption struct {
	Code  string
	Email string
	IP    string
}

// OrderLookup implements repository.OrderLookup over recorded redemptions.
type OrderLookup struct {
	mu          sync.RWMutex
	redemptions []Redemption
}

// NewOrderLookup creates a lookup seeded with redemptions.
func NewOrderLookup(seed ...Redemption) *OrderLookup {
	return &OrderLookup{redemptions: seed}
}

// Record adds a committed redemption.
func (l *OrderLookup) Record(r Redemption) {
	l.mu.Lock()
	l.redemptions = append(l.redemptions, r)
	l.mu.Unlock()
}

// HasRedeemed matches on email (case-insensitive) or IP.
func (l *OrderLookup) HasRedeemed(_ context.Context, code string, customer domain.CustomerRef) (bool, error) {
	if customer.Email == "" && customer.IP == "" {
		return false, nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, r := range l.redemptions {
		if r.Code != code {
			continue
		}
		if customer.Email != "" && strings.EqualFold(r.Email, customer.Email) {
			return true, nil
		}
		if customer.IP != "" && r.IP == customer.IP {
			return true, nil
		}
	}
	return false, nil
}
