package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts pricing and session outcomes. A nil *Metrics records nothing.
type Metrics struct {
	cartMutations     *prometheus.CounterVec
	couponValidations *prometheus.CounterVec
	guestSessions     prometheus.Counter
	merges            *prometheus.CounterVec
}

// NewMetrics registers the storefront collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		cartMutations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_cart_mutations_total",
			Help: "Committed cart mutations by operation.",
		}, []string{"operation"}),
		couponValidations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_coupon_validations_total",
			Help: "Coupon validations by result (VALID or the rejection code).",
		}, []string{"result"}),
		guestSessions: f.NewCounter(prometheus.CounterOpts{
			Name: "storefront_guest_sessions_created_total",
			Help: "Guest sessions minted.",
		}),
		merges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_guest_session_merges_total",
			Help: "Guest session merges by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) cartMutation(op string) {
	if m == nil {
		return
	}
	m.cartMutations.WithLabelValues(op).Inc()
}

func (m *Metrics) couponValidation(result string) {
	if m == nil {
		return
	}
	m.couponValidations.WithLabelValues(result).Inc()
}

func (m *Metrics) guestSessionCreated() {
	if m == nil {
		return
	}
	m.guestSessions.Inc()
}

func (m *Metrics) merge(outcome string) {
	if m == nil {
		return
	}
	m.merges.WithLabelValues(outcome).Inc()
}
