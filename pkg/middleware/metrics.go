package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTPMetrics holds the request collectors for one registry.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight *prometheus.GaugeVec
}

// NewHTTPMetrics registers the HTTP collectors with reg.
func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	f := promauto.With(reg)
	return &HTTPMetrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"service", "method", "path", "status"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"service", "method", "path", "status"}),
		inFlight: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Current number of HTTP requests being served",
		}, []string{"service"}),
	}
}

// Middleware records request count, latency and in-flight gauge, labelled
// by chi route pattern so ids do not explode cardinality.
func (m *HTTPMetrics) Middleware(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			gauge := m.inFlight.WithLabelValues(serviceName)
			gauge.Inc()
			defer gauge.Dec()

			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r)

			route := "unknown"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			status := strconv.Itoa(rec.status)

			m.requests.WithLabelValues(serviceName, r.Method, route, status).Inc()
			m.duration.WithLabelValues(serviceName, r.Method, route, status).Observe(time.Since(start).Seconds())
		})
	}
}
