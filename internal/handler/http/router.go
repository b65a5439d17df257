package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/utafrali/storefront/internal/service"
	"github.com/utafrali/storefront/pkg/health"
	"github.com/utafrali/storefront/pkg/middleware"
)

// Services bundles the business services exposed over HTTP.
type Services struct {
	Carts     *service.CartService
	Coupons   *service.CouponService
	Guests    *service.GuestSessionService
	Reconcile *service.ReconciliationService
}

// RouterConfig holds the cross-cutting HTTP settings.
type RouterConfig struct {
	ServiceName       string
	CORS              middleware.CORSConfig
	PprofCIDRs        []string
	TrustUserIDHeader bool
	ValidateToken     middleware.TokenValidator

	// Optional.
	HTTPMetrics    *middleware.HTTPMetrics
	RateLimiter    *middleware.RateLimiter
	MetricsHandler http.Handler
}

// rejectTokens is the validator used when no signing key is configured.
func rejectTokens(string) (*middleware.Claims, error) {
	return nil, errors.New("bearer tokens are not accepted")
}

// NewRouter creates a chi router with all storefront routes registered.
func NewRouter(svc Services, healthHandler *health.Handler, cfg RouterConfig, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.RequestLogging(logger))
	if cfg.HTTPMetrics != nil {
		r.Use(cfg.HTTPMetrics.Middleware(cfg.ServiceName))
	}
	r.Use(middleware.Tracing(cfg.ServiceName))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.CORS(cfg.CORS))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	// Pprof debug endpoints with IP allowlist.
	middleware.RegisterPprof(r, cfg.PprofCIDRs, logger)

	carts := NewCartHandler(svc.Carts, logger)
	coupons := NewCouponHandler(svc.Coupons, logger)
	guests := NewGuestSessionHandler(svc.Guests, svc.Reconcile, logger)
	validate := cfg.ValidateToken
	if validate == nil {
		validate = rejectTokens
	}
	auth := middleware.Auth(validate, cfg.TrustUserIDHeader)

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RateLimiter != nil {
			r.Use(cfg.RateLimiter.Middleware)
		}
		r.Use(middleware.NoStore)
		r.Use(ContentTypeJSON)

		r.Route("/carts/{cartId}", func(r chi.Router) {
			r.Get("/", carts.GetCart)
			r.Delete("/", carts.ClearCart)
			r.Post("/items", carts.AddItem)
			r.Put("/items/{itemId}", carts.UpdateItemQuantity)
			r.Delete("/items/{itemId}", carts.RemoveItem)
			r.Post("/coupon", carts.ApplyCoupon)
			r.Delete("/coupon", carts.RemoveCoupon)
		})

		r.Post("/coupons/validate", coupons.Validate)

		r.Post("/guest-sessions", guests.CreateOrGet)
		r.Route("/guest-sessions/{token}", func(r chi.Router) {
			r.Get("/", guests.Get)
			r.Post("/wishlist/{productId}", guests.AddToWishlist)
			r.Delete("/wishlist/{productId}", guests.RemoveFromWishlist)
			r.Post("/cart", guests.AddToCart)
			r.Delete("/cart", guests.ClearCart)
			r.Put("/cart/{productId}", guests.UpdateCartQuantity)
			r.Delete("/cart/{productId}", guests.RemoveFromCart)
			r.With(auth).Post("/merge", guests.Merge)
		})

		r.Route("/admin/coupons", func(r chi.Router) {
			r.Use(auth)
			r.Use(middleware.RequireRole("admin"))
			r.Get("/", coupons.List)
			r.Post("/", coupons.Create)
			r.Get("/{id}", coupons.Get)
			r.Patch("/{id}", coupons.Update)
			r.Post("/{id}/deactivate", coupons.Deactivate)
		})
	})

	return r
}
