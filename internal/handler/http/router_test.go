package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/storefront/internal/auth"
	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/event"
	"github.com/utafrali/storefront/internal/ratelimit"
	"github.com/utafrali/storefront/internal/repository/memory"
	"github.com/utafrali/storefront/internal/service"
	"github.com/utafrali/storefront/pkg/health"
	"github.com/utafrali/storefront/pkg/httputil"
	"github.com/utafrali/storefront/pkg/middleware"
)

// ============================================================================
// Test helpers
// ============================================================================

const testSecret = "router-test-secret"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testServer struct {
	handler http.Handler
	tokens  *auth.Validator
	coupons *memory.CouponRepository
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := testLogger()
	producer := event.NewProducer(nil, logger)
	now := time.Now().UTC()

	couponRepo := memory.NewCouponRepository(
		&domain.Coupon{ID: "c1", Code: "SAVE20", DiscountType: domain.DiscountPercentage, DiscountValue: decimal.RequireFromString("20"), IsActive: true, CreatedAt: now},
		&domain.Coupon{ID: "c2", Code: "PAUSED", DiscountType: domain.DiscountFixed, DiscountValue: decimal.RequireFromString("5"), IsActive: false, CreatedAt: now},
	)
	limiter := ratelimit.NewMemoryLimiter(ratelimit.DefaultConfig(), time.Now)
	sessions := memory.NewGuestSessionRepository(time.Now)

	coupons := service.NewCouponService(couponRepo, memory.NewOrderLookup(), limiter, sessions, producer, nil, logger)
	svc := Services{
		Carts:     service.NewCartService(memory.NewCartRepository(time.Now), coupons, producer, nil, logger, service.CartConfig{Currency: "USD", TTL: time.Hour}),
		Coupons:   coupons,
		Guests:    service.NewGuestSessionService(sessions, nil, logger, time.Hour),
		Reconcile: service.NewReconciliationService(sessions, memory.NewUserCollectionRepository(), producer, nil, logger),
	}

	tokens := auth.NewValidator(testSecret)
	router := NewRouter(svc, health.NewHandler(), RouterConfig{
		ServiceName:   "storefront-test",
		ValidateToken: tokens.Validate,
	}, logger)

	return &testServer{handler: router, tokens: tokens, coupons: couponRepo}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) bearer(t *testing.T, userID, role string) map[string]string {
	t.Helper()
	token, err := s.tokens.Sign(userID, userID+"@example.com", role, time.Hour)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}

type envelope[T any] struct {
	Data  T                       `json:"data"`
	Error *httputil.ErrorResponse `json:"error"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) envelope[T] {
	t.Helper()
	var env envelope[T]
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	return env
}

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// ============================================================================
// Cart routes
// ============================================================================

func TestCartRoutes_Lifecycle(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodGet, "/api/v1/carts/cart-1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	cart := decode[domain.Cart](t, rec).Data
	assert.Equal(t, "cart-1", cart.ID)
	assert.Empty(t, cart.Items)

	rec = srv.do(t, http.MethodPost, "/api/v1/carts/cart-1/items", map[string]any{
		"id": "line-1", "product_id": "mug", "title": "Mug", "unit_price": "12.50", "quantity": 2,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cart = decode[domain.Cart](t, rec).Data
	require.Len(t, cart.Items, 1)
	assert.True(t, cart.Subtotal.Equal(money("25")))

	rec = srv.do(t, http.MethodPut, "/api/v1/carts/cart-1/items/line-1", map[string]any{"quantity": 4}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cart = decode[domain.Cart](t, rec).Data
	assert.Equal(t, 4, cart.Items[0].Quantity)
	assert.True(t, cart.GrandTotal.Equal(money("50")))

	rec = srv.do(t, http.MethodPut, "/api/v1/carts/cart-1/items/ghost", map[string]any{"quantity": 1}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(t, http.MethodDelete, "/api/v1/carts/cart-1/items/line-1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[domain.Cart](t, rec).Data.Items)

	rec = srv.do(t, http.MethodDelete, "/api/v1/carts/cart-1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[map[string]bool](t, rec).Data["success"])
}

func TestCartRoutes_AddItemValidation(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/v1/carts/cart-1/items", map[string]any{
		"product_id": "mug", "unit_price": "1.00", "quantity": 0,
	}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	env := decode[any](t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	assert.Contains(t, env.Error.Fields, "quantity")

	rec = srv.do(t, http.MethodPost, "/api/v1/carts/cart-1/items", map[string]any{
		"product_id": "mug", "unit_price": "1.00", "quantity": 1, "colour": "red",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCartRoutes_ApplyCoupon(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/v1/carts/cart-1/items", map[string]any{
		"product_id": "lamp", "title": "Lamp", "unit_price": "100.00", "quantity": 1,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/v1/carts/cart-1/coupon", map[string]any{"code": "save20"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cart := decode[domain.Cart](t, rec).Data
	require.NotNil(t, cart.Coupon)
	assert.True(t, cart.DiscountTotal.Equal(money("20")))
	assert.True(t, cart.GrandTotal.Equal(money("80")))

	rec = srv.do(t, http.MethodPost, "/api/v1/carts/cart-1/coupon", map[string]any{"code": "PAUSED"}, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	rejection := decode[domain.CouponValidation](t, rec)
	assert.False(t, rejection.Data.Valid)
	assert.Equal(t, domain.RejectInactive, rejection.Data.RejectionCode)
	assert.Equal(t, domain.RejectInactive, rejection.Error.Code)

	rec = srv.do(t, http.MethodDelete, "/api/v1/carts/cart-1/coupon", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cart = decode[domain.Cart](t, rec).Data
	assert.Nil(t, cart.Coupon)
	assert.True(t, cart.GrandTotal.Equal(money("100")))
}

func TestContentTypeJSON(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/carts/cart-1/items", strings.NewReader("product_id=mug"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

// ============================================================================
// Coupon validation
// ============================================================================

func TestCouponRoutes_Validate(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/v1/coupons/validate", map[string]any{
		"code": " save20 ", "subtotal": "1000.00",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[domain.CouponValidation](t, rec).Data
	assert.True(t, res.Valid)
	assert.Equal(t, "SAVE20", res.Code)
	assert.True(t, res.DiscountAmount.Equal(money("200")))
}

func TestCouponRoutes_ValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		code   string
		status int
		reject string
	}{
		{"unknown code", "NOPE", http.StatusNotFound, domain.RejectNotFound},
		{"inactive", "PAUSED", http.StatusUnprocessableEntity, domain.RejectInactive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t)
			rec := srv.do(t, http.MethodPost, "/api/v1/coupons/validate", map[string]any{
				"code": tt.code, "subtotal": "10",
			}, nil)
			require.Equal(t, tt.status, rec.Code)

			env := decode[domain.CouponValidation](t, rec)
			assert.False(t, env.Data.Valid)
			assert.Equal(t, tt.reject, env.Data.RejectionCode)
			assert.NotEmpty(t, env.Data.Message)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.reject, env.Error.Code)
		})
	}
}

func (s *testServer) newSession(t *testing.T) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/guest-sessions", nil, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	token := decode[map[string]string](t, rec).Data["session_token"]
	require.NotEmpty(t, token)
	return token
}

func TestCouponRoutes_RateLimitedBySession(t *testing.T) {
	srv := newTestServer(t)
	first := srv.newSession(t)
	second := srv.newSession(t)
	headers := map[string]string{middleware.GuestSessionHeader: first}
	body := map[string]any{"code": "SAVE20", "subtotal": "50"}

	for i := 0; i < 5; i++ {
		rec := srv.do(t, http.MethodPost, "/api/v1/coupons/validate", body, headers)
		require.Equal(t, http.StatusOK, rec.Code, "attempt %d", i+1)
	}

	rec := srv.do(t, http.MethodPost, "/api/v1/coupons/validate", body, headers)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, domain.RejectRateLimited, decode[domain.CouponValidation](t, rec).Data.RejectionCode)

	// A different live session has its own window.
	rec = srv.do(t, http.MethodPost, "/api/v1/coupons/validate", body, map[string]string{middleware.GuestSessionHeader: second})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCouponRoutes_RotatingSessionTokensLimitedByAddress(t *testing.T) {
	srv := newTestServer(t)

	for i := 0; i < 6; i++ {
		rec := srv.do(t, http.MethodPost, "/api/v1/coupons/validate", map[string]any{
			"code":          "SAVE20",
			"subtotal":      "50",
			"session_token": fmt.Sprintf("invented-%d", i),
			"ip_address":    fmt.Sprintf("198.51.100.%d", i),
		}, map[string]string{"X-Forwarded-For": fmt.Sprintf("203.0.113.%d", i)})
		if i < 5 {
			require.Equal(t, http.StatusOK, rec.Code, "attempt %d", i+1)
			continue
		}
		require.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, domain.RejectRateLimited, decode[domain.CouponValidation](t, rec).Data.RejectionCode)
	}
}

func TestCouponRoutes_ValidateSubCentSubtotal(t *testing.T) {
	srv := newTestServer(t)
	require.NoError(t, srv.coupons.Create(context.Background(), &domain.Coupon{
		ID: "c3", Code: "FLAT500", DiscountType: domain.DiscountFixed, DiscountValue: money("500"), IsActive: true,
	}))

	rec := srv.do(t, http.MethodPost, "/api/v1/coupons/validate", map[string]any{"code": "FLAT500", "subtotal": "10.005"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[domain.CouponValidation](t, rec).Data
	assert.True(t, res.DiscountAmount.Equal(money("10")), "got %s", res.DiscountAmount)
}

// ============================================================================
// Guest sessions and merge
// ============================================================================

func TestGuestSessionRoutes_CreateAndMutate(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/v1/guest-sessions", nil, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	token := decode[map[string]string](t, rec).Data["session_token"]
	require.NotEmpty(t, token)
	assert.Equal(t, token, rec.Header().Get(middleware.GuestSessionHeader))

	rec = srv.do(t, http.MethodPost, "/api/v1/guest-sessions", nil, map[string]string{middleware.GuestSessionHeader: token})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, token, decode[map[string]string](t, rec).Data["session_token"])

	base := "/api/v1/guest-sessions/" + token
	rec = srv.do(t, http.MethodPost, base+"/wishlist/p1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodPost, base+"/cart", map[string]any{"product_id": "p2", "variant_id": "red", "quantity": 2}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodPut, base+"/cart/p2", map[string]any{"variant_id": "red", "quantity": 5}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodGet, base, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	contents := decode[domain.GuestSessionContents](t, rec).Data
	assert.Equal(t, []string{"p1"}, contents.WishlistItems)
	require.Len(t, contents.CartItems, 1)
	assert.Equal(t, 5, contents.CartItems[0].Quantity)

	rec = srv.do(t, http.MethodDelete, base+"/cart/p2?variant_id=red", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[domain.GuestSessionContents](t, rec).Data.CartItems)

	rec = srv.do(t, http.MethodGet, "/api/v1/guest-sessions/unknown-token", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, domain.SessionNotFoundCode, decode[any](t, rec).Error.Code)
}

func TestGuestSessionRoutes_Merge(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/v1/guest-sessions", nil, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	token := decode[map[string]string](t, rec).Data["session_token"]
	base := "/api/v1/guest-sessions/" + token

	require.Equal(t, http.StatusOK, srv.do(t, http.MethodPost, base+"/wishlist/p1", nil, nil).Code)
	require.Equal(t, http.StatusOK, srv.do(t, http.MethodPost, base+"/cart", map[string]any{"product_id": "p2", "quantity": 1}, nil).Code)

	rec = srv.do(t, http.MethodPost, base+"/merge", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = srv.do(t, http.MethodPost, base+"/merge", nil, srv.bearer(t, "user-1", "customer"))
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[domain.MergeResult](t, rec).Data
	assert.Equal(t, domain.MergeResult{MergedWishlistCount: 1, MergedCartCount: 1}, res)

	rec = srv.do(t, http.MethodPost, base+"/merge", nil, srv.bearer(t, "user-1", "customer"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[domain.MergeResult](t, rec).Data.AlreadyMerged)

	rec = srv.do(t, http.MethodGet, base, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ============================================================================
// Admin coupons
// ============================================================================

func TestAdminCouponRoutes_RequireAdmin(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodGet, "/api/v1/admin/coupons", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/v1/admin/coupons", nil, srv.bearer(t, "user-1", "customer"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/v1/admin/coupons", nil, map[string]string{"Authorization": "Bearer not-a-jwt"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminCouponRoutes_CRUD(t *testing.T) {
	srv := newTestServer(t)
	admin := srv.bearer(t, "admin-1", "admin")

	rec := srv.do(t, http.MethodPost, "/api/v1/admin/coupons", map[string]any{
		"code": "spring-10", "description": "Spring sale", "discount_type": "fixed", "discount_value": "10", "min_order_amount": "50",
	}, admin)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[domain.Coupon](t, rec).Data
	assert.Equal(t, "SPRING10", created.Code)
	assert.True(t, created.IsActive)

	rec = srv.do(t, http.MethodGet, "/api/v1/admin/coupons/"+created.ID, nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.ID, decode[domain.Coupon](t, rec).Data.ID)

	rec = srv.do(t, http.MethodGet, "/api/v1/admin/coupons/not-a-uuid", nil, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodPatch, "/api/v1/admin/coupons/"+created.ID, map[string]any{"description": "Spring sale, extended"}, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Spring sale, extended", decode[domain.Coupon](t, rec).Data.Description)

	rec = srv.do(t, http.MethodPost, "/api/v1/admin/coupons/"+created.ID+"/deactivate", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[domain.Coupon](t, rec).Data.IsActive)

	rec = srv.do(t, http.MethodGet, "/api/v1/admin/coupons?active=false&per_page=10", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	var page httputil.PaginatedResponse[domain.Coupon]
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	assert.Equal(t, 2, page.TotalCount)
	assert.Equal(t, 10, page.PerPage)
	for _, c := range page.Data {
		assert.False(t, c.IsActive)
	}

	rec = srv.do(t, http.MethodGet, "/api/v1/admin/coupons?active=maybe", nil, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthRoutes(t *testing.T) {
	srv := newTestServer(t)

	assert.Equal(t, http.StatusOK, srv.do(t, http.MethodGet, "/health/live", nil, nil).Code)
	assert.Equal(t, http.StatusOK, srv.do(t, http.MethodGet, "/health/ready", nil, nil).Code)
}
