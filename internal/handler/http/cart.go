package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/service"
	"github.com/utafrali/storefront/pkg/httputil"
	"github.com/utafrali/storefront/pkg/middleware"
	"github.com/utafrali/storefront/pkg/validator"
)

// CartHandler handles HTTP requests for cart endpoints.
type CartHandler struct {
	service *service.CartService
	logger  *slog.Logger
}

// NewCartHandler creates a new cart HTTP handler.
func NewCartHandler(svc *service.CartService, logger *slog.Logger) *CartHandler {
	return &CartHandler{service: svc, logger: logger}
}

// ApplyCouponRequest is the JSON request body for attaching a coupon.
type ApplyCouponRequest struct {
	Code  string `json:"code" validate:"required,max=64"`
	Email string `json:"email" validate:"omitempty,email"`
}

type clearResponse struct {
	Success bool `json:"success"`
}

// GetCart handles GET /api/v1/carts/{cartId}
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	cart, err := h.service.Get(r.Context(), chi.URLParam(r, "cartId"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: cart})
}

// AddItem handles POST /api/v1/carts/{cartId}/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req service.AddItemInput
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	cart, err := h.service.AddItem(r.Context(), chi.URLParam(r, "cartId"), req)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: cart})
}

// UpdateItemQuantity handles PUT /api/v1/carts/{cartId}/items/{itemId}
func (h *CartHandler) UpdateItemQuantity(w http.ResponseWriter, r *http.Request) {
	var req service.UpdateQuantityInput
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	cart, err := h.service.UpdateItemQuantity(r.Context(), chi.URLParam(r, "cartId"), chi.URLParam(r, "itemId"), req.Quantity)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: cart})
}

// RemoveItem handles DELETE /api/v1/carts/{cartId}/items/{itemId}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	cart, err := h.service.RemoveItem(r.Context(), chi.URLParam(r, "cartId"), chi.URLParam(r, "itemId"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: cart})
}

// ClearCart handles DELETE /api/v1/carts/{cartId}
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Clear(r.Context(), chi.URLParam(r, "cartId")); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: clearResponse{Success: true}})
}

// ApplyCoupon handles POST /api/v1/carts/{cartId}/coupon
func (h *CartHandler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	var req ApplyCouponRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	ip := middleware.ClientIP(r)
	customer := domain.CustomerRef{
		Email:        req.Email,
		IP:           ip,
		RemoteIP:     ip,
		SessionToken: r.Header.Get(middleware.GuestSessionHeader),
	}
	cart, err := h.service.ApplyCoupon(r.Context(), chi.URLParam(r, "cartId"), req.Code, customer)
	if err != nil {
		writeCouponError(w, r, err, req.Code, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: cart})
}

// RemoveCoupon handles DELETE /api/v1/carts/{cartId}/coupon
func (h *CartHandler) RemoveCoupon(w http.ResponseWriter, r *http.Request) {
	cart, err := h.service.RemoveCoupon(r.Context(), chi.URLParam(r, "cartId"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: cart})
}
