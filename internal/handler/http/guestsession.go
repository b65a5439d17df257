package http

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/storefront/internal/service"
	"github.com/utafrali/storefront/pkg/httputil"
	"github.com/utafrali/storefront/pkg/middleware"
	"github.com/utafrali/storefront/pkg/validator"
)

// GuestSessionHandler handles anonymous shopper sessions and their merge
// into an authenticated account.
type GuestSessionHandler struct {
	sessions  *service.GuestSessionService
	reconcile *service.ReconciliationService
	logger    *slog.Logger
}

// NewGuestSessionHandler creates a new guest session HTTP handler.
func NewGuestSessionHandler(sessions *service.GuestSessionService, reconcile *service.ReconciliationService, logger *slog.Logger) *GuestSessionHandler {
	return &GuestSessionHandler{sessions: sessions, reconcile: reconcile, logger: logger}
}

// CreateSessionRequest optionally names an existing session to resume.
type CreateSessionRequest struct {
	Token string `json:"session_token" validate:"omitempty,max=128"`
}

type sessionResponse struct {
	Token string `json:"session_token"`
}

// UpdateGuestCartRequest is the JSON request body for changing a guest cart
// line quantity.
type UpdateGuestCartRequest struct {
	VariantID string `json:"variant_id" validate:"omitempty,max=64"`
	Quantity  int    `json:"quantity"`
}

// CreateOrGet handles POST /api/v1/guest-sessions. The token to resume comes
// from the X-Guest-Session header or the body.
func (h *GuestSessionHandler) CreateOrGet(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(middleware.GuestSessionHeader)
	if token == "" && r.ContentLength != 0 {
		var req CreateSessionRequest
		if err := validator.DecodeAndValidate(r, &req); err != nil && !errors.Is(err, io.EOF) {
			httputil.WriteValidationError(w, err)
			return
		}
		token = req.Token
	}

	token, created, err := h.sessions.CreateOrGet(r.Context(), token)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	w.Header().Set(middleware.GuestSessionHeader, token)
	httputil.WriteJSON(w, status, httputil.Response{Data: sessionResponse{Token: token}})
}

// Get handles GET /api/v1/guest-sessions/{token}
func (h *GuestSessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	contents, err := h.sessions.Get(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: contents})
}

// AddToWishlist handles POST /api/v1/guest-sessions/{token}/wishlist/{productId}
func (h *GuestSessionHandler) AddToWishlist(w http.ResponseWriter, r *http.Request) {
	contents, err := h.sessions.AddToWishlist(r.Context(), chi.URLParam(r, "token"), chi.URLParam(r, "productId"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: contents})
}

// RemoveFromWishlist handles DELETE /api/v1/guest-sessions/{token}/wishlist/{productId}
func (h *GuestSessionHandler) RemoveFromWishlist(w http.ResponseWriter, r *http.Request) {
	contents, err := h.sessions.RemoveFromWishlist(r.Context(), chi.URLParam(r, "token"), chi.URLParam(r, "productId"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: contents})
}

// AddToCart handles POST /api/v1/guest-sessions/{token}/cart
func (h *GuestSessionHandler) AddToCart(w http.ResponseWriter, r *http.Request) {
	var req service.GuestCartInput
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	contents, err := h.sessions.AddToCart(r.Context(), chi.URLParam(r, "token"), req)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: contents})
}

// UpdateCartQuantity handles PUT /api/v1/guest-sessions/{token}/cart/{productId}
func (h *GuestSessionHandler) UpdateCartQuantity(w http.ResponseWriter, r *http.Request) {
	var req UpdateGuestCartRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	contents, err := h.sessions.UpdateCartQuantity(r.Context(), chi.URLParam(r, "token"), chi.URLParam(r, "productId"), req.VariantID, req.Quantity)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: contents})
}

// RemoveFromCart handles DELETE /api/v1/guest-sessions/{token}/cart/{productId}?variant_id=
func (h *GuestSessionHandler) RemoveFromCart(w http.ResponseWriter, r *http.Request) {
	contents, err := h.sessions.RemoveFromCart(r.Context(), chi.URLParam(r, "token"), chi.URLParam(r, "productId"), r.URL.Query().Get("variant_id"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: contents})
}

// ClearCart handles DELETE /api/v1/guest-sessions/{token}/cart
func (h *GuestSessionHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	contents, err := h.sessions.ClearCart(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: contents})
}

// Merge handles POST /api/v1/guest-sessions/{token}/merge. It requires an
// authenticated caller; the user comes from the auth middleware.
func (h *GuestSessionHandler) Merge(w http.ResponseWriter, r *http.Request) {
	res, err := h.reconcile.Merge(r.Context(), chi.URLParam(r, "token"), middleware.UserIDFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: res})
}
