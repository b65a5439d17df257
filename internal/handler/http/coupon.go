package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/repository"
	"github.com/utafrali/storefront/internal/service"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/httputil"
	"github.com/utafrali/storefront/pkg/middleware"
	"github.com/utafrali/storefront/pkg/pagination"
	"github.com/utafrali/storefront/pkg/validator"
)

// CouponHandler handles coupon validation and administration.
type CouponHandler struct {
	service *service.CouponService
	logger  *slog.Logger
}

// NewCouponHandler creates a new coupon HTTP handler.
func NewCouponHandler(svc *service.CouponService, logger *slog.Logger) *CouponHandler {
	return &CouponHandler{service: svc, logger: logger}
}

// ValidateCouponRequest is the JSON request body for coupon validation. The
// IP defaults to the caller's address and the session token to the
// X-Guest-Session header.
type ValidateCouponRequest struct {
	Code         string          `json:"code" validate:"required,max=64"`
	Subtotal     decimal.Decimal `json:"subtotal" validate:"gte=0"`
	Email        string          `json:"email" validate:"omitempty,email"`
	IPAddress    string          `json:"ip_address" validate:"omitempty,ip"`
	SessionToken string          `json:"session_token" validate:"omitempty,max=128"`
}

// writeCouponError renders business rejections with an invalid
// CouponValidation as data and everything else as a plain error.
func writeCouponError(w http.ResponseWriter, r *http.Request, err error, code string, logger *slog.Logger) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) &&
		(errors.Is(err, apperrors.ErrRejected) || errors.Is(err, apperrors.ErrRateLimited) || errors.Is(err, apperrors.ErrNotFound)) {
		httputil.WriteErrorWithData(w, r, err, domain.CouponValidation{
			Valid:         false,
			Code:          domain.NormalizeCode(code),
			Message:       appErr.Message,
			RejectionCode: appErr.Code,
		}, logger)
		return
	}
	httputil.WriteError(w, r, err, logger)
}

// Validate handles POST /api/v1/coupons/validate
func (h *CouponHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateCouponRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	customer := domain.CustomerRef{
		Email:        req.Email,
		IP:           req.IPAddress,
		RemoteIP:     middleware.ClientIP(r),
		SessionToken: req.SessionToken,
	}
	if customer.IP == "" {
		customer.IP = customer.RemoteIP
	}
	if customer.SessionToken == "" {
		customer.SessionToken = r.Header.Get(middleware.GuestSessionHeader)
	}

	res, err := h.service.Validate(r.Context(), service.ValidateInput{
		Code:     req.Code,
		Subtotal: req.Subtotal,
		Customer: customer,
	})
	if err != nil {
		writeCouponError(w, r, err, req.Code, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: res})
}

// Create handles POST /api/v1/admin/coupons
func (h *CouponHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateCouponInput
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	coupon, err := h.service.Create(r.Context(), &req)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: coupon})
}

// Get handles GET /api/v1/admin/coupons/{id}
func (h *CouponHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	coupon, err := h.service.Get(r.Context(), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: coupon})
}

// List handles GET /api/v1/admin/coupons?active=&page=&per_page=
func (h *CouponHandler) List(w http.ResponseWriter, r *http.Request) {
	page := pagination.FromRequest(r)
	filter := repository.CouponFilter{Page: page.Page, PerPage: page.PerPage}

	switch r.URL.Query().Get("active") {
	case "":
	case "true":
		active := true
		filter.Active = &active
	case "false":
		active := false
		filter.Active = &active
	default:
		httputil.WriteError(w, r, apperrors.InvalidInput("active must be true or false"), h.logger)
		return
	}

	coupons, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.NewPaginatedResponse(coupons, total, page.Page, page.PerPage))
}

// Update handles PATCH /api/v1/admin/coupons/{id}
func (h *CouponHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req service.UpdateCouponInput
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	coupon, err := h.service.Update(r.Context(), id.String(), &req)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: coupon})
}

// Deactivate handles POST /api/v1/admin/coupons/{id}/deactivate
func (h *CouponHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	coupon, err := h.service.Deactivate(r.Context(), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: coupon})
}
