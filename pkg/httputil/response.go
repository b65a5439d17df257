package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/logger"
	"github.com/utafrali/storefront/pkg/validator"
)

// Response is the JSON envelope returned by every endpoint.
type Response struct {
	Data  any            `json:"data,omitempty"`
	Error *ErrorResponse `json:"error,omitempty"`
}

// ErrorResponse is the error half of the envelope.
type ErrorResponse struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

// WriteJSON writes v as JSON with the given status. Encoding errors are
// ignored because the status line has already been sent.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err onto the envelope. AppError values keep their own code
// and status; bare sentinels are translated; anything else is a logged 500.
// The request-scoped logger from context is preferred over fallback.
func WriteError(w http.ResponseWriter, r *http.Request, err error, fallback *slog.Logger) {
	WriteErrorWithData(w, r, err, nil, fallback)
}

// WriteErrorWithData is WriteError with a data payload rendered next to the
// error, for endpoints whose clients read a structured result even on failure.
func WriteErrorWithData(w http.ResponseWriter, r *http.Request, err error, data any, fallback *slog.Logger) {
	l := logger.FromContext(r.Context())
	if l == slog.Default() && fallback != nil {
		l = fallback
	}
	requestID := logger.CorrelationIDFromContext(r.Context())

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		if appErr.Status == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", appErr.RetryAfterSeconds())
		}
		if appErr.Status >= http.StatusInternalServerError {
			logInternal(l, r, err)
		}
		WriteJSON(w, appErr.Status, Response{
			Data:  data,
			Error: &ErrorResponse{Code: appErr.Code, Message: appErr.Message, RequestID: requestID},
		})
		return
	}

	status := apperrors.HTTPStatus(err)
	code := "INTERNAL_ERROR"
	message := "an internal error occurred"

	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		code, message = "NOT_FOUND", "resource not found"
	case errors.Is(err, apperrors.ErrAlreadyExists):
		code, message = "ALREADY_EXISTS", "resource already exists"
	case errors.Is(err, apperrors.ErrConflict):
		code, message = "CONFLICT", "resource was modified concurrently"
	case errors.Is(err, apperrors.ErrInvalidInput):
		code, message = "INVALID_INPUT", err.Error()
	default:
		status = http.StatusInternalServerError
		logInternal(l, r, err)
	}

	WriteJSON(w, status, Response{
		Data:  data,
		Error: &ErrorResponse{Code: code, Message: message, RequestID: requestID},
	})
}

func logInternal(l *slog.Logger, r *http.Request, err error) {
	l.ErrorContext(r.Context(), "internal error",
		slog.String("error", err.Error()),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)
}

// PaginatedResponse is a generic paginated list envelope.
type PaginatedResponse[T any] struct {
	Data       []T  `json:"data"`
	TotalCount int  `json:"total_count"`
	Page       int  `json:"page"`
	PerPage    int  `json:"per_page"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
}

// NewPaginatedResponse builds a PaginatedResponse and derives TotalPages and HasNext.
func NewPaginatedResponse[T any](data []T, totalCount, page, perPage int) PaginatedResponse[T] {
	if perPage <= 0 {
		perPage = 1
	}
	totalPages := (totalCount + perPage - 1) / perPage
	if data == nil {
		data = []T{}
	}
	return PaginatedResponse[T]{
		Data:       data,
		TotalCount: totalCount,
		Page:       page,
		PerPage:    perPage,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// WriteValidationError writes a 400 with per-field messages when err is a
// validator.ValidationError, or a plain INVALID_INPUT otherwise.
func WriteValidationError(w http.ResponseWriter, err error) {
	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		WriteJSON(w, http.StatusBadRequest, Response{
			Error: &ErrorResponse{
				Code:    "VALIDATION_ERROR",
				Message: "request validation failed",
				Fields:  valErr.Fields(),
			},
		})
		return
	}

	WriteJSON(w, http.StatusBadRequest, Response{
		Error: &ErrorResponse{Code: "INVALID_INPUT", Message: err.Error()},
	})
}

// ParseUUID parses param, writing a 400 and returning false when it is not a UUID.
func ParseUUID(w http.ResponseWriter, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(param)
	if err != nil {
		WriteJSON(w, http.StatusBadRequest, Response{
			Error: &ErrorResponse{Code: "INVALID_PARAMETER", Message: "invalid UUID: " + param},
		})
		return uuid.Nil, false
	}
	return id, true
}
