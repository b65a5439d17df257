package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/logger"
	"github.com/utafrali/storefront/pkg/validator"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, Response{Data: map[string]string{"id": "c-1"}})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotNil(t, decode(t, rec).Data)
}

func TestWriteError_AppError(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(logger.WithCorrelationID(req.Context(), "req-9"))

	WriteError(rec, req, apperrors.Rejected("EXPIRED", "coupon has expired"), testLogger())

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decode(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "EXPIRED", resp.Error.Code)
	assert.Equal(t, "coupon has expired", resp.Error.Message)
	assert.Equal(t, "req-9", resp.Error.RequestID)
}

func TestWriteError_RateLimitedSetsRetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", nil)

	WriteError(rec, req, apperrors.RateLimited("too many attempts", 42*time.Second), testLogger())

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "42", rec.Header().Get("Retry-After"))
}

func TestWriteError_Sentinels(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("get: %w", apperrors.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{fmt.Errorf("save: %w", apperrors.ErrConflict), http.StatusConflict, "CONFLICT"},
		{fmt.Errorf("parse: %w", apperrors.ErrInvalidInput), http.StatusBadRequest, "INVALID_INPUT"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err, testLogger())
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decode(t, rec).Error.Code)
		})
	}
}

func TestWriteErrorWithData(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", nil)

	WriteErrorWithData(rec, req, apperrors.Rejected("INACTIVE", "coupon is not active"),
		map[string]any{"valid": false}, testLogger())

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `"valid":false`))
	assert.True(t, strings.Contains(body, `"INACTIVE"`))
}

func TestWriteValidationError(t *testing.T) {
	type payload struct {
		Code string `json:"code" validate:"required"`
	}
	err := validator.Validate(payload{})

	rec := httptest.NewRecorder()
	WriteValidationError(rec, err)

	resp := decode(t, rec)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
	assert.Equal(t, "is required", resp.Error.Fields["code"])

	rec = httptest.NewRecorder()
	WriteValidationError(rec, errors.New("decode request body: EOF"))
	assert.Equal(t, "INVALID_INPUT", decode(t, rec).Error.Code)
}

func TestNewPaginatedResponse(t *testing.T) {
	p := NewPaginatedResponse([]int{1, 2}, 5, 1, 2)
	assert.Equal(t, 3, p.TotalPages)
	assert.True(t, p.HasNext)

	empty := NewPaginatedResponse[int](nil, 0, 1, 20)
	assert.NotNil(t, empty.Data)
	assert.Equal(t, 0, empty.TotalPages)
	assert.False(t, empty.HasNext)
}

func TestParseUUID(t *testing.T) {
	rec := httptest.NewRecorder()
	_, ok := ParseUUID(rec, "not-a-uuid")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	id, ok := ParseUUID(httptest.NewRecorder(), "6f1c1f9e-6c1b-4f0a-9a55-2b8f3b0b6a11")
	assert.True(t, ok)
	assert.Equal(t, "6f1c1f9e-6c1b-4f0a-9a55-2b8f3b0b6a11", id.String())
}
