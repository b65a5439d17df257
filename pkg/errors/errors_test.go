package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_ErrorString(t *testing.T) {
	withInner := &AppError{Code: "INTERNAL_ERROR", Message: "store failed", Err: fmt.Errorf("redis down")}
	assert.Equal(t, "INTERNAL_ERROR: store failed: redis down", withInner.Error())

	bare := &AppError{Code: "EXPIRED", Message: "coupon has expired"}
	assert.Equal(t, "EXPIRED: coupon has expired", bare.Error())
	assert.Nil(t, bare.Unwrap())
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		code     string
		status   int
		sentinel error
	}{
		{"not found", NotFound("cart", "c-1"), "NOT_FOUND", http.StatusNotFound, ErrNotFound},
		{"not found code", NotFoundCode("SESSION_NOT_FOUND", "gone"), "SESSION_NOT_FOUND", http.StatusNotFound, ErrNotFound},
		{"already exists", AlreadyExists("coupon", "code", "SAVE10"), "ALREADY_EXISTS", http.StatusConflict, ErrAlreadyExists},
		{"conflict", Conflict("cart changed"), "CONFLICT", http.StatusConflict, ErrConflict},
		{"invalid input", InvalidInput("bad"), "INVALID_INPUT", http.StatusBadRequest, ErrInvalidInput},
		{"unauthorized", Unauthorized("no token"), "UNAUTHORIZED", http.StatusUnauthorized, ErrUnauthorized},
		{"forbidden", Forbidden("admins only"), "FORBIDDEN", http.StatusForbidden, ErrForbidden},
		{"rejected", Rejected("EXPIRED", "expired"), "EXPIRED", http.StatusUnprocessableEntity, ErrRejected},
		{"rate limited", RateLimited("slow down", time.Minute), "RATE_LIMITED", http.StatusTooManyRequests, ErrRateLimited},
		{"internal", Internal(ErrInternal), "INTERNAL_ERROR", http.StatusInternalServerError, ErrInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NotNil(t, tt.err)
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.status, tt.err.Status)
			assert.True(t, errors.Is(tt.err, tt.sentinel))
			assert.Equal(t, tt.status, HTTPStatus(tt.err))
		})
	}
}

func TestNotFound_MessageNamesResource(t *testing.T) {
	err := NotFound("coupon", "SAVE10")
	assert.Contains(t, err.Message, "coupon")
	assert.Contains(t, err.Message, "SAVE10")
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, "60", RateLimited("x", 60*time.Second).RetryAfterSeconds())
	assert.Equal(t, "2", RateLimited("x", 1500*time.Millisecond).RetryAfterSeconds())
	assert.Equal(t, "1", RateLimited("x", 0).RetryAfterSeconds())
}

func TestCodeOf(t *testing.T) {
	wrapped := fmt.Errorf("validate: %w", Rejected("USAGE_EXHAUSTED", "used up"))
	assert.Equal(t, "USAGE_EXHAUSTED", CodeOf(wrapped))
	assert.Equal(t, "", CodeOf(errors.New("plain")))
}

func TestHTTPStatus_Sentinels(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, HTTPStatus(fmt.Errorf("get cart: %w", ErrNotFound)))
	assert.Equal(t, http.StatusConflict, HTTPStatus(fmt.Errorf("save: %w", ErrConflict)))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(fmt.Errorf("parse: %w", ErrInvalidInput)))
	assert.Equal(t, http.StatusUnprocessableEntity, HTTPStatus(fmt.Errorf("coupon: %w", ErrRejected)))
	assert.Equal(t, http.StatusTooManyRequests, HTTPStatus(fmt.Errorf("coupon: %w", ErrRateLimited)))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("boom")))
}
