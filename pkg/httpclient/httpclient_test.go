package httpclient

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/storefront/pkg/errors"
)

func fastConfig() Config {
	return Config{Timeout: time.Second, MaxRetries: 2, RetryWaitMin: time.Millisecond, RetryWaitMax: 2 * time.Millisecond, MaxConnsPerHost: 4}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, "ok")
	}))
	defer srv.Close()

	resp, err := New(fastConfig()).Get(context.Background(), srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_ReturnsLastServerErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	resp, err := New(fastConfig()).Get(context.Background(), srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestClient_DoesNotRetryPost(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader("{}"))
	resp, err := New(fastConfig()).Do(context.Background(), req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, int32(1), calls.Load())
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := DefaultCircuitBreakerConfig("orders-test")
	cfg.MinRequests = 2
	cb := NewCircuitBreakerClient(NewWithHTTPClient(srv.Client(), Config{}), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	for i := 0; i < 2; i++ {
		_, err := cb.Get(context.Background(), srv.URL)
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.Get(context.Background(), srv.URL)
	assert.True(t, errors.Is(err, ErrCircuitOpen))
}

func TestParseResponseError(t *testing.T) {
	tests := []struct {
		status   int
		body     string
		sentinel error
	}{
		{http.StatusNotFound, `{"error":{"code":"NOT_FOUND","message":"order missing"}}`, apperrors.ErrNotFound},
		{http.StatusBadRequest, `{"error":{"code":"INVALID_INPUT","message":"bad email"}}`, apperrors.ErrInvalidInput},
		{http.StatusConflict, `{"error":{"code":"CONFLICT","message":"dup"}}`, apperrors.ErrConflict},
	}
	for _, tt := range tests {
		resp := &http.Response{StatusCode: tt.status, Body: io.NopCloser(strings.NewReader(tt.body))}
		err := ParseResponseError(resp, "order-service")
		assert.True(t, errors.Is(err, tt.sentinel), "status %d", tt.status)
	}

	resp := &http.Response{StatusCode: http.StatusTeapot, Body: io.NopCloser(strings.NewReader("plain text"))}
	err := ParseResponseError(resp, "order-service")
	assert.Contains(t, err.Error(), "plain text")
}
