package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/storefront/pkg/logger"
)

// CorrelationIDHeader carries the request correlation id in both directions.
const CorrelationIDHeader = "X-Correlation-ID"

// RequestLogging assigns a correlation id and logs one line per request.
func RequestLogging(l *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			correlationID := r.Header.Get(CorrelationIDHeader)
			if correlationID == "" {
				correlationID = uuid.NewString()
			}
			ctx := logger.WithCorrelationID(r.Context(), correlationID)
			w.Header().Set(CorrelationIDHeader, correlationID)

			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r.WithContext(ctx))

			level := slog.LevelInfo
			if rec.status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			l.Log(ctx, level, "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Duration("duration", time.Since(start)),
				slog.Int("bytes", rec.bytes),
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("correlation_id", correlationID),
			)
		})
	}
}
