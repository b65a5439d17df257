package database

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/utafrali/storefront/pkg/database"

var slowQueryCfg struct {
	mu        sync.RWMutex
	threshold time.Duration
	logger    *slog.Logger
}

// SetSlowQueryLogging logs operations slower than threshold as warnings.
// A zero threshold disables it.
func SetSlowQueryLogging(threshold time.Duration, logger *slog.Logger) {
	slowQueryCfg.mu.Lock()
	defer slowQueryCfg.mu.Unlock()
	slowQueryCfg.threshold = threshold
	slowQueryCfg.logger = logger
}

func slowQuerySettings() (time.Duration, *slog.Logger) {
	slowQueryCfg.mu.RLock()
	defer slowQueryCfg.mu.RUnlock()
	return slowQueryCfg.threshold, slowQueryCfg.logger
}

// TraceQuery starts a client span for a PostgreSQL statement:
//
//	ctx, end := database.TraceQuery(ctx, "GetCouponByCode", query)
//	defer func() { end(err) }()
func TraceQuery(ctx context.Context, operation, statement string) (context.Context, func(error)) {
	return traceOp(ctx, "postgresql", operation, statement)
}

// TraceRedis starts a client span for a Redis command sequence.
func TraceRedis(ctx context.Context, operation, key string) (context.Context, func(error)) {
	return traceOp(ctx, "redis", operation, key)
}

func traceOp(ctx context.Context, system, operation, statement string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "db."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", system),
			attribute.String("db.operation", operation),
			attribute.String("db.statement", statement),
		),
	)

	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		threshold, logger := slowQuerySettings()
		if threshold <= 0 || logger == nil {
			return
		}
		if elapsed := time.Since(start); elapsed >= threshold {
			attrs := []any{
				slog.String("db_system", system),
				slog.String("operation", operation),
				slog.String("statement", statement),
				slog.Duration("duration", elapsed),
			}
			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
			}
			logger.WarnContext(ctx, "slow query detected", attrs...)
		}
	}
}
