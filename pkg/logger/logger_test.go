package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	return out
}

func TestNewWithWriter_TagsService(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter("storefront", "info", &buf).Info("hello")

	out := decodeLine(t, &buf)
	assert.Equal(t, "storefront", out["service"])
	assert.Equal(t, "hello", out["msg"])
}

func TestNewWithWriter_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("storefront", "warn", &buf)
	l.Info("dropped")
	assert.Zero(t, buf.Len())

	l.Warn("kept")
	assert.NotZero(t, buf.Len())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestWithContext_AddsFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("storefront", "info", &buf)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})

	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	ctx = WithCorrelationID(ctx, "req-1")
	ctx = WithUserID(ctx, "user-1")

	WithContext(ctx, l).Info("merged")

	out := decodeLine(t, &buf)
	assert.Equal(t, "req-1", out["correlation_id"])
	assert.Equal(t, "user-1", out["user_id"])
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", out["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", out["span_id"])
}

func TestWithContext_Empty(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("storefront", "info", &buf)

	WithContext(context.Background(), l).Info("bare")

	out := decodeLine(t, &buf)
	assert.NotContains(t, out, "trace_id")
	assert.NotContains(t, out, "correlation_id")
}

func TestFromContext(t *testing.T) {
	assert.Same(t, slog.Default(), FromContext(context.Background()))

	l := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	assert.Same(t, l, FromContext(NewContext(context.Background(), l)))
}
