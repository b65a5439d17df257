package database

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"testing/fstest"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunMigrations_AppliesPendingInOrder(t *testing.T) {
	mock, err := NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	fsys := fstest.MapFS{
		"002_collections.up.sql": {Data: []byte("CREATE TABLE user_wishlist_items (id INT)")},
		"001_coupons.up.sql":     {Data: []byte("CREATE TABLE coupons (id INT)")},
		"001_coupons.down.sql":   {Data: []byte("DROP TABLE coupons")},
	}

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	mock.ExpectQuery("SELECT EXISTS").WithArgs("001_coupons.up.sql").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	mock.ExpectQuery("SELECT EXISTS").WithArgs("002_collections.up.sql").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE user_wishlist_items").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("INSERT INTO schema_migrations").WithArgs("002_collections.up.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, RunMigrations(context.Background(), mock, fsys, discardLogger()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations_RollsBackFailedFile(t *testing.T) {
	mock, err := NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	fsys := fstest.MapFS{"001_bad.up.sql": {Data: []byte("CREATE TABLE broken")}}

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("001_bad.up.sql").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE broken").WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	err = RunMigrations(context.Background(), mock, fsys, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execute migration 001_bad.up.sql")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRetryBackoff_Bounds(t *testing.T) {
	for attempt, base := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
		got := retryBackoff(attempt)
		assert.GreaterOrEqual(t, got, time.Duration(float64(base)*0.75))
		assert.LessOrEqual(t, got, time.Duration(float64(base)*1.25))
	}
	assert.Equal(t, retryBackoff(-1) > 0, true)
}

func TestPostgresConfig_DSN(t *testing.T) {
	cfg := PostgresConfig{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "storefront", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/storefront?sslmode=disable", cfg.DSN())
}

func TestPoolStatsCollector_Describe(t *testing.T) {
	c := NewPoolStatsCollector(nil, "storefront")

	ch := make(chan *prometheus.Desc, 16)
	c.Describe(ch)
	close(ch)

	var names []string
	for d := range ch {
		names = append(names, d.String())
	}
	assert.Len(t, names, 8)
	assert.Contains(t, names[0], "db_pool_acquired_connections")
}

func setupTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})
	return exporter
}

func TestTraceQuery_RecordsSpan(t *testing.T) {
	exporter := setupTracer(t)

	_, end := TraceQuery(context.Background(), "GetCouponByCode", "SELECT 1")
	end(nil)
	_, end = TraceRedis(context.Background(), "UpdateCart", "cart:c-1")
	end(errors.New("tx failed"))

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "db.GetCouponByCode", spans[0].Name)
	assert.Equal(t, "db.UpdateCart", spans[1].Name)
	assert.Equal(t, codes.Error, spans[1].Status.Code)

	var system string
	for _, a := range spans[1].Attributes {
		if a.Key == "db.system" {
			system = a.Value.AsString()
		}
	}
	assert.Equal(t, "redis", system)
}

func TestTraceQuery_SlowQueryLogged(t *testing.T) {
	setupTracer(t)
	var buf bytes.Buffer
	SetSlowQueryLogging(time.Nanosecond, slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { SetSlowQueryLogging(0, nil) })

	_, end := TraceQuery(context.Background(), "ListCoupons", "SELECT * FROM coupons")
	time.Sleep(time.Millisecond)
	end(nil)

	assert.Contains(t, buf.String(), "slow query detected")
	assert.Contains(t, buf.String(), "ListCoupons")
}
