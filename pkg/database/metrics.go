package database

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

type poolMetric struct {
	desc      *prometheus.Desc
	valueType prometheus.ValueType
	value     func(*pgxpool.Stat) float64
}

// PoolStatsCollector exports pgxpool statistics as Prometheus metrics.
type PoolStatsCollector struct {
	pool    *pgxpool.Pool
	service string
	metrics []poolMetric
}

// NewPoolStatsCollector builds a collector for pool labelled with service.
func NewPoolStatsCollector(pool *pgxpool.Pool, service string) *PoolStatsCollector {
	gauge := func(name, help string, fn func(*pgxpool.Stat) float64) poolMetric {
		return poolMetric{prometheus.NewDesc(name, help, []string{"service"}, nil), prometheus.GaugeValue, fn}
	}
	counter := func(name, help string, fn func(*pgxpool.Stat) float64) poolMetric {
		return poolMetric{prometheus.NewDesc(name, help, []string{"service"}, nil), prometheus.CounterValue, fn}
	}

	return &PoolStatsCollector{
		pool:    pool,
		service: service,
		metrics: []poolMetric{
			gauge("db_pool_acquired_connections", "Number of currently acquired connections",
				func(s *pgxpool.Stat) float64 { return float64(s.AcquiredConns()) }),
			gauge("db_pool_idle_connections", "Number of currently idle connections",
				func(s *pgxpool.Stat) float64 { return float64(s.IdleConns()) }),
			gauge("db_pool_total_connections", "Total number of connections in the pool",
				func(s *pgxpool.Stat) float64 { return float64(s.TotalConns()) }),
			gauge("db_pool_max_connections", "Maximum number of connections allowed",
				func(s *pgxpool.Stat) float64 { return float64(s.MaxConns()) }),
			counter("db_pool_acquire_count_total", "Total number of connection acquires",
				func(s *pgxpool.Stat) float64 { return float64(s.AcquireCount()) }),
			counter("db_pool_acquire_duration_seconds_total", "Total time spent acquiring connections",
				func(s *pgxpool.Stat) float64 { return s.AcquireDuration().Seconds() }),
			counter("db_pool_canceled_acquire_count_total", "Total number of canceled acquires",
				func(s *pgxpool.Stat) float64 { return float64(s.CanceledAcquireCount()) }),
			counter("db_pool_empty_acquire_count_total", "Acquires that waited for a connection",
				func(s *pgxpool.Stat) float64 { return float64(s.EmptyAcquireCount()) }),
		},
	}
}

// Describe implements prometheus.Collector.
func (c *PoolStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.metrics {
		ch <- m.desc
	}
}

// Collect implements prometheus.Collector.
func (c *PoolStatsCollector) Collect(ch chan<- prometheus.Metric) {
	stat := c.pool.Stat()
	for _, m := range c.metrics {
		ch <- prometheus.MustNewConstMetric(m.desc, m.valueType, m.value(stat), c.service)
	}
}

// RegisterPoolMetrics registers a pool collector with reg.
func RegisterPoolMetrics(reg prometheus.Registerer, pool *pgxpool.Pool, service string) error {
	return reg.Register(NewPoolStatsCollector(pool, service))
}
