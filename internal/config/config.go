package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	pkgconfig "github.com/utafrali/storefront/pkg/config"
	"github.com/utafrali/storefront/pkg/database"
	"github.com/utafrali/storefront/pkg/tracing"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendHTTP     = "http"
)

// Config holds all configuration for the storefront service.
type Config struct {
	ServiceName string `env:"SERVICE_NAME" envDefault:"storefront"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort           int      `env:"HTTP_PORT" envDefault:"8010"`
	HTTPRateLimitRPS   float64  `env:"HTTP_RATE_LIMIT_RPS" envDefault:"20"`
	HTTPRateLimitBurst int      `env:"HTTP_RATE_LIMIT_BURST" envDefault:"40"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:3000" envSeparator:","`
	PprofAllowedCIDRs  []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"127.0.0.1/32" envSeparator:","`
	TrustedProxyCIDRs  []string `env:"TRUSTED_PROXY_CIDRS" envSeparator:","`
	TrustUserIDHeader  bool     `env:"TRUST_USER_ID_HEADER" envDefault:"true"`

	// Backends
	StoreBackend       string `env:"STORE_BACKEND" envDefault:"memory"`
	CouponBackend      string `env:"COUPON_BACKEND" envDefault:"memory"`
	OrderLookupBackend string `env:"ORDER_LOOKUP_BACKEND" envDefault:"memory"`
	OrderServiceURL    string `env:"ORDER_SERVICE_URL" envDefault:"http://localhost:8004"`

	// Redis
	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	// PostgreSQL
	PostgresHost     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort     int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER" envDefault:"ecommerce"`
	PostgresPassword string `env:"POSTGRES_PASSWORD" envDefault:"ecommerce"`
	PostgresDB       string `env:"POSTGRES_DB" envDefault:"storefront"`
	PostgresSSLMode  string `env:"POSTGRES_SSLMODE" envDefault:"disable"`
	PostgresMaxConns int32  `env:"POSTGRES_MAX_CONNS" envDefault:"20"`
	PostgresMinConns int32  `env:"POSTGRES_MIN_CONNS" envDefault:"2"`

	// Store operations slower than this are logged; zero disables it.
	SlowQueryThreshold time.Duration `env:"SLOW_QUERY_THRESHOLD" envDefault:"200ms"`

	// Domain
	CartTTLHours         int           `env:"CART_TTL_HOURS" envDefault:"168"`
	GuestSessionTTLHours int           `env:"GUEST_SESSION_TTL_HOURS" envDefault:"720"`
	CartCurrency         string        `env:"CART_CURRENCY" envDefault:"USD"`
	CouponRateLimit      int           `env:"COUPON_RATE_LIMIT" envDefault:"5"`
	CouponRateWindow     time.Duration `env:"COUPON_RATE_WINDOW" envDefault:"60s"`
	MemorySweepInterval  time.Duration `env:"MEMORY_SWEEP_INTERVAL" envDefault:"5m"`

	// Kafka
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	KafkaGroupID string   `env:"KAFKA_GROUP_ID" envDefault:"storefront"`

	// Auth
	JWTSecret string `env:"JWT_SECRET" envDefault:""`

	// Tracing
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load storefront config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if !slices.Contains([]string{BackendMemory, BackendRedis}, c.StoreBackend) {
		return fmt.Errorf("invalid STORE_BACKEND %q (memory|redis)", c.StoreBackend)
	}
	if !slices.Contains([]string{BackendMemory, BackendPostgres}, c.CouponBackend) {
		return fmt.Errorf("invalid COUPON_BACKEND %q (memory|postgres)", c.CouponBackend)
	}
	if !slices.Contains([]string{BackendMemory, BackendPostgres, BackendHTTP}, c.OrderLookupBackend) {
		return fmt.Errorf("invalid ORDER_LOOKUP_BACKEND %q (memory|postgres|http)", c.OrderLookupBackend)
	}
	if c.OrderLookupBackend == BackendHTTP && c.OrderServiceURL == "" {
		return fmt.Errorf("ORDER_SERVICE_URL is required when ORDER_LOOKUP_BACKEND=http")
	}
	if c.CartTTLHours <= 0 || c.GuestSessionTTLHours <= 0 {
		return fmt.Errorf("TTL hours must be positive")
	}
	if len(c.CartCurrency) != 3 {
		return fmt.Errorf("invalid CART_CURRENCY %q", c.CartCurrency)
	}
	c.CartCurrency = strings.ToUpper(c.CartCurrency)
	if c.CouponRateLimit < 1 || c.CouponRateWindow <= 0 {
		return fmt.Errorf("coupon rate limit must be at least 1 per positive window")
	}
	if c.MemorySweepInterval <= 0 {
		return fmt.Errorf("MEMORY_SWEEP_INTERVAL must be positive")
	}
	if c.Environment == "production" && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	return nil
}

// NeedsPostgres reports whether any component is backed by PostgreSQL.
func (c *Config) NeedsPostgres() bool {
	return c.CouponBackend == BackendPostgres || c.OrderLookupBackend == BackendPostgres
}

// CartTTL is the idle lifetime of a cart.
func (c *Config) CartTTL() time.Duration {
	return time.Duration(c.CartTTLHours) * time.Hour
}

// GuestSessionTTL is the idle lifetime of a guest session.
func (c *Config) GuestSessionTTL() time.Duration {
	return time.Duration(c.GuestSessionTTLHours) * time.Hour
}

// Postgres returns the connection settings for pkg/database.
func (c *Config) Postgres() *database.PostgresConfig {
	return &database.PostgresConfig{
		Host:            c.PostgresHost,
		Port:            c.PostgresPort,
		User:            c.PostgresUser,
		Password:        c.PostgresPassword,
		DBName:          c.PostgresDB,
		SSLMode:         c.PostgresSSLMode,
		MaxConns:        c.PostgresMaxConns,
		MinConns:        c.PostgresMinConns,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// Redis returns the connection settings for pkg/database.
func (c *Config) Redis() database.RedisConfig {
	return database.RedisConfig{Addr: c.RedisAddr, Password: c.RedisPass, DB: c.RedisDB}
}

// Tracing returns the OpenTelemetry settings.
func (c *Config) Tracing() tracing.Config {
	return tracing.Config{
		ServiceName:    c.ServiceName,
		ServiceVersion: "0.1.0",
		Environment:    c.Environment,
		OTLPEndpoint:   c.OTELEndpoint,
		SampleRate:     c.OTELSampleRate,
		Enabled:        c.OTELEnabled,
	}
}
