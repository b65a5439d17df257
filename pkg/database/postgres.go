package database

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string

	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DSN returns the PostgreSQL connection string.
func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

const (
	defaultRetryAttempts = 3
	defaultRetryBaseWait = time.Second
	retryJitterFraction  = 0.25
)

// retryBackoff returns 1s, 2s, 4s... for attempt 0, 1, 2 with ±25% jitter.
func retryBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := defaultRetryBaseWait << attempt
	jitter := time.Duration(float64(base) * retryJitterFraction * (2*rand.Float64() - 1)) // #nosec G404 -- jitter only
	return base + jitter
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NewPostgresPool opens a pgx pool and pings it, retrying transient startup
// failures with exponential backoff. logger may be nil.
func NewPostgresPool(ctx context.Context, cfg *PostgresConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	var lastErr error
	for attempt := 0; attempt < defaultRetryAttempts; attempt++ {
		if attempt > 0 {
			wait := retryBackoff(attempt - 1)
			if logger != nil {
				logger.Warn("postgres connection failed, retrying",
					slog.Int("attempt", attempt+1),
					slog.Int("max_attempts", defaultRetryAttempts),
					slog.Duration("backoff", wait),
					slog.String("error", lastErr.Error()),
				)
			}
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, fmt.Errorf("connect to postgres: %w", err)
			}
		}

		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			lastErr = err
			continue
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			lastErr = err
			continue
		}
		return pool, nil
	}

	return nil, fmt.Errorf("connect to postgres after %d attempts: %w", defaultRetryAttempts, lastErr)
}
