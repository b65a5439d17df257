package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient creates a Redis client and pings it, retrying with the same
// backoff as the Postgres pool. logger may be nil.
func NewRedisClient(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	var lastErr error
	for attempt := 0; attempt < defaultRetryAttempts; attempt++ {
		if attempt > 0 {
			wait := retryBackoff(attempt - 1)
			if logger != nil {
				logger.Warn("redis ping failed, retrying",
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", wait),
					slog.String("error", lastErr.Error()),
				)
			}
			if err := sleepCtx(ctx, wait); err != nil {
				_ = client.Close()
				return nil, fmt.Errorf("ping redis: %w", err)
			}
		}
		if lastErr = client.Ping(ctx).Err(); lastErr == nil {
			return client, nil
		}
	}

	_ = client.Close()
	return nil, fmt.Errorf("ping redis after %d attempts: %w", defaultRetryAttempts, lastErr)
}
