package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/utafrali/storefront/pkg/database"
)

const redisKeyPrefix = "ratelimit:"

// slidingWindowScript prunes, counts and conditionally records in one step.
// Returns {allowed, count, oldestScoreMs}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  return {0, count, tonumber(oldest[2])}
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return {1, count + 1, 0}
`)

// RedisLimiter keeps each window in a sorted set scored by request time in
// milliseconds, shared by every instance.
type RedisLimiter struct {
	client redis.Scripter
	cfg    Config
	now    Clock
	scope  string
}

// NewRedisLimiter creates a RedisLimiter whose keys live under scope.
func NewRedisLimiter(client redis.Scripter, scope string, cfg Config, clock Clock) *RedisLimiter {
	if clock == nil {
		clock = time.Now
	}
	return &RedisLimiter{client: client, cfg: cfg, now: clock, scope: scope}
}

// Allow runs the sliding-window script for identifier.
func (l *RedisLimiter) Allow(ctx context.Context, identifier string) (res Result, err error) {
	key := redisKeyPrefix + l.scope + ":" + identifier
	ctx, end := database.TraceRedis(ctx, "EVALSHA", key)
	defer func() { end(err) }()

	now := l.now().UnixMilli()
	windowMs := l.cfg.Window.Milliseconds()
	member := fmt.Sprintf("%d-%s", now, uuid.NewString())

	vals, err := slidingWindowScript.Run(ctx, l.client, []string{key},
		now, windowMs, l.cfg.Limit, member).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("redis rate limit %s: %w", identifier, err)
	}
	if len(vals) != 3 {
		return Result{}, fmt.Errorf("redis rate limit %s: unexpected reply %v", identifier, vals)
	}

	if vals[0] == 1 {
		return Result{Allowed: true, Remaining: l.cfg.Limit - int(vals[1])}, nil
	}
	retry := time.Duration(vals[2]+windowMs-now) * time.Millisecond
	return Result{Allowed: false, RetryAfter: retry}, nil
}
