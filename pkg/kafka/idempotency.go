package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyStore records processed event ids.
type IdempotencyStore interface {
	Contains(ctx context.Context, eventID string) (bool, error)
	Add(ctx context.Context, eventID string) error
}

// MemoryIdempotencyStore keeps event ids in process memory for ttl.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryIdempotencyStore creates an in-memory store. Expired ids are
// dropped lazily on lookup.
func NewMemoryIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{entries: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

func (s *MemoryIdempotencyStore) Contains(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.entries[eventID]
	if !ok {
		return false, nil
	}
	if s.now().Sub(ts) > s.ttl {
		delete(s.entries, eventID)
		return false, nil
	}
	return true, nil
}

func (s *MemoryIdempotencyStore) Add(_ context.Context, eventID string) error {
	s.mu.Lock()
	s.entries[eventID] = s.now()
	s.mu.Unlock()
	return nil
}

// Len reports the number of tracked ids, expired or not.
func (s *MemoryIdempotencyStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// RedisIdempotencyStore shares processed ids across consumer instances.
type RedisIdempotencyStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisIdempotencyStore stores ids under prefix with the given ttl.
func NewRedisIdempotencyStore(client redis.Cmdable, prefix string, ttl time.Duration) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisIdempotencyStore) Contains(ctx context.Context, eventID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+eventID).Result()
	if err != nil {
		return false, fmt.Errorf("check processed event %s: %w", eventID, err)
	}
	return n > 0, nil
}

func (s *RedisIdempotencyStore) Add(ctx context.Context, eventID string) error {
	if err := s.client.Set(ctx, s.prefix+eventID, 1, s.ttl).Err(); err != nil {
		return fmt.Errorf("record processed event %s: %w", eventID, err)
	}
	return nil
}

// IdempotentHandler skips events whose id is already in store and records the
// id after inner succeeds. A failing store lookup lets the event through.
func IdempotentHandler(store IdempotencyStore, inner Handler, logger *slog.Logger) Handler {
	return func(ctx context.Context, event *Event) error {
		if event.EventID == "" {
			return inner(ctx, event)
		}

		seen, err := store.Contains(ctx, event.EventID)
		if err != nil {
			logger.WarnContext(ctx, "idempotency lookup failed, processing anyway",
				slog.String("event_id", event.EventID),
				slog.String("error", err.Error()),
			)
		}
		if seen {
			consumerDuplicates.WithLabelValues(event.EventType).Inc()
			logger.DebugContext(ctx, "skipping duplicate event",
				slog.String("event_id", event.EventID),
				slog.String("event_type", event.EventType),
			)
			return nil
		}

		if err := inner(ctx, event); err != nil {
			return err
		}

		if err := store.Add(ctx, event.EventID); err != nil {
			logger.WarnContext(ctx, "failed to record processed event",
				slog.String("event_id", event.EventID),
				slog.String("error", err.Error()),
			)
		}
		return nil
	}
}
