package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/repository"
	"github.com/utafrali/storefront/pkg/database"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

const guestSessionKeyPrefix = "guest_session:"

// GuestSessionRepository implements repository.GuestSessionRepository using
// Redis. Expiry is delegated to key TTLs.
type GuestSessionRepository struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewGuestSessionRepository creates a Redis-backed guest session repository.
func NewGuestSessionRepository(client *redis.Client, ttl time.Duration) *GuestSessionRepository {
	return &GuestSessionRepository{client: client, ttl: ttl, now: time.Now}
}

func sessionKey(token string) string {
	return guestSessionKeyPrefix + token
}

// Create stores s only if the token is unused.
func (r *GuestSessionRepository) Create(ctx context.Context, s *domain.GuestSession) (err error) {
	ctx, end := database.TraceRedis(ctx, "SETNX", guestSessionKeyPrefix+"*")
	defer func() { end(err) }()

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal guest session: %w", err)
	}
	ok, err := r.client.SetNX(ctx, sessionKey(s.Token), data, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx guest session: %w", err)
	}
	if !ok {
		return apperrors.AlreadyExists("guest session", "token", "<redacted>")
	}
	return nil
}

// Get retrieves a live session.
func (r *GuestSessionRepository) Get(ctx context.Context, token string) (_ *domain.GuestSession, err error) {
	ctx, end := database.TraceRedis(ctx, "GET", guestSessionKeyPrefix+"*")
	defer func() { end(err) }()

	data, err := r.client.Get(ctx, sessionKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("redis get guest session: %w", err)
	}
	return decode[domain.GuestSession](data)
}

// Update applies fn inside an optimistic transaction and refreshes the TTL.
func (r *GuestSessionRepository) Update(ctx context.Context, token string, fn repository.GuestSessionMutator) (_ *domain.GuestSession, err error) {
	key := sessionKey(token)
	ctx, end := database.TraceRedis(ctx, "WATCH/MULTI", guestSessionKeyPrefix+"*")
	defer func() { end(err) }()

	var stored *domain.GuestSession
	err = casUpdate(ctx, r.client, key, func(raw []byte, pipe redis.Pipeliner) error {
		if raw == nil {
			return domain.ErrSessionNotFound
		}
		s, err := decode[domain.GuestSession](raw)
		if err != nil {
			return err
		}
		if err := fn(s); err != nil {
			return err
		}
		data, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("marshal guest session: %w", err)
		}
		pipe.Set(ctx, key, data, r.ttl)
		stored = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// Claim removes and returns the session with GETDEL.
func (r *GuestSessionRepository) Claim(ctx context.Context, token string) (_ *domain.GuestSession, err error) {
	ctx, end := database.TraceRedis(ctx, "GETDEL", guestSessionKeyPrefix+"*")
	defer func() { end(err) }()

	data, err := r.client.GetDel(ctx, sessionKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("redis getdel guest session: %w", err)
	}
	return decode[domain.GuestSession](data)
}

// Restore writes s back with its remaining lifetime unless the token has
// been reused.
func (r *GuestSessionRepository) Restore(ctx context.Context, s *domain.GuestSession) (err error) {
	ctx, end := database.TraceRedis(ctx, "SETNX", guestSessionKeyPrefix+"*")
	defer func() { end(err) }()

	remaining := s.ExpiresAt.Sub(r.now())
	if remaining <= 0 {
		return nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal guest session: %w", err)
	}
	if err = r.client.SetNX(ctx, sessionKey(s.Token), data, remaining).Err(); err != nil {
		return fmt.Errorf("redis restore guest session: %w", err)
	}
	return nil
}
