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

const cartKeyPrefix = "cart:"

// CartRepository implements repository.CartRepository using Redis.
type CartRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCartRepository creates a Redis-backed cart repository. Every write
// refreshes the key's TTL.
func NewCartRepository(client *redis.Client, ttl time.Duration) *CartRepository {
	return &CartRepository{client: client, ttl: ttl}
}

// Get retrieves a cart by id.
func (r *CartRepository) Get(ctx context.Context, id string) (_ *domain.Cart, err error) {
	key := cartKeyPrefix + id
	ctx, end := database.TraceRedis(ctx, "GET", key)
	defer func() { end(err) }()

	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.NotFound("cart", id)
		}
		return nil, fmt.Errorf("redis get cart: %w", err)
	}
	return decode[domain.Cart](data)
}

// Update applies fn inside an optimistic transaction on the cart key.
func (r *CartRepository) Update(ctx context.Context, id string, fn repository.CartMutator) (_ *domain.Cart, err error) {
	key := cartKeyPrefix + id
	ctx, end := database.TraceRedis(ctx, "WATCH/MULTI", key)
	defer func() { end(err) }()

	var stored *domain.Cart
	err = casUpdate(ctx, r.client, key, func(raw []byte, pipe redis.Pipeliner) error {
		var current *domain.Cart
		if raw != nil {
			c, err := decode[domain.Cart](raw)
			if err != nil {
				return err
			}
			current = c
		}

		next, err := fn(current)
		if err != nil {
			return err
		}
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("marshal cart: %w", err)
		}
		pipe.Set(ctx, key, data, r.ttl)
		stored = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// Delete removes a cart.
func (r *CartRepository) Delete(ctx context.Context, id string) (err error) {
	key := cartKeyPrefix + id
	ctx, end := database.TraceRedis(ctx, "DEL", key)
	defer func() { end(err) }()

	if err = r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del cart: %w", err)
	}
	return nil
}
