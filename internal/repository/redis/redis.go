// Package redis holds Redis-backed repositories. Read-modify-write sequences
// use WATCH/MULTI optimistic transactions so any number of service instances
// can share a store.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// maxTxRetries bounds optimistic transaction attempts per call. Every failed
// attempt means another writer committed, so it must exceed the expected
// number of concurrent writers on one key.
const maxTxRetries = 32

// casUpdate watches key, calls apply with the current raw value (nil when
// absent) and writes whatever apply queues on the pipeline, retrying when a
// concurrent writer touched key first.
func casUpdate(ctx context.Context, client *redis.Client, key string, apply func(raw []byte, pipe redis.Pipeliner) error) error {
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("redis get %s: %w", key, err)
		}
		if errors.Is(err, redis.Nil) {
			raw = nil
		}

		var applyErr error
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			applyErr = apply(raw, pipe)
			return applyErr
		})
		if applyErr != nil {
			return applyErr
		}
		return err
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return apperrors.Conflict("resource was modified concurrently, please retry")
}

func decode[T any](raw []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("unmarshal %T: %w", v, err)
	}
	return &v, nil
}
