package storage

import (
	"context"
	"time"

	"connector-hub/internal/redisx"
)

// RedisBackend persists values in Redis, sharing the redisx client with the
// rest of the core.
type RedisBackend struct {
	client *redisx.Client
}

var _ Backend = (*RedisBackend)(nil)

// NewRedisBackend wraps an already-connected Redis client
func NewRedisBackend(client *redisx.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

// Get retrieves the value stored at key
func (r *RedisBackend) Get(ctx context.Context, key string) (string, bool, error) {
	return r.client.Get(ctx, key)
}

// Set stores value at key, expiring after ttl if ttl > 0
func (r *RedisBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl)
}

// Delete removes the key
func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	return r.client.Delete(ctx, key)
}
