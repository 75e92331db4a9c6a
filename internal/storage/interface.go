// Package storage provides the pluggable key-value backend the token store
// persists through. Backends are a closed set of variants (memory, redis,
// postgres) selected at construction; the core never branches on backend type,
// only on operation outcome.
package storage

import (
	"context"
	"time"
)

// Backend is the key-value contract the token store requires. Implementations
// must treat a missing key as (value="", found=false, err=nil) and must honor
// per-key TTLs; a zero TTL means the key never expires.
type Backend interface {
	// Get retrieves the value stored at key
	Get(ctx context.Context, key string) (value string, found bool, err error)
	// Set stores value at key, expiring after ttl if ttl > 0
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete removes the key; deleting an absent key is not an error
	Delete(ctx context.Context, key string) error
}

// Kind identifies a backend variant
type Kind string

const (
	// KindMemory is the in-process backend, for tests and single-instance use
	KindMemory Kind = "memory"
	// KindRedis is the Redis backend
	KindRedis Kind = "redis"
	// KindPostgres is the relational backend
	KindPostgres Kind = "postgres"
)
