package storage

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryBackend keeps values in process memory with per-key TTLs. All data is
// lost when the process stops.
type MemoryBackend struct {
	cache *gocache.Cache
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend creates an empty in-memory backend. Expired entries are
// swept every minute; reads never return an expired value regardless.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		cache: gocache.New(gocache.NoExpiration, time.Minute),
	}
}

// Get retrieves the value stored at key
func (m *MemoryBackend) Get(ctx context.Context, key string) (string, bool, error) {
	raw, found := m.cache.Get(key)
	if !found {
		return "", false, nil
	}
	return raw.(string), true, nil
}

// Set stores value at key, expiring after ttl if ttl > 0
func (m *MemoryBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	m.cache.Set(key, value, ttl)
	return nil
}

// Delete removes the key
func (m *MemoryBackend) Delete(ctx context.Context, key string) error {
	m.cache.Delete(key)
	return nil
}
