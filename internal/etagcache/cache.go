// Package etagcache holds conditional-request state: for each (user, provider,
// resource) it remembers the last ETag and the 200 payload it fingerprinted, so
// the HTTP pipeline can send If-None-Match and rehydrate 304 responses.
package etagcache

import (
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultTTL is how long an entry stays servable
	DefaultTTL = time.Hour
	// DefaultMaxSize bounds the number of entries
	DefaultMaxSize = 1000
)

// Snapshot is the response payload stored alongside an ETag
type Snapshot struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    []byte            `json:"body"`
}

// Entry pairs an ETag with its payload snapshot
type Entry struct {
	ETag     string
	Snapshot Snapshot
	StoredAt time.Time
}

// Key builds the composite cache key
func Key(userID, provider, resource string) string {
	return fmt.Sprintf("%s:%s:%s", userID, provider, resource)
}

// Cache is a bounded, TTL-limited store with oldest-inserted-first eviction.
// Eviction order is insertion order, not access order. Safe for concurrent use.
type Cache struct {
	ttl     time.Duration
	maxSize int

	entries map[string]*Entry
	order   []string
	mu      sync.Mutex
}

// New creates a cache; zero arguments select the defaults
func New(ttl time.Duration, maxSize int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Cache{
		ttl:     ttl,
		maxSize: maxSize,
		entries: make(map[string]*Entry),
	}
}

// Get returns the entry at key, or nil when absent or expired. An entry whose
// age has reached the TTL counts as expired and is deleted on read.
func (c *Cache) Get(key string) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil
	}

	if time.Since(entry.StoredAt) >= c.ttl {
		c.remove(key)
		return nil
	}

	return entry
}

// GetETag returns just the ETag at key, subject to the same expiry rule
func (c *Cache) GetETag(key string) string {
	entry := c.Get(key)
	if entry == nil {
		return ""
	}
	return entry.ETag
}

// Set stores a snapshot under key. An empty etag makes the call a no-op: an
// entry is never stored without a fingerprint to revalidate against. At
// capacity the single oldest-inserted entry is evicted first.
func (c *Cache) Set(key string, snapshot Snapshot, etag string) {
	if etag == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		c.remove(key)
	} else if len(c.entries) >= c.maxSize {
		c.remove(c.order[0])
	}

	c.entries[key] = &Entry{
		ETag:     etag,
		Snapshot: snapshot,
		StoredAt: time.Now(),
	}
	c.order = append(c.order, key)
}

// Delete removes the entry at key
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remove(key)
}

// Len returns the current entry count
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// remove deletes key from both the map and the insertion-order list.
// Caller holds the lock.
func (c *Cache) remove(key string) {
	if _, ok := c.entries[key]; !ok {
		return
	}
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
