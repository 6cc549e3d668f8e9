package cache

import (
	"time"

	"github.com/maypok86/otter/v2"
)

// defaultMaxSize bounds the number of entries when none is given.
const defaultMaxSize = 1024

// Cache is a bounded, thread-safe in-memory cache whose entries expire a
// fixed duration after they were written. It backs the catalog read side,
// where loaded views are kept for max-age and dropped on refresh.
type Cache[V any] struct {
	store    *otter.Cache[string, V] // Entries keyed by identifier
	duration time.Duration           // Lifetime of each entry
}

// NewCache creates a cache whose entries live for duration.
//
// Parameters:
//   - duration: how long entries are considered valid after being set
//   - maxSize: maximum number of entries, <= 0 uses a small default
//
// Returns:
//   - *Cache[V]: ready to use cache
func NewCache[V any](duration time.Duration, maxSize int) *Cache[V] {
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}

	return &Cache[V]{
		store: otter.Must(&otter.Options[string, V]{
			MaximumSize:      maxSize,
			ExpiryCalculator: otter.ExpiryWriting[string, V](duration),
		}),
		duration: duration,
	}
}

// Get returns the cached value for key.
//
// Behavior:
//   - If the key exists and has not expired → the value and true.
//   - If the key is missing or expired → the zero value and false.
func (c *Cache[V]) Get(key string) (V, bool) {
	return c.store.GetIfPresent(key)
}

// Set stores value under key, restarting its lifetime.
func (c *Cache[V]) Set(key string, value V) {
	c.store.Set(key, value)
}

// Invalidate drops a single entry, used after a new catalog has been
// written.
func (c *Cache[V]) Invalidate(key string) {
	c.store.Invalidate(key)
}

// Duration is the configured entry lifetime.
func (c *Cache[V]) Duration() time.Duration {
	return c.duration
}
