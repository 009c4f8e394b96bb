package cache

import (
	"context"
	"time"
)

// Cache stores compiled query text keyed by statement shape.
// Renderers look a shape up before building its query so that every chunk
// of a sync reuses the text compiled for the first one.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns the value and true if found, or "" and false if not found.
	Get(ctx context.Context, key string) (string, bool)

	// Set stores a value in cache. A zero ttl keeps the entry until evicted.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// Clear removes all entries from cache.
	Clear(ctx context.Context) error

	// Close releases resources held by the cache.
	Close() error

	// Metrics returns cache statistics.
	Metrics() *Metrics
}

// Metrics holds cache performance statistics.
type Metrics struct {
	// Hits is the number of cache hits
	Hits uint64

	// Misses is the number of cache misses
	Misses uint64

	// KeysAdded is the number of keys added to cache
	KeysAdded uint64

	// KeysEvicted is the number of keys evicted from cache
	KeysEvicted uint64
}

// HitRate returns the cache hit rate (0.0 to 1.0).
func (m *Metrics) HitRate() float64 {
	total := m.Hits + m.Misses
	if total == 0 {
		return 0.0
	}
	return float64(m.Hits) / float64(total)
}

// GetOrCompile returns the cached value for key, compiling and storing it on
// a miss. A nil cache always compiles.
func GetOrCompile(ctx context.Context, c Cache, key string, compile func() string) string {
	if c == nil {
		return compile()
	}
	if v, ok := c.Get(ctx, key); ok {
		return v
	}
	v := compile()
	_ = c.Set(ctx, key, v, 0)
	return v
}
