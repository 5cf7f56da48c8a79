package cache

import (
	"context"
	"time"
)

// Cache is a typed key/value cache with per-entry TTL.
// Implementations must be safe for concurrent use.
type Cache[V any] interface {
	// Get retrieves a value from cache.
	// Returns the value and true if found and not expired.
	Get(ctx context.Context, key string) (V, bool)

	// Set stores a value in cache with TTL. A zero TTL uses the default.
	Set(ctx context.Context, key string, value V, ttl time.Duration) error

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
	Hits        uint64
	Misses      uint64
	KeysAdded   uint64
	KeysEvicted uint64
	KeysCurrent int
	SizeBytes   int64
}

// HitRate returns the cache hit rate (0.0 to 1.0).
func (m *Metrics) HitRate() float64 {
	total := m.Hits + m.Misses
	if total == 0 {
		return 0.0
	}
	return float64(m.Hits) / float64(total)
}
