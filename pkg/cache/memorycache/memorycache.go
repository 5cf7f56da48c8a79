package memorycache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asakaida/kizuna/pkg/cache"
)

// entryOverhead approximates the bookkeeping cost of one entry in bytes
const entryOverhead = 100

type entry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
	size      int64
}

// Cache is an LRU cache bounded by approximate memory size, with TTL.
type Cache[V any] struct {
	mu sync.Mutex

	items     map[string]*list.Element
	evictList *list.List // front = most recent

	maxSize     int64
	ttl         time.Duration
	sizeOf      func(V) int64
	currentSize int64
	now         func() time.Time

	metricsEnabled bool
	hits           atomic.Uint64
	misses         atomic.Uint64
	keysAdded      atomic.Uint64
	keysEvicted    atomic.Uint64
}

// Config holds configuration for the memory cache.
type Config[V any] struct {
	// MaxSizeBytes bounds the approximate total size of cached entries.
	// Least recently used entries are evicted beyond it.
	MaxSizeBytes int64

	// DefaultTTL applies when Set is called with a zero TTL.
	DefaultTTL time.Duration

	// SizeOf estimates the payload size of a value. Optional.
	SizeOf func(V) int64

	EnableMetrics bool
}

// New creates a new memory cache with the given configuration.
func New[V any](config *Config[V]) *Cache[V] {
	return &Cache[V]{
		items:          make(map[string]*list.Element),
		evictList:      list.New(),
		maxSize:        config.MaxSizeBytes,
		ttl:            config.DefaultTTL,
		sizeOf:         config.SizeOf,
		now:            time.Now,
		metricsEnabled: config.EnableMetrics,
	}
}

var _ cache.Cache[string] = (*Cache[string])(nil)

// Get retrieves a value from cache.
func (c *Cache[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, exists := c.items[key]
	if !exists {
		c.recordMiss()
		return zero, false
	}

	ent := elem.Value.(*entry[V])
	if c.now().After(ent.expiresAt) {
		c.removeElement(elem)
		c.recordMiss()
		return zero, false
	}

	c.evictList.MoveToFront(elem)
	if c.metricsEnabled {
		c.hits.Add(1)
	}
	return ent.value, true
}

// Set stores a value in cache with the specified TTL.
func (c *Cache[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	size := int64(entryOverhead + len(key))
	if c.sizeOf != nil {
		size += c.sizeOf(value)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.items[key]; exists {
		ent := elem.Value.(*entry[V])
		c.currentSize += size - ent.size
		ent.value = value
		ent.expiresAt = c.now().Add(ttl)
		ent.size = size
		c.evictList.MoveToFront(elem)
	} else {
		elem := c.evictList.PushFront(&entry[V]{
			key:       key,
			value:     value,
			expiresAt: c.now().Add(ttl),
			size:      size,
		})
		c.items[key] = elem
		c.currentSize += size
		if c.metricsEnabled {
			c.keysAdded.Add(1)
		}
	}

	for c.currentSize > c.maxSize && c.evictList.Len() > 0 {
		c.removeElement(c.evictList.Back())
		if c.metricsEnabled {
			c.keysEvicted.Add(1)
		}
	}

	return nil
}

// Delete removes a value from cache.
func (c *Cache[V]) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.items[key]; exists {
		c.removeElement(elem)
	}
	return nil
}

// Clear removes all entries from cache.
func (c *Cache[V]) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.evictList.Init()
	c.currentSize = 0
	return nil
}

// Close is a no-op for the memory cache.
func (c *Cache[V]) Close() error {
	return nil
}

// Metrics returns cache statistics.
func (c *Cache[V]) Metrics() *cache.Metrics {
	c.mu.Lock()
	keys, size := c.evictList.Len(), c.currentSize
	c.mu.Unlock()

	return &cache.Metrics{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		KeysAdded:   c.keysAdded.Load(),
		KeysEvicted: c.keysEvicted.Load(),
		KeysCurrent: keys,
		SizeBytes:   size,
	}
}

// Len returns the current number of items in cache.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictList.Len()
}

func (c *Cache[V]) recordMiss() {
	if c.metricsEnabled {
		c.misses.Add(1)
	}
}

// removeElement must be called with the lock held.
func (c *Cache[V]) removeElement(elem *list.Element) {
	c.evictList.Remove(elem)
	ent := elem.Value.(*entry[V])
	delete(c.items, ent.key)
	c.currentSize -= ent.size
}
