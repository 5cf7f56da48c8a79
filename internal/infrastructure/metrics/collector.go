package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/asakaida/kizuna/pkg/cache"
)

// CacheSource is anything that reports cache statistics, typically the
// profile cache behind CachedProfileRepository.
type CacheSource interface {
	Metrics() *cache.Metrics
}

// Collector collects and aggregates metrics for the application.
type Collector struct {
	apiRequests sync.Map // method -> *uint64
	apiErrors   sync.Map // method -> *uint64
	apiDuration sync.Map // method -> *durationValue

	cache CacheSource
}

type durationValue struct {
	mu           sync.Mutex
	totalSeconds float64
}

// CacheMetrics holds profile cache performance metrics.
type CacheMetrics struct {
	Hits        uint64
	Misses      uint64
	HitRate     float64
	KeysCurrent int64
	MemoryBytes int64
	Evictions   uint64
}

// APIMetrics holds API request metrics.
type APIMetrics struct {
	RequestCounts        map[string]uint64
	ErrorCounts          map[string]uint64
	TotalDurationSeconds map[string]float64
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{}
}

// SetCache sets the cache whose statistics GetCacheMetrics reports.
func (c *Collector) SetCache(source CacheSource) {
	c.cache = source
}

// RecordRequest records an API request.
func (c *Collector) RecordRequest(method string) {
	atomic.AddUint64(c.counter(&c.apiRequests, method), 1)
}

// RecordError records an API error.
func (c *Collector) RecordError(method string) {
	atomic.AddUint64(c.counter(&c.apiErrors, method), 1)
}

// RecordDuration records the duration of an API call in seconds.
func (c *Collector) RecordDuration(method string, durationSeconds float64) {
	val, _ := c.apiDuration.LoadOrStore(method, &durationValue{})
	dv := val.(*durationValue)

	dv.mu.Lock()
	dv.totalSeconds += durationSeconds
	dv.mu.Unlock()
}

// GetCacheMetrics returns current cache metrics.
func (c *Collector) GetCacheMetrics() *CacheMetrics {
	if c.cache == nil {
		return &CacheMetrics{}
	}

	m := c.cache.Metrics()
	if m == nil {
		return &CacheMetrics{}
	}

	return &CacheMetrics{
		Hits:        m.Hits,
		Misses:      m.Misses,
		HitRate:     m.HitRate(),
		KeysCurrent: int64(m.KeysCurrent),
		MemoryBytes: m.SizeBytes,
		Evictions:   m.KeysEvicted,
	}
}

// GetAPIMetrics returns a snapshot of API metrics.
func (c *Collector) GetAPIMetrics() *APIMetrics {
	result := &APIMetrics{
		RequestCounts:        make(map[string]uint64),
		ErrorCounts:          make(map[string]uint64),
		TotalDurationSeconds: make(map[string]float64),
	}

	c.apiRequests.Range(func(key, value any) bool {
		result.RequestCounts[key.(string)] = atomic.LoadUint64(value.(*uint64))
		return true
	})

	c.apiErrors.Range(func(key, value any) bool {
		result.ErrorCounts[key.(string)] = atomic.LoadUint64(value.(*uint64))
		return true
	})

	c.apiDuration.Range(func(key, value any) bool {
		dv := value.(*durationValue)
		dv.mu.Lock()
		result.TotalDurationSeconds[key.(string)] = dv.totalSeconds
		dv.mu.Unlock()
		return true
	})

	return result
}

func (c *Collector) counter(m *sync.Map, key string) *uint64 {
	val, _ := m.LoadOrStore(key, new(uint64))
	return val.(*uint64)
}
