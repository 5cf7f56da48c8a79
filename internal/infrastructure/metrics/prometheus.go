package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusExporter exports metrics to Prometheus format.
type PrometheusExporter struct {
	collector *Collector

	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	cacheEvictions   prometheus.Counter
	cacheHitRate     prometheus.Gauge
	cacheKeys        prometheus.Gauge
	cacheMemoryBytes prometheus.Gauge
	grpcRequests     *prometheus.CounterVec
	grpcDuration     *prometheus.HistogramVec
	grpcErrors       *prometheus.CounterVec

	// last cache counters seen by Update, so counters only ever grow by the delta
	mu            sync.Mutex
	lastHits      uint64
	lastMisses    uint64
	lastEvictions uint64
}

// NewPrometheusExporter creates an exporter registered on the default registry.
func NewPrometheusExporter(collector *Collector) *PrometheusExporter {
	return NewPrometheusExporterWithRegistry(collector, prometheus.DefaultRegisterer)
}

// NewPrometheusExporterWithRegistry creates an exporter registered on reg.
func NewPrometheusExporterWithRegistry(collector *Collector, reg prometheus.Registerer) *PrometheusExporter {
	factory := promauto.With(reg)
	return &PrometheusExporter{
		collector: collector,
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "kizuna_profile_cache_hits_total",
			Help: "Total number of profile cache hits",
		}),
		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "kizuna_profile_cache_misses_total",
			Help: "Total number of profile cache misses",
		}),
		cacheEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "kizuna_profile_cache_evictions_total",
			Help: "Total number of profile cache evictions due to memory limits",
		}),
		cacheHitRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kizuna_profile_cache_hit_rate",
			Help: "Current profile cache hit rate (0.0 to 1.0)",
		}),
		cacheKeys: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kizuna_profile_cache_keys_current",
			Help: "Current number of profiles in the cache",
		}),
		cacheMemoryBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kizuna_profile_cache_memory_bytes",
			Help: "Approximate memory usage of the profile cache in bytes",
		}),
		grpcRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kizuna_grpc_requests_total",
				Help: "Total number of gRPC requests",
			},
			[]string{"method"},
		),
		grpcDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kizuna_grpc_request_duration_seconds",
				Help:    "Duration of gRPC requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
			},
			[]string{"method"},
		),
		grpcErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kizuna_grpc_errors_total",
				Help: "Total number of gRPC errors",
			},
			[]string{"method", "code"},
		),
	}
}

// Update copies cache statistics from the collector.
// gRPC counters are updated by the interceptors; call this periodically.
func (e *PrometheusExporter) Update() {
	m := e.collector.GetCacheMetrics()
	e.cacheHitRate.Set(m.HitRate)
	e.cacheKeys.Set(float64(m.KeysCurrent))
	e.cacheMemoryBytes.Set(float64(m.MemoryBytes))

	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastHits = addDelta(e.cacheHits, e.lastHits, m.Hits)
	e.lastMisses = addDelta(e.cacheMisses, e.lastMisses, m.Misses)
	e.lastEvictions = addDelta(e.cacheEvictions, e.lastEvictions, m.Evictions)
}

// addDelta advances c by current-last and returns the new baseline.
// A source that went backwards (cache replaced) resets the baseline.
func addDelta(c prometheus.Counter, last, current uint64) uint64 {
	if current > last {
		c.Add(float64(current - last))
	}
	return current
}

// RecordRequest records a request in Prometheus.
func (e *PrometheusExporter) RecordRequest(method string) {
	e.grpcRequests.WithLabelValues(method).Inc()
}

// RecordDuration records a duration in Prometheus.
func (e *PrometheusExporter) RecordDuration(method string, durationSeconds float64) {
	e.grpcDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordError records an error with its gRPC status code.
func (e *PrometheusExporter) RecordError(method, code string) {
	e.grpcErrors.WithLabelValues(method, code).Inc()
}
