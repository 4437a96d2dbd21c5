// Package metrics exposes Prometheus metrics for filesystem
// operations, cache effectiveness and mount-table size.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/containerfs/containerfs/pkg/types"
)

// Collector records operation and cache metrics on its own registry,
// so tests and embedders never collide with the global one.
type Collector struct {
	registry *prometheus.Registry

	operations  *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	mounted     prometheus.Gauge
}

// NewCollector creates and registers the metric set.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "containerfs",
			Name:      "operations_total",
			Help:      "Filesystem operations by name and outcome.",
		}, []string{"operation", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "containerfs",
			Name:      "operation_duration_seconds",
			Help:      "Filesystem operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "containerfs",
			Name:      "cache_hits_total",
			Help:      "Metadata cache hits by operation.",
		}, []string{"operation"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "containerfs",
			Name:      "cache_misses_total",
			Help:      "Metadata cache misses by operation.",
		}, []string{"operation"}),
		mounted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "containerfs",
			Name:      "mounted_containers",
			Help:      "Number of currently mounted containers.",
		}),
	}

	c.registry.MustRegister(c.operations, c.duration, c.cacheHits, c.cacheMisses, c.mounted)
	return c
}

// RecordOperation counts one filesystem operation and its latency.
func (c *Collector) RecordOperation(op string, seconds float64, success bool) {
	status := "ok"
	if !success {
		status = "error"
	}
	c.operations.WithLabelValues(op, status).Inc()
	c.duration.WithLabelValues(op).Observe(seconds)
}

// RecordCacheHit counts a metadata cache hit.
func (c *Collector) RecordCacheHit(op string) {
	c.cacheHits.WithLabelValues(op).Inc()
}

// RecordCacheMiss counts a metadata cache miss.
func (c *Collector) RecordCacheMiss(op string) {
	c.cacheMisses.WithLabelValues(op).Inc()
}

// SetMountedContainers tracks the mount-table size.
func (c *Collector) SetMountedContainers(n int) {
	c.mounted.Set(float64(n))
}

// Handler returns an http.Handler serving the collector's registry.
// The daemon mounts it next to the health endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

var _ types.MetricsRecorder = (*Collector)(nil)
