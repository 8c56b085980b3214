// Package metrics provides Prometheus metrics for the Jolokia MCP server.
// It tracks tool calls, Jolokia backend calls, catalog builds, the listing cache
// and classified failures.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const (
	Namespace = "jolokia_mcp"
)

var (
	// RequestsTotal counts total MCP tool calls by tool name and status
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "requests_total",
		Help:      "Total number of MCP tool calls",
	}, []string{"tool", "status"})

	// RequestDuration measures request latency distribution
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "request_duration_seconds",
		Help:      "Request latency distribution by tool",
		Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"tool"})

	// RequestInFlight tracks currently executing requests
	RequestInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "requests_in_flight",
		Help:      "Number of requests currently being processed",
	}, []string{"tool"})

	// CacheHits counts listing cache hits
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "cache_hits_total",
		Help:      "Total listing cache hit count",
	})

	// CacheMisses counts listing cache misses
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "cache_misses_total",
		Help:      "Total listing cache miss count",
	})

	// CacheSize tracks current cache entry count
	CacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "cache_entries",
		Help:      "Current number of cache entries",
	})

	// CacheEvictions counts cache evictions by reason
	CacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "cache_evictions_total",
		Help:      "Total cache eviction count by reason",
	}, []string{"reason"})

	// BackendLatency measures Jolokia backend call latency by request type
	BackendLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "backend_latency_seconds",
		Help:      "Jolokia backend call latency by request type",
		Buckets:   prometheus.DefBuckets,
	}, []string{"type"})

	// BackendRequestsTotal counts Jolokia backend requests
	BackendRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "backend_requests_total",
		Help:      "Total Jolokia backend requests by type and status",
	}, []string{"type", "status"})

	// BackendErrors counts Jolokia error answers by remote error type
	BackendErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "backend_errors_total",
		Help:      "Jolokia backend errors by request type and remote error type",
	}, []string{"type", "error_type"})

	// BackendRetries counts backend request retries
	BackendRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "backend_retries_total",
		Help:      "Jolokia backend retry count",
	})

	// CircuitState tracks the backend circuit breaker (0 closed, 1 open, 2 half-open)
	CircuitState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "circuit_state",
		Help:      "Backend circuit breaker state (0 closed, 1 open, 2 half-open)",
	})

	// CatalogBuilds counts catalog rebuilds by outcome
	CatalogBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "catalog_builds_total",
		Help:      "Catalog rebuilds by status",
	}, []string{"status"})

	// CatalogBuildDuration measures catalog rebuild time, listing included
	CatalogBuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "catalog_build_duration_seconds",
		Help:      "Catalog rebuild latency including the backend listing",
		Buckets:   prometheus.DefBuckets,
	})

	// CatalogTools tracks the number of generated tools
	CatalogTools = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "catalog_tools",
		Help:      "Number of generated tools in the published catalog",
	})

	// CatalogResources tracks the number of MBeans in the published catalog
	CatalogResources = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "catalog_mbeans",
		Help:      "Number of MBeans in the published catalog",
	})

	// ClassifiedErrors counts classified failures by status and kind
	ClassifiedErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "classified_errors_total",
		Help:      "Failures returned to callers by status and kind",
	}, []string{"status", "kind"})

	// PanicsRecovered counts recovered panics
	PanicsRecovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "panics_recovered_total",
		Help:      "Number of panics recovered in tool handlers",
	}, []string{"tool"})

	// HTTPRequestsTotal counts HTTP transport requests
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method and status",
	}, []string{"method", "status"})

	// HTTPRequestDuration measures HTTP request latency
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency distribution",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path"})

	// ContentSize tracks result sizes returned to callers
	ContentSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "content_size_bytes",
		Help:      "Result size distribution in bytes",
		Buckets:   []float64{100, 1000, 10000, 50000, 100000, 250000, 500000, 1000000},
	}, []string{"tool"})
)

// RecordRequest records a completed request with its duration and status
func RecordRequest(tool string, duration float64, success bool) {
	RequestsTotal.WithLabelValues(tool, statusLabel(success)).Inc()
	RequestDuration.WithLabelValues(tool).Observe(duration)
}

// RecordBackendCall records a Jolokia backend call. errorType is the remote
// error class, empty on success or transport failures.
func RecordBackendCall(requestType string, duration float64, success bool, errorType string) {
	BackendRequestsTotal.WithLabelValues(requestType, statusLabel(success)).Inc()
	BackendLatency.WithLabelValues(requestType).Observe(duration)
	if errorType != "" {
		BackendErrors.WithLabelValues(requestType, errorType).Inc()
	}
}

// RecordCacheAccess records a cache hit or miss
func RecordCacheAccess(hit bool) {
	if hit {
		CacheHits.Inc()
	} else {
		CacheMisses.Inc()
	}
}

// SetCacheSize updates the current cache size gauge
func SetCacheSize(size int64) {
	CacheSize.Set(float64(size))
}

// RecordCatalogBuild records a catalog rebuild.
func RecordCatalogBuild(duration float64, success bool, tools, resources int) {
	CatalogBuilds.WithLabelValues(statusLabel(success)).Inc()
	CatalogBuildDuration.Observe(duration)
	if success {
		CatalogTools.Set(float64(tools))
		CatalogResources.Set(float64(resources))
	}
}

// RecordClassifiedError records a failure returned to a caller.
func RecordClassifiedError(status int, kind string) {
	ClassifiedErrors.WithLabelValues(strconv.Itoa(status), kind).Inc()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
