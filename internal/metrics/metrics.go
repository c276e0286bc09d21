// Package metrics holds the prometheus collectors shared across
// subsystems. Collectors register on the default registry at init and
// are served by the ops router's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UpstreamRequests counts signed requests by host, method, and
	// response class (2xx, 4xx, 5xx, error).
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgebridge_upstream_requests_total",
			Help: "Signed upstream requests by host, method, and response class",
		},
		[]string{"host", "method", "class"},
	)

	// UpstreamLatency observes per-attempt latency of signed requests.
	UpstreamLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "edgebridge_upstream_request_seconds",
			Help:    "Latency of signed upstream requests",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"host", "method"},
	)

	// CacheRequests counts cache lookups by result: hit, stale, miss.
	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgebridge_cache_requests_total",
			Help: "Cache lookups by result",
		},
		[]string{"result"},
	)

	// CacheEvictions counts evictions by the policy that chose the victim.
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgebridge_cache_evictions_total",
			Help: "Cache evictions by policy",
		},
		[]string{"policy"},
	)

	// CacheEntries tracks the live entry count.
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "edgebridge_cache_entries",
			Help: "Live cache entries",
		},
	)

	// CacheBytes tracks the live value bytes, post-compression.
	CacheBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "edgebridge_cache_bytes",
			Help: "Live cache value bytes",
		},
	)

	// CacheRefreshes counts background soft-TTL refreshes by outcome.
	CacheRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgebridge_cache_refreshes_total",
			Help: "Background cache refreshes by outcome",
		},
		[]string{"result"},
	)

	// PurgeLatency observes purge batch round-trip latency by kind.
	PurgeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "edgebridge_purge_latency_seconds",
			Help:    "Purge batch submission latency",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"kind"},
	)

	// PurgeBatches counts batch submissions by result: success, retry,
	// failure, ratelimited.
	PurgeBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgebridge_purge_batches_total",
			Help: "Purge batch submissions by result",
		},
		[]string{"result"},
	)

	// PurgeQueueDepth tracks pending entries per tenant queue.
	PurgeQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "edgebridge_purge_queue_depth",
			Help: "Pending purge operations per tenant",
		},
		[]string{"tenant"},
	)

	// DeploymentTransitions counts certificate deployment state changes.
	DeploymentTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgebridge_deployment_transitions_total",
			Help: "Certificate deployment state transitions",
		},
		[]string{"to"},
	)

	// EventsDropped counts events dropped on slow subscriber buffers.
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgebridge_events_dropped_total",
			Help: "Events dropped because a subscriber buffer was full",
		},
		[]string{"topic"},
	)

	// BreakerTransitions counts circuit breaker movements per host.
	BreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgebridge_breaker_transitions_total",
			Help: "Circuit breaker state transitions per upstream host",
		},
		[]string{"host", "to"},
	)

	// ToolCalls counts tool dispatches by tool name and outcome:
	// ok, error, denied, unknown.
	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgebridge_tool_calls_total",
			Help: "Tool dispatches by tool and outcome",
		},
		[]string{"tool", "outcome"},
	)

	// HTTPRequests counts ops-surface requests by method, route pattern,
	// and status code.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgebridge_http_requests_total",
			Help: "HTTP requests by method, route, and status",
		},
		[]string{"method", "route", "status"},
	)
)
