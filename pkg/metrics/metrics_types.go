package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chatlink"

// Registry holds all metrics for the application
type Registry struct {
	// Connectivity Metrics
	ConnectionState        *prometheus.GaugeVec
	ConnectAttemptsTotal   *prometheus.CounterVec
	ReconnectsScheduled    prometheus.Counter
	ReconnectAttempts      prometheus.Gauge
	HeartbeatLatency       prometheus.Histogram
	HeartbeatFailuresTotal prometheus.Counter
	EventsEmittedTotal     *prometheus.CounterVec
	EventsReplayedTotal    prometheus.Counter
	EventQueueDepth        prometheus.Gauge
	RequestsTotal          *prometheus.CounterVec
	RequestDuration        prometheus.Histogram
	PendingRequests        prometheus.Gauge
	NamespacesConnected    prometheus.Gauge

	// Search Metrics
	SearchCyclesTotal   *prometheus.CounterVec
	SearchFetchDuration *prometheus.HistogramVec
	SearchRetriesTotal  prometheus.Counter
	SearchErrorsTotal   *prometheus.CounterVec
	SearchStaleTotal    prometheus.Counter
	CacheLookupsTotal   *prometheus.CounterVec
	CacheEvictionsTotal prometheus.Counter
	CacheEntries        *prometheus.GaugeVec

	// Network Metrics
	NetworkReachable prometheus.Gauge
	NetworkProbes    *prometheus.CounterVec

	// HTTP Metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// System Metrics
	UptimeSeconds prometheus.Gauge
	GoRoutines    prometheus.Gauge

	registry  *prometheus.Registry
	startedAt time.Time
}

var (
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the process-wide metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	r := &Registry{
		registry:  prometheus.NewRegistry(),
		startedAt: time.Now(),
	}

	r.initConnectivityMetrics()
	r.initSearchMetrics()
	r.initNetworkMetrics()
	r.initHTTPMetrics()
	r.initSystemMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}
