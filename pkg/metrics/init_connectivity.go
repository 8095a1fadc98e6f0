package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initConnectivityMetrics() {
	r.ConnectionState = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "1 for the current connection status, 0 for the others",
		},
		[]string{"status"}, // disconnected, connecting, connected
	)

	r.ConnectAttemptsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Dial attempts against the real-time endpoint",
		},
		[]string{"result"}, // success, failure
	)

	r.ReconnectsScheduled = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_scheduled_total",
			Help:      "Automatic reconnects scheduled after a failure or drop",
		},
	)

	r.ReconnectAttempts = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts",
			Help:      "Consecutive failed connect cycles since the last success",
		},
	)

	r.HeartbeatLatency = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "heartbeat_latency_seconds",
			Help:      "Round trip of the ping/pong heartbeat",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	r.HeartbeatFailuresTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeat_failures_total",
			Help:      "Heartbeats that timed out or returned an error",
		},
	)

	r.EventsEmittedTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_emitted_total",
			Help:      "Outbound events by outcome",
		},
		[]string{"result"}, // sent, queued, rejected
	)

	r.EventsReplayedTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_replayed_total",
			Help:      "Queued events delivered after a reconnect",
		},
	)

	r.EventQueueDepth = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_queue_depth",
			Help:      "Events waiting for a connection",
		},
	)

	r.RequestsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Correlated requests by terminal outcome",
		},
		[]string{"outcome"}, // success, error, timeout, disconnected
	)

	r.RequestDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from send to terminal outcome of correlated requests",
			Buckets:   prometheus.DefBuckets,
		},
	)

	r.PendingRequests = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_requests",
			Help:      "Correlated requests awaiting a response",
		},
	)

	r.NamespacesConnected = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "namespaces_connected",
			Help:      "Secondary namespace connections currently open",
		},
	)
}
