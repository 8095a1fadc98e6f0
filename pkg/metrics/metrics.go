package metrics

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Every recorder is safe to call on a nil *Registry so components can run
// without metrics wired in.

var connectionStatuses = []string{"disconnected", "connecting", "connected"}

// SetConnectionState marks status as the current connection status
func (r *Registry) SetConnectionState(status string) {
	if r == nil {
		return
	}
	for _, s := range connectionStatuses {
		v := 0.0
		if s == status {
			v = 1
		}
		r.ConnectionState.WithLabelValues(s).Set(v)
	}
}

// RecordConnectAttempt records the result of one dial
func (r *Registry) RecordConnectAttempt(success bool, attempts int) {
	if r == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	r.ConnectAttemptsTotal.WithLabelValues(result).Inc()
	r.ReconnectAttempts.Set(float64(attempts))
}

// RecordReconnectScheduled counts an automatic reconnect
func (r *Registry) RecordReconnectScheduled() {
	if r == nil {
		return
	}
	r.ReconnectsScheduled.Inc()
}

// RecordHeartbeat records a heartbeat round trip, or a failure when err is non-nil
func (r *Registry) RecordHeartbeat(latency time.Duration, err error) {
	if r == nil {
		return
	}
	if err != nil {
		r.HeartbeatFailuresTotal.Inc()
		return
	}
	r.HeartbeatLatency.Observe(latency.Seconds())
}

// RecordEmit records an outbound event outcome and the resulting queue depth
func (r *Registry) RecordEmit(result string, queueDepth int) {
	if r == nil {
		return
	}
	r.EventsEmittedTotal.WithLabelValues(result).Inc()
	r.EventQueueDepth.Set(float64(queueDepth))
}

// SetQueueDepth sets the offline queue gauge
func (r *Registry) SetQueueDepth(n int) {
	if r == nil {
		return
	}
	r.EventQueueDepth.Set(float64(n))
}

// RecordReplay records n queued events delivered after a reconnect
func (r *Registry) RecordReplay(n int) {
	if r == nil {
		return
	}
	r.EventsReplayedTotal.Add(float64(n))
	r.EventQueueDepth.Set(0)
}

// RecordRequest records the terminal outcome of a correlated request
func (r *Registry) RecordRequest(outcome string, elapsed time.Duration, pending int) {
	if r == nil {
		return
	}
	r.RequestsTotal.WithLabelValues(outcome).Inc()
	if elapsed > 0 {
		r.RequestDuration.Observe(elapsed.Seconds())
	}
	r.PendingRequests.Set(float64(pending))
}

// SetPendingRequests sets the pending request gauge
func (r *Registry) SetPendingRequests(n int) {
	if r == nil {
		return
	}
	r.PendingRequests.Set(float64(n))
}

// SetNamespacesConnected sets the open namespace gauge
func (r *Registry) SetNamespacesConnected(n int) {
	if r == nil {
		return
	}
	r.NamespacesConnected.Set(float64(n))
}

// RecordSearchCycle records a committed search cycle
func (r *Registry) RecordSearchCycle(mode, source string) {
	if r == nil {
		return
	}
	r.SearchCyclesTotal.WithLabelValues(mode, source).Inc()
}

// RecordFetch records a remote fetch including its retries
func (r *Registry) RecordFetch(kind string, duration time.Duration, retries int) {
	if r == nil {
		return
	}
	r.SearchFetchDuration.WithLabelValues(kind).Observe(duration.Seconds())
	if retries > 0 {
		r.SearchRetriesTotal.Add(float64(retries))
	}
}

// RecordSearchError records a search cycle that surfaced an error
func (r *Registry) RecordSearchError(reason string) {
	if r == nil {
		return
	}
	r.SearchErrorsTotal.WithLabelValues(reason).Inc()
}

// RecordStale records a discarded stale response
func (r *Registry) RecordStale() {
	if r == nil {
		return
	}
	r.SearchStaleTotal.Inc()
}

// RecordCacheLookup records a cache hit or miss
func (r *Registry) RecordCacheLookup(hit bool) {
	if r == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	r.CacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordCacheStats records the result of a cache stats pass and any evictions
func (r *Registry) RecordCacheStats(valid, expired, evicted int) {
	if r == nil {
		return
	}
	r.CacheEntries.WithLabelValues("valid").Set(float64(valid))
	r.CacheEntries.WithLabelValues("expired").Set(float64(expired))
	if evicted > 0 {
		r.CacheEvictionsTotal.Add(float64(evicted))
	}
}

// RecordProbe records a reachability probe
func (r *Registry) RecordProbe(reachable bool) {
	if r == nil {
		return
	}
	if reachable {
		r.NetworkReachable.Set(1)
		r.NetworkProbes.WithLabelValues("reachable").Inc()
		return
	}
	r.NetworkReachable.Set(0)
	r.NetworkProbes.WithLabelValues("unreachable").Inc()
}

// RecordHTTPRequest records a request served by the agent
func (r *Registry) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if r == nil {
		return
	}
	r.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateSystemMetrics refreshes uptime and goroutine gauges
func (r *Registry) UpdateSystemMetrics() {
	if r == nil {
		return
	}
	r.UptimeSeconds.Set(time.Since(r.startedAt).Seconds())
	r.GoRoutines.Set(float64(runtime.NumGoroutine()))
}

// Handler serves the registry in the Prometheus exposition format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Instrument wraps next and records method, path and status for every request
func (r *Registry) Instrument(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)
		r.RecordHTTPRequest(req.Method, path, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
