package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	if r.ConnectionState == nil || r.SearchCyclesTotal == nil || r.CacheLookupsTotal == nil {
		t.Fatal("metrics not initialized")
	}
	if r.GetPrometheusRegistry() == nil {
		t.Fatal("prometheus registry not initialized")
	}
}

func TestDefaultRegistry(t *testing.T) {
	if DefaultRegistry() != DefaultRegistry() {
		t.Error("DefaultRegistry() should return the same instance")
	}
}

func TestNilRegistryIsSafe(t *testing.T) {
	var r *Registry
	r.SetConnectionState("connected")
	r.RecordConnectAttempt(true, 0)
	r.RecordHeartbeat(time.Millisecond, nil)
	r.RecordEmit("sent", 0)
	r.RecordRequest("success", time.Millisecond, 0)
	r.RecordSearchCycle("remote", "fetch")
	r.RecordCacheLookup(true)
	r.RecordProbe(true)
	r.UpdateSystemMetrics()
}

func TestSetConnectionState(t *testing.T) {
	r := NewRegistry()
	r.SetConnectionState("connecting")
	r.SetConnectionState("connected")

	if got := testutil.ToFloat64(r.ConnectionState.WithLabelValues("connected")); got != 1 {
		t.Errorf("connected = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.ConnectionState.WithLabelValues("connecting")); got != 0 {
		t.Errorf("connecting = %v, want 0", got)
	}
}

func TestConnectivityRecorders(t *testing.T) {
	r := NewRegistry()

	r.RecordConnectAttempt(false, 1)
	r.RecordConnectAttempt(false, 2)
	r.RecordReconnectScheduled()
	r.RecordEmit("queued", 3)
	r.RecordReplay(3)
	r.RecordRequest("timeout", 10*time.Second, 0)
	r.RecordHeartbeat(0, errors.New("timeout"))

	if got := testutil.ToFloat64(r.ConnectAttemptsTotal.WithLabelValues("failure")); got != 2 {
		t.Errorf("failures = %v", got)
	}
	if got := testutil.ToFloat64(r.ReconnectAttempts); got != 2 {
		t.Errorf("attempts gauge = %v", got)
	}
	if got := testutil.ToFloat64(r.EventsReplayedTotal); got != 3 {
		t.Errorf("replayed = %v", got)
	}
	if got := testutil.ToFloat64(r.EventQueueDepth); got != 0 {
		t.Errorf("queue depth = %v", got)
	}
	if got := testutil.ToFloat64(r.RequestsTotal.WithLabelValues("timeout")); got != 1 {
		t.Errorf("timeouts = %v", got)
	}
	if got := testutil.ToFloat64(r.HeartbeatFailuresTotal); got != 1 {
		t.Errorf("heartbeat failures = %v", got)
	}
}

func TestSearchRecorders(t *testing.T) {
	r := NewRegistry()

	r.RecordCacheLookup(true)
	r.RecordCacheLookup(false)
	r.RecordCacheLookup(false)
	r.RecordFetch("search", 200*time.Millisecond, 2)
	r.RecordCacheStats(4, 9, 9)

	if got := testutil.ToFloat64(r.CacheLookupsTotal.WithLabelValues("miss")); got != 2 {
		t.Errorf("misses = %v", got)
	}
	if got := testutil.ToFloat64(r.SearchRetriesTotal); got != 2 {
		t.Errorf("retries = %v", got)
	}
	if got := testutil.ToFloat64(r.CacheEvictionsTotal); got != 9 {
		t.Errorf("evictions = %v", got)
	}
}

func TestHandlerAndInstrument(t *testing.T) {
	r := NewRegistry()
	h := r.Instrument("/status", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if got := testutil.ToFloat64(r.HTTPRequestsTotal.WithLabelValues("GET", "/status", "503")); got != 1 {
		t.Errorf("http requests = %v", got)
	}

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "chatlink_http_requests_total") {
		t.Error("exposition should include chatlink_http_requests_total")
	}
}
