package netstatus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-chatlink/pkg/logging"
	"github.com/dd0wney/cluso-chatlink/pkg/metrics"
)

func linkUp() (bool, string)   { return true, "eth0" }
func linkDown() (bool, string) { return false, "none" }

// probeServer answers HEAD requests with status(n) where n counts calls from 1
func probeServer(t *testing.T, status func(n int32) int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		w.WriteHeader(status(n))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newTestMonitor(t *testing.T, cfg Config, opts ...Option) *Monitor {
	t.Helper()
	opts = append([]Option{WithLogger(logging.NewNopLogger())}, opts...)
	m, err := NewMonitor(cfg, opts...)
	require.NoError(t, err)
	return m
}

func TestRefreshReachable(t *testing.T) {
	var method, cacheControl string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		cacheControl = r.Header.Get("Cache-Control")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	reg := metrics.NewRegistry()
	m := newTestMonitor(t, Config{ProbeURL: srv.URL}, WithLink(linkUp), WithMetrics(reg))

	assert.False(t, m.Available(), "nothing is available before the first check")
	assert.True(t, m.Refresh(context.Background()))

	s := m.Status()
	assert.True(t, s.Connected)
	assert.True(t, s.Reachable)
	assert.True(t, s.Available())
	assert.False(t, s.Retrying)
	assert.Equal(t, 0, s.RetryAttempts)
	assert.Equal(t, "eth0", s.Link)
	assert.False(t, s.LastChecked.IsZero())

	assert.Equal(t, http.MethodHead, method)
	assert.Equal(t, "no-cache", cacheControl)
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.NetworkReachable))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.NetworkProbes.WithLabelValues("reachable")))
}

func TestRefreshUnexpectedStatus(t *testing.T) {
	srv, _ := probeServer(t, func(int32) int { return http.StatusOK })
	reg := metrics.NewRegistry()
	m := newTestMonitor(t, Config{ProbeURL: srv.URL}, WithLink(linkUp), WithMetrics(reg))

	assert.False(t, m.Refresh(context.Background()))
	assert.False(t, m.Refresh(context.Background()))

	s := m.Status()
	assert.True(t, s.Connected)
	assert.False(t, s.Reachable)
	assert.Equal(t, 2, s.RetryAttempts)
	assert.Equal(t, 0.0, testutil.ToFloat64(reg.NetworkReachable))
	assert.Equal(t, 2.0, testutil.ToFloat64(reg.NetworkProbes.WithLabelValues("unreachable")))
}

func TestNoLinkSkipsProbe(t *testing.T) {
	srv, hits := probeServer(t, func(int32) int { return http.StatusNoContent })
	m := newTestMonitor(t, Config{ProbeURL: srv.URL}, WithLink(linkDown))

	assert.False(t, m.Refresh(context.Background()))
	assert.Equal(t, int32(0), hits.Load())
	assert.False(t, m.Status().Connected)
}

func TestProbeTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	m := newTestMonitor(t, Config{ProbeURL: srv.URL, ProbeTimeout: 20 * time.Millisecond}, WithLink(linkUp))

	start := time.Now()
	assert.False(t, m.Refresh(context.Background()))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestOfflineMode(t *testing.T) {
	srv, _ := probeServer(t, func(int32) int { return http.StatusNoContent })
	m := newTestMonitor(t, Config{ProbeURL: srv.URL}, WithLink(linkUp))
	require.True(t, m.Refresh(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := m.Subscribe(ctx)
	<-sub.Channel() // latest snapshot

	m.SetOfflineMode(true)
	assert.False(t, m.Available())
	select {
	case s := <-sub.Channel():
		assert.True(t, s.Offline)
		assert.True(t, s.Reachable)
	case <-time.After(time.Second):
		t.Fatal("offline change was not published")
	}

	m.SetOfflineMode(false)
	assert.True(t, m.Available())
}

func TestRetryDelay(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		retries int
		want    time.Duration
	}{
		{-1, 1 * time.Second},
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{9, 16 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cfg.RetryDelay(tt.retries), "retries=%d", tt.retries)
	}

	cfg.RetryBase = 4 * time.Second
	assert.Equal(t, 30*time.Second, cfg.RetryDelay(4), "capped at RetryMax")
}

func TestRunRetriesUntilReachable(t *testing.T) {
	srv, hits := probeServer(t, func(n int32) int {
		if n < 3 {
			return http.StatusServiceUnavailable
		}
		return http.StatusNoContent
	})
	m := newTestMonitor(t, Config{
		ProbeURL:      srv.URL,
		RetryBase:     5 * time.Millisecond,
		RetryMax:      20 * time.Millisecond,
		CheckInterval: time.Hour,
	}, WithLink(linkUp))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, m.Available, 2*time.Second, 2*time.Millisecond)
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, 0, m.Status().RetryAttempts)

	m.Recheck()
	require.Eventually(t, func() bool { return hits.Load() == 4 }, 2*time.Second, 2*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", DefaultConfig(), false},
		{"ftp probe", Config{ProbeURL: "ftp://example.com"}, true},
		{"base above max", Config{RetryBase: time.Minute, RetryMax: time.Second}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			cfg.ApplyDefaults()
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
