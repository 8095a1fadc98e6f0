package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-chatlink/pkg/config"
	"github.com/dd0wney/cluso-chatlink/pkg/connectivity"
	"github.com/dd0wney/cluso-chatlink/pkg/logging"
	"github.com/dd0wney/cluso-chatlink/pkg/metrics"
	"github.com/dd0wney/cluso-chatlink/pkg/netstatus"
	"github.com/dd0wney/cluso-chatlink/pkg/search"
)

// testAgent builds an agent in local search mode whose manager has no
// session, so nothing is dialed
func testAgent(t *testing.T) (*agent, http.Handler) {
	t.Helper()
	logger := logging.NewNopLogger()
	reg := metrics.NewRegistry()

	probe := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(probe.Close)

	cfg := config.Default()
	cfg.Endpoint = "ws://127.0.0.1:1"
	cfg.Network.ProbeURL = probe.URL

	monitor, err := netstatus.NewMonitor(cfg.NetworkConfig(),
		netstatus.WithLogger(logger),
		netstatus.WithLink(func() (bool, string) { return true, "test0" }))
	require.NoError(t, err)
	require.True(t, monitor.Refresh(context.Background()))

	dialer := connectivity.DialerFunc(func(ctx context.Context, req connectivity.DialRequest) (connectivity.Conn, error) {
		return nil, errors.New("dial refused")
	})
	manager, err := connectivity.New(cfg.ConnectivityConfig(), dialer, connectivity.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	a, err := newAgent(cfg, manager, monitor, reg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	return a, a.routes()
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatusEndpoint(t *testing.T) {
	_, h := testAgent(t)

	rec := do(t, h, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, connectivity.StatusDisconnected, resp.Connection.Status)
	assert.True(t, resp.Network.Reachable)
	assert.True(t, resp.Available)
}

func TestEmitEndpoint(t *testing.T) {
	a, h := testAgent(t)

	rec := do(t, h, http.MethodPost, "/emit", `{"event":"typing","data":{"chatId":1}}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"queued"`)
	assert.Equal(t, 1, a.manager.State().QueuedEvents)

	rec = do(t, h, http.MethodPost, "/emit", `{"event":"typing","noQueue":true}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, h, http.MethodPost, "/emit", `{"data":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/emit", `{"event":"x","timeout":"soon"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLocalSearchEndpoints(t *testing.T) {
	_, h := testAgent(t)

	rec := do(t, h, http.MethodPut, "/search/data", `[{"id":1,"name":"Ali"},{"id":2,"name":"Alina"},{"id":3,"name":"Bob"}]`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/search?q=ali", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var state search.State
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&state))
	assert.Equal(t, "ali", state.Query)
	require.Len(t, state.Results, 2)
	assert.Equal(t, "Ali", state.Results[0].Field("name"))
	assert.False(t, state.HasMore)
}

func TestOfflineEndpoint(t *testing.T) {
	a, h := testAgent(t)

	rec := do(t, h, http.MethodPut, "/offline", `{"active":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, a.monitor.Available())

	rec = do(t, h, http.MethodPut, "/offline", `{"active":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, a.monitor.Available())
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	a, h := testAgent(t)

	rec := do(t, h, http.MethodGet, "/health/live", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "not ready without a connection")

	do(t, h, http.MethodGet, "/status", "")
	assert.Equal(t, 1.0, testutil.ToFloat64(a.metrics.HTTPRequestsTotal.WithLabelValues("GET", "/status", "200")))

	rec = do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chatlink_http_requests_total")
}
