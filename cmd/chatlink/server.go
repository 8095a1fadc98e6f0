package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dd0wney/cluso-chatlink/pkg/connectivity"
	"github.com/dd0wney/cluso-chatlink/pkg/logging"
	"github.com/dd0wney/cluso-chatlink/pkg/netstatus"
	"github.com/dd0wney/cluso-chatlink/pkg/search"
)

// settleTimeout bounds how long a search endpoint waits for the engine
const settleTimeout = 30 * time.Second

type statusResponse struct {
	Connection connectivity.State `json:"connection"`
	Network    netstatus.Status   `json:"network"`
	Available  bool               `json:"available"`
	Search     search.State       `json:"search"`
}

type emitRequest struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Namespace string          `json:"namespace,omitempty"`
	// Await sends a correlated request and waits for its response
	Await   bool   `json:"await,omitempty"`
	Timeout string `json:"timeout,omitempty"`
	NoQueue bool   `json:"noQueue,omitempty"`
}

type emitResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
}

func (a *agent) routes() http.Handler {
	mux := http.NewServeMux()

	handle := func(pattern, path string, h http.HandlerFunc) {
		mux.Handle(pattern, a.metrics.Instrument(path, h))
	}

	handle("GET /status", "/status", a.handleStatus)
	handle("POST /emit", "/emit", a.handleEmit)
	handle("POST /reconnect", "/reconnect", a.handleReconnect)
	handle("PUT /offline", "/offline", a.handleOffline)
	handle("GET /search", "/search", a.handleSearch)
	handle("POST /search/more", "/search/more", a.handleLoadMore)
	handle("GET /search/default", "/search/default", a.handleDefault)
	handle("PUT /search/data", "/search/data", a.handleLocalData)
	handle("DELETE /search/cache", "/search/cache", a.handleClearCache)

	a.health.Register(mux)
	mux.Handle("GET /metrics", a.metrics.Handler())
	return mux
}

func (a *agent) handleStatus(w http.ResponseWriter, r *http.Request) {
	network := a.monitor.Status()
	writeJSON(w, http.StatusOK, statusResponse{
		Connection: a.manager.State(),
		Network:    network,
		Available:  network.Available(),
		Search:     a.engine.State(),
	})
}

func (a *agent) handleEmit(w http.ResponseWriter, r *http.Request) {
	var req emitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Event == "" {
		writeError(w, http.StatusBadRequest, "event is required")
		return
	}

	var opts []connectivity.CallOption
	if req.Namespace != "" {
		opts = append(opts, connectivity.WithNamespace(req.Namespace))
	}
	if req.NoQueue {
		opts = append(opts, connectivity.WithoutQueue())
	}
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid timeout: "+err.Error())
			return
		}
		opts = append(opts, connectivity.WithTimeout(d))
	}

	var payload any
	if len(req.Data) > 0 {
		payload = req.Data
	}

	if !req.Await {
		status, err := a.manager.Emit(req.Event, payload, opts...)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		code := http.StatusOK
		if status == connectivity.EmitQueued {
			code = http.StatusAccepted
		}
		writeJSON(w, code, emitResponse{Status: status.String()})
		return
	}

	data, err := a.manager.Request(req.Event, payload, opts...).Wait(r.Context())
	if err != nil {
		var remote *connectivity.RemoteError
		switch {
		case errors.As(err, &remote):
			writeError(w, http.StatusBadGateway, err.Error())
		case errors.Is(err, connectivity.ErrRequestTimeout):
			writeError(w, http.StatusGatewayTimeout, err.Error())
		default:
			writeError(w, http.StatusServiceUnavailable, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, emitResponse{Status: "ok", Data: data})
}

func (a *agent) handleReconnect(w http.ResponseWriter, r *http.Request) {
	a.manager.Reconnect()
	writeJSON(w, http.StatusAccepted, a.manager.State())
}

func (a *agent) handleOffline(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	a.monitor.SetOfflineMode(body.Active)
	writeJSON(w, http.StatusOK, a.monitor.Status())
}

// handleSearch sets the query (and filter), skips the debounce and waits
// for the cycle to settle
func (a *agent) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Has("filter") {
		a.engine.SetFilter(q.Get("filter"))
	}
	a.engine.SetQuery(q.Get("q"))
	a.engine.Flush()
	a.writeSettled(w, r)
}

func (a *agent) handleLoadMore(w http.ResponseWriter, r *http.Request) {
	a.engine.LoadMore()
	a.writeSettled(w, r)
}

func (a *agent) handleDefault(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("more") == "true" {
		a.engine.LoadMoreDefault()
	} else {
		a.engine.LoadDefault()
	}
	a.writeSettled(w, r)
}

func (a *agent) handleLocalData(w http.ResponseWriter, r *http.Request) {
	var items []search.Item
	if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	a.engine.SetLocalData(items)
	a.logger.Info("local search data replaced", logging.Count(len(items)))
	a.writeSettled(w, r)
}

func (a *agent) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.ClearCache(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeSettled waits until the engine is idle and writes its state
func (a *agent) writeSettled(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), settleTimeout)
	defer cancel()

	state := a.engine.State()
	if state.Busy() {
		sub := a.engine.Subscribe(ctx)
		defer sub.Unsubscribe()
		for s := range sub.Channel() {
			state = s
			if !s.Busy() {
				break
			}
		}
	}
	if state.Busy() {
		writeError(w, http.StatusGatewayTimeout, "search did not settle")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
