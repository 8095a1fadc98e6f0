package restclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-chatlink/pkg/logging"
	"github.com/dd0wney/cluso-chatlink/pkg/search"
)

// recorder keeps the last request the server saw
type recorder struct {
	mu   sync.Mutex
	last *http.Request
}

func (rec *recorder) request() *http.Request {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.last
}

// apiServer answers with handler and records each request
func apiServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*Client, *recorder) {
	t.Helper()
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.mu.Lock()
		rec.last = r.Clone(context.Background())
		rec.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{BaseURL: srv.URL + "/api/"},
		WithToken(StaticToken("tok")),
		WithLogger(logging.NewNopLogger()))
	require.NoError(t, err)
	return c, rec
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestSearchContacts(t *testing.T) {
	c, rec := apiServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"data": []map[string]any{{"id": 1, "name": "Ali"}, {"id": 2, "name": "Alina"}},
		})
	})

	page, err := c.SearchContacts(context.Background(), search.FetchRequest{Query: " ali ", Page: 1, PageSize: 2})
	require.NoError(t, err)

	last := rec.request()
	assert.Equal(t, "/api/search/contact", last.URL.Path)
	assert.Equal(t, "ali", last.URL.Query().Get("search_query"))
	assert.Equal(t, "Bearer tok", last.Header.Get("Authorization"))

	require.Len(t, page.Results, 2)
	assert.Equal(t, "Alina", page.Results[1].Field("name"))
	assert.True(t, page.HasMore, "a full page implies more")
	assert.Equal(t, 2, page.Total)
}

func TestMessageSearch(t *testing.T) {
	c, rec := apiServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"data": []map[string]any{{"id": "m1"}}})
	})

	fetch := c.MessageSearch("2026-10-01")
	page, err := fetch(context.Background(), search.FetchRequest{Query: "invoice", Page: 1, PageSize: 20, Filter: "Follow Up"})
	require.NoError(t, err)

	last := rec.request()
	q := last.URL.Query()
	assert.Equal(t, "/api/search/message", last.URL.Path)
	assert.Equal(t, "invoice", q.Get("search_query"))
	assert.Equal(t, "Follow Up", q.Get("action"))
	assert.Equal(t, "2026-10-01", q.Get("status_date"))
	assert.False(t, page.HasMore)
	assert.Len(t, page.Results, 1)
}

func TestListContacts(t *testing.T) {
	c, rec := apiServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  true,
			"message": []map[string]any{{"id": 7, "name": "Zoe"}},
		})
	})

	page, err := c.ListContacts(context.Background(), search.FetchRequest{Page: 3, PageSize: 20})
	require.NoError(t, err)

	last := rec.request()
	q := last.URL.Query()
	assert.Equal(t, "/api/contacts", last.URL.Path)
	assert.Equal(t, "3", q.Get("page"))
	assert.Equal(t, "20", q.Get("limit"))
	assert.Equal(t, "", q.Get("category"))
	require.Len(t, page.Results, 1)
	assert.Equal(t, "Zoe", page.Results[0].Field("name"))
}

func TestEmptyResponses(t *testing.T) {
	c, _ := apiServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"message": "no contacts"})
	})

	page, err := c.ListContacts(context.Background(), search.FetchRequest{Page: 1, PageSize: 20})
	require.NoError(t, err)
	assert.NotNil(t, page.Results)
	assert.Empty(t, page.Results)

	page, err = c.SearchContacts(context.Background(), search.FetchRequest{Query: "x", Page: 1, PageSize: 20})
	require.NoError(t, err)
	assert.Empty(t, page.Results)
	assert.False(t, page.HasMore)
}

func TestAPIErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    any
		wantMsg string
	}{
		{"unauthorized with message", http.StatusUnauthorized, map[string]any{"message": "token expired"}, "api error: 401 token expired"},
		{"server error without body", http.StatusInternalServerError, nil, "api error: 500 Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := apiServer(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.body == nil {
					w.WriteHeader(tt.status)
					return
				}
				writeJSON(w, tt.status, tt.body)
			})

			_, err := c.SearchContacts(context.Background(), search.FetchRequest{Query: "a", PageSize: 20})
			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.wantMsg, err.Error())
		})
	}
}

func TestCanceledRequest(t *testing.T) {
	c, _ := apiServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	_, err := c.SearchContacts(ctx, search.FetchRequest{Query: "a", PageSize: 20})
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestTokenReadPerRequest(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get("Authorization"))
		mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"data": []any{}})
	}))
	defer srv.Close()

	token := "first"
	c, err := NewClient(Config{BaseURL: srv.URL},
		WithToken(func() string { return token }),
		WithLogger(logging.NewNopLogger()))
	require.NoError(t, err)

	_, err = c.SearchContacts(context.Background(), search.FetchRequest{Query: "a"})
	require.NoError(t, err)
	token = ""
	_, err = c.SearchContacts(context.Background(), search.FetchRequest{Query: "a"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"Bearer first", ""}, seen)
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "not a url"})
	assert.Error(t, err)
}

func TestEngineWithRESTFetch(t *testing.T) {
	c, _ := apiServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"data": []map[string]any{{"id": 1, "name": r.URL.Query().Get("search_query")}},
		})
	})

	cfg := search.DefaultConfig()
	cfg.Mode = search.ModeRemote
	cfg.DebounceDelay = time.Millisecond
	engine, err := search.New(cfg,
		search.WithFetch(c.SearchContacts),
		search.WithLogger(logging.NewNopLogger()))
	require.NoError(t, err)
	defer engine.Close()

	engine.SetQuery("ali")
	require.Eventually(t, func() bool {
		s := engine.State()
		return !s.Loading && len(s.Results) == 1
	}, 2*time.Second, 2*time.Millisecond)
	assert.Equal(t, "ali", engine.State().Results[0].Field("name"))
}
