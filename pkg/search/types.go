package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/dd0wney/cluso-chatlink/pkg/cache"
)

// ErrNoInternet is surfaced when a remote search is attempted while the
// reachability signal reports the network unavailable
var ErrNoInternet = errors.New("No internet connection")

// ErrTimeout is returned when a single fetch attempt exceeds Config.Timeout
var ErrTimeout = errors.New("request timeout")

var errNoSearchKeys = errors.New("at least one search key is required in local mode")

// Item is one result record. Only the configured search keys and the
// unique key are interpreted; everything else passes through.
type Item map[string]any

// Field returns the string form of item[key], or "" when absent
func (it Item) Field(key string) string {
	v, ok := it[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// FetchRequest describes one page of remote results
type FetchRequest struct {
	Query    string
	Page     int
	PageSize int
	Filter   string
}

// Page is what a fetch function returns
type Page struct {
	Results []Item `json:"results"`
	HasMore bool   `json:"hasMore"`
	Total   int    `json:"total"`
}

// FetchFunc fetches a page of search results. It must honour ctx.
type FetchFunc func(ctx context.Context, req FetchRequest) (Page, error)

// Reachability reports whether the network is usable
type Reachability interface {
	Available() bool
}

// ReachabilityFunc adapts a function to Reachability
type ReachabilityFunc func() bool

func (f ReachabilityFunc) Available() bool { return f() }

// State is a read-only snapshot of the engine
type State struct {
	Query  string `json:"query"`
	Filter string `json:"filter,omitempty"`

	Results     []Item `json:"results"`
	Page        int    `json:"page"`
	HasMore     bool   `json:"hasMore"`
	Total       int    `json:"total"`
	Loading     bool   `json:"loading"`
	LoadingMore bool   `json:"loadingMore"`

	DefaultResults     []Item `json:"defaultResults"`
	DefaultPage        int    `json:"defaultPage"`
	HasMoreDefault     bool   `json:"hasMoreDefault"`
	LoadingDefault     bool   `json:"loadingDefault"`
	LoadingMoreDefault bool   `json:"loadingMoreDefault"`
	DefaultTotal       int    `json:"defaultTotal"`

	Error      string       `json:"error,omitempty"`
	CacheStats *cache.Stats `json:"cacheStats,omitempty"`
}

// Busy reports whether any load is in flight
func (s State) Busy() bool {
	return s.Loading || s.LoadingMore || s.LoadingDefault || s.LoadingMoreDefault
}
