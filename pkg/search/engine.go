// Package search turns a text query into paginated results drawn either
// from local data or from a remote fetch function. Queries are debounced,
// remote pages are cached with a TTL and retried with linear backoff, and
// responses to superseded queries are discarded. A separately paginated
// default listing serves the unqueried view.
package search

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dd0wney/cluso-chatlink/pkg/cache"
	"github.com/dd0wney/cluso-chatlink/pkg/logging"
	"github.com/dd0wney/cluso-chatlink/pkg/metrics"
	"github.com/dd0wney/cluso-chatlink/pkg/pubsub"
)

// Engine owns one search view: the query, its result pages and the
// default listing.
type Engine struct {
	cfg          Config
	fetch        FetchFunc
	fetchDefault FetchFunc
	filterFn     FilterFunc
	transform    TransformFunc
	cache        *cache.Cache
	reach        Reachability
	logger       logging.Logger
	metrics      *metrics.Registry
	broker       *pubsub.Broker[State]

	onResults     []func(results []Item, query string)
	onError       []func(msg string)
	onInitialLoad []func(results []Item, total int)

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	state         State
	source        []Item
	debounce      *time.Timer
	debounceGen   uint64
	searchGen     uint64
	searchCancel  context.CancelFunc
	defaultGen    uint64
	defaultCancel context.CancelFunc
	stopMaint     chan struct{}
	closed        bool

	wg sync.WaitGroup
}

// Option configures an Engine
type Option func(*Engine)

// WithFetch sets the remote search function (required in remote mode)
func WithFetch(fn FetchFunc) Option {
	return func(e *Engine) { e.fetch = fn }
}

// WithDefaultFetch sets the remote default-listing function. Query is
// always empty in its requests.
func WithDefaultFetch(fn FetchFunc) Option {
	return func(e *Engine) { e.fetchDefault = fn }
}

// WithLocalData sets the source items for local mode
func WithLocalData(items []Item) Option {
	return func(e *Engine) { e.source = append([]Item(nil), items...) }
}

func WithFilterFunc(fn FilterFunc) Option {
	return func(e *Engine) { e.filterFn = fn }
}

func WithTransform(fn TransformFunc) Option {
	return func(e *Engine) { e.transform = fn }
}

// WithCache supplies the result cache. Without it, remote mode with
// EnableCache uses an in-memory cache.
func WithCache(c *cache.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

func WithReachability(r Reachability) Option {
	return func(e *Engine) { e.reach = r }
}

func WithLogger(logger logging.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithMetrics(r *metrics.Registry) Option {
	return func(e *Engine) { e.metrics = r }
}

// OnResults is called with each committed page of query results
func OnResults(fn func(results []Item, query string)) Option {
	return func(e *Engine) { e.onResults = append(e.onResults, fn) }
}

// OnError is called when a load fails after its retries
func OnError(fn func(msg string)) Option {
	return func(e *Engine) { e.onError = append(e.onError, fn) }
}

// OnInitialLoad is called with each committed page of the default listing
func OnInitialLoad(fn func(results []Item, total int)) Option {
	return func(e *Engine) { e.onInitialLoad = append(e.onInitialLoad, fn) }
}

// New creates an engine. The default listing is not loaded until
// LoadDefault is called.
func New(cfg Config, opts ...Option) (*Engine, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:    cfg,
		logger: logging.DefaultLogger(),
		broker: pubsub.NewBroker[State](),
	}
	for _, opt := range opts {
		opt(e)
	}
	if cfg.Mode == ModeRemote && e.fetch == nil {
		return nil, fmt.Errorf("search.Config: remote mode requires a fetch function")
	}
	e.logger = e.logger.With(logging.Component("search"), logging.String("mode", string(cfg.Mode)))

	switch {
	case !cfg.EnableCache || cfg.Mode == ModeLocal:
		e.cache = nil
	case e.cache == nil:
		e.cache = cache.New(cache.NewMemoryStore(),
			cache.WithTTL(cfg.CacheTTL),
			cache.WithLogger(e.logger),
			cache.WithMetrics(e.metrics))
	}

	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.state.Page = 1
	e.state.DefaultPage = 1
	e.resetLocked()

	if e.cache != nil {
		e.stopMaint = make(chan struct{})
		e.wg.Add(1)
		go e.maintain(e.stopMaint)
	}
	e.broker.Publish(e.state)
	return e, nil
}

// SetQuery updates the query. A search for page 1 runs once the query has
// been stable for DebounceDelay. A query shorter than MinCharacters (with
// no active filter) cancels pending work and resets the results at once.
func (e *Engine) SetQuery(text string) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.state.Query = text
	e.scheduleLocked()
	e.mu.Unlock()
	e.publish()
}

// SetFilter sets the active filter. A non-empty filter makes the engine
// search even below MinCharacters.
func (e *Engine) SetFilter(filter string) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.state.Filter = filter
	e.scheduleLocked()
	e.mu.Unlock()
	e.publish()
}

// Flush runs a pending debounced search immediately
func (e *Engine) Flush() {
	e.mu.Lock()
	if e.closed || e.debounce == nil {
		e.mu.Unlock()
		return
	}
	e.debounce.Stop()
	e.fireLocked()
}

// SetLocalData replaces the local source. An active query is searched
// again at once.
func (e *Engine) SetLocalData(items []Item) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.source = append([]Item(nil), items...)
	if e.cfg.Mode != ModeLocal || !e.activeLocked() {
		e.resetLocked()
		e.mu.Unlock()
		e.publish()
		return
	}
	if e.debounce != nil {
		e.debounce.Stop()
	}
	e.fireLocked()
}

// LoadMore fetches the next page of query results. It is a no-op while any
// query load is in flight, while a debounced search is pending, or when
// there are no more results.
func (e *Engine) LoadMore() {
	e.mu.Lock()
	s := e.state
	if e.closed || s.Loading || s.LoadingMore || !s.HasMore || e.debounce != nil || !e.activeLocked() {
		e.mu.Unlock()
		return
	}
	c := e.beginSearchLocked(s.Page+1, true)
	e.mu.Unlock()
	e.publish()
	if c != nil {
		e.runSearch(c)
	}
}

// LoadDefault loads the first page of the default listing
func (e *Engine) LoadDefault() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	c := e.beginDefaultLocked(1, false)
	e.mu.Unlock()
	e.publish()
	if c != nil {
		e.runDefault(c)
	}
}

// LoadMoreDefault loads the next page of the default listing. It is a
// no-op while a default load is in flight or when the listing is complete.
func (e *Engine) LoadMoreDefault() {
	e.mu.Lock()
	s := e.state
	if e.closed || s.LoadingDefault || s.LoadingMoreDefault || !s.HasMoreDefault {
		e.mu.Unlock()
		return
	}
	c := e.beginDefaultLocked(s.DefaultPage+1, true)
	e.mu.Unlock()
	e.publish()
	if c != nil {
		e.runDefault(c)
	}
}

// State returns a snapshot of the engine
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Subscribe streams state snapshots until ctx is done
func (e *Engine) Subscribe(ctx context.Context) *pubsub.Subscription[State] {
	return e.broker.Subscribe(ctx)
}

// Close cancels pending and in-flight work and waits for it to stop. The
// cache is left as is so a persisted store outlives the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	if e.debounce != nil {
		e.debounce.Stop()
		e.debounce = nil
	}
	e.debounceGen++
	e.cancelSearchLocked()
	e.cancelDefaultLocked()
	if e.stopMaint != nil {
		close(e.stopMaint)
	}
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
	e.broker.Close()
	return nil
}

// activeLocked reports whether the current query or filter warrants a search
func (e *Engine) activeLocked() bool {
	if e.state.Filter != "" {
		return true
	}
	return utf8.RuneCountInString(strings.TrimSpace(e.state.Query)) >= e.cfg.MinCharacters
}

func (e *Engine) scheduleLocked() {
	e.debounceGen++
	if e.debounce != nil {
		e.debounce.Stop()
		e.debounce = nil
	}
	if !e.activeLocked() {
		e.cancelSearchLocked()
		e.resetLocked()
		return
	}
	gen := e.debounceGen
	e.debounce = time.AfterFunc(e.cfg.DebounceDelay, func() { e.fire(gen) })
}

func (e *Engine) fire(gen uint64) {
	e.mu.Lock()
	if e.closed || gen != e.debounceGen {
		e.mu.Unlock()
		return
	}
	e.fireLocked()
}

// fireLocked starts a page-1 search and releases mu
func (e *Engine) fireLocked() {
	e.debounce = nil
	e.debounceGen++
	c := e.beginSearchLocked(1, false)
	e.mu.Unlock()
	e.publish()
	if c != nil {
		e.runSearch(c)
	}
}

// resetLocked shows the view for an inactive query
func (e *Engine) resetLocked() {
	e.state.Loading = false
	e.state.LoadingMore = false
	e.state.Page = 1
	e.state.HasMore = false
	e.state.Error = ""
	switch {
	case !e.cfg.ShowAllOnEmptyQuery:
		e.state.Results = []Item{}
		e.state.Total = 0
	case e.cfg.Mode == ModeLocal:
		e.state.Results = append([]Item{}, e.source...)
		e.state.Total = len(e.source)
	default:
		e.state.Results = append([]Item{}, e.state.DefaultResults...)
		e.state.Total = e.state.DefaultTotal
	}
}

func (e *Engine) cancelSearchLocked() {
	e.searchGen++
	if e.searchCancel != nil {
		e.searchCancel()
		e.searchCancel = nil
	}
}

func (e *Engine) cancelDefaultLocked() {
	e.defaultGen++
	if e.defaultCancel != nil {
		e.defaultCancel()
		e.defaultCancel = nil
	}
}

func (e *Engine) available() bool {
	return e.reach == nil || e.reach.Available()
}

func (e *Engine) publish() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	s := e.state
	e.mu.Unlock()
	e.broker.Publish(s)
}

func (e *Engine) safeCall(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("callback panicked",
				logging.String("callback", name),
				logging.String("panic", fmt.Sprint(r)),
				logging.String("stack", string(debug.Stack())))
		}
	}()
	fn()
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
