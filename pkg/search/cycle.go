package search

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/dd0wney/cluso-chatlink/pkg/cache"
	"github.com/dd0wney/cluso-chatlink/pkg/logging"
)

// cycle is one in-flight load. gen is compared with the engine's current
// generation before anything is committed.
type cycle struct {
	gen    uint64
	query  string
	filter string
	page   int
	more   bool
	ctx    context.Context
	cancel context.CancelFunc
}

// beginSearchLocked cancels the previous query load and prepares a new one.
// It returns nil when the load cannot start (offline in remote mode).
func (e *Engine) beginSearchLocked(page int, more bool) *cycle {
	e.cancelSearchLocked()

	if e.cfg.Mode == ModeRemote && !e.available() {
		e.state.Loading = false
		e.state.LoadingMore = false
		e.state.Error = ErrNoInternet.Error()
		e.metrics.RecordSearchError("offline")
		return nil
	}

	ctx, cancel := context.WithCancel(e.ctx)
	e.searchCancel = cancel
	if more {
		e.state.LoadingMore = true
	} else {
		e.state.Loading = true
	}
	e.state.Error = ""

	e.wg.Add(1)
	return &cycle{
		gen:    e.searchGen,
		query:  strings.TrimSpace(e.state.Query),
		filter: e.state.Filter,
		page:   page,
		more:   more,
		ctx:    ctx,
		cancel: cancel,
	}
}

// runSearch runs a query load. Local loads run on the calling goroutine;
// remote loads run in the background.
func (e *Engine) runSearch(c *cycle) {
	if e.cfg.Mode == ModeLocal {
		defer e.wg.Done()
		defer c.cancel()

		e.mu.Lock()
		source := e.source
		e.mu.Unlock()

		results, hasMore, total := e.localPage(source, c.query, c.filter, c.page)
		e.commit(c, results, hasMore, total, "local")
		return
	}
	go e.remoteSearch(c)
}

func (e *Engine) remoteSearch(c *cycle) {
	defer e.wg.Done()
	defer c.cancel()

	key := cache.Key(c.query, c.filter, c.page)
	if e.cache != nil {
		if entry, ok := e.cache.Get(c.ctx, key); ok {
			var items []Item
			if err := json.Unmarshal(entry.Data, &items); err == nil {
				e.commit(c, items, entry.HasMore, entry.Total, "cache")
				return
			}
			e.logger.Debug("cached page unreadable", logging.Query(c.query), logging.Page(c.page))
		}
	}

	req := FetchRequest{Query: c.query, Page: c.page, PageSize: e.cfg.PageSize, Filter: c.filter}
	start := time.Now()
	page, retries, err := e.fetchWithRetry(c.ctx, func(ctx context.Context) (Page, error) {
		return e.fetch(ctx, req)
	})
	e.metrics.RecordFetch("search", time.Since(start), retries)
	if err != nil {
		e.fail(c, err)
		return
	}

	if e.stale(c) {
		e.metrics.RecordStale()
		e.logger.Debug("discarding stale results", logging.Query(c.query), logging.Page(c.page))
		return
	}

	items := e.transformAll(page.Results)
	if e.cache != nil {
		if err := e.cache.Set(c.ctx, key, items, page.HasMore, page.Total); err != nil {
			e.logger.Warn("cache write failed", logging.Query(c.query), logging.Error(err))
		}
	}
	e.commit(c, items, page.HasMore, page.Total, "remote")
	if e.cache != nil {
		e.refreshCacheStats()
	}
}

func (e *Engine) stale(c *cycle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.staleLocked(c)
}

// staleLocked reports whether a newer load or query superseded c
func (e *Engine) staleLocked(c *cycle) bool {
	return e.closed || c.gen != e.searchGen || c.query != strings.TrimSpace(e.state.Query)
}

// commit applies a page of query results unless c is stale. Page 1
// replaces the results; later pages append.
func (e *Engine) commit(c *cycle, items []Item, hasMore bool, total int, source string) {
	e.mu.Lock()
	if e.staleLocked(c) {
		e.mu.Unlock()
		e.metrics.RecordStale()
		return
	}
	if c.page == 1 {
		e.state.Results = items
	} else {
		e.state.Results = appendUnique(e.state.Results, items, e.cfg.UniqueKey)
	}
	e.state.Page = c.page
	e.state.HasMore = hasMore
	e.state.Total = total
	e.state.Loading = false
	e.state.LoadingMore = false
	e.state.Error = ""
	e.searchCancel = nil
	callbacks := e.onResults
	e.mu.Unlock()

	e.metrics.RecordSearchCycle(string(e.cfg.Mode), source)
	e.logger.Debug("results committed",
		logging.Query(c.query), logging.Page(c.page), logging.Count(len(items)), logging.String("source", source))
	for _, fn := range callbacks {
		e.safeCall("OnResults", func() { fn(items, c.query) })
	}
	e.publish()
}

// fail surfaces a load error unless it was a cancellation or c is stale.
// The page counter only moves on commit, so a failed LoadMore leaves it
// where it was.
func (e *Engine) fail(c *cycle, err error) {
	if isCanceled(err) {
		return
	}
	e.mu.Lock()
	if e.staleLocked(c) {
		e.mu.Unlock()
		return
	}
	msg := err.Error()
	e.state.Error = msg
	e.state.Loading = false
	e.state.LoadingMore = false
	e.searchCancel = nil
	callbacks := e.onError
	e.mu.Unlock()

	e.metrics.RecordSearchError("fetch")
	e.logger.Warn("search failed", logging.Query(c.query), logging.Page(c.page), logging.Error(err))
	for _, fn := range callbacks {
		e.safeCall("OnError", func() { fn(msg) })
	}
	e.publish()
}

// beginDefaultLocked cancels the previous default load and prepares a new one
func (e *Engine) beginDefaultLocked(page int, more bool) *cycle {
	e.cancelDefaultLocked()

	if e.cfg.Mode == ModeRemote && !e.available() {
		e.state.LoadingDefault = false
		e.state.LoadingMoreDefault = false
		e.state.Error = ErrNoInternet.Error()
		e.metrics.RecordSearchError("offline")
		return nil
	}

	ctx, cancel := context.WithCancel(e.ctx)
	e.defaultCancel = cancel
	if more {
		e.state.LoadingMoreDefault = true
	} else {
		e.state.LoadingDefault = true
	}

	e.wg.Add(1)
	return &cycle{gen: e.defaultGen, page: page, more: more, ctx: ctx, cancel: cancel}
}

func (e *Engine) runDefault(c *cycle) {
	if e.cfg.Mode == ModeLocal {
		defer e.wg.Done()
		defer c.cancel()

		e.mu.Lock()
		source := e.source
		e.mu.Unlock()

		items, hasMore := paginate(source, c.page, e.cfg.PageSize)
		e.commitDefault(c, e.transformAll(items), hasMore, len(source))
		return
	}
	go e.remoteDefault(c)
}

func (e *Engine) remoteDefault(c *cycle) {
	defer e.wg.Done()
	defer c.cancel()

	if e.fetchDefault == nil {
		e.commitDefault(c, []Item{}, false, 0)
		return
	}

	req := FetchRequest{Page: c.page, PageSize: e.cfg.PageSize}
	start := time.Now()
	page, retries, err := e.fetchWithRetry(c.ctx, func(ctx context.Context) (Page, error) {
		return e.fetchDefault(ctx, req)
	})
	e.metrics.RecordFetch("default", time.Since(start), retries)
	if err != nil {
		e.failDefault(c, err)
		return
	}
	e.commitDefault(c, e.transformAll(page.Results), page.HasMore, page.Total)
}

func (e *Engine) commitDefault(c *cycle, items []Item, hasMore bool, total int) {
	e.mu.Lock()
	if e.closed || c.gen != e.defaultGen {
		e.mu.Unlock()
		return
	}
	if c.page == 1 {
		e.state.DefaultResults = items
	} else {
		e.state.DefaultResults = appendUnique(e.state.DefaultResults, items, e.cfg.UniqueKey)
	}
	e.state.DefaultPage = c.page
	e.state.HasMoreDefault = hasMore
	e.state.DefaultTotal = total
	e.state.LoadingDefault = false
	e.state.LoadingMoreDefault = false
	e.defaultCancel = nil
	if e.cfg.Mode == ModeRemote && e.cfg.ShowAllOnEmptyQuery && !e.activeLocked() {
		e.state.Results = append([]Item{}, e.state.DefaultResults...)
		e.state.Total = total
		e.state.HasMore = false
	}
	callbacks := e.onInitialLoad
	e.mu.Unlock()

	e.metrics.RecordSearchCycle(string(e.cfg.Mode), "default")
	for _, fn := range callbacks {
		e.safeCall("OnInitialLoad", func() { fn(items, total) })
	}
	e.publish()
}

func (e *Engine) failDefault(c *cycle, err error) {
	if isCanceled(err) {
		return
	}
	e.mu.Lock()
	if e.closed || c.gen != e.defaultGen {
		e.mu.Unlock()
		return
	}
	msg := err.Error()
	e.state.Error = msg
	e.state.LoadingDefault = false
	e.state.LoadingMoreDefault = false
	e.defaultCancel = nil
	callbacks := e.onError
	e.mu.Unlock()

	e.metrics.RecordSearchError("default")
	e.logger.Warn("default listing failed", logging.Page(c.page), logging.Error(err))
	for _, fn := range callbacks {
		e.safeCall("OnError", func() { fn(msg) })
	}
	e.publish()
}

type fetchResult struct {
	page Page
	err  error
}

// fetchWithRetry calls fn up to 1+RetryCount times. The n-th retry waits
// RetryDelay*n. It returns the number of retries made.
func (e *Engine) fetchWithRetry(ctx context.Context, fn func(context.Context) (Page, error)) (Page, int, error) {
	retries := e.cfg.RetryCount
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(e.cfg.RetryDelay * time.Duration(attempt))
			select {
			case <-ctx.Done():
				t.Stop()
				return Page{}, attempt - 1, ctx.Err()
			case <-t.C:
			}
		}

		page, err := e.attempt(ctx, fn)
		if err == nil {
			return page, attempt, nil
		}
		if ctx.Err() != nil {
			return Page{}, attempt, ctx.Err()
		}
		lastErr = err
		e.logger.Debug("fetch attempt failed", logging.Attempt(attempt+1), logging.Error(err))
	}
	return Page{}, retries, lastErr
}

// attempt races one call of fn against Config.Timeout
func (e *Engine) attempt(ctx context.Context, fn func(context.Context) (Page, error)) (Page, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	ch := make(chan fetchResult, 1)
	go func() {
		page, err := fn(callCtx)
		ch <- fetchResult{page: page, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return Page{}, ErrTimeout
		}
		return r.page, r.err
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return Page{}, err
		}
		return Page{}, ErrTimeout
	}
}

func (e *Engine) transformAll(items []Item) []Item {
	out := make([]Item, len(items))
	for i, item := range items {
		if e.transform != nil {
			item = e.transform(item)
		}
		out[i] = item
	}
	return out
}
