package search

import (
	"context"
	"time"

	"github.com/dd0wney/cluso-chatlink/pkg/cache"
	"github.com/dd0wney/cluso-chatlink/pkg/logging"
)

const maintenanceTimeout = 5 * time.Second

// maintain refreshes cache stats every CacheMaintenanceInterval, evicting
// expired entries when they dominate
func (e *Engine) maintain(stop <-chan struct{}) {
	defer e.wg.Done()

	e.refreshCacheStats()

	ticker := time.NewTicker(e.cfg.CacheMaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.refreshCacheStats()
		}
	}
}

func (e *Engine) refreshCacheStats() {
	ctx, cancel := context.WithTimeout(e.ctx, maintenanceTimeout)
	defer cancel()

	stats, evicted, err := e.cache.Maintain(ctx, e.cfg.CleanRatio)
	if err != nil {
		if !isCanceled(err) {
			e.logger.Warn("cache maintenance failed", logging.Error(err))
		}
		return
	}
	stats.Expired -= evicted

	e.mu.Lock()
	e.state.CacheStats = &stats
	e.mu.Unlock()
	e.publish()
}

// CacheStats counts valid and expired cached pages. It reports zero stats
// when caching is off.
func (e *Engine) CacheStats(ctx context.Context) (cache.Stats, error) {
	if e.cache == nil {
		return cache.Stats{}, nil
	}
	return e.cache.Stats(ctx)
}

// ClearCache removes every cached page
func (e *Engine) ClearCache(ctx context.Context) error {
	if e.cache == nil {
		return nil
	}
	if err := e.cache.Clear(ctx); err != nil {
		return err
	}
	e.refreshCacheStats()
	return nil
}
