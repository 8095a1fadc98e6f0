package main

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/dd0wney/cluso-chatlink/pkg/cache"
	"github.com/dd0wney/cluso-chatlink/pkg/config"
	"github.com/dd0wney/cluso-chatlink/pkg/connectivity"
	"github.com/dd0wney/cluso-chatlink/pkg/health"
	"github.com/dd0wney/cluso-chatlink/pkg/logging"
	"github.com/dd0wney/cluso-chatlink/pkg/metrics"
	"github.com/dd0wney/cluso-chatlink/pkg/netstatus"
	"github.com/dd0wney/cluso-chatlink/pkg/restclient"
	"github.com/dd0wney/cluso-chatlink/pkg/search"
)

// agent wires the connection manager, network monitor and search engine
// behind the status listener
type agent struct {
	cfg     *config.Config
	manager *connectivity.Manager
	monitor *netstatus.Monitor
	engine  *search.Engine
	store   cache.Store
	metrics *metrics.Registry
	health  *health.HealthChecker
	logger  logging.Logger
}

func newAgent(cfg *config.Config, manager *connectivity.Manager, monitor *netstatus.Monitor,
	reg *metrics.Registry, logger logging.Logger) (*agent, error) {
	a := &agent{
		cfg:     cfg,
		manager: manager,
		monitor: monitor,
		metrics: reg,
		health:  health.NewHealthChecker(),
		logger:  logger.With(logging.Component("agent")),
	}

	sc := cfg.SearchConfig()
	opts := []search.Option{
		search.WithLogger(logger),
		search.WithMetrics(reg),
		search.WithReachability(monitor),
		search.OnError(func(msg string) {
			a.logger.Warn("search failed", logging.String("message", msg))
		}),
	}

	if sc.Mode == search.ModeRemote {
		client, err := restclient.NewClient(restclient.Config{BaseURL: cfg.API.BaseURL, Timeout: cfg.API.Timeout.D()},
			restclient.WithToken(restclient.StaticToken(cfg.Token)),
			restclient.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("api client: %w", err)
		}
		opts = append(opts,
			search.WithFetch(client.SearchContacts),
			search.WithDefaultFetch(client.ListContacts))

		if sc.EnableCache {
			store, err := openStore(context.Background(), cfg.Cache)
			if err != nil {
				return nil, err
			}
			a.store = store
			cacheOpts := []cache.Option{
				cache.WithTTL(sc.CacheTTL),
				cache.WithLogger(logger),
				cache.WithMetrics(reg),
			}
			if cfg.Cache.Prefix != "" {
				cacheOpts = append(cacheOpts, cache.WithPrefix(cfg.Cache.Prefix))
			}
			if cfg.Cache.Compression {
				cacheOpts = append(cacheOpts, cache.WithCompression())
			}
			opts = append(opts, search.WithCache(cache.New(store, cacheOpts...)))
		}
	}

	engine, err := search.New(sc, opts...)
	if err != nil {
		if a.store != nil {
			a.store.Close()
		}
		return nil, fmt.Errorf("search engine: %w", err)
	}
	a.engine = engine

	a.registerChecks()
	return a, nil
}

// openStore opens the configured cache backend
func openStore(ctx context.Context, cc config.CacheConfig) (cache.Store, error) {
	switch cc.Backend {
	case "sqlite":
		s, err := cache.OpenSQLite(cc.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite cache: %w", err)
		}
		return s, nil
	case "postgres":
		s, err := cache.NewPGStore(ctx, cc.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres cache: %w", err)
		}
		return s, nil
	default:
		return cache.NewMemoryStore(), nil
	}
}

func (a *agent) registerChecks() {
	a.health.RegisterLivenessCheck("process", health.AliveCheck("process"))

	conn := health.ConnectionCheck(func() health.ConnectionState {
		s := a.manager.State()
		return health.ConnectionState{
			Status:      string(s.Status),
			Attempts:    s.Attempts,
			MaxAttempts: a.manager.Config().MaxReconnectAttempts,
			LastError:   s.LastError,
			Latency:     s.Latency,
			Queued:      s.QueuedEvents,
			Pending:     s.PendingRequests,
		}
	})
	a.health.RegisterCheck("connection", conn)
	a.health.RegisterReadinessCheck("connection", conn)

	a.health.RegisterCheck("network", health.ReachabilityCheck(func() (bool, bool, bool) {
		s := a.monitor.Status()
		return s.Connected, s.Reachable, s.Offline
	}))

	a.health.RegisterCheck("memory", health.MemoryCheck(func() (uint64, uint64) {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		return ms.Alloc, ms.Sys
	}))

	if a.store == nil {
		return
	}
	a.health.RegisterCheck("search_cache", health.CacheCheck(func(ctx context.Context) (int, int, error) {
		stats, err := a.engine.CacheStats(ctx)
		return stats.Valid, stats.Expired, err
	}))
	if pg, ok := a.store.(*cache.PGStore); ok {
		a.health.RegisterReadinessCheck("cache_store", health.StoreCheck(pg.Ping))
	}
}

// followNetwork restarts an exhausted connection when the network comes
// back
func (a *agent) followNetwork(ctx context.Context) {
	sub := a.monitor.Subscribe(ctx)
	defer sub.Unsubscribe()

	wasAvailable := false
	for s := range sub.Channel() {
		available := s.Available()
		if available && !wasAvailable {
			st := a.manager.State()
			if st.Status == connectivity.StatusDisconnected && st.Attempts >= a.manager.Config().MaxReconnectAttempts {
				a.logger.Info("network restored, reconnecting")
				a.manager.Reconnect()
			}
		}
		wasAvailable = available
	}
}

// joinNamespace opens ns once after every successful connect of the
// primary transport
func (a *agent) joinNamespace(ctx context.Context, ns string) {
	sub := a.manager.Subscribe(ctx)
	defer sub.Unsubscribe()

	var tried time.Time
	for s := range sub.Channel() {
		if !s.Connected() || s.LastConnectedAt.Equal(tried) {
			continue
		}
		tried = s.LastConnectedAt
		if err := a.manager.ConnectToNamespace(ctx, ns); err != nil {
			a.logger.Warn("namespace unavailable", logging.Namespace(ns), logging.Error(err))
		}
	}
}

func (a *agent) Close() error {
	a.engine.Close()
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}
