// Command chatlink-tui is an interactive contact search with a live
// connection banner.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/dd0wney/cluso-chatlink/pkg/config"
	"github.com/dd0wney/cluso-chatlink/pkg/connectivity"
	"github.com/dd0wney/cluso-chatlink/pkg/logging"
	"github.com/dd0wney/cluso-chatlink/pkg/netstatus"
	"github.com/dd0wney/cluso-chatlink/pkg/restclient"
	"github.com/dd0wney/cluso-chatlink/pkg/search"
)

// app owns the components behind the model
type app struct {
	engine  *search.Engine
	manager *connectivity.Manager
	monitor *netstatus.Monitor
}

func (a *app) SetQuery(q string) { a.engine.SetQuery(q) }

// LoadMore pages the query results, or the default listing when there is
// no query
func (a *app) LoadMore() {
	if strings.TrimSpace(a.engine.State().Query) == "" {
		a.engine.LoadMoreDefault()
		return
	}
	a.engine.LoadMore()
}

func (a *app) SetOffline(active bool) { a.monitor.SetOfflineMode(active) }

func (a *app) Reconnect() { a.manager.Reconnect() }

// forward pumps a subscription channel into updates as tea messages
func forward[T any](ctx context.Context, ch <-chan T, updates chan<- tea.Msg, wrap func(T) tea.Msg) {
	for v := range ch {
		select {
		case updates <- wrap(v):
		case <-ctx.Done():
			return
		}
	}
}

func loadItems(path string) ([]search.Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var items []search.Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return items, nil
}

func main() {
	configPath := flag.String("config", "", "Config file (.yaml, .yml or .toml)")
	dataPath := flag.String("data", "", "JSON array of contacts for local search")
	label := flag.String("label", "name", "Field shown for each result")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// The terminal belongs to the UI; logs go to a file when requested
	logger := logging.NewNopLogger()
	if path := os.Getenv("CHATLINK_TUI_LOG"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			log.Fatalf("Failed to open log file: %v", err)
		}
		defer f.Close()
		logger = logging.NewJSONLogger(f, logging.ParseLevel(cfg.Log.Level))
	}

	monitor, err := netstatus.NewMonitor(cfg.NetworkConfig(), netstatus.WithLogger(logger))
	if err != nil {
		log.Fatalf("Failed to create network monitor: %v", err)
	}

	manager, err := connectivity.New(cfg.ConnectivityConfig(), connectivity.NewWebSocketDialer(),
		connectivity.WithLogger(logger))
	if err != nil {
		log.Fatalf("Failed to create connection manager: %v", err)
	}
	defer manager.Close()

	sc := cfg.SearchConfig()
	sc.ShowAllOnEmptyQuery = true
	opts := []search.Option{search.WithLogger(logger), search.WithReachability(monitor)}

	if sc.Mode == search.ModeRemote {
		client, err := restclient.NewClient(restclient.Config{BaseURL: cfg.API.BaseURL, Timeout: cfg.API.Timeout.D()},
			restclient.WithToken(restclient.StaticToken(cfg.Token)),
			restclient.WithLogger(logger))
		if err != nil {
			log.Fatalf("Failed to create API client: %v", err)
		}
		opts = append(opts, search.WithFetch(client.SearchContacts), search.WithDefaultFetch(client.ListContacts))
	} else if *dataPath != "" {
		items, err := loadItems(*dataPath)
		if err != nil {
			log.Fatalf("Failed to load contacts: %v", err)
		}
		opts = append(opts, search.WithLocalData(items))
	}

	engine, err := search.New(sc, opts...)
	if err != nil {
		log.Fatalf("Failed to create search engine: %v", err)
	}
	defer engine.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := make(chan tea.Msg)
	var g errgroup.Group
	g.Go(func() error { return monitor.Run(ctx) })
	g.Go(func() error {
		forward(ctx, engine.Subscribe(ctx).Channel(), updates, func(s search.State) tea.Msg { return searchMsg(s) })
		return nil
	})
	g.Go(func() error {
		forward(ctx, manager.Subscribe(ctx).Channel(), updates, func(s connectivity.State) tea.Msg { return connMsg(s) })
		return nil
	})
	g.Go(func() error {
		forward(ctx, monitor.Subscribe(ctx).Channel(), updates, func(s netstatus.Status) tea.Msg { return networkMsg(s) })
		return nil
	})

	manager.SetSession(cfg.Endpoint, cfg.Token)
	engine.LoadDefault()

	a := &app{engine: engine, manager: manager, monitor: monitor}
	p := tea.NewProgram(newModel(a, updates, *label), tea.WithAltScreen())
	_, runErr := p.Run()

	cancel()
	_ = g.Wait()
	if runErr != nil {
		log.Fatalf("Error running program: %v", runErr)
	}
}
