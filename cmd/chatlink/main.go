// Command chatlink keeps a real-time connection to the chat server alive
// and serves status, health, metrics and search endpoints.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dd0wney/cluso-chatlink/pkg/config"
	"github.com/dd0wney/cluso-chatlink/pkg/connectivity"
	"github.com/dd0wney/cluso-chatlink/pkg/logging"
	"github.com/dd0wney/cluso-chatlink/pkg/metrics"
	"github.com/dd0wney/cluso-chatlink/pkg/netstatus"
)

func main() {
	configPath := flag.String("config", "", "Config file (.yaml, .yml or .toml)")
	addr := flag.String("addr", "", "Status listener address (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}

	logger := logging.NewJSONLogger(os.Stdout, logging.ParseLevel(cfg.Log.Level))
	logging.SetDefaultLogger(logger)

	fmt.Printf("🚀 chatlink starting\n")
	fmt.Printf("🔌 Endpoint: %s\n", cfg.Endpoint)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("agent stopped", logging.Error(err))
		os.Exit(1)
	}
	fmt.Println("👋 chatlink stopped")
}

func run(ctx context.Context, cfg *config.Config, logger logging.Logger) error {
	reg := metrics.NewRegistry()

	monitor, err := netstatus.NewMonitor(cfg.NetworkConfig(),
		netstatus.WithLogger(logger),
		netstatus.WithMetrics(reg))
	if err != nil {
		return fmt.Errorf("network monitor: %w", err)
	}

	manager, err := connectivity.New(cfg.ConnectivityConfig(), connectivity.NewWebSocketDialer(),
		connectivity.WithLogger(logger),
		connectivity.WithMetrics(reg),
		connectivity.OnConnect(func(s connectivity.State) {
			fmt.Printf("✅ Connected (attempts=%d)\n", s.Attempts)
		}),
		connectivity.OnDisconnect(func(s connectivity.State) {
			fmt.Printf("⚠️  Disconnected: %s\n", s.LastDisconnectReason)
		}))
	if err != nil {
		return fmt.Errorf("connection manager: %w", err)
	}
	defer manager.Close()

	a, err := newAgent(cfg, manager, monitor, reg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           a.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return monitor.Run(ctx) })

	g.Go(func() error {
		a.followNetwork(ctx)
		return nil
	})

	g.Go(func() error {
		fmt.Printf("📊 Status: http://localhost%s/status\n", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("status listener: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	manager.SetSession(cfg.Endpoint, cfg.Token)
	for _, ns := range cfg.Namespaces {
		if ns == connectivity.DefaultConfig().DefaultNamespace {
			continue
		}
		g.Go(func() error {
			a.joinNamespace(ctx, ns)
			return nil
		})
	}

	return g.Wait()
}
