package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/maltedev/material-scraper/internal/api"
	"github.com/maltedev/material-scraper/internal/app"
	"github.com/maltedev/material-scraper/internal/config"
	"github.com/maltedev/material-scraper/internal/database"
	"github.com/maltedev/material-scraper/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration (defaults built in when empty)")
	flag.Parse()

	path := *configPath
	if path == "" {
		if _, err := os.Stat(config.DefaultPath); err == nil {
			path = config.DefaultPath
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	var outbox api.OutboxMonitor
	if relay := a.Relay(database.RelayConfig{}); relay != nil {
		outbox = relay
		go func() {
			if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("relay stopped with error", "error", err)
			}
		}()
	}

	go a.Jobs.StartWorker(ctx)

	handlers := api.NewHandlers(a.Store, a.Jobs, a.Orchestrator.Suppliers(), a.Orchestrator.State, outbox, log)

	routerCfg := api.RouterConfig{AllowedOrigins: cfg.Server.AllowedOrigins}
	if cfg.Metrics.Enabled {
		routerCfg.Metrics = a.Metrics.Handler()
		routerCfg.MetricsPath = cfg.Metrics.Path
		routerCfg.Recorder = a.Metrics
	}

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(handlers, routerCfg),
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Info("shutting down server")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
	}()

	log.Info("server starting", "addr", server.Addr, "suppliers", len(a.Orchestrator.Suppliers()))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
