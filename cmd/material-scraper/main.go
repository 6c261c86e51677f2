package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/maltedev/material-scraper/internal/app"
	"github.com/maltedev/material-scraper/internal/config"
	"github.com/maltedev/material-scraper/internal/database"
	"github.com/maltedev/material-scraper/internal/jobs"
	"github.com/maltedev/material-scraper/internal/report"
	"github.com/maltedev/material-scraper/pkg/logger"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to the YAML configuration (defaults built in when empty)")
		output     = flag.String("output", "", "Output JSON file, overrides output.path")
		suppliers  = flag.String("suppliers", "", "Comma-separated supplier IDs to scrape (default: all)")
		categories = flag.String("categories", "", "Comma-separated categories to scrape (default: all)")
		maxPerCat  = flag.Int("max-products", 0, "Cap on products per supplier and category, overrides config")
		summary    = flag.Bool("summary", true, "Print a per-pair summary table to stdout")
	)
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
	if *output != "" {
		cfg.Output.Path = *output
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)
	log.Info("starting material scraper", "config", path, "output", cfg.Output.Path)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	result, err := a.Jobs.Execute(ctx, jobs.Request{
		Suppliers:              splitList(*suppliers),
		Categories:             splitList(*categories),
		MaxProductsPerCategory: *maxPerCat,
	})
	if err != nil {
		log.Error("scraping failed", "error", err)
		os.Exit(1)
	}

	// One-shot runs have no relay process, so the outbox is flushed here.
	if relay := a.Relay(database.RelayConfig{}); relay != nil {
		if n, err := relay.Flush(ctx); err != nil {
			log.Warn("failed to flush outbox", "error", err)
		} else {
			log.Info("outbox flushed", "events", n)
		}
	}

	for _, s := range result.Failed() {
		log.Warn("pair failed",
			"supplier", s.Supplier,
			"category", s.Category,
			"error_kind", *s.ErrorKind)
	}

	if *summary {
		if err := report.WriteSummary(os.Stdout, result.Summaries); err != nil {
			log.Warn("failed to print summary", "error", err)
		}
	}

	log.Info("scraping completed",
		"run_id", result.RunID,
		"state", result.State,
		"total_products", len(result.Records),
		"output", a.Store.Path())
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
