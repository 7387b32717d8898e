// prune deletes price ticks and fair estimates older than the retention
// horizon. Meant to run from cron against the same config as the engine.
//
// Usage: prune -config configs/fairengine.yaml -keep 168h
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/pmfair/updown-fair/internal/config"
	"github.com/pmfair/updown-fair/internal/store"
)

func main() {
	configPath := flag.String("config", "configs/fairengine.yaml", "path to config file")
	keep := flag.Duration("keep", 7*24*time.Hour, "retention horizon")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if !cfg.Database.Enabled() {
		logger.Error("no database configured, nothing to prune")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	cutoff := time.Now().Add(-*keep)
	logger.Info("pruning", "cutoff", cutoff.Format(time.RFC3339), "keep", *keep)

	ticks, estimates, err := store.Prune(ctx, pool, cutoff)
	if err != nil {
		logger.Error("prune failed", "error", err)
		os.Exit(1)
	}

	logger.Info("prune complete",
		"price_ticks_deleted", ticks,
		"fair_estimates_deleted", estimates,
	)
}
