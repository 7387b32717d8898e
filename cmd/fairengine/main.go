package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/pmfair/updown-fair/internal/basis"
	"github.com/pmfair/updown-fair/internal/book"
	"github.com/pmfair/updown-fair/internal/config"
	"github.com/pmfair/updown-fair/internal/fair"
	"github.com/pmfair/updown-fair/internal/feed"
	"github.com/pmfair/updown-fair/internal/gamma"
	"github.com/pmfair/updown-fair/internal/lifecycle"
	"github.com/pmfair/updown-fair/internal/metrics"
	"github.com/pmfair/updown-fair/internal/model"
	"github.com/pmfair/updown-fair/internal/publish"
	"github.com/pmfair/updown-fair/internal/store"
	"github.com/pmfair/updown-fair/internal/version"
	"github.com/pmfair/updown-fair/internal/vol"
)

func main() {
	configPath := flag.String("config", "configs/fairengine.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	// Set up structured logging; level is finalized after config load.
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("starting fair engine",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)

	assets, err := parseAssets(cfg.Engine.Assets)
	if err != nil {
		logger.Error("invalid asset config", "error", err)
		os.Exit(1)
	}
	venues, err := parseVenues(cfg.Engine.Venues)
	if err != nil {
		logger.Error("invalid venue config", "error", err)
		os.Exit(1)
	}
	excluded, err := parseVenues(cfg.Engine.CombinedExclude)
	if err != nil {
		logger.Error("invalid combined_exclude config", "error", err)
		os.Exit(1)
	}
	anchor, err := model.ParseVenue(cfg.Engine.AnchorVenue)
	if err != nil {
		logger.Error("invalid anchor_venue config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"assets", cfg.Engine.Assets,
		"venues", len(venues),
		"anchor", anchor,
		"persistence", cfg.Database.Enabled(),
		"redis", cfg.Redis.Enabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Persistence (optional)
	var pool *pgxpool.Pool
	var tickWriter *store.TickWriter
	var estimateWriter *store.EstimateWriter
	if cfg.Database.Enabled() {
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)
		pool, err = store.Connect(ctx, cfg.Database)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		if err := store.Bootstrap(ctx, pool); err != nil {
			logger.Error("failed to bootstrap schema", "error", err)
			os.Exit(1)
		}

		writerCfg := store.WriterConfig{
			BatchSize:     cfg.Writers.BatchSize,
			FlushInterval: cfg.Writers.FlushInterval,
			BufferSize:    cfg.Writers.BufferSize,
		}
		tickWriter = store.NewTickWriter(writerCfg, pool, logger)
		estimateWriter = store.NewEstimateWriter(writerCfg, pool, logger)
		tickWriter.Start(ctx)
		estimateWriter.Start(ctx)

		logger.Info("database connected")
	}

	// Prediction-market order book
	bookCfg := book.DefaultConfig()
	if cfg.Book.WSURL != "" {
		bookCfg.URL = cfg.Book.WSURL
	}
	if cfg.Book.StaleAfter > 0 {
		bookCfg.StaleAfter = cfg.Book.StaleAfter
	}
	if cfg.Book.PingInterval > 0 {
		bookCfg.PingInterval = cfg.Book.PingInterval
	}
	bookFeed := book.New(bookCfg, logger)

	// Market discovery
	gammaClient := gamma.NewClient(cfg.Discovery.GammaURL, cfg.Discovery.KlineURL,
		gamma.WithLogger(logger),
		gamma.WithTimeout(cfg.Discovery.Timeout),
		gamma.WithRetries(cfg.Discovery.MaxRetries, time.Second),
		gamma.WithRateLimit(cfg.Discovery.RateLimit, cfg.Discovery.RateBurst),
	)

	// Estimate engine
	engineCfg := fair.Config{
		Assets:            assets,
		Venues:            venues,
		AnchorVenue:       anchor,
		CombinedExclude:   excluded,
		RecomputeInterval: cfg.Engine.RecomputeInterval,
		TickBuffer:        cfg.Engine.TickBuffer,
		Vol: vol.Params{
			Lambda:         cfg.Vol.Lambda,
			SigmaMinPerMin: cfg.Vol.SigmaMinPerMin,
			Retention:      cfg.Vol.Retention,
		},
		SpikeWindow: cfg.Vol.SpikeWindow,
		Basis: basis.Params{
			ConvergeEps:       cfg.Basis.ConvergeEps,
			LatchTimeout:      cfg.Basis.LatchTimeout,
			SpikeThresholdPct: cfg.Basis.SpikeThresholdPct,
		},
		SpikeThresholdBy: spikeOverrides(cfg.Basis.SpikeThresholdBy),
	}
	engine := fair.New(engineCfg, bookFeed, logger)
	if tickWriter != nil {
		engine.SetSink(tickWriter)
	}

	// Window lifecycle
	lcCfg := lifecycle.Config{
		Assets:           assets,
		Grace:            cfg.Lifecycle.Grace,
		RetryInterval:    cfg.Lifecycle.RetryInterval,
		DiscoveryTimeout: cfg.Lifecycle.DiscoveryTimeout,
	}
	roller := lifecycle.New(lcCfg, gammaClient, engine, bookFeed, logger)
	engine.SetRoller(roller)

	// Exchange feeds
	feedCfg := feed.Config{
		WatchdogInterval: cfg.Feeds.WatchdogInterval,
		StaleAfter:       cfg.Feeds.StaleAfter,
		BackoffStep:      cfg.Feeds.BackoffStep,
		BackoffMax:       cfg.Feeds.BackoffMax,
	}
	feedMgr, err := feed.NewManager(venues, assets, engine.Ticks(), feedCfg, logger)
	if err != nil {
		logger.Error("failed to build feeds", "error", err)
		os.Exit(1)
	}

	// Live cache + estimate sampling
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
	}
	var estimateSink publish.EstimateSink
	if estimateWriter != nil {
		estimateSink = estimateWriter
	}
	publisher := publish.New(publish.Config{TTL: cfg.Redis.TTL}, engine, estimateSink, rdb, logger)

	// Health/debug/metrics server, started early so startup is observable.
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Health.Port),
		Handler: healthHandler(engine, feedMgr, bookFeed, roller, pool, logger),
	}
	go func() {
		logger.Info("starting health server", "port", cfg.Health.Port)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	// Start order: book first so discovery has a live subscriber, then the
	// initial discovery, then the scheduler and feeds that depend on both.
	bookFeed.Start(ctx)
	roller.Bootstrap(ctx, time.Now())
	engine.Start(ctx)
	feedMgr.Start(ctx)
	publisher.Start(ctx)

	logger.Info("fair engine running",
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Health.Port),
	)

	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	publisher.Stop(shutdownCtx)
	feedMgr.Stop()
	engine.Stop()
	bookFeed.Stop()
	if tickWriter != nil {
		tickWriter.Stop(shutdownCtx)
	}
	if estimateWriter != nil {
		estimateWriter.Stop(shutdownCtx)
	}
	healthServer.Shutdown(shutdownCtx)

	logger.Info("fair engine stopped")
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func parseAssets(names []string) ([]model.Asset, error) {
	out := make([]model.Asset, 0, len(names))
	for _, s := range names {
		a, err := model.ParseAsset(s)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func parseVenues(names []string) ([]model.Venue, error) {
	out := make([]model.Venue, 0, len(names))
	for _, s := range names {
		v, err := model.ParseVenue(s)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func spikeOverrides(byName map[string]float64) map[model.Asset]float64 {
	if len(byName) == 0 {
		return nil
	}
	out := make(map[model.Asset]float64, len(byName))
	for name, pct := range byName {
		a, err := model.ParseAsset(name)
		if err != nil {
			continue
		}
		out[a] = pct
	}
	return out
}

// healthHandler serves /health, /debug/estimates and /metrics.
func healthHandler(engine *fair.Engine, feeds *feed.Manager, books *book.Feed, roller *lifecycle.Manager, pool *pgxpool.Pool, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string                 `json:"status"`
			Components map[string]interface{} `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]interface{}),
		}

		connected := feeds.ConnectedCount()
		health.Components["feeds"] = map[string]interface{}{
			"connected": connected,
			"total":     len(feeds.Status()),
		}
		if connected == 0 {
			health.Status = "degraded"
		}

		if books.IsConnected() {
			health.Components["book"] = "connected"
		} else {
			health.Components["book"] = "disconnected"
			health.Status = "degraded"
		}

		known := 0
		for _, win := range roller.Windows() {
			if win.Known() {
				known++
			}
		}
		health.Components["windows"] = map[string]interface{}{"known": known}
		if known == 0 {
			health.Status = "degraded"
		}

		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["database"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["database"] = "connected"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/estimates", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"estimates": engine.Snapshots(),
			"feeds":     feeds.Status(),
		})
	})

	mux.Handle("/metrics", metrics.Handler())

	return mux
}
