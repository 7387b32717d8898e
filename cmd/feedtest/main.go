// feedtest connects to the exchange trade feeds and streams parsed ticks to
// the console. Useful for verifying venue wire formats without running the
// full engine.
//
// Usage: go run ./cmd/feedtest -venues binance,bybit -assets BTC,ETH
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pmfair/updown-fair/internal/feed"
	"github.com/pmfair/updown-fair/internal/model"
)

func main() {
	venueList := flag.String("venues", "binance,binancef,bybit,okx,coinbase,kraken,gate,hyperliquid", "comma-separated venues")
	assetList := flag.String("assets", "BTC,ETH,SOL,XRP", "comma-separated assets")
	verbose := flag.Bool("verbose", false, "print full tick JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	venues, err := splitVenues(*venueList)
	if err != nil {
		logger.Error("invalid venues", "error", err)
		os.Exit(1)
	}
	assets, err := splitAssets(*assetList)
	if err != nil {
		logger.Error("invalid assets", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	ticks := make(chan model.PriceTick, 4096)
	mgr, err := feed.NewManager(venues, assets, ticks, feed.DefaultConfig(), logger)
	if err != nil {
		logger.Error("failed to build feeds", "error", err)
		os.Exit(1)
	}

	var received atomic.Int64

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case tick := <-ticks:
				received.Add(1)
				if *verbose {
					data, _ := json.Marshal(tick)
					fmt.Printf("[TICK] %s\n", data)
				} else {
					fmt.Printf("[TICK] venue=%-11s asset=%s price=%.4f ts=%s\n",
						tick.Venue, tick.Asset, tick.Price, tick.Time.Format(time.RFC3339Nano))
				}
			}
		}
	}()

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				connected := 0
				for _, st := range mgr.Status() {
					if st.Connected {
						connected++
					}
				}
				logger.Info("stats",
					"connected", connected,
					"feeds", len(venues),
					"ticks", received.Load(),
				)
			}
		}
	}()

	logger.Info("starting feeds", "venues", len(venues), "assets", len(assets))
	mgr.Start(ctx)

	logger.Info("streaming started - press Ctrl+C to stop")

	<-ctx.Done()

	logger.Info("shutting down...")
	mgr.Stop()
	logger.Info("shutdown complete", "total_ticks", received.Load())
}

func splitVenues(s string) ([]model.Venue, error) {
	parts := strings.Split(s, ",")
	out := make([]model.Venue, 0, len(parts))
	for _, p := range parts {
		v, err := model.ParseVenue(p)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func splitAssets(s string) ([]model.Asset, error) {
	parts := strings.Split(s, ",")
	out := make([]model.Asset, 0, len(parts))
	for _, p := range parts {
		a, err := model.ParseAsset(p)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
