// Package publish samples the engine's published snapshots at a fixed
// cadence and fans them out: estimate rows to the database writer and JSON
// payloads to the redis live cache. Both sinks are optional; a disabled sink
// is simply skipped.
package publish

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pmfair/updown-fair/internal/fair"
	"github.com/pmfair/updown-fair/internal/model"
	"github.com/pmfair/updown-fair/internal/store"
)

// SnapshotSource yields the current published views, one per asset.
type SnapshotSource interface {
	Snapshots() []fair.AssetSnapshot
}

// EstimateSink receives sampled rows for persistence.
type EstimateSink interface {
	Record(row store.EstimateRow)
}

// Payload is the JSON document cached per asset.
type Payload struct {
	Asset       string    `json:"asset"`
	Up          float64   `json:"up"`
	Down        float64   `json:"down"`
	Hybrid      float64   `json:"hybrid"`
	BookMid     float64   `json:"book_mid"`
	WindowStart time.Time `json:"window_start"`
	Slug        string    `json:"slug,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Config holds publisher settings.
type Config struct {
	Interval  time.Duration // sample cadence
	TTL       time.Duration // redis key expiry
	KeyPrefix string
}

// DefaultConfig returns the production cadence: one sample per second with a
// five second cache expiry, so a stalled engine ages out of the cache fast.
func DefaultConfig() Config {
	return Config{
		Interval:  time.Second,
		TTL:       5 * time.Second,
		KeyPrefix: "fair:",
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	if c.TTL <= 0 {
		c.TTL = def.TTL
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = def.KeyPrefix
	}
	return c
}

// Publisher runs the sampling loop.
type Publisher struct {
	cfg    Config
	source SnapshotSource
	sink   EstimateSink
	rdb    *redis.Client
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Publisher. sink and rdb may each be nil to disable that
// output.
func New(cfg Config, source SnapshotSource, sink EstimateSink, rdb *redis.Client, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:    cfg.withDefaults(),
		source: source,
		sink:   sink,
		rdb:    rdb,
		logger: logger.With("component", "publish"),
	}
}

// Start begins the sampling loop.
func (p *Publisher) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("publisher started",
		"interval", p.cfg.Interval,
		"redis", p.rdb != nil,
		"database", p.sink != nil,
	)
	return nil
}

// Stop gracefully shuts down the publisher.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("publisher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Publisher) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Publish immediately on start.
	p.publishAll()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.publishAll()
		}
	}
}

func (p *Publisher) publishAll() {
	now := time.Now()
	for _, snap := range p.source.Snapshots() {
		if p.sink != nil {
			p.sink.Record(rowFromSnapshot(snap, now))
		}
		if p.rdb != nil {
			p.cache(snap)
		}
	}
}

func (p *Publisher) cache(snap fair.AssetSnapshot) {
	data, err := json.Marshal(payloadFromSnapshot(snap))
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(p.ctx, 2*time.Second)
	defer cancel()

	key := p.key(snap.Asset)
	if err := p.rdb.Set(ctx, key, data, p.cfg.TTL).Err(); err != nil {
		p.logger.Warn("redis set failed", "key", key, "error", err)
	}
}

func (p *Publisher) key(asset model.Asset) string {
	return p.cfg.KeyPrefix + strings.ToLower(string(asset))
}

func rowFromSnapshot(snap fair.AssetSnapshot, now time.Time) store.EstimateRow {
	return store.EstimateRow{
		Asset:       snap.Asset,
		Time:        now,
		Up:          snap.Fair.Up,
		Down:        snap.Fair.Down,
		Hybrid:      snap.Hybrid,
		BookMid:     snap.BookMid,
		WindowStart: snap.WindowStart,
	}
}

func payloadFromSnapshot(snap fair.AssetSnapshot) Payload {
	return Payload{
		Asset:       string(snap.Asset),
		Up:          snap.Fair.Up,
		Down:        snap.Fair.Down,
		Hybrid:      snap.Hybrid,
		BookMid:     snap.BookMid,
		WindowStart: snap.WindowStart,
		Slug:        snap.Slug,
		UpdatedAt:   snap.UpdatedAt,
	}
}
