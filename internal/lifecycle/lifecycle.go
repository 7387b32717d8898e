// Package lifecycle tracks each asset's current settlement window and
// rolls to the next market once a window expires. Rollover runs inline
// on the engine scheduler, so model resets land between recomputes and
// never interleave with one.
package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pmfair/updown-fair/internal/metrics"
	"github.com/pmfair/updown-fair/internal/model"
)

// Discoverer resolves the live market window for one asset.
type Discoverer interface {
	Discover(ctx context.Context, asset model.Asset, now time.Time) (model.MarketWindow, error)
}

// Resetter is told when an asset's window changes so per-window model
// state can restart.
type Resetter interface {
	ResetAsset(window model.MarketWindow)
}

// Subscriber retargets the order book feed when the tracked token set
// changes.
type Subscriber interface {
	SetTokens(tokens []string)
}

// ChangeBufferSize is the capacity of the rollover notification channel.
const ChangeBufferSize = 16

// Change announces one asset's window rollover.
type Change struct {
	RolloverID uuid.UUID
	Asset      model.Asset
	Window     model.MarketWindow
}

// Config controls rollover behavior.
type Config struct {
	// Assets are the tracked assets, in rollover order.
	Assets []model.Asset

	// Grace delays rollover past settlement so the final estimate of a
	// window is published before state resets.
	Grace time.Duration

	// RetryInterval spaces consecutive rollover attempts when discovery
	// keeps failing.
	RetryInterval time.Duration

	// DiscoveryTimeout bounds one whole rollover pass.
	DiscoveryTimeout time.Duration
}

// DefaultConfig returns production rollover settings.
func DefaultConfig() Config {
	return Config{
		Assets:           model.AllAssets(),
		Grace:            1500 * time.Millisecond,
		RetryInterval:    2 * time.Second,
		DiscoveryTimeout: 5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if len(c.Assets) == 0 {
		c.Assets = def.Assets
	}
	if c.Grace <= 0 {
		c.Grace = def.Grace
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = def.RetryInterval
	}
	if c.DiscoveryTimeout <= 0 {
		c.DiscoveryTimeout = def.DiscoveryTimeout
	}
	return c
}

// Manager owns the per-asset window table.
type Manager struct {
	cfg    Config
	disc   Discoverer
	engine Resetter
	books  Subscriber
	logger *slog.Logger

	mu          sync.RWMutex
	windows     map[model.Asset]model.MarketWindow
	lastAttempt time.Time

	changes chan Change
}

// New creates a window manager. engine and books may be nil when no
// reset or resubscribe target exists.
func New(cfg Config, disc Discoverer, engine Resetter, books Subscriber, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:     cfg.withDefaults(),
		disc:    disc,
		engine:  engine,
		books:   books,
		logger:  logger.With("component", "lifecycle"),
		windows: make(map[model.Asset]model.MarketWindow),
		changes: make(chan Change, ChangeBufferSize),
	}
}

// Window returns the current window for one asset.
func (m *Manager) Window(asset model.Asset) (model.MarketWindow, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.windows[asset]
	return w, ok
}

// Windows returns a copy of the window table.
func (m *Manager) Windows() map[model.Asset]model.MarketWindow {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[model.Asset]model.MarketWindow, len(m.windows))
	for asset, w := range m.windows {
		out[asset] = w
	}
	return out
}

// Changes returns the rollover notification channel. Sends never block;
// when the buffer fills the oldest entry is dropped.
func (m *Manager) Changes() <-chan Change {
	return m.changes
}

// Bootstrap performs the initial discovery for every asset. Assets that
// fail stay unknown and are retried by CheckAndRoll.
func (m *Manager) Bootstrap(ctx context.Context, now time.Time) {
	m.roll(ctx, now, m.cfg.Assets)
}

// CheckAndRoll rolls any expired or unknown windows, keeping at least
// RetryInterval between attempts. It reports whether a pass ran.
func (m *Manager) CheckAndRoll(ctx context.Context, now time.Time) bool {
	targets := m.due(now)
	if len(targets) == 0 {
		return false
	}
	m.roll(ctx, now, targets)
	return true
}

// due collects assets whose windows need rolling and stamps the attempt.
func (m *Manager) due(now time.Time) []model.Asset {
	m.mu.Lock()
	defer m.mu.Unlock()

	if now.Sub(m.lastAttempt) < m.cfg.RetryInterval {
		return nil
	}

	var due []model.Asset
	for _, asset := range m.cfg.Assets {
		w, ok := m.windows[asset]
		if !ok || !w.Known() || w.Expired(now, m.cfg.Grace) {
			due = append(due, asset)
		}
	}
	if len(due) > 0 {
		m.lastAttempt = now
	}
	return due
}

// roll discovers new windows for targets concurrently. A failed asset
// keeps its previous window until the next pass.
func (m *Manager) roll(ctx context.Context, now time.Time, targets []model.Asset) {
	id := uuid.New()
	m.logger.Info("rolling windows", "rollover_id", id, "assets", targets)

	ctx, cancel := context.WithTimeout(ctx, m.cfg.DiscoveryTimeout)
	defer cancel()

	type result struct {
		window model.MarketWindow
		err    error
	}
	results := make([]result, len(targets))

	var g errgroup.Group
	for i, asset := range targets {
		g.Go(func() error {
			w, err := m.disc.Discover(ctx, asset, now)
			results[i] = result{window: w, err: err}
			return nil
		})
	}
	g.Wait()

	var rolled []model.MarketWindow
	m.mu.Lock()
	for i, asset := range targets {
		if results[i].err != nil {
			metrics.DiscoveryFailures.WithLabelValues(string(asset)).Inc()
			m.logger.Warn("window discovery failed",
				"rollover_id", id,
				"asset", asset,
				"error", results[i].err)
			continue
		}
		m.windows[asset] = results[i].window
		rolled = append(rolled, results[i].window)
	}
	tokens := m.tokensLocked()
	m.mu.Unlock()

	if len(rolled) == 0 {
		return
	}

	for _, w := range rolled {
		if m.engine != nil {
			m.engine.ResetAsset(w)
		}
		m.notify(Change{RolloverID: id, Asset: w.Asset, Window: w})
	}
	if m.books != nil {
		m.books.SetTokens(tokens)
	}
	metrics.Rollovers.Add(float64(len(rolled)))

	m.logger.Info("windows rolled",
		"rollover_id", id,
		"rolled", len(rolled),
		"failed", len(targets)-len(rolled))
}

// tokensLocked flattens the token set across all known windows.
// Callers hold m.mu.
func (m *Manager) tokensLocked() []string {
	tokens := make([]string, 0, 2*len(m.windows))
	for _, asset := range m.cfg.Assets {
		w, ok := m.windows[asset]
		if !ok || !w.Known() {
			continue
		}
		tokens = append(tokens, w.UpTokenID, w.DownTokenID)
	}
	return tokens
}

// notify sends a change without blocking, dropping the oldest entry
// when the buffer is full.
func (m *Manager) notify(change Change) {
	select {
	case m.changes <- change:
	default:
		select {
		case <-m.changes:
			m.changes <- change
		default:
		}
	}
}
