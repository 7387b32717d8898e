// Package fair runs the estimate scheduler. It drains the shared tick channel
// into per-(asset, venue) estimators, folds in the prediction-market midpoint,
// and recomputes the published probability snapshots on a fixed interval. All
// model state lives on the scheduler goroutine; the snapshots behind the
// RWMutex are the only cross-goroutine reads.
package fair

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pmfair/updown-fair/internal/basis"
	"github.com/pmfair/updown-fair/internal/metrics"
	"github.com/pmfair/updown-fair/internal/model"
	"github.com/pmfair/updown-fair/internal/vol"
)

// BookSource yields prediction-market midpoints by token id.
type BookSource interface {
	Mid(tokenID string) (float64, bool)
}

// Roller advances market windows. Checked once per recompute tick so rollover
// runs inline on the scheduler goroutine, before the tick's recompute.
type Roller interface {
	CheckAndRoll(ctx context.Context, now time.Time) bool
}

// TickSink receives every tick the scheduler accepts, for persistence.
type TickSink interface {
	Record(tick model.PriceTick)
}

// Config holds the engine's asset/venue universe and estimator tuning.
type Config struct {
	Assets            []model.Asset
	Venues            []model.Venue
	AnchorVenue       model.Venue   // venue whose official open and raw model drive the hybrid getter
	CombinedExclude   []model.Venue // venues left out of the cross-venue average
	RecomputeInterval time.Duration
	TickBuffer        int

	Vol         vol.Params
	SpikeWindow time.Duration // lookback for the calibrator's shock check

	Basis            basis.Params
	SpikeThresholdBy map[model.Asset]float64 // per-asset spike threshold overrides
}

// DefaultConfig returns production defaults: all assets, all venues, binance
// anchored, perp venues excluded from the combined average.
func DefaultConfig() Config {
	return Config{
		Assets:            model.AllAssets(),
		Venues:            model.AllVenues(),
		AnchorVenue:       model.VenueBinance,
		CombinedExclude:   []model.Venue{model.VenueBinanceFutures, model.VenueHyperliquid},
		RecomputeInterval: 50 * time.Millisecond,
		TickBuffer:        4096,
		Vol:               vol.DefaultParams(),
		SpikeWindow:       500 * time.Millisecond,
		Basis:             basis.DefaultParams(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if len(c.Assets) == 0 {
		c.Assets = def.Assets
	}
	if len(c.Venues) == 0 {
		c.Venues = def.Venues
	}
	if c.AnchorVenue == "" {
		c.AnchorVenue = def.AnchorVenue
	}
	if c.CombinedExclude == nil {
		c.CombinedExclude = def.CombinedExclude
	}
	if c.RecomputeInterval <= 0 {
		c.RecomputeInterval = def.RecomputeInterval
	}
	if c.TickBuffer <= 0 {
		c.TickBuffer = def.TickBuffer
	}
	if c.SpikeWindow <= 0 {
		c.SpikeWindow = def.SpikeWindow
	}
	return c
}

// cell is the estimator state for one (asset, venue) pair. Only the scheduler
// goroutine touches it.
type cell struct {
	vol        *vol.Model
	cal        *basis.Calibrator
	startPrice float64 // window open for this venue; 0 until known or seeded
}

// assetState is the scheduler's working state for one asset.
type assetState struct {
	window model.MarketWindow
	cells  map[model.Venue]*cell
}

// AssetSnapshot is the published view of one asset after a recompute pass.
type AssetSnapshot struct {
	Asset       model.Asset             `json:"asset"`
	Fair        model.FairEstimate      `json:"fair"`      // combined cross-venue pair
	Hybrid      float64                 `json:"hybrid"`    // anchor model blended with the book mid
	PerVenue    map[model.Venue]float64 `json:"per_venue"` // calibrated UP by venue
	BookMid     float64                 `json:"book_mid"`  // UP-token midpoint; 0 when absent
	WindowStart time.Time               `json:"window_start"`
	Slug        string                  `json:"slug,omitempty"`
	UpdatedAt   time.Time               `json:"updated_at"`
}

// Engine owns the per-(asset, venue) estimators and the recompute scheduler.
type Engine struct {
	cfg    Config
	books  BookSource
	roller Roller
	sink   TickSink
	logger *slog.Logger

	ticks chan model.PriceTick

	// scheduler-owned; never read outside the scheduler goroutine
	assets map[model.Asset]*assetState

	mu      sync.RWMutex
	snap    map[model.Asset]AssetSnapshot
	windows map[model.Asset]model.MarketWindow

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an engine with an estimator cell per configured (asset, venue)
// pair. Every asset publishes the neutral estimate until its first recompute.
func New(cfg Config, books BookSource, logger *slog.Logger) *Engine {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		cfg:     cfg,
		books:   books,
		logger:  logger.With("component", "fair"),
		ticks:   make(chan model.PriceTick, cfg.TickBuffer),
		assets:  make(map[model.Asset]*assetState, len(cfg.Assets)),
		snap:    make(map[model.Asset]AssetSnapshot, len(cfg.Assets)),
		windows: make(map[model.Asset]model.MarketWindow, len(cfg.Assets)),
	}
	for _, asset := range cfg.Assets {
		st := &assetState{cells: make(map[model.Venue]*cell, len(cfg.Venues))}
		bp := cfg.Basis
		if pct, ok := cfg.SpikeThresholdBy[asset]; ok && pct > 0 {
			bp.SpikeThresholdPct = pct
		}
		for _, venue := range cfg.Venues {
			st.cells[venue] = &cell{vol: vol.New(cfg.Vol), cal: basis.New(bp)}
		}
		e.assets[asset] = st
		e.snap[asset] = AssetSnapshot{Asset: asset, Fair: model.Neutral(), Hybrid: 0.5}
	}
	return e
}

// Ticks returns the channel feeds send into. Sends must stay non-blocking on
// the producer side; the scheduler drains it between recompute ticks.
func (e *Engine) Ticks() chan<- model.PriceTick {
	return e.ticks
}

// SetRoller wires the window lifecycle manager. Must be called before Start.
func (e *Engine) SetRoller(r Roller) {
	e.roller = r
}

// SetSink wires the tick persistence sink. Must be called before Start.
func (e *Engine) SetSink(s TickSink) {
	e.sink = s
}

// Start launches the scheduler goroutine.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(1)
	go e.run(ctx)
	e.logger.Info("engine started",
		"assets", len(e.cfg.Assets),
		"venues", len(e.cfg.Venues),
		"interval", e.cfg.RecomputeInterval)
}

// Stop halts the scheduler and waits for it to exit.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.RecomputeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-e.ticks:
			e.apply(tick)
		case <-ticker.C:
			now := time.Now()
			if e.roller != nil {
				e.roller.CheckAndRoll(ctx, now)
			}
			e.recompute(now)
		}
	}
}

// apply folds one tick into its venue cell: history append, EWMA update, and
// start-price capture for the first trade at or after the window open.
func (e *Engine) apply(tick model.PriceTick) {
	st, ok := e.assets[tick.Asset]
	if !ok {
		return
	}
	c, ok := st.cells[tick.Venue]
	if !ok {
		return
	}
	c.vol.AddPrice(tick.Time, tick.Price)
	if c.startPrice == 0 && st.window.Known() && !tick.Time.Before(st.window.StartTime) {
		c.startPrice = tick.Price
	}
	metrics.TicksApplied.WithLabelValues(string(tick.Asset), string(tick.Venue)).Inc()
	if e.sink != nil {
		e.sink.Record(tick)
	}
}

// ResetAsset installs a new market window: the official open (when known) is
// pushed to every venue cell, basis offsets are cleared, and the published
// estimate snaps to neutral. EWMA variance and price history survive rollover.
// Called by the roller on the scheduler goroutine, or during bootstrap before
// Start.
func (e *Engine) ResetAsset(w model.MarketWindow) {
	st, ok := e.assets[w.Asset]
	if !ok {
		return
	}
	st.window = w
	for _, c := range st.cells {
		c.cal.Reset()
		c.startPrice = w.StartPrice
	}

	e.mu.Lock()
	e.windows[w.Asset] = w
	e.snap[w.Asset] = AssetSnapshot{
		Asset:       w.Asset,
		Fair:        model.Neutral(),
		Hybrid:      0.5,
		WindowStart: w.StartTime,
		Slug:        w.Slug,
		UpdatedAt:   time.Now(),
	}
	e.mu.Unlock()
}

func (e *Engine) recompute(now time.Time) {
	started := time.Now()
	for _, asset := range e.cfg.Assets {
		snap := e.computeAsset(asset, e.assets[asset], now)
		e.mu.Lock()
		e.snap[asset] = snap
		e.mu.Unlock()

		metrics.FairUp.WithLabelValues(string(asset)).Set(snap.Fair.Up)
		if snap.BookMid > 0 {
			metrics.BookMid.WithLabelValues(string(asset)).Set(snap.BookMid)
		}
	}
	metrics.RecomputeDuration.Observe(time.Since(started).Seconds())
}

// computeAsset runs one full estimate pass for one asset: per-venue diffusion
// plus calibration, the combined cross-venue average, and the hybrid blend.
func (e *Engine) computeAsset(asset model.Asset, st *assetState, now time.Time) AssetSnapshot {
	w := st.window
	snap := AssetSnapshot{
		Asset:       asset,
		Fair:        model.Neutral(),
		Hybrid:      0.5,
		PerVenue:    make(map[model.Venue]float64, len(e.cfg.Venues)),
		WindowStart: w.StartTime,
		Slug:        w.Slug,
		UpdatedAt:   now,
	}
	if !w.Known() {
		return snap
	}

	var upMid float64
	haveMid := false
	if e.books != nil {
		if m, ok := e.books.Mid(w.UpTokenID); ok && model.ValidMid(m) {
			upMid, haveMid = m, true
		}
	}
	snap.BookMid = upMid

	tau := w.MinutesRemaining(now)

	var anchorUp, anchorCur, anchorStart float64
	haveAnchor := false
	for _, venue := range e.cfg.Venues {
		c := st.cells[venue]
		cur := c.vol.LastPrice()
		if cur <= 0 || c.startPrice <= 0 {
			continue
		}
		est := c.vol.Calculate(cur, c.startPrice, tau)
		if venue == e.cfg.AnchorVenue {
			anchorUp, anchorCur, anchorStart = est.Up, cur, c.startPrice
			haveAnchor = true
		}
		recent := c.vol.RecentPctChange(now, e.cfg.SpikeWindow)
		snap.PerVenue[venue] = c.cal.Update(est.Up, upMid, recent, now)
	}

	snap.Fair = e.combine(asset, snap.PerVenue, upMid, haveMid)
	snap.Hybrid = hybrid(anchorUp, anchorCur, anchorStart, haveAnchor, haveMid, upMid, tau)
	return snap
}

// combine averages the calibrated probabilities across comparable venues. The
// anchor and excluded venues stay out; so does anything not strictly inside
// (0, 1). With no contributors the book mid stands in, else neutral.
func (e *Engine) combine(asset model.Asset, perVenue map[model.Venue]float64, upMid float64, haveMid bool) model.FairEstimate {
	var sum float64
	n := 0
	for venue, p := range perVenue {
		if venue == e.cfg.AnchorVenue || e.excluded(venue) {
			continue
		}
		if !(p > 0 && p < 1) {
			continue
		}
		sum += p
		n++
	}

	var combined float64
	switch {
	case n > 0:
		combined = sum / float64(n)
	case haveMid:
		combined = upMid
		metrics.FallbackUsed.WithLabelValues(string(asset), "book_mid").Inc()
	default:
		combined = 0.5
		metrics.FallbackUsed.WithLabelValues(string(asset), "neutral").Inc()
	}

	fallback := 0.5
	if haveMid {
		fallback = upMid
	}
	up, finite := model.GuardProb(combined, fallback)
	if !finite {
		e.logger.Warn("non-finite combined estimate replaced", "asset", asset)
		metrics.FallbackUsed.WithLabelValues(string(asset), "guard").Inc()
	}
	return model.FairEstimate{Up: up, Down: 1 - up}
}

func (e *Engine) excluded(venue model.Venue) bool {
	for _, v := range e.cfg.CombinedExclude {
		if v == venue {
			return true
		}
	}
	return false
}

// hybridWeight is the book-mid weight for the hybrid blend. It grows with
// moneyness and with elapsed window time, bounded to [0.15, 0.90].
func hybridWeight(moneyness, tau float64) float64 {
	w := 0.15 + 25*moneyness + 0.55*(1-tau/15)
	if w < 0.15 {
		return 0.15
	}
	if w > 0.90 {
		return 0.90
	}
	return w
}

// hybrid blends the anchor venue's raw diffusion value with the book mid.
// Without a live mid it degenerates to the model value; without anchor state
// it degenerates to the mid, else neutral.
func hybrid(anchorUp, anchorCur, anchorStart float64, haveAnchor, haveMid bool, upMid, tau float64) float64 {
	var h float64
	switch {
	case haveAnchor && haveMid:
		m := math.Abs(math.Log(anchorCur / anchorStart))
		wm := hybridWeight(m, tau)
		h = (1-wm)*anchorUp + wm*upMid
	case haveAnchor:
		h = anchorUp
	case haveMid:
		h = upMid
	default:
		h = 0.5
	}
	guarded, _ := model.GuardProb(h, 0.5)
	return guarded
}

// GetFair returns the published probability pair for one asset: the combined
// cross-venue value, neutral until the first recompute or for unknown assets.
func (e *Engine) GetFair(asset model.Asset) model.FairEstimate {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if s, ok := e.snap[asset]; ok {
		return s.Fair
	}
	return model.Neutral()
}

// GetCombinedFair returns the combined UP probability for one asset.
func (e *Engine) GetCombinedFair(asset model.Asset) float64 {
	return e.GetFair(asset).Up
}

// GetHybridFair returns the anchor-plus-mid blended UP probability. Retained
// for consumers keyed to the single-venue estimate.
func (e *Engine) GetHybridFair(asset model.Asset) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if s, ok := e.snap[asset]; ok {
		return s.Hybrid
	}
	return 0.5
}

// GetPerVenueFair returns the last calibrated estimate for one (asset, venue)
// pair; false while that venue has produced none this window.
func (e *Engine) GetPerVenueFair(asset model.Asset, venue model.Venue) (float64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.snap[asset]
	if !ok {
		return 0, false
	}
	p, ok := s.PerVenue[venue]
	return p, ok
}

// Snapshots returns the published views in configured asset order.
func (e *Engine) Snapshots() []AssetSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]AssetSnapshot, 0, len(e.cfg.Assets))
	for _, asset := range e.cfg.Assets {
		if s, ok := e.snap[asset]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Window returns the current market window for one asset.
func (e *Engine) Window(asset model.Asset) (model.MarketWindow, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	w, ok := e.windows[asset]
	return w, ok
}

// Signal evaluates both outcomes against their books and returns the side
// with the larger edge. Side stays empty when neither token has a usable mid;
// the id is always populated for downstream order attribution.
func (e *Engine) Signal(asset model.Asset, now time.Time) model.TradeSignal {
	e.mu.RLock()
	fair := model.Neutral()
	if s, ok := e.snap[asset]; ok {
		fair = s.Fair
	}
	w, haveWindow := e.windows[asset]
	e.mu.RUnlock()

	sig := model.TradeSignal{ID: uuid.New(), Asset: asset, Time: now}
	if !haveWindow || !w.Known() || e.books == nil {
		return sig
	}

	best := false
	for _, side := range []model.Side{model.SideUp, model.SideDown} {
		mid, ok := e.books.Mid(w.TokenFor(side))
		if !ok || !model.ValidMid(mid) {
			continue
		}
		f := fair.Up
		if side == model.SideDown {
			f = fair.Down
		}
		edge := f - mid
		if !best || edge > sig.Edge {
			sig.Side, sig.Edge, sig.Fair, sig.Mid = side, edge, f, mid
			best = true
		}
	}
	return sig
}
