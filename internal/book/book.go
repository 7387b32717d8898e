// Package book maintains the prediction-market order book feed. One
// WebSocket session subscribes to every tracked outcome token; the feed
// keeps a small depth book per token and serves best bid, ask, and
// midpoint snapshots. Changing the token set forces a resubscribe on a
// fresh connection.
package book

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pmfair/updown-fair/internal/metrics"
	"github.com/pmfair/updown-fair/internal/model"
)

// ErrStale signals the watchdog closed a book connection that went silent.
var ErrStale = errors.New("book feed stale: no events received")

// errResubscribe forces an immediate reconnect with a new token set.
var errResubscribe = errors.New("resubscribing")

const writeTimeout = 10 * time.Second

// Config controls the book feed connection.
type Config struct {
	// URL is the market data WebSocket endpoint.
	URL string

	// StaleAfter is the silence threshold that forces a reconnect. Book
	// traffic is sparser than trade traffic, so this runs longer than
	// the exchange feeds.
	StaleAfter time.Duration

	// PingInterval is the cadence of the text "PING" keepalive. The
	// endpoint answers with a text "PONG", which counts as traffic for
	// the staleness clock.
	PingInterval time.Duration

	WatchdogInterval time.Duration
	BackoffStep      time.Duration
	BackoffMax       time.Duration
	DialTimeout      time.Duration
}

// DefaultConfig returns production book feed settings.
func DefaultConfig() Config {
	return Config{
		URL:              "wss://ws-subscriptions-clob.polymarket.com/ws/market",
		StaleAfter:       15000 * time.Millisecond,
		PingInterval:     10 * time.Second,
		WatchdogInterval: 2000 * time.Millisecond,
		BackoffStep:      1000 * time.Millisecond,
		BackoffMax:       10000 * time.Millisecond,
		DialTimeout:      10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.URL == "" {
		c.URL = def.URL
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = def.StaleAfter
	}
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = def.WatchdogInterval
	}
	if c.BackoffStep <= 0 {
		c.BackoffStep = def.BackoffStep
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = def.BackoffMax
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
	return c
}

// Feed is the order book WebSocket client. Quotes are readable from any
// goroutine; events apply on the session goroutine.
type Feed struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.RWMutex
	tokens    []string
	books     map[string]*depth
	quotes    map[string]model.BookQuote
	connected bool
	lastMsgAt time.Time
	attempt   int

	resub   chan struct{}
	writeMu sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates the book feed. A nil logger falls back to slog.Default().
func New(cfg Config, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "book"),
		books:  make(map[string]*depth),
		quotes: make(map[string]model.BookQuote),
		resub:  make(chan struct{}, 1),
	}
}

// Start launches the reconnect loop. With no tokens set it idles until
// SetTokens provides some.
func (f *Feed) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.wg.Add(1)
	go f.run(runCtx)
}

// Stop tears down the connection and waits for the loop to exit.
func (f *Feed) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	f.wg.Wait()
}

// SetTokens replaces the subscription set and forces a resubscribe on a
// fresh connection. Books for dropped tokens are discarded.
func (f *Feed) SetTokens(tokens []string) {
	f.mu.Lock()
	f.tokens = append([]string(nil), tokens...)
	keep := make(map[string]struct{}, len(tokens))
	for _, id := range tokens {
		keep[id] = struct{}{}
	}
	for id := range f.books {
		if _, ok := keep[id]; !ok {
			delete(f.books, id)
			delete(f.quotes, id)
		}
	}
	f.mu.Unlock()

	select {
	case f.resub <- struct{}{}:
	default:
	}
}

// Quote returns the latest top-of-book snapshot for a token.
func (f *Feed) Quote(tokenID string) (model.BookQuote, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	q, ok := f.quotes[tokenID]
	return q, ok
}

// Mid returns the latest midpoint for a token. ok is false when either
// side of the book is empty or the token is untracked.
func (f *Feed) Mid(tokenID string) (float64, bool) {
	q, ok := f.Quote(tokenID)
	if !ok || q.Mid == 0 {
		return 0, false
	}
	return q.Mid, true
}

// IsConnected reports whether a session is currently established.
func (f *Feed) IsConnected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected
}

// LastMessageAt returns the arrival time of the most recent frame.
func (f *Feed) LastMessageAt() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastMsgAt
}

func (f *Feed) snapshotTokens() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]string(nil), f.tokens...)
}

func (f *Feed) run(ctx context.Context) {
	defer f.wg.Done()
	for {
		err := f.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, errResubscribe) {
			// New token set: reconnect immediately.
			continue
		}

		f.mu.Lock()
		f.attempt++
		attempt := f.attempt
		f.mu.Unlock()

		reason := metrics.ReasonError
		if errors.Is(err, ErrStale) {
			reason = metrics.ReasonStale
		}
		metrics.BookReconnects.WithLabelValues(reason).Inc()

		delay := time.Duration(attempt) * f.cfg.BackoffStep
		if delay > f.cfg.BackoffMax {
			delay = f.cfg.BackoffMax
		}
		f.logger.Warn("book feed disconnected",
			"attempt", attempt,
			"retry_in", delay,
			"error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

type marketSubscription struct {
	AssetsIDs   []string `json:"assets_ids"`
	Type        string   `json:"type"`
	InitialDump bool     `json:"initial_dump"`
}

func (f *Feed) session(ctx context.Context) error {
	// Idle until there is something to subscribe to.
	tokens := f.snapshotTokens()
	for len(tokens) == 0 {
		select {
		case <-f.resub:
			tokens = f.snapshotTokens()
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// Drain any queued resubscribe signal, then re-snapshot so the set
	// subscribed below is never older than the signal that was dropped.
	select {
	case <-f.resub:
		tokens = f.snapshotTokens()
	default:
	}

	dialer := websocket.Dialer{HandshakeTimeout: f.cfg.DialTimeout}
	conn, resp, err := dialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return fmt.Errorf("dialing %s: %w", f.cfg.URL, err)
	}
	defer conn.Close()

	f.mu.Lock()
	f.connected = true
	f.attempt = 0
	f.lastMsgAt = time.Now()
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.connected = false
		f.mu.Unlock()
	}()

	sub, err := json.Marshal(marketSubscription{
		AssetsIDs:   tokens,
		Type:        "market",
		InitialDump: true,
	})
	if err != nil {
		return fmt.Errorf("marshaling subscription: %w", err)
	}
	if err := f.write(conn, sub); err != nil {
		return fmt.Errorf("subscribing: %w", err)
	}
	f.logger.Info("book feed connected", "tokens", len(tokens))

	stale := make(chan struct{})
	resubbed := make(chan struct{})
	sessionDone := make(chan struct{})
	defer close(sessionDone)
	f.wg.Add(1)
	go f.watchdog(ctx, conn, sessionDone, stale, resubbed)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-resubbed:
				return errResubscribe
			default:
			}
			select {
			case <-stale:
				return ErrStale
			default:
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("reading frame: %w", err)
		}

		f.mu.Lock()
		f.lastMsgAt = time.Now()
		f.mu.Unlock()
		metrics.BookEvents.Inc()

		if err := f.handleFrame(data); err != nil {
			f.logger.Debug("unparseable book frame", "error", err)
		}
	}
}

// watchdog forces a reconnect on silence, sends text keepalives, and
// tears the session down when the token set changes.
func (f *Feed) watchdog(ctx context.Context, conn *websocket.Conn, sessionDone <-chan struct{}, stale, resubbed chan<- struct{}) {
	defer f.wg.Done()

	ticker := time.NewTicker(f.cfg.WatchdogInterval)
	defer ticker.Stop()
	ping := time.NewTicker(f.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-sessionDone:
			return
		case <-ctx.Done():
			conn.Close()
			return
		case <-f.resub:
			close(resubbed)
			conn.Close()
			return
		case <-ping.C:
			if err := f.write(conn, []byte("PING")); err != nil {
				f.logger.Debug("keepalive failed", "error", err)
			}
		case <-ticker.C:
			last := f.LastMessageAt()
			if time.Since(last) > f.cfg.StaleAfter {
				f.logger.Warn("book feed silent, forcing reconnect",
					"silent_for", time.Since(last))
				close(stale)
				conn.Close()
				return
			}
		}
	}
}

// handleFrame decodes one frame. The endpoint batches events into JSON
// arrays; single objects and keepalive text also appear.
func (f *Feed) handleFrame(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("PONG")) || bytes.Equal(trimmed, []byte("PING")) {
		return nil
	}
	if trimmed[0] == '[' {
		var events []json.RawMessage
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return fmt.Errorf("decoding event batch: %w", err)
		}
		for _, ev := range events {
			if err := f.handleEvent(ev); err != nil {
				return err
			}
		}
		return nil
	}
	return f.handleEvent(trimmed)
}

type orderSummary struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type bookEvent struct {
	AssetID string         `json:"asset_id"`
	Buys    []orderSummary `json:"buys"`
	Sells   []orderSummary `json:"sells"`
	Bids    []orderSummary `json:"bids"`
	Asks    []orderSummary `json:"asks"`
}

type priceChangeEvent struct {
	AssetID string        `json:"asset_id"`
	Price   string        `json:"price"`
	Size    string        `json:"size"`
	Side    string        `json:"side"`
	Changes []levelChange `json:"changes"`
}

type levelChange struct {
	Price string `json:"price"`
	Size  string `json:"size"`
	Side  string `json:"side"`
}

type bestBidAskEvent struct {
	AssetID string `json:"asset_id"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

func (f *Feed) handleEvent(raw []byte) error {
	var head struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return fmt.Errorf("decoding event: %w", err)
	}

	switch head.EventType {
	case "book":
		var ev bookEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return fmt.Errorf("decoding book event: %w", err)
		}
		return f.applySnapshot(ev)
	case "price_change":
		var ev priceChangeEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return fmt.Errorf("decoding price change: %w", err)
		}
		return f.applyPriceChange(ev)
	case "best_bid_ask":
		var ev bestBidAskEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return fmt.Errorf("decoding best bid ask: %w", err)
		}
		return f.applyBestBidAsk(ev)
	case "last_trade_price", "tick_size_change":
		return nil
	}
	return nil
}

func parseLevels(raw []orderSummary) []level {
	out := make([]level, 0, len(raw))
	for _, o := range raw {
		price, err1 := strconv.ParseFloat(o.Price, 64)
		size, err2 := strconv.ParseFloat(o.Size, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, level{price: price, size: size})
	}
	return out
}

func (f *Feed) applySnapshot(ev bookEvent) error {
	if ev.AssetID == "" {
		return fmt.Errorf("book event without asset_id")
	}
	bids, asks := ev.Buys, ev.Sells
	if len(bids) == 0 && len(asks) == 0 {
		bids, asks = ev.Bids, ev.Asks
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.books[ev.AssetID]
	if !ok {
		d = newDepth()
		f.books[ev.AssetID] = d
	}
	d.replace(parseLevels(bids), parseLevels(asks))
	f.refreshQuote(ev.AssetID, d)
	return nil
}

func (f *Feed) applyPriceChange(ev priceChangeEvent) error {
	if ev.AssetID == "" {
		return fmt.Errorf("price change without asset_id")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.books[ev.AssetID]
	if !ok {
		d = newDepth()
		f.books[ev.AssetID] = d
	}

	changes := ev.Changes
	if len(changes) == 0 && ev.Price != "" {
		changes = []levelChange{{Price: ev.Price, Size: ev.Size, Side: ev.Side}}
	}
	for _, ch := range changes {
		price, err := strconv.ParseFloat(ch.Price, 64)
		if err != nil {
			return fmt.Errorf("bad change price %q: %w", ch.Price, err)
		}
		size, err := strconv.ParseFloat(ch.Size, 64)
		if err != nil {
			return fmt.Errorf("bad change size %q: %w", ch.Size, err)
		}
		d.set(ch.Side, price, size)
	}
	f.refreshQuote(ev.AssetID, d)
	return nil
}

// applyBestBidAsk overrides the cached quote directly; some feed modes
// publish top-of-book without level detail.
func (f *Feed) applyBestBidAsk(ev bestBidAskEvent) error {
	if ev.AssetID == "" {
		return fmt.Errorf("best bid ask without asset_id")
	}
	bid, err := strconv.ParseFloat(ev.BestBid, 64)
	if err != nil {
		return fmt.Errorf("bad best bid %q: %w", ev.BestBid, err)
	}
	ask, err := strconv.ParseFloat(ev.BestAsk, 64)
	if err != nil {
		return fmt.Errorf("bad best ask %q: %w", ev.BestAsk, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes[ev.AssetID] = model.BookQuote{Bid: bid, Ask: ask, Mid: (bid + ask) / 2}
	return nil
}

// refreshQuote recomputes the cached quote from depth. Callers hold f.mu.
func (f *Feed) refreshQuote(tokenID string, d *depth) {
	mid, ok := d.mid()
	if !ok {
		f.quotes[tokenID] = model.BookQuote{}
		return
	}
	bid, ask, _ := d.best()
	f.quotes[tokenID] = model.BookQuote{Bid: bid, Ask: ask, Mid: mid}
}

func (f *Feed) write(conn *websocket.Conn, data []byte) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}
