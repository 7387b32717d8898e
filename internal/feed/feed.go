package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pmfair/updown-fair/internal/metrics"
	"github.com/pmfair/updown-fair/internal/model"
)

// ErrStale signals the watchdog closed a connection that went silent.
var ErrStale = errors.New("feed stale: no messages received")

const writeTimeout = 10 * time.Second

// Config controls reconnect and staleness behavior for one feed.
type Config struct {
	// WatchdogInterval is how often the watchdog checks for silence.
	WatchdogInterval time.Duration

	// StaleAfter is the silence threshold that forces a reconnect.
	StaleAfter time.Duration

	// BackoffStep and BackoffMax bound the linear reconnect delay:
	// delay = min(BackoffStep * attempt, BackoffMax).
	BackoffStep time.Duration
	BackoffMax  time.Duration

	// DialTimeout bounds the WebSocket handshake.
	DialTimeout time.Duration
}

// DefaultConfig returns production reconnect settings.
func DefaultConfig() Config {
	return Config{
		WatchdogInterval: 2000 * time.Millisecond,
		StaleAfter:       5000 * time.Millisecond,
		BackoffStep:      1000 * time.Millisecond,
		BackoffMax:       10000 * time.Millisecond,
		DialTimeout:      10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = def.WatchdogInterval
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = def.StaleAfter
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

// Feed owns one venue connection. It dials, subscribes, and forwards
// parsed ticks to the engine channel, reconnecting forever until stopped.
// Sends never block: when the channel is full the tick is dropped and
// counted.
type Feed struct {
	adapter Adapter
	assets  []model.Asset
	out     chan<- model.PriceTick
	cfg     Config
	logger  *slog.Logger

	mu        sync.RWMutex
	connected bool
	lastMsgAt time.Time
	attempt   int

	writeMu sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a feed for one venue covering the given assets. Parsed
// ticks go to out. A nil logger falls back to slog.Default().
func New(adapter Adapter, assets []model.Asset, out chan<- model.PriceTick, cfg Config, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		adapter: adapter,
		assets:  assets,
		out:     out,
		cfg:     cfg.withDefaults(),
		logger:  logger.With("component", "feed", "venue", adapter.Venue()),
	}
}

// Start launches the reconnect loop. It returns immediately.
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

// Venue identifies the exchange this feed connects to.
func (f *Feed) Venue() model.Venue {
	return f.adapter.Venue()
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

// ReconnectDelay returns the linear backoff delay for a reconnect attempt.
func ReconnectDelay(attempt int, step, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := time.Duration(attempt) * step
	if delay > max {
		delay = max
	}
	return delay
}

// Stale reports whether a feed last heard from at last has been silent
// longer than threshold at now.
func Stale(now, last time.Time, threshold time.Duration) bool {
	return now.Sub(last) > threshold
}

func (f *Feed) run(ctx context.Context) {
	defer f.wg.Done()
	for {
		err := f.session(ctx)
		if ctx.Err() != nil {
			return
		}

		f.mu.Lock()
		f.attempt++
		attempt := f.attempt
		f.mu.Unlock()

		reason := metrics.ReasonError
		if errors.Is(err, ErrStale) {
			reason = metrics.ReasonStale
		}
		metrics.FeedReconnects.WithLabelValues(string(f.adapter.Venue()), reason).Inc()

		delay := ReconnectDelay(attempt, f.cfg.BackoffStep, f.cfg.BackoffMax)
		f.logger.Warn("feed disconnected",
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

// session runs one connection from dial to failure. The consecutive
// failure counter resets once the dial succeeds.
func (f *Feed) session(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: f.cfg.DialTimeout}
	conn, resp, err := dialer.DialContext(ctx, f.adapter.URL(), nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return fmt.Errorf("dialing %s: %w", f.adapter.URL(), err)
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

	f.logger.Info("feed connected", "url", f.adapter.URL())

	msgs, err := f.adapter.SubscribeMessages(f.assets)
	if err != nil {
		return fmt.Errorf("building subscriptions: %w", err)
	}
	for _, msg := range msgs {
		if err := f.write(conn, msg); err != nil {
			return fmt.Errorf("subscribing: %w", err)
		}
	}

	// stale is closed by the watchdog before it kills the connection so
	// the read error below can be attributed.
	stale := make(chan struct{})
	sessionDone := make(chan struct{})
	defer close(sessionDone)
	f.wg.Add(1)
	go f.watchdog(ctx, conn, sessionDone, stale)

	venue := string(f.adapter.Venue())
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
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
		now := time.Now()

		f.mu.Lock()
		f.lastMsgAt = now
		f.mu.Unlock()
		metrics.FeedMessages.WithLabelValues(venue).Inc()

		ticks, err := f.adapter.ParseTick(data, now)
		if err != nil {
			metrics.FeedParseErrors.WithLabelValues(venue).Inc()
			f.logger.Debug("unparseable frame", "error", err)
			continue
		}
		for _, tick := range ticks {
			if !tick.Valid() {
				continue
			}
			select {
			case f.out <- tick:
			default:
				metrics.FeedTickDrops.WithLabelValues(venue).Inc()
				f.logger.Warn("tick channel full, dropping",
					"asset", tick.Asset)
			}
		}
	}
}

// watchdog forces a reconnect when the connection goes silent and sends
// venue keepalives where the protocol wants them.
func (f *Feed) watchdog(ctx context.Context, conn *websocket.Conn, sessionDone <-chan struct{}, stale chan<- struct{}) {
	defer f.wg.Done()

	ticker := time.NewTicker(f.cfg.WatchdogInterval)
	defer ticker.Stop()

	payload, every := f.adapter.Keepalive()
	var keepalive <-chan time.Time
	if payload != nil && every > 0 {
		kt := time.NewTicker(every)
		defer kt.Stop()
		keepalive = kt.C
	}

	for {
		select {
		case <-sessionDone:
			return
		case <-ctx.Done():
			conn.Close()
			return
		case <-keepalive:
			if err := f.write(conn, payload); err != nil {
				f.logger.Debug("keepalive write failed", "error", err)
			}
		case <-ticker.C:
			last := f.LastMessageAt()
			if Stale(time.Now(), last, f.cfg.StaleAfter) {
				f.logger.Warn("feed silent, forcing reconnect",
					"silent_for", time.Since(last))
				close(stale)
				conn.Close()
				return
			}
		}
	}
}

func (f *Feed) write(conn *websocket.Conn, data []byte) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}
