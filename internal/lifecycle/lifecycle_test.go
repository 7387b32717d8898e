package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pmfair/updown-fair/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeDiscoverer returns scripted windows and counts calls per asset.
type fakeDiscoverer struct {
	mu    sync.Mutex
	fail  map[model.Asset]bool
	calls map[model.Asset]int
}

func newFakeDiscoverer() *fakeDiscoverer {
	return &fakeDiscoverer{
		fail:  make(map[model.Asset]bool),
		calls: make(map[model.Asset]int),
	}
}

func (d *fakeDiscoverer) Discover(ctx context.Context, asset model.Asset, now time.Time) (model.MarketWindow, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls[asset]++
	if d.fail[asset] {
		return model.MarketWindow{}, errors.New("discovery down")
	}
	start := now.UTC().Truncate(model.WindowDuration)
	return model.MarketWindow{
		Asset:       asset,
		Slug:        fmt.Sprintf("%s-updown-15m-%d", asset, start.Unix()),
		StartTime:   start,
		StartPrice:  100,
		ExpiryTime:  start.Add(model.WindowDuration),
		UpTokenID:   string(asset) + "-up",
		DownTokenID: string(asset) + "-down",
	}, nil
}

func (d *fakeDiscoverer) callCount(asset model.Asset) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[asset]
}

type fakeResetter struct {
	mu     sync.Mutex
	resets []model.MarketWindow
}

func (r *fakeResetter) ResetAsset(w model.MarketWindow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets = append(r.resets, w)
}

func (r *fakeResetter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.resets)
}

type fakeSubscriber struct {
	mu   sync.Mutex
	sets [][]string
}

func (s *fakeSubscriber) SetTokens(tokens []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets = append(s.sets, tokens)
}

func (s *fakeSubscriber) last() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sets) == 0 {
		return nil
	}
	return s.sets[len(s.sets)-1]
}

func TestBootstrap(t *testing.T) {
	disc := newFakeDiscoverer()
	engine := &fakeResetter{}
	books := &fakeSubscriber{}
	assets := []model.Asset{model.AssetBTC, model.AssetETH}

	m := New(Config{Assets: assets}, disc, engine, books, testLogger())
	now := time.Date(2026, 8, 23, 12, 3, 0, 0, time.UTC)
	m.Bootstrap(context.Background(), now)

	for _, asset := range assets {
		w, ok := m.Window(asset)
		if !ok || !w.Known() {
			t.Fatalf("window for %s missing after bootstrap", asset)
		}
		if !w.StartTime.Equal(time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)) {
			t.Errorf("StartTime = %v", w.StartTime)
		}
	}
	if engine.count() != 2 {
		t.Errorf("resets = %d, want 2", engine.count())
	}
	if got := books.last(); len(got) != 4 {
		t.Errorf("token set = %v, want 4 tokens", got)
	}

	// One change per asset.
	for range assets {
		select {
		case change := <-m.Changes():
			if change.RolloverID == uuid.Nil {
				t.Error("change without rollover id")
			}
		default:
			t.Fatal("missing change notification")
		}
	}
}

func TestCheckAndRoll_NotDueBeforeExpiry(t *testing.T) {
	disc := newFakeDiscoverer()
	m := New(Config{Assets: []model.Asset{model.AssetBTC}}, disc, nil, nil, testLogger())

	now := time.Date(2026, 8, 23, 12, 3, 0, 0, time.UTC)
	m.Bootstrap(context.Background(), now)
	if got := disc.callCount(model.AssetBTC); got != 1 {
		t.Fatalf("bootstrap calls = %d", got)
	}

	// Mid-window: nothing to do.
	if m.CheckAndRoll(context.Background(), now.Add(5*time.Minute)) {
		t.Error("rolled mid-window")
	}
	if got := disc.callCount(model.AssetBTC); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestCheckAndRoll_GraceBoundary(t *testing.T) {
	disc := newFakeDiscoverer()
	grace := 1500 * time.Millisecond
	m := New(Config{Assets: []model.Asset{model.AssetBTC}, Grace: grace}, disc, nil, nil, testLogger())

	now := time.Date(2026, 8, 23, 12, 3, 0, 0, time.UTC)
	m.Bootstrap(context.Background(), now)
	w, _ := m.Window(model.AssetBTC)

	// Exactly at expiry+grace the old window still stands.
	if m.CheckAndRoll(context.Background(), w.ExpiryTime.Add(grace)) {
		t.Error("rolled exactly at expiry+grace")
	}

	// One instant later it rolls.
	if !m.CheckAndRoll(context.Background(), w.ExpiryTime.Add(grace+time.Nanosecond)) {
		t.Error("did not roll past expiry+grace")
	}
	next, _ := m.Window(model.AssetBTC)
	if !next.StartTime.After(w.StartTime) {
		t.Errorf("window did not advance: %v -> %v", w.StartTime, next.StartTime)
	}
}

func TestCheckAndRoll_RetrySpacing(t *testing.T) {
	disc := newFakeDiscoverer()
	disc.fail[model.AssetBTC] = true
	retry := 2 * time.Second
	m := New(Config{Assets: []model.Asset{model.AssetBTC}, RetryInterval: retry}, disc, nil, nil, testLogger())

	now := time.Date(2026, 8, 23, 12, 3, 0, 0, time.UTC)
	if !m.CheckAndRoll(context.Background(), now) {
		t.Fatal("first attempt should run")
	}
	if _, ok := m.Window(model.AssetBTC); ok {
		t.Fatal("failed discovery must not install a window")
	}

	// Within the retry interval: suppressed.
	if m.CheckAndRoll(context.Background(), now.Add(500*time.Millisecond)) {
		t.Error("attempt inside retry interval")
	}
	if got := disc.callCount(model.AssetBTC); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}

	// Past the interval: retried, and this time it works.
	disc.fail[model.AssetBTC] = false
	if !m.CheckAndRoll(context.Background(), now.Add(retry)) {
		t.Error("no retry after interval")
	}
	if _, ok := m.Window(model.AssetBTC); !ok {
		t.Error("window missing after successful retry")
	}
}

func TestRoll_PartialFailureKeepsOldWindow(t *testing.T) {
	disc := newFakeDiscoverer()
	engine := &fakeResetter{}
	books := &fakeSubscriber{}
	assets := []model.Asset{model.AssetBTC, model.AssetETH}
	m := New(Config{Assets: assets}, disc, engine, books, testLogger())

	now := time.Date(2026, 8, 23, 12, 3, 0, 0, time.UTC)
	m.Bootstrap(context.Background(), now)
	btcOld, _ := m.Window(model.AssetBTC)

	// Next window: ETH discovery breaks.
	disc.fail[model.AssetETH] = true
	later := now.Add(16 * time.Minute)
	if !m.CheckAndRoll(context.Background(), later) {
		t.Fatal("expected a rollover pass")
	}

	btcNew, _ := m.Window(model.AssetBTC)
	if !btcNew.StartTime.After(btcOld.StartTime) {
		t.Error("healthy asset did not roll")
	}
	ethWin, ok := m.Window(model.AssetETH)
	if !ok || !ethWin.StartTime.Equal(btcOld.StartTime) {
		t.Errorf("failed asset window = %+v, want the previous one", ethWin)
	}

	// Token set still covers both assets: new BTC tokens, old ETH tokens.
	if got := books.last(); len(got) != 4 {
		t.Errorf("token set = %v, want 4 tokens", got)
	}
}

func TestChanges_DropOldest(t *testing.T) {
	m := New(Config{Assets: []model.Asset{model.AssetBTC}}, newFakeDiscoverer(), nil, nil, testLogger())

	// Fill the channel.
	for i := 0; i < ChangeBufferSize; i++ {
		m.changes <- Change{Asset: "FILL"}
	}

	m.notify(Change{Asset: model.AssetBTC})

	// Drain and verify the new change made it in.
	found := false
	for i := 0; i < ChangeBufferSize; i++ {
		select {
		case c := <-m.changes:
			if c.Asset == model.AssetBTC {
				found = true
			}
		default:
		}
	}
	if !found {
		t.Error("newest change was dropped instead of the oldest")
	}
}

func TestDue_UnknownWindowIsDue(t *testing.T) {
	disc := newFakeDiscoverer()
	m := New(Config{Assets: []model.Asset{model.AssetBTC}}, disc, nil, nil, testLogger())

	now := time.Now()
	due := m.due(now)
	if len(due) != 1 || due[0] != model.AssetBTC {
		t.Errorf("due = %v, want [BTC]", due)
	}
}
