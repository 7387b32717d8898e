package publish

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pmfair/updown-fair/internal/fair"
	"github.com/pmfair/updown-fair/internal/model"
	"github.com/pmfair/updown-fair/internal/store"
)

type fakeSource struct {
	snaps []fair.AssetSnapshot
}

func (s *fakeSource) Snapshots() []fair.AssetSnapshot { return s.snaps }

type fakeSink struct {
	mu   sync.Mutex
	rows []store.EstimateRow
}

func (s *fakeSink) Record(row store.EstimateRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, row)
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func (s *fakeSink) first() store.EstimateRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[0]
}

func testSnapshot() fair.AssetSnapshot {
	return fair.AssetSnapshot{
		Asset:       model.AssetBTC,
		Fair:        model.FairEstimate{Up: 0.63, Down: 0.37},
		Hybrid:      0.61,
		BookMid:     0.64,
		WindowStart: time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC),
		Slug:        "btc-updown-15m-1776600000",
		UpdatedAt:   time.Date(2026, 2, 10, 12, 5, 0, 0, time.UTC),
	}
}

func TestPublisher_SamplesToSink(t *testing.T) {
	source := &fakeSource{snaps: []fair.AssetSnapshot{testSnapshot()}}
	sink := &fakeSink{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	p := New(Config{Interval: 10 * time.Millisecond}, source, sink, nil, logger)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.After(2 * time.Second)
	for sink.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("no rows sampled")
		case <-time.After(5 * time.Millisecond):
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	row := sink.first()
	if row.Asset != model.AssetBTC || row.Up != 0.63 || row.Down != 0.37 {
		t.Errorf("row = %+v, want BTC 0.63/0.37", row)
	}
	if row.Hybrid != 0.61 || row.BookMid != 0.64 {
		t.Errorf("row = %+v, want hybrid 0.61 mid 0.64", row)
	}
	if row.WindowStart.IsZero() || row.Time.IsZero() {
		t.Errorf("row = %+v, want window start and sample time set", row)
	}
}

func TestPayloadFromSnapshot(t *testing.T) {
	data, err := json.Marshal(payloadFromSnapshot(testSnapshot()))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got["asset"] != "BTC" {
		t.Errorf("asset = %v, want BTC", got["asset"])
	}
	if got["up"] != 0.63 || got["down"] != 0.37 {
		t.Errorf("up/down = %v/%v, want 0.63/0.37", got["up"], got["down"])
	}
	if got["slug"] != "btc-updown-15m-1776600000" {
		t.Errorf("slug = %v", got["slug"])
	}
	if _, ok := got["window_start"]; !ok {
		t.Error("window_start missing from payload")
	}
}

func TestKey(t *testing.T) {
	p := New(Config{}, &fakeSource{}, nil, nil, nil)
	if got := p.key(model.AssetETH); got != "fair:eth" {
		t.Errorf("key = %q, want fair:eth", got)
	}

	p = New(Config{KeyPrefix: "updown/"}, &fakeSource{}, nil, nil, nil)
	if got := p.key(model.AssetBTC); got != "updown/btc" {
		t.Errorf("key = %q, want updown/btc", got)
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.Interval != time.Second || cfg.TTL != 5*time.Second || cfg.KeyPrefix != "fair:" {
		t.Errorf("defaults = %+v", cfg)
	}

	cfg = Config{Interval: 100 * time.Millisecond}.withDefaults()
	if cfg.Interval != 100*time.Millisecond {
		t.Errorf("explicit interval overwritten: %v", cfg.Interval)
	}
}
