package feed

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pmfair/updown-fair/internal/model"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeAdapter points a feed at a test server. Frames are {"price": N}
// and parse to one BTC tick.
type fakeAdapter struct {
	url string
}

func (a *fakeAdapter) Venue() model.Venue { return model.VenueBinance }
func (a *fakeAdapter) URL() string        { return a.url }

func (a *fakeAdapter) SubscribeMessages(assets []model.Asset) ([][]byte, error) {
	return [][]byte{[]byte(`{"method":"SUBSCRIBE"}`)}, nil
}

func (a *fakeAdapter) Keepalive() ([]byte, time.Duration) { return nil, 0 }

func (a *fakeAdapter) ParseTick(data []byte, receivedAt time.Time) ([]model.PriceTick, error) {
	var m struct {
		Price float64 `json:"price"`
	}
	if err := json.Unmarshal(data, &m); err != nil || m.Price <= 0 {
		return nil, nil
	}
	return []model.PriceTick{{
		Asset: model.AssetBTC,
		Venue: model.VenueBinance,
		Time:  receivedAt,
		Price: m.Price,
	}}, nil
}

func TestReconnectDelay(t *testing.T) {
	step := 1000 * time.Millisecond
	max := 10000 * time.Millisecond

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1000 * time.Millisecond},
		{2, 2000 * time.Millisecond},
		{3, 3000 * time.Millisecond},
		{9, 9000 * time.Millisecond},
		{10, 10000 * time.Millisecond},
		{11, 10000 * time.Millisecond},
		{100, 10000 * time.Millisecond},
		{0, 1000 * time.Millisecond},
	}

	for _, tt := range tests {
		if got := ReconnectDelay(tt.attempt, step, max); got != tt.want {
			t.Errorf("ReconnectDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestStale(t *testing.T) {
	now := time.Now()
	threshold := 5000 * time.Millisecond

	tests := []struct {
		name    string
		silence time.Duration
		want    bool
	}{
		{"fresh", 100 * time.Millisecond, false},
		{"just under", 4999 * time.Millisecond, false},
		{"exactly at threshold", 5000 * time.Millisecond, false},
		{"just over", 5001 * time.Millisecond, true},
		{"long silent", time.Minute, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Stale(now, now.Add(-tt.silence), threshold); got != tt.want {
				t.Errorf("Stale(silence=%v) = %v, want %v", tt.silence, got, tt.want)
			}
		})
	}
}

func TestFeed_ForwardsTicks(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"price": 50000.5}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	out := make(chan model.PriceTick, 16)
	f := New(&fakeAdapter{url: wsURL(server)}, []model.Asset{model.AssetBTC}, out, Config{}, testLogger())
	f.Start(context.Background())
	defer f.Stop()

	select {
	case tick := <-out:
		if tick.Price != 50000.5 {
			t.Errorf("Price = %v, want 50000.5", tick.Price)
		}
		if tick.Asset != model.AssetBTC {
			t.Errorf("Asset = %v, want BTC", tick.Asset)
		}
		if tick.Time.IsZero() {
			t.Error("expected a stamped tick time")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tick")
	}

	if !f.IsConnected() {
		t.Error("expected IsConnected while session is live")
	}
}

func TestFeed_SendsSubscribe(t *testing.T) {
	got := make(chan []byte, 1)
	server := mockWSServer(t, func(conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		got <- data
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	out := make(chan model.PriceTick, 1)
	f := New(&fakeAdapter{url: wsURL(server)}, nil, out, Config{}, testLogger())
	f.Start(context.Background())
	defer f.Stop()

	select {
	case data := <-got:
		if string(data) != `{"method":"SUBSCRIBE"}` {
			t.Errorf("subscribe frame = %s", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscribe frame")
	}
}

func TestFeed_ReconnectsAfterServerClose(t *testing.T) {
	var conns atomic.Int32
	server := mockWSServer(t, func(conn *websocket.Conn) {
		if conns.Add(1) == 1 {
			return // drop the first session immediately
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	out := make(chan model.PriceTick, 1)
	cfg := Config{BackoffStep: 10 * time.Millisecond, BackoffMax: 50 * time.Millisecond}
	f := New(&fakeAdapter{url: wsURL(server)}, nil, out, cfg, testLogger())
	f.Start(context.Background())
	defer f.Stop()

	deadline := time.After(2 * time.Second)
	for conns.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("no reconnect, sessions = %d", conns.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestFeed_WatchdogForcesReconnect(t *testing.T) {
	var conns atomic.Int32
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conns.Add(1)
		// Accept the subscribe, then stay silent.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	out := make(chan model.PriceTick, 1)
	cfg := Config{
		WatchdogInterval: 10 * time.Millisecond,
		StaleAfter:       50 * time.Millisecond,
		BackoffStep:      10 * time.Millisecond,
		BackoffMax:       50 * time.Millisecond,
	}
	f := New(&fakeAdapter{url: wsURL(server)}, nil, out, cfg, testLogger())
	f.Start(context.Background())
	defer f.Stop()

	deadline := time.After(2 * time.Second)
	for conns.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("watchdog never reconnected, sessions = %d", conns.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestFeed_DropsOnFullChannel(t *testing.T) {
	release := make(chan struct{})
	server := mockWSServer(t, func(conn *websocket.Conn) {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		for i := 0; i < 5; i++ {
			conn.WriteMessage(websocket.TextMessage, []byte(`{"price": 100}`))
		}
		<-release
	})
	defer server.Close()
	defer close(release)

	out := make(chan model.PriceTick, 1)
	f := New(&fakeAdapter{url: wsURL(server)}, nil, out, Config{}, testLogger())
	f.Start(context.Background())
	defer f.Stop()

	deadline := time.After(2 * time.Second)
	for len(out) == 0 {
		select {
		case <-deadline:
			t.Fatal("no tick arrived")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// The rest must be dropped, not queued.
	time.Sleep(100 * time.Millisecond)
	if got := len(out); got != 1 {
		t.Errorf("queued ticks = %d, want 1", got)
	}
}

func TestFeed_StopWaitsForShutdown(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	out := make(chan model.PriceTick, 1)
	f := New(&fakeAdapter{url: wsURL(server)}, nil, out, Config{}, testLogger())
	f.Start(context.Background())

	deadline := time.After(2 * time.Second)
	for !f.IsConnected() {
		select {
		case <-deadline:
			t.Fatal("never connected")
		case <-time.After(5 * time.Millisecond):
		}
	}

	done := make(chan struct{})
	go func() {
		f.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	if f.IsConnected() {
		t.Error("still connected after Stop")
	}
}

func TestManager_Status(t *testing.T) {
	out := make(chan model.PriceTick, 1)
	venues := []model.Venue{model.VenueBinance, model.VenueKraken}

	m, err := NewManager(venues, model.AllAssets(), out, Config{}, testLogger())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	statuses := m.Status()
	if len(statuses) != 2 {
		t.Fatalf("statuses = %d, want 2", len(statuses))
	}
	for i, want := range venues {
		if statuses[i].Venue != want {
			t.Errorf("status[%d].Venue = %v, want %v", i, statuses[i].Venue, want)
		}
		if statuses[i].Connected {
			t.Errorf("status[%d] claims connected before Start", i)
		}
	}
	if m.ConnectedCount() != 0 {
		t.Errorf("ConnectedCount = %d, want 0", m.ConnectedCount())
	}
}

func TestManager_UnknownVenue(t *testing.T) {
	out := make(chan model.PriceTick, 1)
	if _, err := NewManager([]model.Venue{"nyse"}, nil, out, Config{}, testLogger()); err == nil {
		t.Fatal("expected error for unknown venue")
	}
}
