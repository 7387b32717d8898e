package feed

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pmfair/updown-fair/internal/model"
)

const bybitURL = "wss://stream.bybit.com/v5/public/spot"

type bybitAdapter struct {
	symbols map[string]model.Asset
}

func newBybit() *bybitAdapter {
	a := &bybitAdapter{symbols: make(map[string]model.Asset)}
	for _, asset := range model.AllAssets() {
		a.symbols[string(asset)+"USDT"] = asset
	}
	return a
}

func (a *bybitAdapter) Venue() model.Venue { return model.VenueBybit }
func (a *bybitAdapter) URL() string        { return bybitURL }

func (a *bybitAdapter) SubscribeMessages(assets []model.Asset) ([][]byte, error) {
	args := make([]string, 0, len(assets))
	for _, asset := range assets {
		args = append(args, "publicTrade."+string(asset)+"USDT")
	}
	msg, err := json.Marshal(map[string]any{"op": "subscribe", "args": args})
	if err != nil {
		return nil, fmt.Errorf("marshaling subscribe: %w", err)
	}
	return [][]byte{msg}, nil
}

// Keepalive pings every 20s; Bybit drops clients silent for longer.
func (a *bybitAdapter) Keepalive() ([]byte, time.Duration) {
	return []byte(`{"op":"ping"}`), 20 * time.Second
}

type bybitFrame struct {
	Topic string       `json:"topic"`
	Op    string       `json:"op"`
	Data  []bybitTrade `json:"data"`
}

type bybitTrade struct {
	TimeMS int64  `json:"T"`
	Symbol string `json:"s"`
	Price  string `json:"p"`
}

func (a *bybitAdapter) ParseTick(data []byte, receivedAt time.Time) ([]model.PriceTick, error) {
	var frame bybitFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}
	if frame.Op != "" {
		return nil, nil // subscribe ack or pong
	}
	if !strings.HasPrefix(frame.Topic, "publicTrade.") {
		return nil, nil
	}
	ticks := make([]model.PriceTick, 0, len(frame.Data))
	for _, trade := range frame.Data {
		asset, ok := a.symbols[trade.Symbol]
		if !ok {
			return nil, fmt.Errorf("unknown symbol %q", trade.Symbol)
		}
		price, ok := parsePrice(trade.Price)
		if !ok {
			return nil, fmt.Errorf("bad price %q", trade.Price)
		}
		ts := receivedAt
		if trade.TimeMS > 0 {
			ts = msToTime(trade.TimeMS)
		}
		ticks = append(ticks, model.PriceTick{Asset: asset, Venue: a.Venue(), Time: ts, Price: price})
	}
	return ticks, nil
}
