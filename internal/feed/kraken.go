package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/pmfair/updown-fair/internal/model"
)

const krakenURL = "wss://ws.kraken.com"

// krakenAdapter speaks Kraken's v1 protocol: object frames for events and
// positional array frames for channel data. Kraken names bitcoin XBT.
type krakenAdapter struct {
	pairs map[string]model.Asset
}

func newKraken() *krakenAdapter {
	a := &krakenAdapter{pairs: make(map[string]model.Asset)}
	for _, asset := range model.AllAssets() {
		a.pairs[krakenPair(asset)] = asset
	}
	return a
}

func krakenPair(asset model.Asset) string {
	if asset == model.AssetBTC {
		return "XBT/USD"
	}
	return string(asset) + "/USD"
}

func (a *krakenAdapter) Venue() model.Venue { return model.VenueKraken }
func (a *krakenAdapter) URL() string        { return krakenURL }

func (a *krakenAdapter) SubscribeMessages(assets []model.Asset) ([][]byte, error) {
	pairs := make([]string, 0, len(assets))
	for _, asset := range assets {
		pairs = append(pairs, krakenPair(asset))
	}
	msg, err := json.Marshal(map[string]any{
		"event":        "subscribe",
		"pair":         pairs,
		"subscription": map[string]string{"name": "trade"},
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling subscribe: %w", err)
	}
	return [][]byte{msg}, nil
}

// Keepalive returns nothing; Kraken heartbeats about once a second.
func (a *krakenAdapter) Keepalive() ([]byte, time.Duration) {
	return nil, 0
}

func (a *krakenAdapter) ParseTick(data []byte, receivedAt time.Time) ([]model.PriceTick, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty frame")
	}
	if trimmed[0] == '{' {
		return nil, nil // heartbeat, systemStatus, subscriptionStatus
	}

	// [chanID, [[price, volume, time, ...], ...], "trade", "XBT/USD"]
	var parts []json.RawMessage
	if err := json.Unmarshal(trimmed, &parts); err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}
	if len(parts) < 4 {
		return nil, fmt.Errorf("short channel frame")
	}
	var channel, pair string
	if err := json.Unmarshal(parts[len(parts)-2], &channel); err != nil {
		return nil, fmt.Errorf("decoding channel name: %w", err)
	}
	if channel != "trade" {
		return nil, nil
	}
	if err := json.Unmarshal(parts[len(parts)-1], &pair); err != nil {
		return nil, fmt.Errorf("decoding pair: %w", err)
	}
	asset, ok := a.pairs[pair]
	if !ok {
		return nil, fmt.Errorf("unknown pair %q", pair)
	}
	var trades [][]string
	if err := json.Unmarshal(parts[1], &trades); err != nil {
		return nil, fmt.Errorf("decoding trades: %w", err)
	}

	ticks := make([]model.PriceTick, 0, len(trades))
	for _, trade := range trades {
		if len(trade) < 3 {
			return nil, fmt.Errorf("short trade entry")
		}
		price, ok := parsePrice(trade[0])
		if !ok {
			return nil, fmt.Errorf("bad price %q", trade[0])
		}
		ts := receivedAt
		if sec, err := strconv.ParseFloat(trade[2], 64); err == nil && sec > 0 {
			ts = time.Unix(0, int64(sec*float64(time.Second)))
		}
		ticks = append(ticks, model.PriceTick{Asset: asset, Venue: a.Venue(), Time: ts, Price: price})
	}
	return ticks, nil
}
