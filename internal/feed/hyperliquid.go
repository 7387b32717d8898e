package feed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pmfair/updown-fair/internal/model"
)

const hyperliquidURL = "wss://api.hyperliquid.xyz/ws"

type hyperliquidAdapter struct {
	coins map[string]model.Asset
}

func newHyperliquid() *hyperliquidAdapter {
	a := &hyperliquidAdapter{coins: make(map[string]model.Asset)}
	for _, asset := range model.AllAssets() {
		a.coins[string(asset)] = asset
	}
	return a
}

func (a *hyperliquidAdapter) Venue() model.Venue { return model.VenueHyperliquid }
func (a *hyperliquidAdapter) URL() string        { return hyperliquidURL }

// SubscribeMessages subscribes one coin per frame; Hyperliquid has no
// batch form.
func (a *hyperliquidAdapter) SubscribeMessages(assets []model.Asset) ([][]byte, error) {
	msgs := make([][]byte, 0, len(assets))
	for _, asset := range assets {
		msg, err := json.Marshal(map[string]any{
			"method": "subscribe",
			"subscription": map[string]string{
				"type": "trades",
				"coin": string(asset),
			},
		})
		if err != nil {
			return nil, fmt.Errorf("marshaling subscribe: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (a *hyperliquidAdapter) Keepalive() ([]byte, time.Duration) {
	return []byte(`{"method":"ping"}`), 30 * time.Second
}

// Data stays raw: non-trade channels carry objects, not trade arrays.
type hyperliquidFrame struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type hyperliquidTrade struct {
	Coin   string `json:"coin"`
	Price  string `json:"px"`
	TimeMS int64  `json:"time"`
}

func (a *hyperliquidAdapter) ParseTick(data []byte, receivedAt time.Time) ([]model.PriceTick, error) {
	var frame hyperliquidFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}
	if frame.Channel != "trades" {
		return nil, nil // subscriptionResponse, pong
	}
	var trades []hyperliquidTrade
	if err := json.Unmarshal(frame.Data, &trades); err != nil {
		return nil, fmt.Errorf("decoding trades: %w", err)
	}
	ticks := make([]model.PriceTick, 0, len(trades))
	for _, trade := range trades {
		asset, ok := a.coins[trade.Coin]
		if !ok {
			return nil, fmt.Errorf("unknown coin %q", trade.Coin)
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
