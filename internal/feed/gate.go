package feed

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/pmfair/updown-fair/internal/model"
)

const gateURL = "wss://api.gateio.ws/ws/v4/"

type gateAdapter struct {
	pairs map[string]model.Asset
}

func newGate() *gateAdapter {
	a := &gateAdapter{pairs: make(map[string]model.Asset)}
	for _, asset := range model.AllAssets() {
		a.pairs[string(asset)+"_USDT"] = asset
	}
	return a
}

func (a *gateAdapter) Venue() model.Venue { return model.VenueGate }
func (a *gateAdapter) URL() string        { return gateURL }

func (a *gateAdapter) SubscribeMessages(assets []model.Asset) ([][]byte, error) {
	pairs := make([]string, 0, len(assets))
	for _, asset := range assets {
		pairs = append(pairs, string(asset)+"_USDT")
	}
	msg, err := json.Marshal(map[string]any{
		"time":    time.Now().Unix(),
		"channel": "spot.trades",
		"event":   "subscribe",
		"payload": pairs,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling subscribe: %w", err)
	}
	return [][]byte{msg}, nil
}

func (a *gateAdapter) Keepalive() ([]byte, time.Duration) {
	return []byte(`{"channel":"spot.ping"}`), 20 * time.Second
}

type gateFrame struct {
	Channel string    `json:"channel"`
	Event   string    `json:"event"`
	Result  gateTrade `json:"result"`
}

type gateTrade struct {
	CurrencyPair string `json:"currency_pair"`
	Price        string `json:"price"`
	CreateTimeMS string `json:"create_time_ms"`
}

func (a *gateAdapter) ParseTick(data []byte, receivedAt time.Time) ([]model.PriceTick, error) {
	var frame gateFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}
	if frame.Channel != "spot.trades" || frame.Event != "update" {
		return nil, nil // subscribe ack, pong
	}
	trade := frame.Result
	asset, ok := a.pairs[trade.CurrencyPair]
	if !ok {
		return nil, fmt.Errorf("unknown pair %q", trade.CurrencyPair)
	}
	price, ok := parsePrice(trade.Price)
	if !ok {
		return nil, fmt.Errorf("bad price %q", trade.Price)
	}
	ts := receivedAt
	// create_time_ms is a decimal string of milliseconds.
	if ms, err := strconv.ParseFloat(trade.CreateTimeMS, 64); err == nil && ms > 0 {
		ts = time.Unix(0, int64(ms*float64(time.Millisecond)))
	}
	return []model.PriceTick{{Asset: asset, Venue: a.Venue(), Time: ts, Price: price}}, nil
}
