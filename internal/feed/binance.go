package feed

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pmfair/updown-fair/internal/model"
)

const (
	binanceSpotURL    = "wss://stream.binance.com:9443/stream"
	binanceFuturesURL = "wss://fstream.binance.com/stream"
)

// binanceAdapter speaks the Binance combined-stream protocol. The same
// framing serves spot (@trade) and USD-M futures (@aggTrade).
type binanceAdapter struct {
	futures bool
	symbols map[string]model.Asset
}

func newBinance(futures bool) *binanceAdapter {
	a := &binanceAdapter{futures: futures, symbols: make(map[string]model.Asset)}
	for _, asset := range model.AllAssets() {
		a.symbols[string(asset)+"USDT"] = asset
	}
	return a
}

func (a *binanceAdapter) Venue() model.Venue {
	if a.futures {
		return model.VenueBinanceFutures
	}
	return model.VenueBinance
}

func (a *binanceAdapter) URL() string {
	if a.futures {
		return binanceFuturesURL
	}
	return binanceSpotURL
}

func (a *binanceAdapter) stream(asset model.Asset) string {
	kind := "trade"
	if a.futures {
		kind = "aggTrade"
	}
	return strings.ToLower(string(asset)) + "usdt@" + kind
}

func (a *binanceAdapter) SubscribeMessages(assets []model.Asset) ([][]byte, error) {
	streams := make([]string, 0, len(assets))
	for _, asset := range assets {
		streams = append(streams, a.stream(asset))
	}
	msg, err := json.Marshal(map[string]any{
		"method": "SUBSCRIBE",
		"params": streams,
		"id":     1,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling subscribe: %w", err)
	}
	return [][]byte{msg}, nil
}

// Keepalive returns nothing; Binance pings from the server side.
func (a *binanceAdapter) Keepalive() ([]byte, time.Duration) {
	return nil, 0
}

type binanceEnvelope struct {
	Stream string       `json:"stream"`
	Data   binanceTrade `json:"data"`
	// Set on subscribe acks, absent on stream frames.
	ID *int `json:"id"`
}

type binanceTrade struct {
	Event  string `json:"e"`
	Symbol string `json:"s"`
	Price  string `json:"p"`
	TimeMS int64  `json:"T"`
}

func (a *binanceAdapter) ParseTick(data []byte, receivedAt time.Time) ([]model.PriceTick, error) {
	var env binanceEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}
	if env.ID != nil {
		return nil, nil // subscribe ack
	}
	trade := env.Data
	if env.Stream == "" && trade.Event == "" {
		// Raw stream frame without the combined envelope.
		if err := json.Unmarshal(data, &trade); err != nil {
			return nil, fmt.Errorf("decoding trade: %w", err)
		}
	}
	if trade.Event != "trade" && trade.Event != "aggTrade" {
		return nil, nil
	}
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
	return []model.PriceTick{{Asset: asset, Venue: a.Venue(), Time: ts, Price: price}}, nil
}
