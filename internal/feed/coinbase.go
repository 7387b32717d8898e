package feed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pmfair/updown-fair/internal/model"
)

const coinbaseURL = "wss://ws-feed.exchange.coinbase.com"

type coinbaseAdapter struct {
	products map[string]model.Asset
}

func newCoinbase() *coinbaseAdapter {
	a := &coinbaseAdapter{products: make(map[string]model.Asset)}
	for _, asset := range model.AllAssets() {
		a.products[string(asset)+"-USD"] = asset
	}
	return a
}

func (a *coinbaseAdapter) Venue() model.Venue { return model.VenueCoinbase }
func (a *coinbaseAdapter) URL() string        { return coinbaseURL }

func (a *coinbaseAdapter) SubscribeMessages(assets []model.Asset) ([][]byte, error) {
	products := make([]string, 0, len(assets))
	for _, asset := range assets {
		products = append(products, string(asset)+"-USD")
	}
	msg, err := json.Marshal(map[string]any{
		"type": "subscribe",
		"channels": []map[string]any{
			{"name": "matches", "product_ids": products},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling subscribe: %w", err)
	}
	return [][]byte{msg}, nil
}

// Keepalive returns nothing; the matches channel carries its own traffic.
func (a *coinbaseAdapter) Keepalive() ([]byte, time.Duration) {
	return nil, 0
}

type coinbaseMatch struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	Time      string `json:"time"`
	Message   string `json:"message"`
}

func (a *coinbaseAdapter) ParseTick(data []byte, receivedAt time.Time) ([]model.PriceTick, error) {
	var m coinbaseMatch
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}
	switch m.Type {
	case "match", "last_match":
	case "error":
		return nil, fmt.Errorf("feed error: %s", m.Message)
	default:
		return nil, nil // subscriptions ack, heartbeat
	}
	asset, ok := a.products[m.ProductID]
	if !ok {
		return nil, fmt.Errorf("unknown product %q", m.ProductID)
	}
	price, ok := parsePrice(m.Price)
	if !ok {
		return nil, fmt.Errorf("bad price %q", m.Price)
	}
	ts := receivedAt
	if t, err := time.Parse(time.RFC3339Nano, m.Time); err == nil {
		ts = t
	}
	return []model.PriceTick{{Asset: asset, Venue: a.Venue(), Time: ts, Price: price}}, nil
}
