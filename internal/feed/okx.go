package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/pmfair/updown-fair/internal/model"
)

const okxURL = "wss://ws.okx.com:8443/ws/v5/public"

type okxAdapter struct {
	instruments map[string]model.Asset
}

func newOKX() *okxAdapter {
	a := &okxAdapter{instruments: make(map[string]model.Asset)}
	for _, asset := range model.AllAssets() {
		a.instruments[string(asset)+"-USDT"] = asset
	}
	return a
}

func (a *okxAdapter) Venue() model.Venue { return model.VenueOKX }
func (a *okxAdapter) URL() string        { return okxURL }

func (a *okxAdapter) SubscribeMessages(assets []model.Asset) ([][]byte, error) {
	args := make([]map[string]string, 0, len(assets))
	for _, asset := range assets {
		args = append(args, map[string]string{
			"channel": "trades",
			"instId":  string(asset) + "-USDT",
		})
	}
	msg, err := json.Marshal(map[string]any{"op": "subscribe", "args": args})
	if err != nil {
		return nil, fmt.Errorf("marshaling subscribe: %w", err)
	}
	return [][]byte{msg}, nil
}

// Keepalive sends the literal "ping" OKX expects; the reply is "pong".
func (a *okxAdapter) Keepalive() ([]byte, time.Duration) {
	return []byte("ping"), 20 * time.Second
}

type okxFrame struct {
	Event string `json:"event"`
	Arg   struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Data []okxTrade `json:"data"`
}

type okxTrade struct {
	Price  string `json:"px"`
	TimeMS string `json:"ts"`
}

func (a *okxAdapter) ParseTick(data []byte, receivedAt time.Time) ([]model.PriceTick, error) {
	if bytes.Equal(data, []byte("pong")) {
		return nil, nil
	}
	var frame okxFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}
	if frame.Event != "" || frame.Arg.Channel != "trades" {
		return nil, nil
	}
	asset, ok := a.instruments[frame.Arg.InstID]
	if !ok {
		return nil, fmt.Errorf("unknown instrument %q", frame.Arg.InstID)
	}
	ticks := make([]model.PriceTick, 0, len(frame.Data))
	for _, trade := range frame.Data {
		price, ok := parsePrice(trade.Price)
		if !ok {
			return nil, fmt.Errorf("bad price %q", trade.Price)
		}
		ts := receivedAt
		if ms, err := strconv.ParseInt(trade.TimeMS, 10, 64); err == nil && ms > 0 {
			ts = msToTime(ms)
		}
		ticks = append(ticks, model.PriceTick{Asset: asset, Venue: a.Venue(), Time: ts, Price: price})
	}
	return ticks, nil
}
