// Package feed maintains resilient WebSocket trade feeds to the exchange
// venues. Each venue has an Adapter describing its wire protocol; a Feed
// owns one connection, reconnects with linear backoff, and forwards parsed
// ticks to the engine over a bounded channel.
package feed

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/pmfair/updown-fair/internal/model"
)

// Adapter describes one venue's wire protocol. Implementations are
// stateless after construction and safe for concurrent use.
type Adapter interface {
	// Venue identifies the exchange this adapter speaks to.
	Venue() model.Venue

	// URL returns the WebSocket endpoint to dial.
	URL() string

	// SubscribeMessages returns the frames to send after connecting to
	// subscribe to trade streams for the given assets.
	SubscribeMessages(assets []model.Asset) ([][]byte, error)

	// Keepalive returns an application-level ping payload and its cadence.
	// A nil payload means the venue needs no client-side pings.
	Keepalive() ([]byte, time.Duration)

	// ParseTick extracts zero or more price ticks from one frame.
	// Known non-trade frames (acks, heartbeats, pongs) yield no ticks and
	// no error. receivedAt stamps ticks on venues without a usable
	// exchange timestamp.
	ParseTick(data []byte, receivedAt time.Time) ([]model.PriceTick, error)
}

// NewAdapter returns the adapter for venue.
func NewAdapter(venue model.Venue) (Adapter, error) {
	switch venue {
	case model.VenueBinance:
		return newBinance(false), nil
	case model.VenueBinanceFutures:
		return newBinance(true), nil
	case model.VenueBybit:
		return newBybit(), nil
	case model.VenueOKX:
		return newOKX(), nil
	case model.VenueCoinbase:
		return newCoinbase(), nil
	case model.VenueKraken:
		return newKraken(), nil
	case model.VenueGate:
		return newGate(), nil
	case model.VenueHyperliquid:
		return newHyperliquid(), nil
	}
	return nil, fmt.Errorf("no adapter for venue %q", venue)
}

// parsePrice converts a venue price string, rejecting non-positive and
// non-finite values.
func parsePrice(s string) (float64, bool) {
	p, err := strconv.ParseFloat(s, 64)
	if err != nil || p <= 0 || math.IsNaN(p) || math.IsInf(p, 0) {
		return 0, false
	}
	return p, true
}

// msToTime converts a millisecond Unix timestamp.
func msToTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}
