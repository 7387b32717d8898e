package model

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// WindowDuration is the fixed settlement window length of the up/down markets.
const WindowDuration = 15 * time.Minute

// -----------------------------------------------------------------------------
// Assets & Venues
// -----------------------------------------------------------------------------

// Asset is a tracked crypto asset symbol.
type Asset string

const (
	AssetBTC Asset = "BTC"
	AssetETH Asset = "ETH"
	AssetSOL Asset = "SOL"
	AssetXRP Asset = "XRP"
)

// AllAssets returns the assets tracked by default, in display order.
func AllAssets() []Asset {
	return []Asset{AssetBTC, AssetETH, AssetSOL, AssetXRP}
}

// Venue identifies one upstream price source.
type Venue string

const (
	VenueBinance        Venue = "binance"  // spot, anchor
	VenueBinanceFutures Venue = "binancef" // USD-M perpetual
	VenueBybit          Venue = "bybit"
	VenueOKX            Venue = "okx"
	VenueCoinbase       Venue = "coinbase"
	VenueKraken         Venue = "kraken"
	VenueGate           Venue = "gate"
	VenueHyperliquid    Venue = "hyperliquid" // perpetual
)

// AllVenues returns every supported venue.
func AllVenues() []Venue {
	return []Venue{
		VenueBinance, VenueBinanceFutures, VenueBybit, VenueOKX,
		VenueCoinbase, VenueKraken, VenueGate, VenueHyperliquid,
	}
}

// ParseAsset maps a config string onto an Asset, case-insensitively.
func ParseAsset(s string) (Asset, error) {
	a := Asset(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllAssets() {
		if a == known {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown asset %q", s)
}

// ParseVenue maps a config string onto a Venue, case-insensitively.
func ParseVenue(s string) (Venue, error) {
	v := Venue(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllVenues() {
		if v == known {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown venue %q", s)
}

// Side is one outcome of a binary market.
type Side string

const (
	SideUp   Side = "UP"
	SideDown Side = "DOWN"
)

// -----------------------------------------------------------------------------
// Time-Series Types
// -----------------------------------------------------------------------------

// PriceTick is one validated trade print from one venue.
type PriceTick struct {
	Asset Asset
	Venue Venue
	Time  time.Time // venue timestamp when provided, else receive time
	Price float64   // trade price in quote currency
}

// Valid reports whether the tick may enter the model: positive finite price
// and a populated (asset, venue) key.
func (t PriceTick) Valid() bool {
	if t.Asset == "" || t.Venue == "" {
		return false
	}
	if t.Price <= 0 || math.IsNaN(t.Price) || math.IsInf(t.Price, 0) {
		return false
	}
	return true
}

// -----------------------------------------------------------------------------
// Market Window
// -----------------------------------------------------------------------------

// MarketWindow describes one asset's current 15-minute settlement window.
// Produced by the resolver; read-only everywhere else.
type MarketWindow struct {
	Asset       Asset
	Slug        string    // prediction-market slug, e.g. "btc-updown-15m-1755955800"
	StartTime   time.Time // zero when unknown
	StartPrice  float64   // official open price; 0 when unknown
	ExpiryTime  time.Time // StartTime + WindowDuration
	UpTokenID   string    // order-book token for the UP outcome
	DownTokenID string    // order-book token for the DOWN outcome
}

// Known reports whether the window carries enough state to drive estimates.
func (w MarketWindow) Known() bool {
	return !w.StartTime.IsZero() && w.UpTokenID != "" && w.DownTokenID != ""
}

// Expired reports whether now is past settlement plus the grace period.
func (w MarketWindow) Expired(now time.Time, grace time.Duration) bool {
	if w.ExpiryTime.IsZero() {
		return false
	}
	return now.After(w.ExpiryTime.Add(grace))
}

// MinutesRemaining returns the time to settlement in minutes; negative once past.
func (w MarketWindow) MinutesRemaining(now time.Time) float64 {
	return w.ExpiryTime.Sub(now).Minutes()
}

// TokenFor returns the order-book token id for one side, "" when unset.
func (w MarketWindow) TokenFor(side Side) string {
	if side == SideUp {
		return w.UpTokenID
	}
	return w.DownTokenID
}

// -----------------------------------------------------------------------------
// Outputs
// -----------------------------------------------------------------------------

// FairEstimate is the published probability pair for one asset.
// Up + Down == 1; both stay inside [ProbMin, ProbMax].
type FairEstimate struct {
	Up   float64 `json:"up"`
	Down float64 `json:"down"`
}

// Neutral is the estimate published when a window is unknown or just rolled.
func Neutral() FairEstimate {
	return FairEstimate{Up: 0.5, Down: 0.5}
}

// BookQuote is the top of one side's prediction-market book.
type BookQuote struct {
	Bid float64
	Ask float64
	Mid float64 // 0 when either side of the book is empty
}

// TradeSignal is the edge published for downstream order logic.
type TradeSignal struct {
	ID    uuid.UUID // attribution id carried onto any resulting order
	Asset Asset
	Side  Side    // outcome with the larger edge; "" when no book is available
	Edge  float64 // fair[side] - bookMid[side]
	Fair  float64 // published fair probability for Side
	Mid   float64 // book mid for Side
	Time  time.Time
}
