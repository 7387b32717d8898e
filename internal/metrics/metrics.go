// Package metrics provides Prometheus metrics for monitoring the engine.
//
// Key metrics:
//   - Feed frame rates, parse errors, and reconnects per venue
//   - Tick channel drops and ticks applied to the models
//   - Recompute latency and published fair values
//   - Market rollovers and discovery failures
//   - Persistence batch drops
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reconnect reason labels.
const (
	ReasonError = "error"
	ReasonStale = "stale"
)

var (
	// FeedMessages counts frames received from a venue, including
	// heartbeats and subscription acks.
	FeedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "updownfair_feed_messages_total",
		Help: "WebSocket frames received per venue.",
	}, []string{"venue"})

	// FeedParseErrors counts frames a venue adapter could not decode.
	FeedParseErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "updownfair_feed_parse_errors_total",
		Help: "Frames that failed venue parsing.",
	}, []string{"venue"})

	// FeedReconnects counts session teardowns by venue and reason.
	FeedReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "updownfair_feed_reconnects_total",
		Help: "Feed reconnects by venue and reason.",
	}, []string{"venue", "reason"})

	// FeedTickDrops counts ticks dropped because the engine channel was full.
	FeedTickDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "updownfair_feed_tick_drops_total",
		Help: "Ticks dropped on a full engine channel.",
	}, []string{"venue"})

	// BookEvents counts frames received from the prediction market feed.
	BookEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "updownfair_book_events_total",
		Help: "Order book frames received.",
	})

	// BookReconnects counts book feed session teardowns by reason.
	BookReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "updownfair_book_reconnects_total",
		Help: "Book feed reconnects by reason.",
	}, []string{"reason"})

	// TicksApplied counts ticks folded into a volatility model.
	TicksApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "updownfair_ticks_applied_total",
		Help: "Ticks applied to the per-venue models.",
	}, []string{"asset", "venue"})

	// RecomputeDuration observes one full recompute pass across all assets.
	RecomputeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "updownfair_recompute_duration_seconds",
		Help:    "Duration of one recompute pass.",
		Buckets: prometheus.ExponentialBuckets(1e-5, 2, 12),
	})

	// FairUp reports the latest published UP probability per asset.
	FairUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "updownfair_fair_up",
		Help: "Latest calibrated UP probability.",
	}, []string{"asset"})

	// BookMid reports the latest order book midpoint for the UP token.
	BookMid = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "updownfair_book_mid",
		Help: "Latest prediction market midpoint for the UP token.",
	}, []string{"asset"})

	// Rollovers counts completed window rollovers.
	Rollovers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "updownfair_rollovers_total",
		Help: "Market window rollovers completed.",
	})

	// DiscoveryFailures counts failed market discovery attempts per asset.
	DiscoveryFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "updownfair_discovery_failures_total",
		Help: "Market discovery attempts that failed.",
	}, []string{"asset"})

	// FallbackUsed counts estimates that fell back to a neutral value
	// because a model or midpoint was unavailable.
	FallbackUsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "updownfair_fallback_total",
		Help: "Fallback values used in place of a live estimate.",
	}, []string{"asset", "source"})

	// StoreDrops counts rows dropped because a writer buffer was full.
	StoreDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "updownfair_store_drops_total",
		Help: "Rows dropped on a full writer buffer.",
	}, []string{"table"})
)

// Handler returns the HTTP handler serving the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
