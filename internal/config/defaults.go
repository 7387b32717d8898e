package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultLogLevel          = "info"
	DefaultAnchorVenue       = "binance"
	DefaultRecomputeInterval = 50 * time.Millisecond
	DefaultTickBuffer        = 4096

	DefaultLambda         = 0.985
	DefaultSigmaMinPerMin = 0.0004
	DefaultVolRetention   = 5 * time.Minute
	DefaultSpikeWindow    = 500 * time.Millisecond

	DefaultConvergeEps       = 0.005
	DefaultLatchTimeout      = 3000 * time.Millisecond
	DefaultSpikeThresholdPct = 0.035

	DefaultGrace            = 1500 * time.Millisecond
	DefaultRetryInterval    = 2 * time.Second
	DefaultDiscoveryTimeout = 5 * time.Second

	DefaultWatchdogInterval = 2000 * time.Millisecond
	DefaultFeedStaleAfter   = 5000 * time.Millisecond
	DefaultBackoffStep      = 1000 * time.Millisecond
	DefaultBackoffMax       = 10000 * time.Millisecond

	DefaultBookWSURL        = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
	DefaultBookStaleAfter   = 15000 * time.Millisecond
	DefaultBookPingInterval = 10 * time.Second

	DefaultGammaURL          = "https://gamma-api.polymarket.com"
	DefaultKlineURL          = "https://api.binance.com"
	DefaultDiscoveryHTTPWait = 10 * time.Second
	DefaultMaxRetries        = 3
	DefaultRateLimit         = 5.0
	DefaultRateBurst         = 5

	DefaultDBPort        = 5432
	DefaultDBSSLMode     = "prefer"
	DefaultMaxConns      = 10
	DefaultMinConns      = 2
	DefaultBatchSize     = 500
	DefaultFlushInterval = 1 * time.Second
	DefaultBufferSize    = 8192

	DefaultRedisAddr = "localhost:6379"
	DefaultRedisTTL  = 5 * time.Second

	DefaultHealthPort = 9090
)

func (c *EngineConfig) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}

	// Engine defaults
	if len(c.Engine.Assets) == 0 {
		c.Engine.Assets = []string{"BTC", "ETH", "SOL", "XRP"}
	}
	if len(c.Engine.Venues) == 0 {
		c.Engine.Venues = []string{
			"binance", "binancef", "bybit", "okx",
			"coinbase", "kraken", "gate", "hyperliquid",
		}
	}
	if c.Engine.AnchorVenue == "" {
		c.Engine.AnchorVenue = DefaultAnchorVenue
	}
	if c.Engine.CombinedExclude == nil {
		c.Engine.CombinedExclude = []string{"binancef", "hyperliquid"}
	}
	if c.Engine.RecomputeInterval == 0 {
		c.Engine.RecomputeInterval = DefaultRecomputeInterval
	}
	if c.Engine.TickBuffer == 0 {
		c.Engine.TickBuffer = DefaultTickBuffer
	}

	// Vol defaults
	if c.Vol.Lambda == 0 {
		c.Vol.Lambda = DefaultLambda
	}
	if c.Vol.SigmaMinPerMin == 0 {
		c.Vol.SigmaMinPerMin = DefaultSigmaMinPerMin
	}
	if c.Vol.Retention == 0 {
		c.Vol.Retention = DefaultVolRetention
	}
	if c.Vol.SpikeWindow == 0 {
		c.Vol.SpikeWindow = DefaultSpikeWindow
	}

	// Basis defaults
	if c.Basis.ConvergeEps == 0 {
		c.Basis.ConvergeEps = DefaultConvergeEps
	}
	if c.Basis.LatchTimeout == 0 {
		c.Basis.LatchTimeout = DefaultLatchTimeout
	}
	if c.Basis.SpikeThresholdPct == 0 {
		c.Basis.SpikeThresholdPct = DefaultSpikeThresholdPct
	}

	// Lifecycle defaults
	if c.Lifecycle.Grace == 0 {
		c.Lifecycle.Grace = DefaultGrace
	}
	if c.Lifecycle.RetryInterval == 0 {
		c.Lifecycle.RetryInterval = DefaultRetryInterval
	}
	if c.Lifecycle.DiscoveryTimeout == 0 {
		c.Lifecycle.DiscoveryTimeout = DefaultDiscoveryTimeout
	}

	// Feed defaults
	if c.Feeds.WatchdogInterval == 0 {
		c.Feeds.WatchdogInterval = DefaultWatchdogInterval
	}
	if c.Feeds.StaleAfter == 0 {
		c.Feeds.StaleAfter = DefaultFeedStaleAfter
	}
	if c.Feeds.BackoffStep == 0 {
		c.Feeds.BackoffStep = DefaultBackoffStep
	}
	if c.Feeds.BackoffMax == 0 {
		c.Feeds.BackoffMax = DefaultBackoffMax
	}

	// Book defaults
	if c.Book.WSURL == "" {
		c.Book.WSURL = DefaultBookWSURL
	}
	if c.Book.StaleAfter == 0 {
		c.Book.StaleAfter = DefaultBookStaleAfter
	}
	if c.Book.PingInterval == 0 {
		c.Book.PingInterval = DefaultBookPingInterval
	}

	// Discovery defaults
	if c.Discovery.GammaURL == "" {
		c.Discovery.GammaURL = DefaultGammaURL
	}
	if c.Discovery.KlineURL == "" {
		c.Discovery.KlineURL = DefaultKlineURL
	}
	if c.Discovery.Timeout == 0 {
		c.Discovery.Timeout = DefaultDiscoveryHTTPWait
	}
	if c.Discovery.MaxRetries == 0 {
		c.Discovery.MaxRetries = DefaultMaxRetries
	}
	if c.Discovery.RateLimit == 0 {
		c.Discovery.RateLimit = DefaultRateLimit
	}
	if c.Discovery.RateBurst == 0 {
		c.Discovery.RateBurst = DefaultRateBurst
	}

	// Database defaults (only meaningful when a host is set)
	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultMinConns
	}
	if c.Writers.BatchSize == 0 {
		c.Writers.BatchSize = DefaultBatchSize
	}
	if c.Writers.FlushInterval == 0 {
		c.Writers.FlushInterval = DefaultFlushInterval
	}
	if c.Writers.BufferSize == 0 {
		c.Writers.BufferSize = DefaultBufferSize
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = DefaultRedisAddr
	}
	if c.Redis.TTL == 0 {
		c.Redis.TTL = DefaultRedisTTL
	}

	// Health defaults
	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}
}
