package config

import "time"

// EngineConfig is the root configuration for the fair-value engine.
type EngineConfig struct {
	Log       LogConfig       `yaml:"log"`
	Engine    CoreConfig      `yaml:"engine"`
	Vol       VolConfig       `yaml:"vol"`
	Basis     BasisConfig     `yaml:"basis"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Feeds     FeedsConfig     `yaml:"feeds"`
	Book      BookConfig      `yaml:"book"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Database  DBConfig        `yaml:"database"`
	Writers   WritersConfig   `yaml:"writers"`
	Redis     RedisConfig     `yaml:"redis"`
	Health    HealthConfig    `yaml:"health"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// CoreConfig holds the asset/venue universe and scheduler settings.
type CoreConfig struct {
	Assets            []string      `yaml:"assets"`
	Venues            []string      `yaml:"venues"`
	AnchorVenue       string        `yaml:"anchor_venue"`
	CombinedExclude   []string      `yaml:"combined_exclude"` // venues left out of the cross-venue average
	RecomputeInterval time.Duration `yaml:"recompute_interval"`
	TickBuffer        int           `yaml:"tick_buffer"`
}

// VolConfig holds diffusion estimator settings.
type VolConfig struct {
	Lambda         float64       `yaml:"lambda"`            // EWMA decay per update
	SigmaMinPerMin float64       `yaml:"sigma_min_per_min"` // volatility floor
	Retention      time.Duration `yaml:"retention"`         // price history horizon
	SpikeWindow    time.Duration `yaml:"spike_window"`      // lookback for the spike check
}

// BasisConfig holds calibrator settings.
type BasisConfig struct {
	ConvergeEps       float64            `yaml:"converge_eps"`
	LatchTimeout      time.Duration      `yaml:"latch_timeout"`
	SpikeThresholdPct float64            `yaml:"spike_threshold_pct"`          // percent move over the spike window
	SpikeThresholdBy  map[string]float64 `yaml:"spike_threshold_pct_by_asset"` // per-asset overrides
}

// LifecycleConfig holds window rollover settings.
type LifecycleConfig struct {
	Grace            time.Duration `yaml:"grace"`             // slack past settlement before expiry triggers
	RetryInterval    time.Duration `yaml:"retry_interval"`    // minimum gap between discovery attempts
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout"` // per-asset discovery deadline
}

// FeedsConfig holds exchange feed settings shared by all venues.
type FeedsConfig struct {
	WatchdogInterval time.Duration `yaml:"watchdog_interval"`
	StaleAfter       time.Duration `yaml:"stale_after"`
	BackoffStep      time.Duration `yaml:"backoff_step"`
	BackoffMax       time.Duration `yaml:"backoff_max"`
}

// BookConfig holds the prediction-market order-book feed settings.
type BookConfig struct {
	WSURL        string        `yaml:"ws_url"`
	StaleAfter   time.Duration `yaml:"stale_after"`
	PingInterval time.Duration `yaml:"ping_interval"`
}

// DiscoveryConfig holds market discovery REST settings.
type DiscoveryConfig struct {
	GammaURL   string        `yaml:"gamma_url"`
	KlineURL   string        `yaml:"kline_url"` // anchor venue REST host for the official open price
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	RateLimit  float64       `yaml:"rate_limit"` // requests per second
	RateBurst  int           `yaml:"rate_burst"`
}

// DBConfig holds the PostgreSQL connection. An empty host disables
// persistence entirely.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// Enabled reports whether persistence is configured.
func (db DBConfig) Enabled() bool { return db.Host != "" }

// WritersConfig holds batch writer settings.
type WritersConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// RedisConfig holds the live estimate cache settings.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// HealthConfig holds the health/debug/metrics HTTP settings.
type HealthConfig struct {
	Port int `yaml:"port"`
}
