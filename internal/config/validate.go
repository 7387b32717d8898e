package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are in range.
func (c *EngineConfig) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug/info/warn/error, got %q", c.Log.Level)
	}

	if len(c.Engine.Assets) == 0 {
		return errors.New("engine.assets must not be empty")
	}
	if len(c.Engine.Venues) == 0 {
		return errors.New("engine.venues must not be empty")
	}
	venues := make(map[string]bool, len(c.Engine.Venues))
	for _, v := range c.Engine.Venues {
		venues[v] = true
	}
	if !venues[c.Engine.AnchorVenue] {
		return fmt.Errorf("engine.anchor_venue %q is not in engine.venues", c.Engine.AnchorVenue)
	}
	for _, v := range c.Engine.CombinedExclude {
		if !venues[v] {
			return fmt.Errorf("engine.combined_exclude entry %q is not in engine.venues", v)
		}
	}
	if c.Engine.RecomputeInterval <= 0 {
		return errors.New("engine.recompute_interval must be > 0")
	}
	if c.Engine.TickBuffer < 1 {
		return errors.New("engine.tick_buffer must be >= 1")
	}

	if c.Vol.Lambda <= 0 || c.Vol.Lambda >= 1 {
		return fmt.Errorf("vol.lambda must be inside (0, 1), got %v", c.Vol.Lambda)
	}
	if c.Vol.SigmaMinPerMin <= 0 {
		return errors.New("vol.sigma_min_per_min must be > 0")
	}
	if c.Vol.Retention <= 0 {
		return errors.New("vol.retention must be > 0")
	}
	if c.Vol.SpikeWindow <= 0 {
		return errors.New("vol.spike_window must be > 0")
	}

	if c.Basis.ConvergeEps <= 0 {
		return errors.New("basis.converge_eps must be > 0")
	}
	if c.Basis.LatchTimeout <= 0 {
		return errors.New("basis.latch_timeout must be > 0")
	}
	if c.Basis.SpikeThresholdPct <= 0 {
		return errors.New("basis.spike_threshold_pct must be > 0")
	}
	for asset, v := range c.Basis.SpikeThresholdBy {
		if v <= 0 {
			return fmt.Errorf("basis.spike_threshold_pct_by_asset[%s] must be > 0", asset)
		}
	}

	if c.Lifecycle.Grace < 0 {
		return errors.New("lifecycle.grace must be >= 0")
	}
	if c.Lifecycle.RetryInterval <= 0 {
		return errors.New("lifecycle.retry_interval must be > 0")
	}
	if c.Lifecycle.DiscoveryTimeout <= 0 {
		return errors.New("lifecycle.discovery_timeout must be > 0")
	}

	if c.Feeds.WatchdogInterval <= 0 {
		return errors.New("feeds.watchdog_interval must be > 0")
	}
	if c.Feeds.StaleAfter <= 0 {
		return errors.New("feeds.stale_after must be > 0")
	}
	if c.Feeds.BackoffStep <= 0 {
		return errors.New("feeds.backoff_step must be > 0")
	}
	if c.Feeds.BackoffMax < c.Feeds.BackoffStep {
		return errors.New("feeds.backoff_max must be >= feeds.backoff_step")
	}

	if c.Book.WSURL == "" {
		return errors.New("book.ws_url is required")
	}
	if c.Book.StaleAfter <= 0 {
		return errors.New("book.stale_after must be > 0")
	}

	if c.Discovery.GammaURL == "" {
		return errors.New("discovery.gamma_url is required")
	}
	if c.Discovery.RateLimit <= 0 {
		return errors.New("discovery.rate_limit must be > 0")
	}
	if c.Discovery.MaxRetries < 0 {
		return errors.New("discovery.max_retries must be >= 0")
	}

	if c.Database.Enabled() {
		if err := c.Database.validate("database"); err != nil {
			return err
		}
		if c.Writers.BatchSize < 1 {
			return errors.New("writers.batch_size must be >= 1")
		}
		if c.Writers.BufferSize < 1 {
			return errors.New("writers.buffer_size must be >= 1")
		}
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return errors.New("redis.addr is required when redis is enabled")
	}

	if c.Health.Port < 1 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 1 and 65535, got %d", c.Health.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
