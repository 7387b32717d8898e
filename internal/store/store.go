// Package store persists price ticks and fair estimates to PostgreSQL with
// batched, append-only writers. Persistence is optional: with no configured
// host the engine runs purely in memory and writers are never constructed.
package store

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pmfair/updown-fair/internal/config"
)

// BuildConnString builds a PostgreSQL connection string from config.
func BuildConnString(cfg config.DBConfig) string {
	// URL-encode password to handle special characters
	escapedPassword := url.QueryEscape(cfg.Password)

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User,
		escapedPassword,
		cfg.Host,
		cfg.Port,
		cfg.Name,
		sslMode,
	)
}

// Connect creates a connection pool and verifies it with a ping.
func Connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(BuildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS price_ticks (
	asset text             NOT NULL,
	venue text             NOT NULL,
	ts    timestamptz      NOT NULL,
	price double precision NOT NULL,
	PRIMARY KEY (asset, venue, ts)
);

CREATE TABLE IF NOT EXISTS fair_estimates (
	asset        text             NOT NULL,
	ts           timestamptz      NOT NULL,
	up           double precision NOT NULL,
	down         double precision NOT NULL,
	hybrid       double precision NOT NULL,
	book_mid     double precision NOT NULL,
	window_start timestamptz,
	PRIMARY KEY (asset, ts)
);
`

// Bootstrap creates the tables when missing. Idempotent.
func Bootstrap(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("bootstrap schema: %w", err)
	}
	return nil
}

// Prune deletes rows older than the cutoff from both tables and returns the
// per-table delete counts.
func Prune(ctx context.Context, pool *pgxpool.Pool, cutoff time.Time) (ticks, estimates int64, err error) {
	tag, err := pool.Exec(ctx, `DELETE FROM price_ticks WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("prune price_ticks: %w", err)
	}
	ticks = tag.RowsAffected()

	tag, err = pool.Exec(ctx, `DELETE FROM fair_estimates WHERE ts < $1`, cutoff)
	if err != nil {
		return ticks, 0, fmt.Errorf("prune fair_estimates: %w", err)
	}
	estimates = tag.RowsAffected()

	return ticks, estimates, nil
}
