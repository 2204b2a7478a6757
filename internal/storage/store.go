package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"aave-rate-digest/internal/config"
)

// NewPool opens the archive pool. It does not hold idle connections unless database.min_conns
// asks for them.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open archive pool: %w", err)
	}
	return pool, nil
}

// poolConfig maps database settings onto a parsed DSN. Settings left at zero keep the DSN's
// (or pgxpool's) values, except MinConns which is always taken from cfg.
func poolConfig(cfg config.DatabaseConfig) (*pgxpool.Config, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	if cfg.MinConns < 0 || cfg.MaxConns < 0 {
		return nil, fmt.Errorf("database pool sizes cannot be negative")
	}

	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxConns > 0 {
		pc.MaxConns = int32(cfg.MaxConns)
	}
	pc.MinConns = int32(cfg.MinConns)
	if pc.MinConns > pc.MaxConns {
		return nil, fmt.Errorf("database.min_conns (%d) exceeds max conns (%d)", pc.MinConns, pc.MaxConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		pc.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	if cfg.ConnMaxIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.ConnMaxIdleTime
	}
	if _, ok := pc.ConnConfig.RuntimeParams["application_name"]; !ok {
		pc.ConnConfig.RuntimeParams["application_name"] = "aavedigest"
	}
	return pc, nil
}
