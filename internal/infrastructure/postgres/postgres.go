// Package postgres provides PostgreSQL infrastructure components: the local
// medication table, the durable reminder job store and the scan cache store.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pool and verifies connectivity.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Migrate creates the schema when it does not exist yet.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS medications (
			name        TEXT PRIMARY KEY,
			common_dose TEXT NOT NULL DEFAULT '',
			category    TEXT NOT NULL DEFAULT '',
			source      TEXT NOT NULL DEFAULT 'local',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS reminder_jobs (
			id              TEXT PRIMARY KEY,
			user_id         TEXT NOT NULL,
			medication      TEXT NOT NULL,
			dosage          TEXT NOT NULL DEFAULT '',
			trigger_minutes INT NOT NULL,
			window_label    TEXT NOT NULL DEFAULT '',
			window_range    TEXT NOT NULL DEFAULT '',
			start_date      TIMESTAMPTZ NOT NULL,
			end_date        TIMESTAMPTZ,
			status          TEXT NOT NULL DEFAULT 'active',
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reminder_jobs_user ON reminder_jobs (user_id)`,
		`CREATE TABLE IF NOT EXISTS scan_cache (
			key        TEXT PRIMARY KEY,
			version    INT NOT NULL,
			text       TEXT NOT NULL DEFAULT '',
			entries    JSONB,
			created_at TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
