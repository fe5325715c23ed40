package data

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
)

// migration is one forward-only schema step.
type migration struct {
	version int
	name    string
	up      string
}

var migrations = []migration{
	{1, "stocks", `
		CREATE TABLE IF NOT EXISTS stocks (
			id BIGSERIAL PRIMARY KEY,
			symbol TEXT NOT NULL UNIQUE,
			market TEXT NOT NULL,
			exchange TEXT NOT NULL,
			market_cap NUMERIC,
			current_price NUMERIC,
			ma90_price NUMERIC,
			history_records_count INTEGER NOT NULL DEFAULT 0,
			history_updated_at TIMESTAMPTZ,
			signal_analyzed_at TIMESTAMPTZ,
			is_active BOOLEAN NOT NULL DEFAULT true
		)`},
	{2, "price_history", `
		CREATE TABLE IF NOT EXISTS price_history (
			id BIGSERIAL PRIMARY KEY,
			stock_id BIGINT NOT NULL REFERENCES stocks(id) ON DELETE CASCADE,
			date DATE NOT NULL,
			open NUMERIC NOT NULL,
			high NUMERIC NOT NULL,
			low NUMERIC NOT NULL,
			close NUMERIC NOT NULL,
			volume BIGINT NOT NULL,
			UNIQUE (stock_id, date)
		);
		CREATE INDEX IF NOT EXISTS idx_price_history_stock_date ON price_history (stock_id, date)`},
	{3, "signals", `
		CREATE TABLE IF NOT EXISTS signals (
			id BIGSERIAL PRIMARY KEY,
			stock_id BIGINT NOT NULL REFERENCES stocks(id) ON DELETE CASCADE,
			signal_date DATE NOT NULL,
			strategy_name TEXT NOT NULL,
			signal_type TEXT NOT NULL,
			signal_price NUMERIC NOT NULL,
			current_price NUMERIC,
			return_percent NUMERIC,
			details JSONB NOT NULL DEFAULT '{}',
			is_active BOOLEAN NOT NULL DEFAULT true,
			analyzed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (stock_id, signal_date, strategy_name)
		)`},
	{4, "tasks", `
		CREATE TABLE IF NOT EXISTS tasks (
			task_id UUID PRIMARY KEY,
			task_type TEXT NOT NULL,
			status TEXT NOT NULL,
			total_items INTEGER NOT NULL DEFAULT 0,
			current_item INTEGER NOT NULL DEFAULT 0,
			current_stock_name TEXT,
			success_count INTEGER NOT NULL DEFAULT 0,
			failed_count INTEGER NOT NULL DEFAULT 0,
			message TEXT,
			error_message TEXT,
			started_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ
		)`},
	{5, "collection_logs", `
		CREATE TABLE IF NOT EXISTS collection_logs (
			id BIGSERIAL PRIMARY KEY,
			task_id UUID REFERENCES tasks(task_id) ON DELETE SET NULL,
			stock_id BIGINT NOT NULL REFERENCES stocks(id) ON DELETE CASCADE,
			stock_symbol TEXT NOT NULL,
			stock_name TEXT,
			status TEXT NOT NULL,
			records_saved INTEGER NOT NULL DEFAULT 0,
			error_message TEXT,
			started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			completed_at TIMESTAMPTZ
		)`},
	{6, "token_cache", `
		CREATE TABLE IF NOT EXISTS token_cache (
			provider TEXT NOT NULL,
			cache_key TEXT NOT NULL,
			access_token TEXT NOT NULL,
			expired_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (provider, cache_key)
		)`},
}

// Migrate applies every migration not yet recorded in schema_migrations, in
// version order, each inside its own transaction.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("data: creating schema_migrations table: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := db.QueryRow(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = $1`, m.version).Scan(&count); err != nil {
			return fmt.Errorf("data: checking migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin(ctx)
		if err != nil {
			return fmt.Errorf("data: beginning migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(ctx, m.up); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("data: migration %d (%s) failed: %w", m.version, m.name, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.version, m.name); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("data: recording migration %d: %w", m.version, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("data: committing migration %d: %w", m.version, err)
		}
	}
	return nil
}
