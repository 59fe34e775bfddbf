package database

import (
	"context"
	"fmt"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS product_scrapes (
		id           UUID PRIMARY KEY,
		source_url   TEXT NOT NULL,
		resolved_url TEXT NOT NULL DEFAULT '',
		title        TEXT NOT NULL,
		price        TEXT NOT NULL,
		image        TEXT NOT NULL DEFAULT '',
		partial      BOOLEAN NOT NULL DEFAULT FALSE,
		scraped_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_product_scrapes_scraped_at ON product_scrapes (scraped_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_product_scrapes_source_url ON product_scrapes (source_url)`,
	`CREATE TABLE IF NOT EXISTS scrape_outbox (
		id             UUID PRIMARY KEY,
		aggregate_id   TEXT NOT NULL,
		event_type     TEXT NOT NULL,
		payload        JSONB NOT NULL,
		target_stream  TEXT NOT NULL,
		status         TEXT NOT NULL DEFAULT 'pending',
		retry_count    INT NOT NULL DEFAULT 0,
		error_message  TEXT,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		processed_at   TIMESTAMPTZ,
		next_retry_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scrape_outbox_pending ON scrape_outbox (status, next_retry_at)`,
}

// Migrate creates the tables used by the service. It is safe to run on
// every start.
func (db *DB) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
