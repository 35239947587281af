package store

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS rate_snapshots (
		destination TEXT PRIMARY KEY,
		rate REAL NOT NULL,
		latency_avg REAL NOT NULL,
		samples INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS attribute_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		host TEXT NOT NULL,
		zone TEXT NOT NULL,
		pass_id TEXT NOT NULL,
		state_json TEXT NOT NULL,
		unresolved TEXT,
		created_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_attribute_snapshots_lookup ON attribute_snapshots(host, zone, created_at);`,
	`CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		host TEXT NOT NULL,
		zone TEXT NOT NULL,
		code TEXT NOT NULL,
		parameter TEXT NOT NULL,
		received_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_events_received ON events(received_at);`,
}

// Migrate ensures the required database tables exist.
func (s *Store) Migrate(ctx context.Context) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}

	for _, stmt := range schemaStatements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store migration failed: %w", err)
		}
	}
	return nil
}
