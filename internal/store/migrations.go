package store

import "fmt"

// migrations are applied in order. The database's user_version records how
// many have run; append new steps, never edit applied ones.
var migrations = [][]string{
	{
		// One row per tracking run of the process.
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			mode TEXT NOT NULL CHECK(mode IN ('absolute', 'offset')),
			layout TEXT NOT NULL,
			transport TEXT NOT NULL DEFAULT '',
			address TEXT NOT NULL DEFAULT '',
			config TEXT NOT NULL DEFAULT '{}',
			frames INTEGER NOT NULL DEFAULT 0,
			hands INTEGER NOT NULL DEFAULT 0,
			messages INTEGER NOT NULL DEFAULT 0,
			skipped INTEGER NOT NULL DEFAULT 0,
			resets INTEGER NOT NULL DEFAULT 0,
			exit_reason TEXT NOT NULL DEFAULT '',
			started_at DATETIME NOT NULL,
			ended_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS run_checkpoints (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			frames INTEGER NOT NULL,
			messages INTEGER NOT NULL,
			skipped INTEGER NOT NULL,
			resets INTEGER NOT NULL,
			recorded_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_run_checkpoints_run_id ON run_checkpoints(run_id)`,
	},
	{
		`ALTER TABLE run_checkpoints ADD COLUMN hands INTEGER NOT NULL DEFAULT 0`,
	},
}

// runMigrations applies every migration newer than the database's
// user_version, each in its own transaction.
func (s *Store) runMigrations() error {
	current, err := s.SchemaVersion()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		for _, stmt := range migrations[i] {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration %d: %w", i+1, err)
			}
		}
		// PRAGMA does not accept bound parameters.
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}

	return nil
}
