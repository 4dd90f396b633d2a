/*
Package storage provides SQLite database migrations.

This file contains schema definitions and migration logic. Migrations run in
order at Init and are recorded in a schema_migrations table, following the
same versioning pattern across releases.
*/
package storage

import "fmt"

// runMigrations executes database schema migrations.
func (s *SQLiteStorage) runMigrations() error {
	if err := s.createMigrationsTable(); err != nil {
		return err
	}

	version, err := s.getCurrentMigrationVersion()
	if err != nil {
		return err
	}

	migrations := []migration{
		{version: 1, name: "initial_schema", up: s.migration001InitialSchema},
	}

	for _, m := range migrations {
		if version < m.version {
			if err := m.up(); err != nil {
				return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
			}
			if err := s.setMigrationVersion(m.version, m.name); err != nil {
				return err
			}
		}
	}

	return nil
}

// migration represents a single database migration.
type migration struct {
	version int
	name    string
	up      func() error
}

func (s *SQLiteStorage) createMigrationsTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`
	_, err := s.db.Exec(query)
	return err
}

func (s *SQLiteStorage) getCurrentMigrationVersion() (int, error) {
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")

	var version int
	if err := row.Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

func (s *SQLiteStorage) setMigrationVersion(version int, name string) error {
	_, err := s.db.Exec("INSERT INTO schema_migrations (version, name) VALUES (?, ?)", version, name)
	return err
}

// migration001InitialSchema creates the initial database schema.
func (s *SQLiteStorage) migration001InitialSchema() error {
	stmts := []struct {
		what string
		sql  string
	}{
		{"routing_decisions table", `
			CREATE TABLE IF NOT EXISTS routing_decisions (
				id TEXT PRIMARY KEY,
				query TEXT NOT NULL,
				query_hash TEXT NOT NULL,
				tool_name TEXT NOT NULL,
				arguments TEXT,
				confidence REAL NOT NULL,
				source TEXT NOT NULL,
				latency_ms REAL NOT NULL,
				snapshot_id TEXT NOT NULL,
				low_native_confidence INTEGER NOT NULL DEFAULT 0,
				timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
				outcome_success INTEGER
			)
		`},
		{"decisions query_hash index", `
			CREATE INDEX IF NOT EXISTS idx_decisions_query_hash
			ON routing_decisions(query_hash)
		`},
		{"decisions timestamp index", `
			CREATE INDEX IF NOT EXISTS idx_decisions_timestamp
			ON routing_decisions(timestamp DESC)
		`},
		{"training_examples table", `
			CREATE TABLE IF NOT EXISTS training_examples (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				query TEXT NOT NULL,
				tool_name TEXT NOT NULL,
				arguments TEXT,
				origin TEXT NOT NULL,
				tier INTEGER NOT NULL DEFAULT 0,
				dedup_key TEXT,
				needs_review INTEGER NOT NULL DEFAULT 0,
				superseded_by INTEGER,
				timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
			)
		`},
		{"examples dedup index", `
			CREATE UNIQUE INDEX IF NOT EXISTS idx_examples_dedup
			ON training_examples(dedup_key) WHERE dedup_key IS NOT NULL
		`},
		{"examples query index", `
			CREATE INDEX IF NOT EXISTS idx_examples_query
			ON training_examples(query)
		`},
		{"model_snapshots table", `
			CREATE TABLE IF NOT EXISTS model_snapshots (
				version_id TEXT PRIMARY KEY,
				weights BLOB NOT NULL,
				checksum TEXT NOT NULL,
				state TEXT NOT NULL,
				benchmark_ref TEXT,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP
			)
		`},
		{"snapshots state index", `
			CREATE INDEX IF NOT EXISTS idx_snapshots_state
			ON model_snapshots(state)
		`},
		{"benchmark_records table", `
			CREATE TABLE IF NOT EXISTS benchmark_records (
				id TEXT PRIMARY KEY,
				snapshot_id TEXT NOT NULL,
				accuracy REAL NOT NULL,
				latency_p50 REAL NOT NULL,
				latency_p99 REAL NOT NULL,
				tool_count INTEGER NOT NULL,
				example_count INTEGER NOT NULL,
				timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
			)
		`},
		{"benchmarks snapshot index", `
			CREATE INDEX IF NOT EXISTS idx_benchmarks_snapshot
			ON benchmark_records(snapshot_id)
		`},
		{"proposals table", `
			CREATE TABLE IF NOT EXISTS proposals (
				proposal_id TEXT PRIMARY KEY,
				category TEXT NOT NULL,
				impact TEXT NOT NULL,
				diff_description TEXT NOT NULL,
				state TEXT NOT NULL,
				candidate_snapshot TEXT,
				anchor_snapshot TEXT,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
			)
		`},
		{"proposals state index", `
			CREATE INDEX IF NOT EXISTS idx_proposals_state
			ON proposals(state)
		`},
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt.sql); err != nil {
			return fmt.Errorf("failed to create %s: %w", stmt.what, err)
		}
	}

	return nil
}
