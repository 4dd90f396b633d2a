package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// SaveSnapshot persists a snapshot's metadata and weight blob. The checksum
// is computed here so every stored blob can be verified on load.
func (s *SQLiteStorage) SaveSnapshot(rec SnapshotRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return fmt.Errorf("storage not initialized")
	}
	if rec.VersionID == "" {
		return fmt.Errorf("snapshot version id must not be empty")
	}

	checksum := rec.Checksum
	if checksum == "" {
		checksum = ChecksumBlob(rec.Weights)
	}

	ts := rec.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	var benchRef interface{}
	if rec.BenchmarkRef != "" {
		benchRef = rec.BenchmarkRef
	}

	_, err := s.db.Exec(`
		INSERT INTO model_snapshots (version_id, weights, checksum, state, benchmark_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(version_id) DO UPDATE SET
			state = excluded.state,
			benchmark_ref = excluded.benchmark_ref`,
		rec.VersionID, rec.Weights, checksum, rec.State, benchRef,
		ts.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// GetSnapshot retrieves a snapshot by version id.
func (s *SQLiteStorage) GetSnapshot(versionID string) (*SnapshotRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getSnapshotLocked(versionID)
}

func (s *SQLiteStorage) getSnapshotLocked(versionID string) (*SnapshotRecord, error) {
	if s.db == nil {
		return nil, fmt.Errorf("storage not initialized")
	}

	row := s.db.QueryRow(`
		SELECT version_id, weights, checksum, state, benchmark_ref, created_at
		FROM model_snapshots WHERE version_id = ?`, versionID)

	rec, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("snapshot %s not found", versionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return rec, nil
}

// GetLiveSnapshot returns the single live snapshot, or nil when none exists.
func (s *SQLiteStorage) GetLiveSnapshot() (*SnapshotRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil, fmt.Errorf("storage not initialized")
	}

	row := s.db.QueryRow(`
		SELECT version_id, weights, checksum, state, benchmark_ref, created_at
		FROM model_snapshots WHERE state = ?`, SnapshotLive)

	rec, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get live snapshot: %w", err)
	}
	return rec, nil
}

// PromoteSnapshot atomically makes versionID the live snapshot and demotes
// the previous live snapshot to the retained state. The invariant that
// exactly one snapshot is live is enforced inside one transaction.
func (s *SQLiteStorage) PromoteSnapshot(versionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return fmt.Errorf("storage not initialized")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin promote: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"UPDATE model_snapshots SET state = ? WHERE state = ?",
		SnapshotRetained, SnapshotLive); err != nil {
		return fmt.Errorf("failed to demote live snapshot: %w", err)
	}

	res, err := tx.Exec(
		"UPDATE model_snapshots SET state = ? WHERE version_id = ?",
		SnapshotLive, versionID)
	if err != nil {
		return fmt.Errorf("failed to promote snapshot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("snapshot %s not found", versionID)
	}

	return tx.Commit()
}

// SetSnapshotState updates a snapshot's state.
func (s *SQLiteStorage) SetSnapshotState(versionID, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return fmt.Errorf("storage not initialized")
	}

	res, err := s.db.Exec(
		"UPDATE model_snapshots SET state = ? WHERE version_id = ?", state, versionID)
	if err != nil {
		return fmt.Errorf("failed to set snapshot state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("snapshot %s not found", versionID)
	}
	return nil
}

// AppendBenchmark appends a benchmark record.
func (s *SQLiteStorage) AppendBenchmark(rec BenchmarkRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return fmt.Errorf("storage not initialized")
	}

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err := s.db.Exec(`
		INSERT INTO benchmark_records
			(id, snapshot_id, accuracy, latency_p50, latency_p99, tool_count, example_count, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SnapshotID, rec.Accuracy, rec.LatencyP50, rec.LatencyP99,
		rec.ToolCount, rec.ExampleCount, ts.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to append benchmark: %w", err)
	}
	return nil
}

// ListBenchmarks returns benchmark records for a snapshot, newest first.
func (s *SQLiteStorage) ListBenchmarks(snapshotID string) ([]BenchmarkRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil, fmt.Errorf("storage not initialized")
	}

	query := `
		SELECT id, snapshot_id, accuracy, latency_p50, latency_p99, tool_count, example_count, timestamp
		FROM benchmark_records`
	args := []interface{}{}
	if snapshotID != "" {
		query += " WHERE snapshot_id = ?"
		args = append(args, snapshotID)
	}
	query += " ORDER BY timestamp DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list benchmarks: %w", err)
	}
	defer rows.Close()

	var out []BenchmarkRecord
	for rows.Next() {
		var rec BenchmarkRecord
		var ts string
		if err := rows.Scan(&rec.ID, &rec.SnapshotID, &rec.Accuracy, &rec.LatencyP50,
			&rec.LatencyP99, &rec.ToolCount, &rec.ExampleCount, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan benchmark: %w", err)
		}
		if parsed, err := parseTimestamp(ts); err == nil {
			rec.Timestamp = parsed
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanSnapshot(row rowScanner) (*SnapshotRecord, error) {
	var rec SnapshotRecord
	var benchRef sql.NullString
	var ts string

	if err := row.Scan(&rec.VersionID, &rec.Weights, &rec.Checksum, &rec.State,
		&benchRef, &ts); err != nil {
		return nil, err
	}
	if benchRef.Valid {
		rec.BenchmarkRef = benchRef.String
	}
	if parsed, err := parseTimestamp(ts); err == nil {
		rec.CreatedAt = parsed
	}
	return &rec, nil
}
