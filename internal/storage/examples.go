package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// InsertExample appends a training example and returns the inserted row id.
// Returns false without error when the example's DedupKey already exists,
// making feedback harvesting idempotent.
func (s *SQLiteStorage) InsertExample(ex ExampleRecord) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return 0, false, fmt.Errorf("storage not initialized")
	}

	args, err := json.Marshal(ex.Arguments)
	if err != nil {
		return 0, false, fmt.Errorf("failed to marshal arguments: %w", err)
	}

	ts := ex.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	var dedup interface{}
	if ex.DedupKey != "" {
		dedup = ex.DedupKey
	}

	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO training_examples
			(query, tool_name, arguments, origin, tier, dedup_key, needs_review, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ex.Query, ex.ToolName, string(args), ex.Origin, ex.Tier, dedup,
		boolToInt(ex.NeedsReview), ts.Format(time.RFC3339Nano))
	if err != nil {
		return 0, false, fmt.Errorf("failed to insert example: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, err
	}
	if n == 0 {
		return 0, false, nil
	}
	// The id comes from the same statement, so a concurrent insert cannot
	// slip between the write and the read.
	id, err := res.LastInsertId()
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// SupersedeExamples marks prior non-corrected examples for a query as
// superseded by the given corrected example. The rows themselves are never
// deleted.
func (s *SQLiteStorage) SupersedeExamples(query string, byID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return fmt.Errorf("storage not initialized")
	}

	_, err := s.db.Exec(`
		UPDATE training_examples
		SET superseded_by = ?
		WHERE query = ? AND id != ? AND superseded_by IS NULL`,
		byID, query, byID)
	if err != nil {
		return fmt.Errorf("failed to supersede examples: %w", err)
	}
	return nil
}

// ListExamples returns all examples, oldest first.
func (s *SQLiteStorage) ListExamples() ([]ExampleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil, fmt.Errorf("storage not initialized")
	}

	rows, err := s.db.Query(`
		SELECT id, query, tool_name, arguments, origin, tier, dedup_key,
		       needs_review, superseded_by, timestamp
		FROM training_examples
		ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list examples: %w", err)
	}
	defer rows.Close()

	var out []ExampleRecord
	for rows.Next() {
		var ex ExampleRecord
		var args, dedup sql.NullString
		var needsReview int
		var superseded sql.NullInt64
		var ts string

		if err := rows.Scan(&ex.ID, &ex.Query, &ex.ToolName, &args, &ex.Origin,
			&ex.Tier, &dedup, &needsReview, &superseded, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan example: %w", err)
		}

		if args.Valid && args.String != "" && args.String != "null" {
			if err := json.Unmarshal([]byte(args.String), &ex.Arguments); err != nil {
				return nil, fmt.Errorf("corrupt arguments for example %d: %w", ex.ID, err)
			}
		}
		if dedup.Valid {
			ex.DedupKey = dedup.String
		}
		ex.NeedsReview = needsReview != 0
		if superseded.Valid {
			v := superseded.Int64
			ex.SupersededBy = &v
		}
		if parsed, err := parseTimestamp(ts); err == nil {
			ex.Timestamp = parsed
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}

// Cleanup removes old decisions and prunes retained snapshots beyond
// keepSnapshots. Live, failed and benchmark-referenced anchor snapshots are
// never pruned; examples are never deleted.
func (s *SQLiteStorage) Cleanup(retention time.Duration, keepSnapshots int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return fmt.Errorf("storage not initialized")
	}

	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339Nano)
	if _, err := s.db.Exec(
		"DELETE FROM routing_decisions WHERE timestamp < ? AND outcome_success IS NULL", cutoff); err != nil {
		return fmt.Errorf("failed to clean decisions: %w", err)
	}

	if keepSnapshots < 1 {
		keepSnapshots = 1
	}
	rows, err := s.db.Query(`
		SELECT version_id FROM model_snapshots
		WHERE state = ?
		ORDER BY created_at DESC`, SnapshotRetained)
	if err != nil {
		return fmt.Errorf("failed to list retained snapshots: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()

	if len(ids) > keepSnapshots {
		prune := ids[keepSnapshots:]
		placeholders := strings.Repeat("?,", len(prune))
		placeholders = placeholders[:len(placeholders)-1]
		args := make([]interface{}, len(prune))
		for i, id := range prune {
			args[i] = id
		}
		if _, err := s.db.Exec(
			"DELETE FROM model_snapshots WHERE version_id IN ("+placeholders+")", args...); err != nil {
			return fmt.Errorf("failed to prune snapshots: %w", err)
		}
	}

	return nil
}
