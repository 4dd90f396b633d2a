package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// RecordDecision appends a routing decision to the interaction log.
func (s *SQLiteStorage) RecordDecision(rec DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return fmt.Errorf("storage not initialized")
	}

	args, err := json.Marshal(rec.Arguments)
	if err != nil {
		return fmt.Errorf("failed to marshal arguments: %w", err)
	}

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err = s.db.Exec(`
		INSERT INTO routing_decisions
			(id, query, query_hash, tool_name, arguments, confidence, source,
			 latency_ms, snapshot_id, low_native_confidence, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Query, rec.QueryHash, rec.ToolName, string(args),
		rec.Confidence, rec.Source, rec.LatencyMs, rec.SnapshotID,
		boolToInt(rec.LowNativeConfidence), ts.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to record decision: %w", err)
	}
	return nil
}

// GetDecision retrieves a decision by id.
func (s *SQLiteStorage) GetDecision(id string) (*DecisionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil, fmt.Errorf("storage not initialized")
	}

	row := s.db.QueryRow(`
		SELECT id, query, query_hash, tool_name, arguments, confidence, source,
		       latency_ms, snapshot_id, low_native_confidence, timestamp, outcome_success
		FROM routing_decisions WHERE id = ?`, id)

	rec, err := scanDecision(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("decision %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get decision: %w", err)
	}
	return rec, nil
}

// ListDecisions returns decisions at or after since, newest first.
func (s *SQLiteStorage) ListDecisions(since time.Time, limit int) ([]DecisionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil, fmt.Errorf("storage not initialized")
	}
	if limit <= 0 {
		limit = 1000
	}

	rows, err := s.db.Query(`
		SELECT id, query, query_hash, tool_name, arguments, confidence, source,
		       latency_ms, snapshot_id, low_native_confidence, timestamp, outcome_success
		FROM routing_decisions
		WHERE timestamp >= ?
		ORDER BY timestamp DESC
		LIMIT ?`, since.UTC().Format(time.RFC3339Nano), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	defer rows.Close()

	var out []DecisionRecord
	for rows.Next() {
		rec, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// MarkOutcome records caller feedback for a decision.
func (s *SQLiteStorage) MarkOutcome(decisionID string, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return fmt.Errorf("storage not initialized")
	}

	res, err := s.db.Exec(
		"UPDATE routing_decisions SET outcome_success = ? WHERE id = ?",
		boolToInt(success), decisionID)
	if err != nil {
		return fmt.Errorf("failed to mark outcome: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("decision %s not found", decisionID)
	}
	return nil
}

// LastSuccess returns per-tool timestamps of the most recent successful
// decision for a query shape.
func (s *SQLiteStorage) LastSuccess(queryHash string) (map[string]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil, fmt.Errorf("storage not initialized")
	}

	rows, err := s.db.Query(`
		SELECT tool_name, MAX(timestamp)
		FROM routing_decisions
		WHERE query_hash = ? AND outcome_success = 1
		GROUP BY tool_name`, queryHash)
	if err != nil {
		return nil, fmt.Errorf("failed to query last success: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var tool, ts string
		if err := rows.Scan(&tool, &ts); err != nil {
			return nil, err
		}
		parsed, err := parseTimestamp(ts)
		if err != nil {
			continue
		}
		out[tool] = parsed
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDecision(row rowScanner) (*DecisionRecord, error) {
	var rec DecisionRecord
	var args sql.NullString
	var ts string
	var lowConf int
	var outcome sql.NullInt64

	if err := row.Scan(&rec.ID, &rec.Query, &rec.QueryHash, &rec.ToolName, &args,
		&rec.Confidence, &rec.Source, &rec.LatencyMs, &rec.SnapshotID,
		&lowConf, &ts, &outcome); err != nil {
		return nil, err
	}

	if args.Valid && args.String != "" && args.String != "null" {
		if err := json.Unmarshal([]byte(args.String), &rec.Arguments); err != nil {
			return nil, fmt.Errorf("corrupt arguments for decision %s: %w", rec.ID, err)
		}
	}
	rec.LowNativeConfidence = lowConf != 0
	if parsed, err := parseTimestamp(ts); err == nil {
		rec.Timestamp = parsed
	}
	if outcome.Valid {
		v := outcome.Int64 != 0
		rec.OutcomeSuccess = &v
	}
	return &rec, nil
}

func parseTimestamp(ts string) (time.Time, error) {
	if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		return parsed, nil
	}
	return time.Parse("2006-01-02 15:04:05", ts)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
