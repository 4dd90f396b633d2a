package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// SaveProposal inserts or updates a proposal.
func (s *SQLiteStorage) SaveProposal(rec ProposalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return fmt.Errorf("storage not initialized")
	}
	if rec.ProposalID == "" {
		return fmt.Errorf("proposal id must not be empty")
	}

	now := time.Now().UTC()
	created := rec.CreatedAt
	if created.IsZero() {
		created = now
	}

	var candidate, anchor interface{}
	if rec.CandidateSnapshot != "" {
		candidate = rec.CandidateSnapshot
	}
	if rec.AnchorSnapshot != "" {
		anchor = rec.AnchorSnapshot
	}

	_, err := s.db.Exec(`
		INSERT INTO proposals
			(proposal_id, category, impact, diff_description, state, candidate_snapshot, anchor_snapshot, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(proposal_id) DO UPDATE SET
			state = excluded.state,
			candidate_snapshot = excluded.candidate_snapshot,
			anchor_snapshot = excluded.anchor_snapshot,
			updated_at = excluded.updated_at`,
		rec.ProposalID, rec.Category, rec.Impact, rec.DiffDescription, rec.State,
		candidate, anchor, created.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save proposal: %w", err)
	}
	return nil
}

// GetProposal retrieves a proposal by id.
func (s *SQLiteStorage) GetProposal(proposalID string) (*ProposalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil, fmt.Errorf("storage not initialized")
	}

	row := s.db.QueryRow(`
		SELECT proposal_id, category, impact, diff_description, state,
		       candidate_snapshot, anchor_snapshot, created_at, updated_at
		FROM proposals WHERE proposal_id = ?`, proposalID)

	rec, err := scanProposal(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("proposal %s not found", proposalID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get proposal: %w", err)
	}
	return rec, nil
}

// ListProposals returns proposals in the given state, oldest first. An empty
// state returns all proposals.
func (s *SQLiteStorage) ListProposals(state string) ([]ProposalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil, fmt.Errorf("storage not initialized")
	}

	query := `
		SELECT proposal_id, category, impact, diff_description, state,
		       candidate_snapshot, anchor_snapshot, created_at, updated_at
		FROM proposals`
	args := []interface{}{}
	if state != "" {
		query += " WHERE state = ?"
		args = append(args, state)
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list proposals: %w", err)
	}
	defer rows.Close()

	var out []ProposalRecord
	for rows.Next() {
		rec, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan proposal: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func scanProposal(row rowScanner) (*ProposalRecord, error) {
	var rec ProposalRecord
	var candidate, anchor sql.NullString
	var created, updated string

	if err := row.Scan(&rec.ProposalID, &rec.Category, &rec.Impact,
		&rec.DiffDescription, &rec.State, &candidate, &anchor, &created, &updated); err != nil {
		return nil, err
	}
	if candidate.Valid {
		rec.CandidateSnapshot = candidate.String
	}
	if anchor.Valid {
		rec.AnchorSnapshot = anchor.String
	}
	if parsed, err := parseTimestamp(created); err == nil {
		rec.CreatedAt = parsed
	}
	if parsed, err := parseTimestamp(updated); err == nil {
		rec.UpdatedAt = parsed
	}
	return &rec, nil
}
