/*
Package storage implements the router's persistent store.

All durable state lives in a single SQLite database (modernc.org/sqlite, pure
Go, CGo-free): the interaction log, the training corpus, model snapshots and
their benchmark history, and lifecycle proposals. The schema is managed by
versioned migrations recorded in a schema_migrations table.
*/
package storage

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Storage defines the persistence operations the router depends on.
type Storage interface {
	// Init opens the database and runs migrations.
	Init() error

	// Close closes the database connection.
	Close() error

	// RecordDecision appends a routing decision to the interaction log.
	RecordDecision(rec DecisionRecord) error

	// GetDecision retrieves a decision by id.
	GetDecision(id string) (*DecisionRecord, error)

	// ListDecisions returns decisions at or after since, newest first.
	ListDecisions(since time.Time, limit int) ([]DecisionRecord, error)

	// MarkOutcome records caller feedback for a decision.
	MarkOutcome(decisionID string, success bool) error

	// LastSuccess returns per-tool timestamps of the most recent successful
	// decision for a query shape. Used for confidence tie-breaking.
	LastSuccess(queryHash string) (map[string]time.Time, error)

	// InsertExample appends a training example, returning the new row id.
	// A false flag without error means the example's DedupKey already
	// exists and nothing was inserted (idempotent feedback).
	InsertExample(ex ExampleRecord) (int64, bool, error)

	// SupersedeExamples marks prior examples for a query shape as superseded
	// by the given corrected example.
	SupersedeExamples(query string, byID int64) error

	// ListExamples returns all examples, oldest first. Reviews-pending and
	// superseded examples are included; callers filter.
	ListExamples() ([]ExampleRecord, error)

	// SaveSnapshot persists a snapshot's metadata and weight blob.
	SaveSnapshot(rec SnapshotRecord) error

	// GetSnapshot retrieves a snapshot by version id.
	GetSnapshot(versionID string) (*SnapshotRecord, error)

	// GetLiveSnapshot returns the single live snapshot, or nil when the
	// store holds none.
	GetLiveSnapshot() (*SnapshotRecord, error)

	// PromoteSnapshot atomically makes versionID the live snapshot and
	// demotes the previous live snapshot to the retained state.
	PromoteSnapshot(versionID string) error

	// SetSnapshotState updates a snapshot's state (e.g. failed).
	SetSnapshotState(versionID, state string) error

	// AppendBenchmark appends a benchmark record.
	AppendBenchmark(rec BenchmarkRecord) error

	// ListBenchmarks returns benchmark records for a snapshot, newest first.
	// An empty snapshotID returns all records.
	ListBenchmarks(snapshotID string) ([]BenchmarkRecord, error)

	// SaveProposal inserts or updates a proposal.
	SaveProposal(rec ProposalRecord) error

	// GetProposal retrieves a proposal by id.
	GetProposal(proposalID string) (*ProposalRecord, error)

	// ListProposals returns proposals in the given state, oldest first.
	// An empty state returns all proposals.
	ListProposals(state string) ([]ProposalRecord, error)

	// Cleanup removes old decisions and prunes retained snapshots beyond
	// keepSnapshots, never touching the live snapshot or failed snapshots.
	Cleanup(retention time.Duration, keepSnapshots int) error
}

// SQLiteStorage implements the Storage interface using SQLite.
type SQLiteStorage struct {
	db       *sql.DB
	dbPath   string
	mu       sync.Mutex
	initOnce sync.Once
}

// NewStorage creates a storage instance at the default location
// (~/.tool-router/router.db).
func NewStorage() (*SQLiteStorage, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return NewStorageAt(filepath.Join(home, ".tool-router", "router.db")), nil
}

// NewStorageAt creates a storage instance backed by the given database path.
func NewStorageAt(dbPath string) *SQLiteStorage {
	return &SQLiteStorage{dbPath: dbPath}
}

// Init opens the database and runs migrations. Safe to call more than once.
func (s *SQLiteStorage) Init() error {
	var initErr error
	s.initOnce.Do(func() {
		if err := os.MkdirAll(filepath.Dir(s.dbPath), 0755); err != nil {
			initErr = fmt.Errorf("failed to create db directory: %w", err)
			return
		}

		db, err := sql.Open("sqlite", s.dbPath)
		if err != nil {
			initErr = fmt.Errorf("failed to open database: %w", err)
			return
		}

		if err := db.Ping(); err != nil {
			initErr = fmt.Errorf("failed to ping database: %w", err)
			db.Close()
			return
		}

		s.db = db

		if err := s.runMigrations(); err != nil {
			initErr = fmt.Errorf("failed to run migrations: %w", err)
			db.Close()
			s.db = nil
			return
		}
	})
	return initErr
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.db = nil
	return nil
}

// HashQuery creates the SHA256 query-shape hash of a normalized query.
func HashQuery(query string) string {
	hash := sha256.Sum256([]byte(query))
	return hex.EncodeToString(hash[:])
}

// ChecksumBlob returns the SHA256 checksum of a snapshot weight blob.
func ChecksumBlob(blob []byte) string {
	hash := sha256.Sum256(blob)
	return hex.EncodeToString(hash[:])
}
