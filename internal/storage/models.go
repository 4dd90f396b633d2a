/*
Package storage provides data models for the router's persistence layer.

These models cover the interaction log (routing decisions and feedback), the
training corpus, model snapshots with their benchmark records, and the
improvement proposals driven by the lifecycle manager.
*/
package storage

import "time"

// DecisionRecord is a persisted routing decision.
type DecisionRecord struct {
	// ID uniquely identifies the decision (UUID).
	ID string `json:"id"`

	// Query is the normalized query text that was routed.
	Query string `json:"query"`

	// QueryHash is the SHA256 hash of Query, used as the query-shape key.
	QueryHash string `json:"query_hash"`

	// ToolName is the tool the request was routed to.
	ToolName string `json:"tool_name"`

	// Arguments holds the extracted arguments as a JSON object.
	Arguments map[string]string `json:"arguments,omitempty"`

	// Confidence is the accepting tier's confidence in [0, 1].
	Confidence float64 `json:"confidence"`

	// Source is the accepting tier: "pattern", "mid_tier" or "fallback".
	Source string `json:"source"`

	// LatencyMs is the end-to-end routing latency in milliseconds.
	LatencyMs float64 `json:"latency_ms"`

	// SnapshotID references the model snapshot that produced the decision.
	SnapshotID string `json:"snapshot_id"`

	// LowNativeConfidence marks fallback decisions accepted despite low
	// confidence, prioritized for later training.
	LowNativeConfidence bool `json:"low_native_confidence,omitempty"`

	// Timestamp is when the decision was made.
	Timestamp time.Time `json:"timestamp"`

	// OutcomeSuccess is nil until feedback arrives.
	OutcomeSuccess *bool `json:"outcome_success,omitempty"`
}

// Example origins.
const (
	OriginSynthetic = "synthetic"
	OriginObserved  = "observed"
	OriginCorrected = "corrected"
)

// ExampleRecord is a persisted training example. Examples are immutable once
// written; corrections supersede rather than overwrite.
type ExampleRecord struct {
	ID        int64             `json:"id"`
	Query     string            `json:"query"`
	ToolName  string            `json:"tool_name"`
	Arguments map[string]string `json:"arguments,omitempty"`

	// Origin is one of OriginSynthetic, OriginObserved, OriginCorrected.
	Origin string `json:"origin"`

	// Tier is the training complexity tier (0 = single-argument tools).
	Tier int `json:"tier"`

	// DedupKey enforces idempotency for harvested feedback
	// (decision id + correction content hash).
	DedupKey string `json:"dedup_key,omitempty"`

	// NeedsReview marks near-duplicates whose label disagrees with an
	// existing example; they are excluded from training until resolved.
	NeedsReview bool `json:"needs_review,omitempty"`

	// SupersededBy points at the correcting example, if any.
	SupersededBy *int64 `json:"superseded_by,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Snapshot states.
const (
	SnapshotLive     = "live"
	SnapshotRetained = "retained"
	SnapshotFailed   = "failed"
)

// SnapshotRecord is persisted model snapshot metadata plus the serialized
// weights blob. Exactly one record is in the "live" state at any time.
type SnapshotRecord struct {
	VersionID string `json:"version_id"`

	// Weights is the serialized model (vocabulary + weight matrix).
	Weights []byte `json:"-"`

	// Checksum is the SHA256 of Weights, verified on load.
	Checksum string `json:"checksum"`

	// State is one of SnapshotLive, SnapshotRetained, SnapshotFailed.
	State string `json:"state"`

	// BenchmarkRef references the benchmark record that validated this
	// snapshot, if any.
	BenchmarkRef string `json:"benchmark_ref,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// BenchmarkRecord is one benchmark run. Append-only.
type BenchmarkRecord struct {
	ID           string    `json:"id"`
	SnapshotID   string    `json:"snapshot_id"`
	Accuracy     float64   `json:"accuracy"`
	LatencyP50   float64   `json:"latency_p50"`
	LatencyP99   float64   `json:"latency_p99"`
	ToolCount    int       `json:"tool_count"`
	ExampleCount int       `json:"example_count"`
	Timestamp    time.Time `json:"timestamp"`
}

// ProposalRecord is a persisted improvement proposal. The lifecycle manager
// owns the state machine; storage only persists its current state so approval
// can resume across process restarts.
type ProposalRecord struct {
	ProposalID string `json:"proposal_id"`

	// Category describes the change ("retrain", "new_tool_coverage",
	// "threshold_change", ...).
	Category string `json:"category"`

	// Impact is "low", "medium", "high" or "critical".
	Impact string `json:"impact"`

	// DiffDescription is a human-readable summary of the candidate change.
	DiffDescription string `json:"diff_description"`

	// State is the lifecycle state name.
	State string `json:"state"`

	// CandidateSnapshot is the snapshot trained for this proposal, once the
	// proposal reaches the applied state.
	CandidateSnapshot string `json:"candidate_snapshot,omitempty"`

	// AnchorSnapshot is the snapshot that was live when this proposal was
	// applied; rollback re-promotes it.
	AnchorSnapshot string `json:"anchor_snapshot,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
