/*
Package lifecycle drives the self-improvement loop.

An improvement enters as a proposal and walks a fixed state machine:

	detected -> proposed -> reviewed -> auto_approved | pending_approval
	approved/auto_approved -> applied -> validating -> committed | rolled_back

Low-impact proposals approve automatically; medium and higher impact
suspends in pending_approval, persisted so approval can resume after a
restart. Exactly one proposal occupies the apply window at a time: Apply
queues behind the active one, TryApply refuses with ConcurrentSwapError.

A candidate snapshot is promoted only when it strictly beats the anchor,
both scored on the same held-out slice of the current corpus, or matches
its accuracy with lower p50 latency. The anchor is preserved in the
retained state until the candidate commits, so rollback is always one
promotion away.
*/
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/khanglvm/tool-router/internal/classifier"
	"github.com/khanglvm/tool-router/internal/corpus"
	"github.com/khanglvm/tool-router/internal/registry"
	"github.com/khanglvm/tool-router/internal/storage"
	"github.com/khanglvm/tool-router/internal/trainer"
)

// Proposal states.
const (
	StateDetected        = "detected"
	StateProposed        = "proposed"
	StateReviewed        = "reviewed"
	StateAutoApproved    = "auto_approved"
	StatePendingApproval = "pending_approval"
	StateApproved        = "approved"
	StateApplied         = "applied"
	StateValidating      = "validating"
	StateCommitted       = "committed"
	StateRolledBack      = "rolled_back"
	StateRejected        = "rejected"
)

// Impact levels.
const (
	ImpactLow      = "low"
	ImpactMedium   = "medium"
	ImpactHigh     = "high"
	ImpactCritical = "critical"
)

// ConcurrentSwapError reports an apply window already occupied by another
// proposal. Callers either wait (Apply) or surface the conflict (TryApply).
type ConcurrentSwapError struct {
	ActiveProposal string
}

func (e *ConcurrentSwapError) Error() string {
	return fmt.Sprintf("apply window occupied by proposal %s", e.ActiveProposal)
}

// Manager owns the proposal state machine and the apply window.
type Manager struct {
	store   storage.Storage
	trainer *trainer.Trainer
	corpus  *corpus.Generator
	live    *classifier.Live
	reg     *registry.Registry
	logger  *zap.Logger

	applyMu sync.Mutex
	// activeMu guards active, which names the proposal in the window.
	activeMu sync.Mutex
	active   string
}

// NewManager wires the lifecycle manager.
func NewManager(store storage.Storage, tr *trainer.Trainer, gen *corpus.Generator,
	live *classifier.Live, reg *registry.Registry, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:   store,
		trainer: tr,
		corpus:  gen,
		live:    live,
		reg:     reg,
		logger:  logger,
	}
}

// Propose creates a proposal and advances it through detection and review.
// Low-impact proposals come back auto-approved; anything higher suspends in
// pending_approval until ResumeApproval decides.
func (m *Manager) Propose(category, impact, description string) (*storage.ProposalRecord, error) {
	switch impact {
	case ImpactLow, ImpactMedium, ImpactHigh, ImpactCritical:
	default:
		return nil, fmt.Errorf("unknown impact level %q", impact)
	}

	rec := storage.ProposalRecord{
		ProposalID:      uuid.New().String(),
		Category:        category,
		Impact:          impact,
		DiffDescription: description,
		State:           StateDetected,
		CreatedAt:       time.Now().UTC(),
	}
	for _, state := range []string{StateDetected, StateProposed, StateReviewed} {
		rec.State = state
		if err := m.store.SaveProposal(rec); err != nil {
			return nil, err
		}
	}

	if impact == ImpactLow {
		rec.State = StateAutoApproved
	} else {
		rec.State = StatePendingApproval
	}
	if err := m.store.SaveProposal(rec); err != nil {
		return nil, err
	}

	m.logger.Info("proposal created",
		zap.String("proposal_id", rec.ProposalID),
		zap.String("category", category),
		zap.String("impact", impact),
		zap.String("state", rec.State))
	return &rec, nil
}

// ResumeApproval resolves a suspended proposal. Works across restarts: the
// pending state lives in the store, not in memory.
func (m *Manager) ResumeApproval(proposalID string, approve bool) (*storage.ProposalRecord, error) {
	rec, err := m.store.GetProposal(proposalID)
	if err != nil {
		return nil, err
	}
	if rec.State != StatePendingApproval {
		return nil, fmt.Errorf("proposal %s is %s, not pending approval", proposalID, rec.State)
	}

	if approve {
		rec.State = StateApproved
	} else {
		rec.State = StateRejected
	}
	if err := m.store.SaveProposal(*rec); err != nil {
		return nil, err
	}
	m.logger.Info("approval resolved",
		zap.String("proposal_id", proposalID), zap.String("state", rec.State))
	return rec, nil
}

// Pending returns proposals suspended for approval.
func (m *Manager) Pending() ([]storage.ProposalRecord, error) {
	return m.store.ListProposals(StatePendingApproval)
}

// Apply runs an approved proposal through the apply window, queueing behind
// any proposal already in it.
func (m *Manager) Apply(ctx context.Context, proposalID string) (*storage.ProposalRecord, error) {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()
	return m.applyLocked(ctx, proposalID)
}

// TryApply is the non-blocking variant: an occupied window returns
// ConcurrentSwapError instead of queueing.
func (m *Manager) TryApply(ctx context.Context, proposalID string) (*storage.ProposalRecord, error) {
	if !m.applyMu.TryLock() {
		m.activeMu.Lock()
		active := m.active
		m.activeMu.Unlock()
		return nil, &ConcurrentSwapError{ActiveProposal: active}
	}
	defer m.applyMu.Unlock()
	return m.applyLocked(ctx, proposalID)
}

func (m *Manager) applyLocked(ctx context.Context, proposalID string) (*storage.ProposalRecord, error) {
	rec, err := m.store.GetProposal(proposalID)
	if err != nil {
		return nil, err
	}
	if rec.State != StateAutoApproved && rec.State != StateApproved {
		return nil, fmt.Errorf("proposal %s is %s, not approved for apply", proposalID, rec.State)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.setActive(proposalID)
	defer m.setActive("")

	examples, err := m.corpus.TrainingSet()
	if err != nil {
		return nil, err
	}

	snap, bench, err := m.trainer.TrainCandidate(examples, m.reg.Len())
	if err != nil {
		// Divergent candidates are discarded without touching the anchor.
		rec.State = StateRejected
		if saveErr := m.store.SaveProposal(*rec); saveErr != nil {
			m.logger.Warn("failed to persist rejection", zap.Error(saveErr))
		}
		return rec, err
	}

	anchor, err := m.store.GetLiveSnapshot()
	if err != nil {
		return nil, err
	}

	rec.CandidateSnapshot = snap.VersionID
	if anchor != nil {
		rec.AnchorSnapshot = anchor.VersionID
	}

	if anchor != nil && anchor.VersionID == snap.VersionID {
		// Content-derived version ids: an unchanged corpus re-trains to the
		// snapshot that is already live. Saving the candidate demoted the
		// row to retained, so restore its live state.
		if err := m.store.PromoteSnapshot(snap.VersionID); err != nil {
			return nil, err
		}
		rec.State = StateCommitted
		if err := m.store.SaveProposal(*rec); err != nil {
			return nil, err
		}
		m.logger.Info("corpus unchanged, candidate is already live",
			zap.String("proposal_id", proposalID), zap.String("snapshot", snap.VersionID))
		return rec, nil
	}

	rec.State = StateApplied
	if err := m.store.SaveProposal(*rec); err != nil {
		return nil, err
	}

	anchorBench, err := m.rebenchmarkAnchor(anchor, examples)
	if err != nil {
		return nil, err
	}

	rec.State = StateValidating
	if err := m.store.SaveProposal(*rec); err != nil {
		return nil, err
	}

	if !promotes(bench, anchorBench) {
		rec.State = StateRolledBack
		if err := m.store.SetSnapshotState(snap.VersionID, storage.SnapshotFailed); err != nil {
			m.logger.Warn("failed to mark candidate failed", zap.Error(err))
		}
		if err := m.store.SaveProposal(*rec); err != nil {
			return nil, err
		}
		m.logger.Info("candidate did not beat anchor, keeping live snapshot",
			zap.String("proposal_id", proposalID),
			zap.Float64("candidate_accuracy", bench.Accuracy),
			zap.Float64("anchor_accuracy", anchorAccuracy(anchorBench)))
		return rec, nil
	}

	if err := m.store.PromoteSnapshot(snap.VersionID); err != nil {
		return nil, err
	}
	m.live.Swap(snap)

	// Post-swap validation: the persisted blob must round-trip cleanly, or
	// the anchor comes back.
	if _, err := trainer.LoadSnapshot(m.store, snap.VersionID); err != nil {
		m.logger.Error("post-apply validation failed, rolling back", zap.Error(err))
		if _, rbErr := m.rollbackLocked(rec); rbErr != nil {
			return nil, fmt.Errorf("rollback after failed validation: %w", rbErr)
		}
		return rec, err
	}

	rec.State = StateCommitted
	if err := m.store.SaveProposal(*rec); err != nil {
		return nil, err
	}

	m.logger.Info("proposal committed",
		zap.String("proposal_id", proposalID),
		zap.String("snapshot", snap.VersionID),
		zap.Float64("accuracy", bench.Accuracy))
	return rec, nil
}

// Rollback re-promotes the proposal's anchor snapshot and marks the
// candidate failed. Valid from the applied, validating or committed states.
func (m *Manager) Rollback(proposalID string) (*storage.ProposalRecord, error) {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	rec, err := m.store.GetProposal(proposalID)
	if err != nil {
		return nil, err
	}
	switch rec.State {
	case StateApplied, StateValidating, StateCommitted:
	default:
		return nil, fmt.Errorf("proposal %s is %s, nothing to roll back", proposalID, rec.State)
	}
	return m.rollbackLocked(rec)
}

func (m *Manager) rollbackLocked(rec *storage.ProposalRecord) (*storage.ProposalRecord, error) {
	if rec.AnchorSnapshot == "" {
		return nil, fmt.Errorf("proposal %s has no anchor snapshot to restore", rec.ProposalID)
	}

	anchor, err := trainer.LoadSnapshot(m.store, rec.AnchorSnapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to load anchor snapshot: %w", err)
	}

	if err := m.store.PromoteSnapshot(rec.AnchorSnapshot); err != nil {
		return nil, err
	}
	m.live.Swap(anchor)

	if rec.CandidateSnapshot != "" {
		if err := m.store.SetSnapshotState(rec.CandidateSnapshot, storage.SnapshotFailed); err != nil {
			m.logger.Warn("failed to mark candidate failed", zap.Error(err))
		}
	}

	rec.State = StateRolledBack
	if err := m.store.SaveProposal(*rec); err != nil {
		return nil, err
	}

	m.logger.Info("rolled back to anchor",
		zap.String("proposal_id", rec.ProposalID),
		zap.String("anchor", rec.AnchorSnapshot))
	return rec, nil
}

// rebenchmarkAnchor scores the anchor snapshot on the same held-out slice
// the candidate was just benchmarked on, so the comparison measures both
// models on identical data rather than pitting a fresh benchmark against a
// historical one taken over an older corpus. The fresh measurement is
// appended as a new BenchmarkRecord; the anchor's original record is never
// mutated.
func (m *Manager) rebenchmarkAnchor(anchor *storage.SnapshotRecord, examples []storage.ExampleRecord) (*storage.BenchmarkRecord, error) {
	if anchor == nil {
		return nil, nil
	}
	snap, err := trainer.LoadSnapshot(m.store, anchor.VersionID)
	if err != nil {
		// An unreadable anchor cannot defend its slot.
		m.logger.Warn("anchor snapshot unreadable, candidate promotes unopposed",
			zap.String("anchor", anchor.VersionID), zap.Error(err))
		return nil, nil
	}

	// Same seeded split the trainer used for the candidate.
	train, heldOut := trainer.Split(examples, m.trainer.HeldOutFraction, m.trainer.Seed)
	if len(heldOut) == 0 {
		heldOut = train
	}

	bench, err := trainer.Benchmark(snap, heldOut, m.reg.Len())
	if err != nil {
		return nil, err
	}
	if err := m.store.AppendBenchmark(bench); err != nil {
		return nil, err
	}
	return &bench, nil
}

// promotes decides whether a candidate benchmark beats the anchor's:
// strictly higher accuracy, or equal accuracy with lower p50 latency. A
// missing anchor benchmark always promotes.
func promotes(candidate, anchor *storage.BenchmarkRecord) bool {
	if anchor == nil {
		return true
	}
	if candidate.Accuracy > anchor.Accuracy {
		return true
	}
	return candidate.Accuracy == anchor.Accuracy && candidate.LatencyP50 < anchor.LatencyP50
}

func anchorAccuracy(anchor *storage.BenchmarkRecord) float64 {
	if anchor == nil {
		return 0
	}
	return anchor.Accuracy
}

func (m *Manager) setActive(proposalID string) {
	m.activeMu.Lock()
	m.active = proposalID
	m.activeMu.Unlock()
}
