package lifecycle

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/khanglvm/tool-router/internal/classifier"
	"github.com/khanglvm/tool-router/internal/corpus"
	"github.com/khanglvm/tool-router/internal/memory"
	"github.com/khanglvm/tool-router/internal/registry"
	"github.com/khanglvm/tool-router/internal/storage"
	"github.com/khanglvm/tool-router/internal/trainer"
)

type fixture struct {
	manager *Manager
	store   *storage.SQLiteStorage
	gen     *corpus.Generator
	reg     *registry.Registry
	live    *classifier.Live
}

func newFixture(t *testing.T, minAccuracy float64) *fixture {
	t.Helper()

	store := storage.NewStorageAt(filepath.Join(t.TempDir(), "lifecycle.db"))
	require.NoError(t, store.Init())
	t.Cleanup(func() { store.Close() })

	reg := registry.NewRegistry()
	require.NoError(t, reg.Register(registry.ToolDescriptor{
		Name: "search_web",
		ArgumentSchema: map[string]registry.ArgumentSpec{
			"query": {Type: "string", Required: true,
				Examples: []string{"gold prices", "stock markets", "weather in tokyo", "flight delays"}},
		},
		ExampleUtterances: []string{
			"find information about {query}",
			"search the web for {query}",
		},
		Enabled: true,
	}))
	require.NoError(t, reg.Register(registry.ToolDescriptor{
		Name: "deploy_service",
		ArgumentSchema: map[string]registry.ArgumentSpec{
			"service": {Type: "string", Required: true,
				Examples: []string{"billing", "checkout", "auth", "payments"}},
		},
		ExampleUtterances: []string{
			"deploy {service} to production",
			"roll out the {service} service",
		},
		Enabled: true,
	}))

	embedder := memory.NewHashingEmbedder(64)
	index, err := memory.NewStore(memory.Options{Dims: 64, M: 8, EfSearch: 32, EfConstruction: 64, Seed: 7})
	require.NoError(t, err)

	gen := corpus.NewGenerator(corpus.DefaultOptions(), reg, store, index, embedder, zap.NewNop())
	for _, desc := range reg.List() {
		_, err := gen.GenerateForTool(desc)
		require.NoError(t, err)
	}

	tr := trainer.New(store, 42, 0.2, minAccuracy, "", zap.NewNop())
	live := classifier.NewLive(nil)
	manager := NewManager(store, tr, gen, live, reg, zap.NewNop())

	return &fixture{manager: manager, store: store, gen: gen, reg: reg, live: live}
}

func TestProposeLowImpactAutoApproves(t *testing.T) {
	f := newFixture(t, 0.3)

	rec, err := f.manager.Propose("retrain", ImpactLow, "weekly retrain from harvested feedback")
	require.NoError(t, err)
	require.Equal(t, StateAutoApproved, rec.State)

	stored, err := f.store.GetProposal(rec.ProposalID)
	require.NoError(t, err)
	require.Equal(t, StateAutoApproved, stored.State)
}

func TestProposeHighImpactSuspends(t *testing.T) {
	f := newFixture(t, 0.3)

	rec, err := f.manager.Propose("threshold_change", ImpactHigh, "raise pattern accept to 0.75")
	require.NoError(t, err)
	require.Equal(t, StatePendingApproval, rec.State)

	pending, err := f.manager.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, rec.ProposalID, pending[0].ProposalID)

	// Approval resumes from the persisted state.
	resolved, err := f.manager.ResumeApproval(rec.ProposalID, true)
	require.NoError(t, err)
	require.Equal(t, StateApproved, resolved.State)

	// A resolved proposal cannot be resolved again.
	_, err = f.manager.ResumeApproval(rec.ProposalID, false)
	require.Error(t, err)
}

func TestProposeRejection(t *testing.T) {
	f := newFixture(t, 0.3)

	rec, err := f.manager.Propose("new_tool_coverage", ImpactMedium, "cover newly registered tools")
	require.NoError(t, err)

	resolved, err := f.manager.ResumeApproval(rec.ProposalID, false)
	require.NoError(t, err)
	require.Equal(t, StateRejected, resolved.State)

	_, err = f.manager.Apply(context.Background(), rec.ProposalID)
	require.Error(t, err, "rejected proposals must not apply")
}

func TestProposeUnknownImpact(t *testing.T) {
	f := newFixture(t, 0.3)
	_, err := f.manager.Propose("retrain", "catastrophic", "bad impact level")
	require.Error(t, err)
}

func TestApplyPromotesFirstSnapshot(t *testing.T) {
	f := newFixture(t, 0.3)

	rec, err := f.manager.Propose("retrain", ImpactLow, "initial training")
	require.NoError(t, err)

	applied, err := f.manager.Apply(context.Background(), rec.ProposalID)
	require.NoError(t, err)
	require.Equal(t, StateCommitted, applied.State)
	require.NotEmpty(t, applied.CandidateSnapshot)
	require.Empty(t, applied.AnchorSnapshot, "first training has no anchor")

	live, err := f.store.GetLiveSnapshot()
	require.NoError(t, err)
	require.NotNil(t, live)
	require.Equal(t, applied.CandidateSnapshot, live.VersionID)

	snap := f.live.Current()
	require.NotNil(t, snap, "live handle must carry the promoted snapshot")
	require.Equal(t, applied.CandidateSnapshot, snap.VersionID)
}

func TestApplyUnapprovedRefused(t *testing.T) {
	f := newFixture(t, 0.3)

	rec, err := f.manager.Propose("retrain", ImpactCritical, "sweeping change")
	require.NoError(t, err)

	_, err = f.manager.Apply(context.Background(), rec.ProposalID)
	require.Error(t, err, "pending proposals must not apply")
}

func TestApplyDivergenceRejectsProposal(t *testing.T) {
	// An impossible accuracy floor makes every candidate divergent.
	f := newFixture(t, 1.1)

	rec, err := f.manager.Propose("retrain", ImpactLow, "doomed training")
	require.NoError(t, err)

	_, err = f.manager.Apply(context.Background(), rec.ProposalID)
	var div *trainer.TrainingDivergenceError
	require.ErrorAs(t, err, &div)

	stored, err := f.store.GetProposal(rec.ProposalID)
	require.NoError(t, err)
	require.Equal(t, StateRejected, stored.State)

	// The divergent candidate never touched the snapshot table.
	live, err := f.store.GetLiveSnapshot()
	require.NoError(t, err)
	require.Nil(t, live)
}

func TestApplyUnchangedCorpusCommitsWithoutSwap(t *testing.T) {
	f := newFixture(t, 0.3)

	first, err := f.manager.Propose("retrain", ImpactLow, "initial training")
	require.NoError(t, err)
	applied, err := f.manager.Apply(context.Background(), first.ProposalID)
	require.NoError(t, err)

	second, err := f.manager.Propose("retrain", ImpactLow, "retrain on identical corpus")
	require.NoError(t, err)
	reapplied, err := f.manager.Apply(context.Background(), second.ProposalID)
	require.NoError(t, err)
	require.Equal(t, StateCommitted, reapplied.State)
	require.Equal(t, applied.CandidateSnapshot, reapplied.CandidateSnapshot)

	// Still exactly one live snapshot, the same one.
	live, err := f.store.GetLiveSnapshot()
	require.NoError(t, err)
	require.NotNil(t, live)
	require.Equal(t, applied.CandidateSnapshot, live.VersionID)
}

func TestTryApplyWhileWindowOccupied(t *testing.T) {
	f := newFixture(t, 0.3)

	rec, err := f.manager.Propose("retrain", ImpactLow, "queued behind active apply")
	require.NoError(t, err)

	f.manager.applyMu.Lock()
	f.manager.setActive("other-proposal")

	_, err = f.manager.TryApply(context.Background(), rec.ProposalID)
	var swap *ConcurrentSwapError
	require.ErrorAs(t, err, &swap)
	require.Equal(t, "other-proposal", swap.ActiveProposal)

	f.manager.setActive("")
	f.manager.applyMu.Unlock()

	// The window is free again; the queued proposal applies.
	applied, err := f.manager.Apply(context.Background(), rec.ProposalID)
	require.NoError(t, err)
	require.Equal(t, StateCommitted, applied.State)
}

// proposalStateRecorder captures every state persisted through SaveProposal
// so tests can assert the full progression, not just the final state.
type proposalStateRecorder struct {
	storage.Storage
	states []string
}

func (r *proposalStateRecorder) SaveProposal(rec storage.ProposalRecord) error {
	r.states = append(r.states, rec.State)
	return r.Storage.SaveProposal(rec)
}

func TestApplyRegressedCandidateRollsBack(t *testing.T) {
	// Floor low enough that the degraded candidate reaches validation
	// instead of being discarded as divergent.
	f := newFixture(t, 0.1)

	first, err := f.manager.Propose("retrain", ImpactLow, "initial training")
	require.NoError(t, err)
	applied, err := f.manager.Apply(context.Background(), first.ProposalID)
	require.NoError(t, err)
	require.Equal(t, StateCommitted, applied.State)
	anchorID := applied.CandidateSnapshot

	// Grow the corpus with one query shape carrying conflicting labels: a
	// small batch for a tool with no other examples, which the retrained
	// model memorizes outright, and a larger batch keeping the established
	// label, which it therefore loses. The candidate scores below the
	// anchor on the shared held-out slice.
	const contested = "restart billing production deployment"
	for i := 0; i < 40; i++ {
		_, _, err := f.store.InsertExample(storage.ExampleRecord{
			Query: contested, ToolName: "deploy_service",
			Origin: storage.OriginObserved, Tier: 1,
			DedupKey:  fmt.Sprintf("observed:restart-deploy-%d", i),
			Timestamp: time.Now().UTC(),
		})
		require.NoError(t, err)
	}
	for i := 0; i < 8; i++ {
		_, _, err := f.store.InsertExample(storage.ExampleRecord{
			Query: contested, ToolName: "restart_job",
			Origin: storage.OriginCorrected, Tier: 1,
			DedupKey:  fmt.Sprintf("corrected:restart-job-%d", i),
			Timestamp: time.Now().UTC(),
		})
		require.NoError(t, err)
	}

	second, err := f.manager.Propose("retrain", ImpactLow, "retrain on disputed labels")
	require.NoError(t, err)

	spy := &proposalStateRecorder{Storage: f.store}
	tr := trainer.New(spy, 42, 0.2, 0.1, "", zap.NewNop())
	mgr := NewManager(spy, tr, f.gen, f.live, f.reg, zap.NewNop())

	rolled, err := mgr.Apply(context.Background(), second.ProposalID)
	require.NoError(t, err)
	require.Equal(t, StateRolledBack, rolled.State)
	require.NotEqual(t, anchorID, rolled.CandidateSnapshot)

	// The anchor stayed live, in the store and in the handle.
	live, err := f.store.GetLiveSnapshot()
	require.NoError(t, err)
	require.NotNil(t, live)
	require.Equal(t, anchorID, live.VersionID)
	require.Equal(t, anchorID, f.live.Current().VersionID)

	// The losing candidate is retained as failed, with its benchmark.
	failed, err := f.store.GetSnapshot(rolled.CandidateSnapshot)
	require.NoError(t, err)
	require.Equal(t, storage.SnapshotFailed, failed.State)
	candBenches, err := f.store.ListBenchmarks(rolled.CandidateSnapshot)
	require.NoError(t, err)
	require.NotEmpty(t, candBenches)

	// Both models were scored on the identical held-out slice: the anchor
	// gets a fresh benchmark with the same example count, its original
	// record untouched.
	anchorBenches, err := f.store.ListBenchmarks(anchorID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(anchorBenches), 2)
	require.Equal(t, candBenches[0].ExampleCount, anchorBenches[0].ExampleCount)
	require.Greater(t, anchorBenches[0].Accuracy, candBenches[0].Accuracy)

	// The proposal walked the full progression before settling.
	require.Equal(t, []string{StateApplied, StateValidating, StateRolledBack}, spy.states)
}

func TestApplyNewToolCoverageCommits(t *testing.T) {
	f := newFixture(t, 0.3)

	first, err := f.manager.Propose("retrain", ImpactLow, "initial training")
	require.NoError(t, err)
	applied, err := f.manager.Apply(context.Background(), first.ProposalID)
	require.NoError(t, err)
	anchorID := applied.CandidateSnapshot

	// A tool the anchor has never seen. The candidate learns it, so it
	// beats the anchor on the current held-out slice even though it merely
	// matches the anchor's historical score on the old corpus.
	for i := 0; i < 30; i++ {
		_, _, err := f.store.InsertExample(storage.ExampleRecord{
			Query: "page oncall rotation incident", ToolName: "page_oncall",
			Origin: storage.OriginObserved, Tier: 0,
			DedupKey:  fmt.Sprintf("observed:page-%d", i),
			Timestamp: time.Now().UTC(),
		})
		require.NoError(t, err)
	}

	second, err := f.manager.Propose("new_tool_coverage", ImpactLow, "cover the paging tool")
	require.NoError(t, err)
	committed, err := f.manager.Apply(context.Background(), second.ProposalID)
	require.NoError(t, err)
	require.Equal(t, StateCommitted, committed.State)
	require.NotEqual(t, anchorID, committed.CandidateSnapshot)

	live, err := f.store.GetLiveSnapshot()
	require.NoError(t, err)
	require.NotNil(t, live)
	require.Equal(t, committed.CandidateSnapshot, live.VersionID)
}

func TestRollbackRestoresAnchor(t *testing.T) {
	f := newFixture(t, 0.3)

	// Commit an initial snapshot so there is an anchor to restore.
	first, err := f.manager.Propose("retrain", ImpactLow, "initial training")
	require.NoError(t, err)
	applied, err := f.manager.Apply(context.Background(), first.ProposalID)
	require.NoError(t, err)
	anchorID := applied.CandidateSnapshot

	// Fabricate a committed proposal whose candidate displaced the anchor.
	candidate, err := trainer.Fit([]storage.ExampleRecord{
		{Query: "restart the payments job", ToolName: "deploy_service"},
		{Query: "restart the billing job", ToolName: "deploy_service"},
		{Query: "look up recent deploy logs", ToolName: "search_web"},
		{Query: "look up failing deploy logs", ToolName: "search_web"},
	}, 42)
	require.NoError(t, err)
	blob, err := candidate.Marshal()
	require.NoError(t, err)
	require.NoError(t, f.store.SaveSnapshot(storage.SnapshotRecord{
		VersionID: candidate.VersionID,
		Weights:   blob,
		State:     storage.SnapshotRetained,
		CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, f.store.PromoteSnapshot(candidate.VersionID))
	f.live.Swap(candidate)

	bad := storage.ProposalRecord{
		ProposalID:        "p-regressed",
		Category:          "retrain",
		Impact:            ImpactLow,
		DiffDescription:   "candidate that regressed in production",
		State:             StateCommitted,
		CandidateSnapshot: candidate.VersionID,
		AnchorSnapshot:    anchorID,
		CreatedAt:         time.Now().UTC(),
	}
	require.NoError(t, f.store.SaveProposal(bad))

	rolled, err := f.manager.Rollback("p-regressed")
	require.NoError(t, err)
	require.Equal(t, StateRolledBack, rolled.State)

	// The anchor is live again, in the store and in the handle.
	live, err := f.store.GetLiveSnapshot()
	require.NoError(t, err)
	require.NotNil(t, live)
	require.Equal(t, anchorID, live.VersionID)
	require.Equal(t, anchorID, f.live.Current().VersionID)

	// The regressed candidate is retained as failed, not deleted.
	failed, err := f.store.GetSnapshot(candidate.VersionID)
	require.NoError(t, err)
	require.Equal(t, storage.SnapshotFailed, failed.State)
}

func TestRollbackRequiresAppliedState(t *testing.T) {
	f := newFixture(t, 0.3)

	rec, err := f.manager.Propose("retrain", ImpactLow, "never applied")
	require.NoError(t, err)

	_, err = f.manager.Rollback(rec.ProposalID)
	require.Error(t, err)
}

func TestPromotionRule(t *testing.T) {
	base := &storage.BenchmarkRecord{Accuracy: 0.9, LatencyP50: 2.0}

	tests := []struct {
		name      string
		candidate storage.BenchmarkRecord
		anchor    *storage.BenchmarkRecord
		want      bool
	}{
		{"no anchor always promotes", storage.BenchmarkRecord{Accuracy: 0.1}, nil, true},
		{"higher accuracy promotes", storage.BenchmarkRecord{Accuracy: 0.95, LatencyP50: 5.0}, base, true},
		{"lower accuracy never promotes", storage.BenchmarkRecord{Accuracy: 0.89, LatencyP50: 0.1}, base, false},
		{"equal accuracy lower p50 promotes", storage.BenchmarkRecord{Accuracy: 0.9, LatencyP50: 1.5}, base, true},
		{"equal accuracy equal p50 holds", storage.BenchmarkRecord{Accuracy: 0.9, LatencyP50: 2.0}, base, false},
		{"equal accuracy higher p50 holds", storage.BenchmarkRecord{Accuracy: 0.9, LatencyP50: 2.5}, base, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, promotes(&tt.candidate, tt.anchor))
		})
	}
}
