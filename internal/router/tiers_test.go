package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/khanglvm/tool-router/internal/classifier"
	"github.com/khanglvm/tool-router/internal/memory"
	"github.com/khanglvm/tool-router/internal/registry"
	"github.com/khanglvm/tool-router/internal/storage"
	"github.com/khanglvm/tool-router/internal/trainer"
)

func trainedLive(t *testing.T) *classifier.Live {
	t.Helper()
	examples := []storage.ExampleRecord{
		{Query: "deploy billing to production", ToolName: "deploy_service"},
		{Query: "deploy checkout to production", ToolName: "deploy_service"},
		{Query: "deploy auth to staging", ToolName: "deploy_service"},
		{Query: "show cluster status", ToolName: "cluster_status"},
		{Query: "is the cluster healthy", ToolName: "cluster_status"},
		{Query: "check cluster node health", ToolName: "cluster_status"},
	}
	snap, err := trainer.Fit(examples, 1)
	require.NoError(t, err)
	return classifier.NewLive(snap)
}

func TestPatternTierClassifies(t *testing.T) {
	reg := testRegistry(t)
	tier := NewPatternTier(trainedLive(t), reg, testStore(t))

	cand, err := tier.Attempt(context.Background(), "deploy billing to production")
	require.NoError(t, err)
	require.NotNil(t, cand)
	require.Equal(t, "deploy_service", cand.ToolName)
	require.GreaterOrEqual(t, cand.Confidence, 0.70, "exact utterance match should clear the accept threshold")
	require.Equal(t, "billing", cand.Arguments["service"])
}

func TestPatternTierSkipsDisabledTools(t *testing.T) {
	reg := testRegistry(t)
	require.NoError(t, reg.SetEnabled("deploy_service", false))

	tier := NewPatternTier(trainedLive(t), reg, testStore(t))
	cand, err := tier.Attempt(context.Background(), "deploy billing to production")
	require.NoError(t, err)
	if cand != nil {
		require.NotEqual(t, "deploy_service", cand.ToolName)
	}
}

func TestPatternTierNilSnapshot(t *testing.T) {
	reg := testRegistry(t)
	tier := NewPatternTier(classifier.NewLive(nil), reg, testStore(t))

	cand, err := tier.Attempt(context.Background(), "deploy billing to production")
	require.NoError(t, err)
	require.Nil(t, cand, "no snapshot means the pattern tier has no opinion")
}

func TestPatternTierRecencyTieBreak(t *testing.T) {
	// Two tools trained on the same utterances produce tied confidences.
	examples := []storage.ExampleRecord{
		{Query: "sync the records", ToolName: "sync_a"},
		{Query: "sync the records", ToolName: "sync_b"},
	}
	snap, err := trainer.Fit(examples, 1)
	require.NoError(t, err)

	reg := registry.NewRegistry()
	require.NoError(t, reg.Register(registry.ToolDescriptor{Name: "sync_a", Enabled: true}))
	require.NoError(t, reg.Register(registry.ToolDescriptor{Name: "sync_b", Enabled: true}))

	store := testStore(t)
	tier := NewPatternTier(classifier.NewLive(snap), reg, store)

	// Without history, registration order decides.
	cand, err := tier.Attempt(context.Background(), "sync the records")
	require.NoError(t, err)
	require.NotNil(t, cand)
	require.Equal(t, "sync_a", cand.ToolName)

	// A recorded success for sync_b flips the tie.
	query := "sync the records"
	dec := storage.DecisionRecord{
		ID: "d-tie", Query: query, QueryHash: storage.HashQuery(query),
		ToolName: "sync_b", Confidence: 0.9, Source: SourcePattern,
	}
	require.NoError(t, store.RecordDecision(dec))
	require.NoError(t, store.MarkOutcome("d-tie", true))

	cand, err = tier.Attempt(context.Background(), query)
	require.NoError(t, err)
	require.NotNil(t, cand)
	require.Equal(t, "sync_b", cand.ToolName)
}

func TestMidTierFusesKeywordAndSemantic(t *testing.T) {
	reg := testRegistry(t)
	embedder := memory.NewHashingEmbedder(64)
	index, err := memory.NewStore(memory.Options{Dims: 64, M: 8, EfSearch: 32, EfConstruction: 64, Seed: 7})
	require.NoError(t, err)

	mid, err := NewMidTier(reg, index, embedder, zap.NewNop())
	require.NoError(t, err)

	cand, err := mid.Attempt(context.Background(), "show cluster status")
	require.NoError(t, err)
	require.NotNil(t, cand)
	require.Equal(t, "cluster_status", cand.ToolName)
	require.Greater(t, cand.Confidence, 0.6, "near-exact utterance should clear the mid accept threshold")
}

func TestMidTierReindexDropsRemovedTools(t *testing.T) {
	reg := testRegistry(t)
	embedder := memory.NewHashingEmbedder(64)
	index, err := memory.NewStore(memory.Options{Dims: 64, M: 8, EfSearch: 32, EfConstruction: 64, Seed: 7})
	require.NoError(t, err)

	mid, err := NewMidTier(reg, index, embedder, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, reg.Deregister("cluster_status"))
	require.NoError(t, mid.Reindex())

	cand, err := mid.Attempt(context.Background(), "show cluster status")
	require.NoError(t, err)
	if cand != nil {
		require.NotEqual(t, "cluster_status", cand.ToolName)
	}
}
