package trainer

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/khanglvm/tool-router/internal/classifier"
	"github.com/khanglvm/tool-router/internal/storage"
)

func exampleSet() []storage.ExampleRecord {
	specs := []struct {
		tool    string
		queries []string
	}{
		{"search_web", []string{
			"find information about gold prices",
			"find information about stock markets",
			"find information about the weather in tokyo",
			"find information about flight delays",
			"search for recent news on elections",
			"search for articles about solar power",
		}},
		{"deploy_service", []string{
			"deploy billing to production",
			"deploy checkout to production",
			"deploy auth to staging",
			"please deploy billing to production",
			"roll out the new checkout build",
			"ship the auth service update",
		}},
		{"cluster_status", []string{
			"show cluster status",
			"is the cluster healthy",
			"check on the nodes",
			"show me the cluster dashboard",
			"how is the cluster doing",
			"report node health",
		}},
	}

	var out []storage.ExampleRecord
	id := int64(1)
	for _, s := range specs {
		for _, q := range s.queries {
			out = append(out, storage.ExampleRecord{
				ID: id, Query: q, ToolName: s.tool,
				Origin: storage.OriginSynthetic, Timestamp: time.Now().UTC(),
			})
			id++
		}
	}
	return out
}

func TestFitDeterministic(t *testing.T) {
	examples := exampleSet()

	a, err := Fit(examples, 42)
	require.NoError(t, err)
	b, err := Fit(examples, 42)
	require.NoError(t, err)

	require.Equal(t, a.VersionID, b.VersionID, "same corpus and seed must produce the same snapshot id")
	require.Equal(t, a.Classes, b.Classes)
	require.Equal(t, a.Vocabulary, b.Vocabulary)
	require.Equal(t, a.Weights, b.Weights)
}

func TestFitEmptyCorpus(t *testing.T) {
	_, err := Fit(nil, 42)
	require.Error(t, err)
}

func TestFitSnapshotVerifies(t *testing.T) {
	snap, err := Fit(exampleSet(), 42)
	require.NoError(t, err)
	require.NoError(t, snap.Verify())
	require.Len(t, snap.Classes, 3)
}

func TestSplitDeterministic(t *testing.T) {
	examples := exampleSet()

	train1, held1 := Split(examples, 0.2, 7)
	train2, held2 := Split(examples, 0.2, 7)
	require.Equal(t, train1, train2)
	require.Equal(t, held1, held2)

	require.Len(t, held1, len(examples)*2/10)
	require.Len(t, train1, len(examples)-len(held1))

	// Different seed, different partition.
	_, held3 := Split(examples, 0.2, 8)
	require.NotEqual(t, held1, held3)
}

func TestSplitDoesNotMutateInput(t *testing.T) {
	examples := exampleSet()
	first := examples[0].ID
	Split(examples, 0.5, 3)
	require.Equal(t, first, examples[0].ID)
}

func TestBenchmarkAccuracy(t *testing.T) {
	examples := exampleSet()
	snap, err := Fit(examples, 42)
	require.NoError(t, err)

	// Benchmarking on the training data itself should score near-perfect.
	rec, err := Benchmark(snap, examples, 3)
	require.NoError(t, err)
	require.GreaterOrEqual(t, rec.Accuracy, 0.8)
	require.Equal(t, snap.VersionID, rec.SnapshotID)
	require.Equal(t, len(examples), rec.ExampleCount)
	require.GreaterOrEqual(t, rec.LatencyP99, rec.LatencyP50)
}

func TestBenchmarkEmptyHeldOut(t *testing.T) {
	snap, err := Fit(exampleSet(), 42)
	require.NoError(t, err)
	_, err = Benchmark(snap, nil, 3)
	require.Error(t, err)
}

func TestTrainCandidatePersists(t *testing.T) {
	store := storage.NewStorageAt(filepath.Join(t.TempDir(), "trainer.db"))
	require.NoError(t, store.Init())
	defer store.Close()

	logPath := filepath.Join(t.TempDir(), "benchmarks.jsonl")
	tr := New(store, 42, 0.2, 0.3, logPath, zap.NewNop())

	snap, bench, err := tr.TrainCandidate(exampleSet(), 3)
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.NotNil(t, bench)

	// Snapshot persisted in the retained state with a matching checksum.
	rec, err := store.GetSnapshot(snap.VersionID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, storage.SnapshotRetained, rec.State)
	require.Equal(t, storage.ChecksumBlob(rec.Weights), rec.Checksum)

	// Benchmark persisted and referenced.
	benches, err := store.ListBenchmarks(snap.VersionID)
	require.NoError(t, err)
	require.Len(t, benches, 1)
	require.Equal(t, bench.ID, rec.BenchmarkRef)

	// Audit log written.
	require.FileExists(t, logPath)

	// Loading round-trips through checksum verification.
	loaded, err := LoadSnapshot(store, snap.VersionID)
	require.NoError(t, err)
	require.Equal(t, snap.VersionID, loaded.VersionID)
}

func TestTrainCandidateDivergence(t *testing.T) {
	store := storage.NewStorageAt(filepath.Join(t.TempDir(), "trainer.db"))
	require.NoError(t, store.Init())
	defer store.Close()

	// An impossible floor forces divergence.
	tr := New(store, 42, 0.2, 1.1, "", zap.NewNop())
	_, _, err := tr.TrainCandidate(exampleSet(), 3)

	var div *TrainingDivergenceError
	require.ErrorAs(t, err, &div)
	require.Less(t, div.Accuracy, div.Floor)

	// Divergent candidates leave nothing behind.
	live, err := store.GetLiveSnapshot()
	require.NoError(t, err)
	require.Nil(t, live)
	benches, err := store.ListBenchmarks("")
	require.NoError(t, err)
	require.Empty(t, benches)
}

func TestLoadSnapshotDetectsCorruption(t *testing.T) {
	store := storage.NewStorageAt(filepath.Join(t.TempDir(), "trainer.db"))
	require.NoError(t, store.Init())
	defer store.Close()

	snap, err := Fit(exampleSet(), 42)
	require.NoError(t, err)
	blob, err := snap.Marshal()
	require.NoError(t, err)

	// Persist with a checksum that does not match the blob.
	rec := storage.SnapshotRecord{
		VersionID: snap.VersionID,
		Weights:   blob,
		Checksum:  storage.ChecksumBlob([]byte("tampered")),
		State:     storage.SnapshotRetained,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.SaveSnapshot(rec))

	_, err = LoadSnapshot(store, snap.VersionID)
	var corrupt *classifier.SnapshotCorruptionError
	require.True(t, errors.As(err, &corrupt))
}
