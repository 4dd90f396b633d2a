package trainer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/khanglvm/tool-router/internal/classifier"
	"github.com/khanglvm/tool-router/internal/storage"
)

// Benchmark evaluates a snapshot over held-out examples, sharding the work
// across CPUs. A prediction counts as correct when the top-ranked class
// matches the example's label. Latency percentiles cover the classify call
// only.
func Benchmark(snap *classifier.Snapshot, heldOut []storage.ExampleRecord, toolCount int) (storage.BenchmarkRecord, error) {
	rec := storage.BenchmarkRecord{
		ID:           uuid.New().String(),
		SnapshotID:   snap.VersionID,
		ToolCount:    toolCount,
		ExampleCount: len(heldOut),
		Timestamp:    time.Now().UTC(),
	}
	if len(heldOut) == 0 {
		return rec, fmt.Errorf("no held-out examples to benchmark")
	}

	workers := runtime.NumCPU()
	if workers > len(heldOut) {
		workers = len(heldOut)
	}

	var (
		mu        sync.Mutex
		correct   int
		latencies []float64
	)

	var g errgroup.Group
	chunk := (len(heldOut) + workers - 1) / workers
	for start := 0; start < len(heldOut); start += chunk {
		end := start + chunk
		if end > len(heldOut) {
			end = len(heldOut)
		}
		shard := heldOut[start:end]

		g.Go(func() error {
			localCorrect := 0
			local := make([]float64, 0, len(shard))
			for _, ex := range shard {
				t0 := time.Now()
				preds := classifier.Classify(snap, classifier.Normalize(ex.Query))
				local = append(local, float64(time.Since(t0).Microseconds())/1000)

				if len(preds) > 0 && preds[0].ToolName == ex.ToolName {
					localCorrect++
				}
			}
			mu.Lock()
			correct += localCorrect
			latencies = append(latencies, local...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return rec, err
	}

	sort.Float64s(latencies)
	rec.Accuracy = float64(correct) / float64(len(heldOut))
	rec.LatencyP50 = percentile(latencies, 0.50)
	rec.LatencyP99 = percentile(latencies, 0.99)
	return rec, nil
}

// percentile returns the p-th percentile of sorted values in milliseconds.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

// AppendBenchmarkLog appends one benchmark record to the JSONL audit log.
// The log is append-only; failures here degrade gracefully since the record
// is also persisted in the database.
func AppendBenchmarkLog(path string, rec storage.BenchmarkRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create benchmark log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open benchmark log: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal benchmark record: %w", err)
	}
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("failed to append benchmark record: %w", err)
	}
	return nil
}

// Trainer orchestrates fit, benchmark and persistence for candidate
// snapshots.
type Trainer struct {
	Seed            int64
	HeldOutFraction float64
	MinAccuracy     float64
	BenchmarkLog    string

	store  storage.Storage
	logger *zap.Logger
}

// New creates a trainer bound to the given store.
func New(store storage.Storage, seed int64, heldOutFraction, minAccuracy float64, benchmarkLog string, logger *zap.Logger) *Trainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trainer{
		Seed:            seed,
		HeldOutFraction: heldOutFraction,
		MinAccuracy:     minAccuracy,
		BenchmarkLog:    benchmarkLog,
		store:           store,
		logger:          logger,
	}
}

// TrainCandidate fits a candidate snapshot on the corpus, benchmarks it on
// the held-out slice, and persists snapshot plus benchmark. A candidate
// below the accuracy floor is discarded and TrainingDivergenceError is
// returned; nothing is persisted for it.
//
// Incremental by design: the snapshot's version id is content-derived, so
// re-training an unchanged corpus yields the already-known snapshot and the
// caller can skip promotion.
func (t *Trainer) TrainCandidate(examples []storage.ExampleRecord, toolCount int) (*classifier.Snapshot, *storage.BenchmarkRecord, error) {
	train, heldOut := Split(examples, t.HeldOutFraction, t.Seed)
	if len(train) == 0 {
		return nil, nil, fmt.Errorf("training set is empty after held-out split")
	}
	if len(heldOut) == 0 {
		// Corpus too small to hold anything out: benchmark on the training
		// slice so the accuracy floor still applies.
		heldOut = train
	}

	snap, err := Fit(train, t.Seed)
	if err != nil {
		return nil, nil, err
	}

	bench, err := Benchmark(snap, heldOut, toolCount)
	if err != nil {
		return nil, nil, err
	}

	if bench.Accuracy < t.MinAccuracy {
		t.logger.Warn("discarding divergent candidate",
			zap.String("snapshot", snap.VersionID),
			zap.Float64("accuracy", bench.Accuracy),
			zap.Float64("floor", t.MinAccuracy))
		return nil, nil, &TrainingDivergenceError{Accuracy: bench.Accuracy, Floor: t.MinAccuracy}
	}

	blob, err := snap.Marshal()
	if err != nil {
		return nil, nil, err
	}
	rec := storage.SnapshotRecord{
		VersionID:    snap.VersionID,
		Weights:      blob,
		Checksum:     storage.ChecksumBlob(blob),
		State:        storage.SnapshotRetained,
		BenchmarkRef: bench.ID,
		CreatedAt:    snap.CreatedAt,
	}
	if err := t.store.SaveSnapshot(rec); err != nil {
		return nil, nil, err
	}
	if err := t.store.AppendBenchmark(bench); err != nil {
		return nil, nil, err
	}
	if t.BenchmarkLog != "" {
		if err := AppendBenchmarkLog(t.BenchmarkLog, bench); err != nil {
			t.logger.Warn("failed to append benchmark audit log", zap.Error(err))
		}
	}

	t.logger.Info("trained candidate snapshot",
		zap.String("snapshot", snap.VersionID),
		zap.Float64("accuracy", bench.Accuracy),
		zap.Float64("p50_ms", bench.LatencyP50),
		zap.Int("train", len(train)),
		zap.Int("held_out", len(heldOut)))
	return snap, &bench, nil
}

// LoadSnapshot loads and verifies a persisted snapshot, checking the blob
// checksum before unmarshalling.
func LoadSnapshot(store storage.Storage, versionID string) (*classifier.Snapshot, error) {
	rec, err := store.GetSnapshot(versionID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("snapshot %q not found", versionID)
	}
	if storage.ChecksumBlob(rec.Weights) != rec.Checksum {
		return nil, &classifier.SnapshotCorruptionError{VersionID: versionID, Reason: "weight blob checksum mismatch"}
	}
	snap, err := classifier.UnmarshalSnapshot(rec.Weights)
	if err != nil {
		return nil, err
	}
	if err := snap.Verify(); err != nil {
		return nil, err
	}
	return snap, nil
}
