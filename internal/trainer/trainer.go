/*
Package trainer fits classifier snapshots from the training corpus and
benchmarks them against a held-out slice.

Training is deterministic: given the same corpus and seed, Fit produces a
byte-identical snapshot. The benchmark harness measures accuracy and latency
percentiles over the held-out examples and appends every run to both the
database and an append-only JSONL audit log, so the accuracy trajectory of
the system can be reconstructed at any point.
*/
package trainer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/khanglvm/tool-router/internal/classifier"
	"github.com/khanglvm/tool-router/internal/storage"
)

// TrainingDivergenceError reports a candidate snapshot whose held-out
// accuracy fell below the absolute floor. Divergent snapshots are discarded
// without being benchmarked against the live anchor.
type TrainingDivergenceError struct {
	Accuracy float64
	Floor    float64
}

func (e *TrainingDivergenceError) Error() string {
	return fmt.Sprintf("training diverged: held-out accuracy %.3f below floor %.3f", e.Accuracy, e.Floor)
}

// Fit trains a centroid classifier over the examples. The class list and
// vocabulary are sorted before weight construction and the version id is
// derived from the weight bytes, so identical inputs produce identical
// snapshots regardless of map iteration order.
func Fit(examples []storage.ExampleRecord, seed int64) (*classifier.Snapshot, error) {
	if len(examples) == 0 {
		return nil, fmt.Errorf("cannot fit on an empty corpus")
	}

	byClass := make(map[string][][]string)
	var docs [][]string
	for _, ex := range examples {
		tokens := classifier.Tokenize(classifier.Normalize(ex.Query))
		if len(tokens) == 0 {
			continue
		}
		byClass[ex.ToolName] = append(byClass[ex.ToolName], tokens)
		docs = append(docs, tokens)
	}
	if len(byClass) == 0 {
		return nil, fmt.Errorf("corpus contains no tokenizable examples")
	}

	vocab, idf := classifier.BuildVocabulary(docs)

	classes := make([]string, 0, len(byClass))
	for class := range byClass {
		classes = append(classes, class)
	}
	sort.Strings(classes)

	weights := make([][]float64, len(classes))
	for ci, class := range classes {
		centroid := make([]float64, len(vocab))
		for _, tokens := range byClass[class] {
			for idx, w := range classifier.Vectorize(tokens, vocab, idf) {
				centroid[idx] += w
			}
		}
		var norm float64
		for _, w := range centroid {
			norm += w * w
		}
		if norm > 0 {
			inv := 1 / math.Sqrt(norm)
			for i := range centroid {
				centroid[i] *= inv
			}
		}
		weights[ci] = centroid
	}

	snap := &classifier.Snapshot{
		Vocabulary: vocab,
		IDF:        idf,
		Classes:    classes,
		Weights:    weights,
	}
	snap.VersionID = versionID(snap, seed)
	snap.CreatedAt = time.Now().UTC()

	if err := snap.Verify(); err != nil {
		return nil, err
	}
	return snap, nil
}

// Split partitions examples into a training and a held-out slice using a
// seeded shuffle. The input slice is not modified. A fraction outside (0, 1)
// or a corpus too small to hold anything out yields an empty held-out slice.
func Split(examples []storage.ExampleRecord, fraction float64, seed int64) (train, heldOut []storage.ExampleRecord) {
	shuffled := make([]storage.ExampleRecord, len(examples))
	copy(shuffled, examples)

	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	n := 0
	if fraction > 0 && fraction < 1 {
		n = int(float64(len(shuffled)) * fraction)
	}
	if n >= len(shuffled) {
		n = len(shuffled) - 1
	}
	if n < 0 {
		n = 0
	}
	return shuffled[n:], shuffled[:n]
}

// versionID derives a stable id from the snapshot's weight content and the
// training seed.
func versionID(snap *classifier.Snapshot, seed int64) string {
	h := sha256.New()
	fmt.Fprintf(h, "seed=%d;classes=%v;", seed, snap.Classes)
	for _, row := range snap.Weights {
		for _, w := range row {
			fmt.Fprintf(h, "%.9f,", w)
		}
		h.Write([]byte{';'})
	}
	for _, v := range snap.IDF {
		fmt.Fprintf(h, "%.9f,", v)
	}
	return "snap-" + hex.EncodeToString(h.Sum(nil))[:16]
}
