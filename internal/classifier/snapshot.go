package classifier

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// SnapshotCorruptionError reports a snapshot that failed its structural
// integrity check on load. The router must fail closed to the last
// known-good snapshot when this occurs.
type SnapshotCorruptionError struct {
	VersionID string
	Reason    string
}

func (e *SnapshotCorruptionError) Error() string {
	return fmt.Sprintf("snapshot %s is corrupt: %s", e.VersionID, e.Reason)
}

// Snapshot is an immutable, versioned instance of the trained model. It is
// never mutated after creation; retraining produces a new snapshot and the
// live handle swaps the whole value.
type Snapshot struct {
	// VersionID uniquely identifies the snapshot (UUID).
	VersionID string `json:"version_id"`

	// CreatedAt is when training finished.
	CreatedAt time.Time `json:"created_at"`

	// Vocabulary maps features to weight indices.
	Vocabulary map[string]int `json:"vocabulary"`

	// IDF holds the inverse document frequency per vocabulary index.
	IDF []float64 `json:"idf"`

	// Classes lists tool names in a fixed, sorted order.
	Classes []string `json:"classes"`

	// Weights holds one dense, unit-normalized weight vector per class,
	// indexed like Classes.
	Weights [][]float64 `json:"weights"`

	// BenchmarkRef references the benchmark record that validated this
	// snapshot, once it has one.
	BenchmarkRef string `json:"benchmark_ref,omitempty"`
}

// Marshal serializes the snapshot for persistence.
func (s *Snapshot) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalSnapshot deserializes a snapshot blob and verifies it
// structurally. A blob that parses but fails verification returns a
// SnapshotCorruptionError.
func UnmarshalSnapshot(blob []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(blob, &s); err != nil {
		return nil, &SnapshotCorruptionError{Reason: fmt.Sprintf("unparseable blob: %v", err)}
	}
	if err := s.Verify(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Verify checks the snapshot's internal structure: class/weight alignment,
// vocabulary/weight width agreement, and finite values throughout.
func (s *Snapshot) Verify() error {
	fail := func(reason string) error {
		return &SnapshotCorruptionError{VersionID: s.VersionID, Reason: reason}
	}

	if s.VersionID == "" {
		return fail("missing version id")
	}
	if len(s.Classes) != len(s.Weights) {
		return fail(fmt.Sprintf("%d classes but %d weight vectors", len(s.Classes), len(s.Weights)))
	}
	if len(s.IDF) != len(s.Vocabulary) {
		return fail(fmt.Sprintf("%d idf entries but %d vocabulary terms", len(s.IDF), len(s.Vocabulary)))
	}
	width := len(s.Vocabulary)
	for i, w := range s.Weights {
		if len(w) != width {
			return fail(fmt.Sprintf("weight vector %d has width %d, vocabulary has %d", i, len(w), width))
		}
		for _, v := range w {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fail(fmt.Sprintf("non-finite weight in class %q", s.Classes[i]))
			}
		}
	}
	for term, idx := range s.Vocabulary {
		if idx < 0 || idx >= width {
			return fail(fmt.Sprintf("vocabulary term %q maps to out-of-range index %d", term, idx))
		}
	}
	return nil
}
