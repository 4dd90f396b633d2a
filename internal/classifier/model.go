package classifier

import (
	"math"
	"sort"
	"sync/atomic"
)

// Prediction is one ranked classification candidate.
type Prediction struct {
	ToolName   string
	Confidence float64
}

// Classify scores normalized text against a snapshot and returns ranked
// candidates, best first. Confidences are sum-normalized against the raw
// match mass plus a reserved unit of "no match" mass, so they never sum to 1
// across the registry; a query matching nothing returns an empty list.
func Classify(snap *Snapshot, normalized string) []Prediction {
	if snap == nil || len(snap.Classes) == 0 {
		return nil
	}

	vec := Vectorize(Tokenize(normalized), snap.Vocabulary, snap.IDF)
	if len(vec) == 0 {
		return nil
	}

	scores := make([]float64, len(snap.Classes))
	var sum float64
	for i, w := range snap.Weights {
		s := sparseDot(vec, w)
		if s < 0 {
			s = 0
		}
		scores[i] = s
		sum += s
	}
	if sum == 0 {
		return nil
	}

	// Confidence combines the per-class share of the match mass with the raw
	// cosine quality: a query that barely resembles anything never gets a
	// high confidence just because one class wins the share. The square root
	// compensates for centroid dilution across a tool's utterances.
	out := make([]Prediction, 0, len(scores))
	for i, s := range scores {
		if s == 0 {
			continue
		}
		conf := math.Sqrt(s) * (s / sum)
		if conf > 1 {
			conf = 1
		}
		out = append(out, Prediction{
			ToolName:   snap.Classes[i],
			Confidence: conf,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

// Live is the atomically swappable handle to the live snapshot. Readers
// always observe a complete snapshot: the pointer swap is the only mutation,
// so vocabulary and weights can never mix across versions.
type Live struct {
	ptr atomic.Pointer[Snapshot]
}

// NewLive creates a handle, optionally seeded with an initial snapshot.
func NewLive(initial *Snapshot) *Live {
	l := &Live{}
	if initial != nil {
		l.ptr.Store(initial)
	}
	return l
}

// Current returns the live snapshot, or nil when no model has been trained.
func (l *Live) Current() *Snapshot {
	return l.ptr.Load()
}

// Swap atomically replaces the live snapshot and returns the previous one.
func (l *Live) Swap(next *Snapshot) *Snapshot {
	return l.ptr.Swap(next)
}
