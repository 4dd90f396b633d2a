package memory

import (
	"fmt"
	"math"
	"math/rand"
	"testing"
)

func testStore(t *testing.T, dims int) *Store {
	t.Helper()
	s, err := NewStore(Options{Dims: dims, M: 8, EfSearch: 32, EfConstruction: 64, Seed: 7})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return s
}

func basis(dims, axis int) []float32 {
	v := make([]float32, dims)
	v[axis] = 1
	return v
}

func TestQueryEmptyStore(t *testing.T) {
	s := testStore(t, 8)

	got, err := s.Query(basis(8, 0), 5)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty result on empty store, got %d neighbors", len(got))
	}
}

func TestUpsertRejectsWrongDims(t *testing.T) {
	s := testStore(t, 8)
	if err := s.Upsert("a", make([]float32, 4), nil); err == nil {
		t.Error("expected dims mismatch error")
	}
	if _, err := s.Query(make([]float32, 4), 1); err == nil {
		t.Error("expected dims mismatch error on query")
	}
}

func TestExactNeighborRecall(t *testing.T) {
	s := testStore(t, 8)

	for axis := 0; axis < 8; axis++ {
		if err := s.Upsert(fmt.Sprintf("axis-%d", axis), basis(8, axis), map[string]string{"axis": fmt.Sprint(axis)}); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}

	got, err := s.Query(basis(8, 3), 1)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "axis-3" {
		t.Fatalf("expected axis-3 as nearest, got %+v", got)
	}
	if got[0].Distance > 1e-6 {
		t.Errorf("expected near-zero distance to identical vector, got %v", got[0].Distance)
	}
	if got[0].Metadata["axis"] != "3" {
		t.Errorf("expected metadata to round-trip, got %v", got[0].Metadata)
	}
}

func TestUpsertReplacesVector(t *testing.T) {
	s := testStore(t, 8)

	s.Upsert("a", basis(8, 0), map[string]string{"v": "old"})
	s.Upsert("b", basis(8, 1), nil)
	s.Upsert("a", basis(8, 2), map[string]string{"v": "new"})

	if s.Len() != 2 {
		t.Fatalf("expected 2 nodes after replace, got %d", s.Len())
	}

	got, _ := s.Query(basis(8, 2), 1)
	if len(got) != 1 || got[0].ID != "a" || got[0].Metadata["v"] != "new" {
		t.Errorf("expected replaced vector for 'a', got %+v", got)
	}
}

func TestDelete(t *testing.T) {
	s := testStore(t, 8)
	s.Upsert("a", basis(8, 0), nil)
	s.Upsert("b", basis(8, 1), nil)

	s.Delete("a")
	s.Delete("missing") // no-op

	if s.Len() != 1 {
		t.Fatalf("expected 1 node after delete, got %d", s.Len())
	}
	got, _ := s.Query(basis(8, 0), 2)
	for _, n := range got {
		if n.ID == "a" {
			t.Error("deleted node still returned by Query")
		}
	}
}

// TestRecallOnClusteredData checks approximate recall stays high on data with
// clear cluster structure, which is the regime the router uses it in.
func TestRecallOnClusteredData(t *testing.T) {
	const dims = 32
	s := testStore(t, dims)
	rng := rand.New(rand.NewSource(99))

	// Three well-separated clusters around distinct axes.
	centers := [][]float32{basis(dims, 0), basis(dims, 10), basis(dims, 20)}
	for c, center := range centers {
		for i := 0; i < 40; i++ {
			v := make([]float32, dims)
			for d := range v {
				v[d] = center[d] + float32(rng.NormFloat64()*0.05)
			}
			s.Upsert(fmt.Sprintf("c%d-%d", c, i), v, map[string]string{"cluster": fmt.Sprint(c)})
		}
	}

	hits := 0
	const trials = 30
	for i := 0; i < trials; i++ {
		c := i % 3
		v := make([]float32, dims)
		for d := range v {
			v[d] = centers[c][d] + float32(rng.NormFloat64()*0.05)
		}
		got, err := s.Query(v, 5)
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(got) == 0 {
			continue
		}
		if got[0].Metadata["cluster"] == fmt.Sprint(c) {
			hits++
		}
	}

	if hits < trials*9/10 {
		t.Errorf("cluster recall too low: %d/%d", hits, trials)
	}
}

func TestNeighborsSortedByDistance(t *testing.T) {
	s := testStore(t, 8)
	for axis := 0; axis < 8; axis++ {
		s.Upsert(fmt.Sprintf("axis-%d", axis), basis(8, axis), nil)
	}

	got, _ := s.Query(basis(8, 0), 8)
	for i := 1; i < len(got); i++ {
		if got[i].Distance < got[i-1].Distance {
			t.Fatalf("neighbors not sorted: %v", got)
		}
	}
}

func TestHashingEmbedderDeterministic(t *testing.T) {
	e := NewHashingEmbedder(64)

	a := e.Embed("find information about gold prices")
	b := e.Embed("find information about gold prices")
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("embedding is not deterministic")
		}
	}

	var norm float64
	for _, x := range a {
		norm += float64(x) * float64(x)
	}
	if math.Abs(norm-1.0) > 1e-5 {
		t.Errorf("expected unit norm, got %v", norm)
	}
}

func TestHashingEmbedderSimilarity(t *testing.T) {
	e := NewHashingEmbedder(256)

	q := e.Embed("find information about gold prices")
	near := e.Embed("find information about silver prices")
	far := e.Embed("delete every record in the database immediately")

	if d1, d2 := cosineDistance(q, near), cosineDistance(q, far); d1 >= d2 {
		t.Errorf("expected paraphrase closer than unrelated text: near=%v far=%v", d1, d2)
	}
}
