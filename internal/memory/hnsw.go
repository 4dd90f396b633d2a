/*
Package memory implements the semantic memory store: an approximate
nearest-neighbor index over fixed-dimension embeddings.

The index is a hierarchical navigable small-world graph. Every node keeps
bidirectional neighbor links at multiple layers; insertion draws a maximum
layer from an exponential distribution and greedily connects to the M nearest
nodes per layer, pruning to keep degree bounded. Search descends greedily
from the top layer and runs a best-first expansion with a candidate heap of
size efSearch at layer 0.

Recall is approximate by construction and tunable: larger efSearch and
efConstruction trade latency for recall. Distance is cosine distance
(1 - cosine similarity); vectors are normalized once at insert time.
*/
package memory

import (
	"container/heap"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
)

// Neighbor is a single query result.
type Neighbor struct {
	ID       string
	Distance float64
	Metadata map[string]string
}

// Options configures the index.
type Options struct {
	// Dims is the embedding dimensionality. Vectors of any other length are
	// rejected.
	Dims int

	// M is the max neighbor links per node per layer (layer 0 allows 2*M).
	M int

	// EfSearch is the candidate heap size during Query.
	EfSearch int

	// EfConstruction is the candidate heap size during Upsert.
	EfConstruction int

	// Seed makes layer assignment reproducible across runs.
	Seed int64
}

// DefaultOptions returns the recommended configuration for 256-dim embeddings.
func DefaultOptions() Options {
	return Options{Dims: 256, M: 16, EfSearch: 64, EfConstruction: 200, Seed: 1}
}

type node struct {
	id    string
	vec   []float32 // unit-normalized
	meta  map[string]string
	links [][]*node // neighbor lists, index = layer
}

func (n *node) maxLayer() int { return len(n.links) - 1 }

// Store is the ANN index. Reads are concurrent; writes are exclusive.
type Store struct {
	opts Options

	mu       sync.RWMutex
	rng      *rand.Rand
	levelMul float64
	nodes    map[string]*node
	entry    *node
}

// NewStore creates an empty index.
func NewStore(opts Options) (*Store, error) {
	if opts.Dims <= 0 {
		return nil, fmt.Errorf("dims must be positive, got %d", opts.Dims)
	}
	if opts.M < 2 {
		return nil, fmt.Errorf("m must be at least 2, got %d", opts.M)
	}
	if opts.EfSearch < 1 {
		opts.EfSearch = 1
	}
	if opts.EfConstruction < opts.M {
		opts.EfConstruction = opts.M
	}

	return &Store{
		opts:     opts,
		rng:      rand.New(rand.NewSource(opts.Seed)),
		levelMul: 1.0 / math.Log(float64(opts.M)),
		nodes:    make(map[string]*node),
	}, nil
}

// Len returns the number of indexed vectors.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// Upsert inserts or replaces the vector stored under id.
func (s *Store) Upsert(id string, vector []float32, metadata map[string]string) error {
	if id == "" {
		return fmt.Errorf("id must not be empty")
	}
	if len(vector) != s.opts.Dims {
		return fmt.Errorf("vector has %d dims, index expects %d", len(vector), s.opts.Dims)
	}

	vec := normalize(vector)

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, exists := s.nodes[id]; exists {
		s.unlink(old)
		delete(s.nodes, id)
		if s.entry == old {
			s.electEntry()
		}
	}

	layer := s.randomLayer()
	n := &node{id: id, vec: vec, meta: copyMeta(metadata), links: make([][]*node, layer+1)}
	s.nodes[id] = n

	if s.entry == nil {
		s.entry = n
		return nil
	}

	ep := s.entry
	// Greedy descent through layers above the new node's top layer.
	for l := s.entry.maxLayer(); l > layer; l-- {
		ep = s.greedyClosest(n.vec, ep, l)
	}

	// Connect at each layer from min(layer, entry top) down to 0.
	top := layer
	if t := s.entry.maxLayer(); t < top {
		top = t
	}
	for l := top; l >= 0; l-- {
		candidates := s.searchLayer(n.vec, ep, s.opts.EfConstruction, l)
		neighbors := s.selectNeighbors(candidates, s.maxDegree(l))
		for _, nb := range neighbors {
			s.connect(n, nb, l)
		}
		if len(candidates) > 0 {
			ep = candidates[0].node
		}
	}

	if layer > s.entry.maxLayer() {
		s.entry = n
	}
	return nil
}

// Delete removes id from the index. Missing ids are not an error.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, exists := s.nodes[id]
	if !exists {
		return
	}
	s.unlink(n)
	delete(s.nodes, id)
	if s.entry == n {
		s.electEntry()
	}
}

// Query returns the k approximate nearest neighbors of vector, closest first.
// An empty index returns an empty slice.
func (s *Store) Query(vector []float32, k int) ([]Neighbor, error) {
	if len(vector) != s.opts.Dims {
		return nil, fmt.Errorf("vector has %d dims, index expects %d", len(vector), s.opts.Dims)
	}
	if k <= 0 {
		k = 1
	}

	vec := normalize(vector)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.entry == nil {
		return []Neighbor{}, nil
	}

	ep := s.entry
	for l := s.entry.maxLayer(); l > 0; l-- {
		ep = s.greedyClosest(vec, ep, l)
	}

	ef := s.opts.EfSearch
	if ef < k {
		ef = k
	}
	candidates := s.searchLayer(vec, ep, ef, 0)

	if len(candidates) > k {
		candidates = candidates[:k]
	}
	out := make([]Neighbor, len(candidates))
	for i, c := range candidates {
		out[i] = Neighbor{ID: c.node.id, Distance: c.dist, Metadata: copyMeta(c.node.meta)}
	}
	return out, nil
}

// randomLayer draws the max layer for a new node (exponential decay).
func (s *Store) randomLayer() int {
	r := s.rng.Float64()
	if r == 0 {
		r = math.SmallestNonzeroFloat64
	}
	return int(-math.Log(r) * s.levelMul)
}

func (s *Store) maxDegree(layer int) int {
	if layer == 0 {
		return 2 * s.opts.M
	}
	return s.opts.M
}

// greedyClosest walks layer l toward vec until no neighbor improves.
func (s *Store) greedyClosest(vec []float32, start *node, l int) *node {
	cur := start
	curDist := cosineDistance(vec, cur.vec)
	for {
		improved := false
		if l < len(cur.links) {
			for _, nb := range cur.links[l] {
				if d := cosineDistance(vec, nb.vec); d < curDist {
					cur, curDist = nb, d
					improved = true
				}
			}
		}
		if !improved {
			return cur
		}
	}
}

type scored struct {
	node *node
	dist float64
}

// searchLayer is best-first expansion at layer l with a frontier of size ef.
// Results are returned sorted by distance ascending.
func (s *Store) searchLayer(vec []float32, ep *node, ef int, l int) []scored {
	visited := map[*node]bool{ep: true}

	start := scored{ep, cosineDistance(vec, ep.vec)}
	frontier := &minHeap{start}   // closest-first expansion queue
	results := &maxHeap{start}    // bounded set of best candidates
	heap.Init(frontier)
	heap.Init(results)

	for frontier.Len() > 0 {
		cur := heap.Pop(frontier).(scored)
		worst := (*results)[0].dist
		if cur.dist > worst && results.Len() >= ef {
			break
		}
		if l < len(cur.node.links) {
			for _, nb := range cur.node.links[l] {
				if visited[nb] {
					continue
				}
				visited[nb] = true
				d := cosineDistance(vec, nb.vec)
				if results.Len() < ef || d < (*results)[0].dist {
					heap.Push(frontier, scored{nb, d})
					heap.Push(results, scored{nb, d})
					if results.Len() > ef {
						heap.Pop(results)
					}
				}
			}
		}
	}

	out := make([]scored, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(scored)
	}
	return out
}

// selectNeighbors keeps the m closest candidates.
func (s *Store) selectNeighbors(candidates []scored, m int) []*node {
	if len(candidates) > m {
		candidates = candidates[:m]
	}
	out := make([]*node, len(candidates))
	for i, c := range candidates {
		out[i] = c.node
	}
	return out
}

// connect links a and b bidirectionally at layer l, pruning overfull nodes
// back down to the degree bound by dropping the farthest neighbor.
func (s *Store) connect(a, b *node, l int) {
	if a == b {
		return
	}
	addLink(a, b, l)
	addLink(b, a, l)
	s.prune(a, l)
	s.prune(b, l)
}

func addLink(from, to *node, l int) {
	for l >= len(from.links) {
		from.links = append(from.links, nil)
	}
	for _, existing := range from.links[l] {
		if existing == to {
			return
		}
	}
	from.links[l] = append(from.links[l], to)
}

func (s *Store) prune(n *node, l int) {
	max := s.maxDegree(l)
	if l >= len(n.links) || len(n.links[l]) <= max {
		return
	}
	sort.Slice(n.links[l], func(i, j int) bool {
		return cosineDistance(n.vec, n.links[l][i].vec) < cosineDistance(n.vec, n.links[l][j].vec)
	})
	for _, dropped := range n.links[l][max:] {
		removeLink(dropped, n, l)
	}
	n.links[l] = n.links[l][:max]
}

func removeLink(from, to *node, l int) {
	if l >= len(from.links) {
		return
	}
	links := from.links[l]
	for i, nb := range links {
		if nb == to {
			from.links[l] = append(links[:i], links[i+1:]...)
			return
		}
	}
}

// unlink removes n from every neighbor list that references it.
func (s *Store) unlink(n *node) {
	for l, links := range n.links {
		for _, nb := range links {
			removeLink(nb, n, l)
		}
	}
	n.links = nil
}

// electEntry picks the highest-layer surviving node as the new entry point.
func (s *Store) electEntry() {
	s.entry = nil
	for _, n := range s.nodes {
		if s.entry == nil || n.maxLayer() > s.entry.maxLayer() {
			s.entry = n
		}
	}
}

// cosineDistance is 1 - cosine similarity over unit vectors.
func cosineDistance(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return 1.0 - dot
}

func normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	out := make([]float32, len(v))
	if norm == 0 {
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func copyMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// minHeap pops the closest candidate first.
type minHeap []scored

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(scored)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// maxHeap pops the farthest candidate first (bounded result set).
type maxHeap []scored

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return h[i].dist > h[j].dist }
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(scored)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
