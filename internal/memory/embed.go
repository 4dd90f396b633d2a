package memory

import (
	"hash/fnv"
	"strings"
)

// Embedder turns text into fixed-dimension vectors.
//
// The built-in implementation hashes word and character trigram features into
// a dense vector. It is deterministic, dependency-free and cheap enough for
// the routing path; an external embedding model can replace it behind the
// same interface.
type Embedder interface {
	Embed(text string) []float32
	Dims() int
}

// HashingEmbedder is a feature-hashing embedder over word and trigram features.
type HashingEmbedder struct {
	dims int
}

// NewHashingEmbedder creates an embedder producing dims-dimensional vectors.
func NewHashingEmbedder(dims int) *HashingEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &HashingEmbedder{dims: dims}
}

// Dims returns the embedding dimensionality.
func (e *HashingEmbedder) Dims() int { return e.dims }

// Embed hashes each token and character trigram into a bucket. The sign of
// the hash decides the direction of the contribution, which keeps the
// expected value of unrelated texts near zero.
func (e *HashingEmbedder) Embed(text string) []float32 {
	vec := make([]float32, e.dims)

	for _, feat := range extractFeatures(text) {
		h := fnv.New64a()
		h.Write([]byte(feat))
		sum := h.Sum64()
		bucket := int(sum % uint64(e.dims))
		if sum&(1<<63) != 0 {
			vec[bucket] -= 1
		} else {
			vec[bucket] += 1
		}
	}

	return normalize(vec)
}

// extractFeatures produces word unigrams, bigrams and character trigrams.
func extractFeatures(text string) []string {
	words := strings.Fields(strings.ToLower(text))
	feats := make([]string, 0, len(words)*4)

	for i, w := range words {
		feats = append(feats, "w:"+w)
		if i+1 < len(words) {
			feats = append(feats, "b:"+w+" "+words[i+1])
		}
		runes := []rune(w)
		for j := 0; j+3 <= len(runes); j++ {
			feats = append(feats, "t:"+string(runes[j:j+3]))
		}
	}
	return feats
}
