/*
Package classifier implements the pattern tier: a sparse lexical featurizer
feeding a linear multi-class scorer over immutable, versioned model
snapshots.

The model is deliberately low-capacity. Features are word unigrams and
bigrams weighted by smoothed TF-IDF; each tool's weight vector is the
normalized centroid of its training examples, so scoring a query is one
sparse dot product per tool and stays comfortably inside the pattern tier's
latency budget.
*/
package classifier

import (
	"math"
	"sort"
	"strings"
)

// Normalize canonicalizes raw query text for classification: lowercased,
// whitespace-collapsed UTF-8.
func Normalize(raw string) string {
	return strings.Join(strings.Fields(strings.ToLower(raw)), " ")
}

// Tokenize splits normalized text into word unigram and bigram features.
func Tokenize(normalized string) []string {
	words := strings.Fields(normalized)
	if len(words) == 0 {
		return nil
	}

	feats := make([]string, 0, len(words)*2)
	for i, w := range words {
		feats = append(feats, w)
		if i+1 < len(words) {
			feats = append(feats, w+" "+words[i+1])
		}
	}
	return feats
}

// termCounts folds tokens into term frequencies.
func termCounts(tokens []string) map[string]float64 {
	tf := make(map[string]float64, len(tokens))
	for _, tok := range tokens {
		tf[tok]++
	}
	return tf
}

// BuildVocabulary assigns stable indices to every feature occurring in the
// given documents, and computes smoothed inverse document frequencies:
// idf = ln((1+N)/(1+df)) + 1. The +1 keeps ubiquitous features from
// vanishing, which matters for single-tool registries where every document
// shares its tokens.
func BuildVocabulary(docs [][]string) (map[string]int, []float64) {
	df := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]bool, len(doc))
		for _, tok := range doc {
			if !seen[tok] {
				seen[tok] = true
				df[tok]++
			}
		}
	}

	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	sort.Strings(terms) // stable indices for deterministic snapshots

	vocab := make(map[string]int, len(terms))
	idf := make([]float64, len(terms))
	n := float64(len(docs))
	for i, term := range terms {
		vocab[term] = i
		idf[i] = math.Log((1+n)/(1+float64(df[term]))) + 1
	}
	return vocab, idf
}

// Vectorize maps tokens to a unit-normalized sparse TF-IDF vector over the
// snapshot vocabulary. Out-of-vocabulary tokens contribute nothing.
func Vectorize(tokens []string, vocab map[string]int, idf []float64) map[int]float64 {
	vec := make(map[int]float64)
	for term, tf := range termCounts(tokens) {
		idx, ok := vocab[term]
		if !ok {
			continue
		}
		vec[idx] = tf * idf[idx]
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		vec[i] = v / norm
	}
	return vec
}

// sparseDot computes the dot product of a sparse vector with a dense row.
func sparseDot(sparse map[int]float64, dense []float64) float64 {
	var dot float64
	for i, v := range sparse {
		if i < len(dense) {
			dot += v * dense[i]
		}
	}
	return dot
}
