package router

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"go.uber.org/zap"

	"github.com/khanglvm/tool-router/internal/memory"
	"github.com/khanglvm/tool-router/internal/registry"
)

// FusionWeights balance the mid tier's two signals.
type FusionWeights struct {
	Semantic float64
	Keyword  float64
}

// DefaultFusionWeights favor the semantic signal (70/30).
var DefaultFusionWeights = FusionWeights{Semantic: 0.7, Keyword: 0.3}

// MidTier re-scores queries the pattern tier was unsure about. It fuses BM25
// keyword search over tool documents with nearest-neighbor similarity from
// the semantic memory store. Slower than the pattern tier, still local.
type MidTier struct {
	reg      *registry.Registry
	index    *memory.Store
	embedder memory.Embedder
	weights  FusionWeights
	logger   *zap.Logger

	mu           sync.RWMutex
	bleve        bleve.Index
	utteranceIDs map[string]bool
}

// NewMidTier creates the mid tier with an in-memory bleve index. Call
// Reindex after registry changes.
func NewMidTier(reg *registry.Registry, index *memory.Store, embedder memory.Embedder, logger *zap.Logger) (*MidTier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	idx, err := bleve.NewMemOnly(buildToolMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create bleve index: %w", err)
	}

	m := &MidTier{
		reg:      reg,
		index:    index,
		embedder: embedder,
		weights:  DefaultFusionWeights,
		logger:   logger,
		bleve:    idx,
	}
	if err := m.Reindex(); err != nil {
		return nil, err
	}
	return m, nil
}

func buildToolMapping() mapping.IndexMapping {
	toolMapping := bleve.NewDocumentMapping()
	toolMapping.AddFieldMappingsAt("name", bleve.NewTextFieldMapping())
	toolMapping.AddFieldMappingsAt("category", bleve.NewTextFieldMapping())
	toolMapping.AddFieldMappingsAt("utterances", bleve.NewTextFieldMapping())

	indexMapping := bleve.NewIndexMapping()
	indexMapping.AddDocumentMapping("_default", toolMapping)
	return indexMapping
}

func (m *MidTier) Name() string { return "mid_tier" }

// Reindex rebuilds the keyword index and seeds the semantic store with the
// current registry's utterance embeddings.
func (m *MidTier) Reindex() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, err := bleve.NewMemOnly(buildToolMapping())
	if err != nil {
		return fmt.Errorf("failed to rebuild bleve index: %w", err)
	}

	batch := idx.NewBatch()
	newIDs := make(map[string]bool)
	for _, desc := range m.reg.ListEnabled() {
		doc := map[string]interface{}{
			"name":       strings.ReplaceAll(desc.Name, "_", " "),
			"category":   desc.Category,
			"utterances": strings.Join(desc.ExampleUtterances, ". "),
		}
		if err := batch.Index(desc.Name, doc); err != nil {
			m.logger.Warn("failed to index tool", zap.String("tool", desc.Name), zap.Error(err))
		}

		for i, utterance := range desc.ExampleUtterances {
			vec := m.embedder.Embed(strings.ToLower(slotPattern.ReplaceAllString(utterance, "")))
			id := fmt.Sprintf("utterance:%s:%d", desc.Name, i)
			newIDs[id] = true
			meta := map[string]string{"tool": desc.Name, "origin": "utterance"}
			if err := m.index.Upsert(id, vec, meta); err != nil {
				m.logger.Warn("failed to embed utterance", zap.String("tool", desc.Name), zap.Error(err))
			}
		}
	}
	if err := idx.Batch(batch); err != nil {
		return fmt.Errorf("failed to batch index tools: %w", err)
	}

	// Drop embeddings for tools no longer in the registry.
	for id := range m.utteranceIDs {
		if !newIDs[id] {
			m.index.Delete(id)
		}
	}
	m.utteranceIDs = newIDs

	old := m.bleve
	m.bleve = idx
	if old != nil {
		old.Close()
	}
	return nil
}

// Close releases the keyword index and its analysis workers.
func (m *MidTier) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.bleve == nil {
		return nil
	}
	err := m.bleve.Close()
	m.bleve = nil
	return err
}

// Attempt scores the query against every enabled tool and returns the best
// fusion of keyword and semantic evidence.
func (m *MidTier) Attempt(ctx context.Context, query string) (*Candidate, error) {
	keyword, err := m.keywordScores(query)
	if err != nil {
		// Degrade to semantic-only rather than failing the request.
		m.logger.Warn("keyword search failed", zap.Error(err))
		keyword = nil
	}
	semantic := m.semanticScores(query)

	fused := make(map[string]float64)
	for tool, score := range semantic {
		fused[tool] += m.weights.Semantic * score
	}
	for tool, score := range keyword {
		fused[tool] += m.weights.Keyword * score
	}
	if len(fused) == 0 {
		return nil, nil
	}

	var bestTool string
	var bestScore float64
	for tool, score := range fused {
		if score > bestScore || (score == bestScore && (bestTool == "" || m.reg.Order(tool) < m.reg.Order(bestTool))) {
			bestTool = tool
			bestScore = score
		}
	}

	desc, ok := m.reg.Get(bestTool)
	if !ok || !desc.Enabled {
		return nil, nil
	}

	return &Candidate{
		ToolName:   bestTool,
		Arguments:  ExtractArguments(desc, query),
		Confidence: bestScore,
	}, nil
}

// keywordScores runs BM25 and squashes raw scores into (0, 1). BM25 scores
// are unbounded, so x/(x+1) keeps them comparable with cosine similarity
// without making the top hit trivially 1.0.
func (m *MidTier) keywordScores(query string) (map[string]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.bleve == nil {
		return nil, fmt.Errorf("keyword index is closed")
	}

	req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(query), 10, 0, false)
	res, err := m.bleve.Search(req)
	if err != nil {
		return nil, fmt.Errorf("bleve search failed: %w", err)
	}

	scores := make(map[string]float64, len(res.Hits))
	for _, hit := range res.Hits {
		scores[hit.ID] = hit.Score / (hit.Score + 1)
	}
	return scores, nil
}

// semanticScores returns the best cosine similarity per tool among the
// query's nearest neighbors.
func (m *MidTier) semanticScores(query string) map[string]float64 {
	vec := m.embedder.Embed(query)
	neighbors, err := m.index.Query(vec, 8)
	if err != nil {
		m.logger.Warn("semantic query failed", zap.Error(err))
		return nil
	}

	scores := make(map[string]float64)
	for _, n := range neighbors {
		tool := n.Metadata["tool"]
		if tool == "" {
			continue
		}
		sim := 1 - n.Distance
		if sim < 0 {
			sim = 0
		}
		if sim > scores[tool] {
			scores[tool] = sim
		}
	}
	return scores
}
