/*
Package corpus builds the training corpus behind the pattern classifier.

Examples enter the corpus three ways: synthetic generation from tool
descriptors (example utterances plus argument-slot substitution), harvesting
of accepted routing decisions above a confidence floor, and explicit caller
corrections, which supersede prior labels for the same query shape.

Near-duplicate detection runs through the semantic memory store: a new
example within the dedup distance of an existing one is dropped in favor of
the older example, unless the labels disagree, in which case the new example
is persisted flagged for manual review instead of silently overwriting
history.
*/
package corpus

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/khanglvm/tool-router/internal/classifier"
	"github.com/khanglvm/tool-router/internal/memory"
	"github.com/khanglvm/tool-router/internal/registry"
	"github.com/khanglvm/tool-router/internal/storage"
)

// Options configures the generator.
type Options struct {
	// DedupDistance is the cosine distance below which two examples are
	// near-duplicates.
	DedupDistance float64

	// SyntheticPerUtterance is how many paraphrases to emit per example
	// utterance.
	SyntheticPerUtterance int

	// HarvestConfidenceFloor is the minimum confidence for an observed
	// decision to be harvested.
	HarvestConfidenceFloor float64
}

// DefaultOptions mirrors the config package defaults.
func DefaultOptions() Options {
	return Options{
		DedupDistance:          0.05,
		SyntheticPerUtterance:  4,
		HarvestConfidenceFloor: 0.7,
	}
}

// Generator produces training examples and maintains the dedup index.
type Generator struct {
	opts     Options
	registry *registry.Registry
	store    storage.Storage
	index    *memory.Store
	embedder memory.Embedder
	logger   *zap.Logger
}

// NewGenerator creates a corpus generator. The memory store and embedder are
// shared with the router's mid tier.
func NewGenerator(opts Options, reg *registry.Registry, store storage.Storage, index *memory.Store, embedder memory.Embedder, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		opts:     opts,
		registry: reg,
		store:    store,
		index:    index,
		embedder: embedder,
		logger:   logger,
	}
}

// Tier computes the training complexity tier for a tool: argument-free tools
// train first, single-argument tools second, multi-argument tools last, so
// early-tier failures surface before they compound.
func Tier(desc registry.ToolDescriptor) int {
	required := 0
	for _, spec := range desc.ArgumentSchema {
		if spec.Required {
			required++
		}
	}
	if required > 2 {
		return 2
	}
	return required
}

// GenerateForTool produces and persists synthetic examples for one tool.
// Returns the examples that were actually inserted after deduplication.
func (g *Generator) GenerateForTool(desc registry.ToolDescriptor) ([]storage.ExampleRecord, error) {
	tier := Tier(desc)
	var inserted []storage.ExampleRecord

	for _, utterance := range desc.ExampleUtterances {
		for _, variant := range expand(utterance, desc, g.opts.SyntheticPerUtterance) {
			ex := storage.ExampleRecord{
				Query:     classifier.Normalize(variant.text),
				ToolName:  desc.Name,
				Arguments: variant.args,
				Origin:    storage.OriginSynthetic,
				Tier:      tier,
				Timestamp: time.Now().UTC(),
			}
			ok, err := g.addExample(ex)
			if err != nil {
				return inserted, err
			}
			if ok {
				inserted = append(inserted, ex)
			}
		}
	}

	g.logger.Info("generated synthetic examples",
		zap.String("tool", desc.Name),
		zap.Int("tier", tier),
		zap.Int("inserted", len(inserted)))
	return inserted, nil
}

// HarvestObserved converts accepted routing decisions since the given time
// into observed training examples. Decisions below the confidence floor are
// skipped unless they carry the low-native-confidence flag, which marks
// fallback answers the pattern tier most needs to learn.
func (g *Generator) HarvestObserved(since time.Time) ([]storage.ExampleRecord, error) {
	decisions, err := g.store.ListDecisions(since, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}

	var inserted []storage.ExampleRecord
	for _, dec := range decisions {
		if dec.OutcomeSuccess != nil && !*dec.OutcomeSuccess {
			continue // disputed decisions are harvested via corrections only
		}
		if dec.Confidence < g.opts.HarvestConfidenceFloor && !dec.LowNativeConfidence {
			continue
		}
		desc, known := g.registry.Get(dec.ToolName)
		if !known {
			continue // tool vanished since the decision was logged
		}
		ex := storage.ExampleRecord{
			Query:     dec.Query,
			ToolName:  dec.ToolName,
			Arguments: dec.Arguments,
			Origin:    storage.OriginObserved,
			Tier:      Tier(desc),
			DedupKey:  "observed:" + dec.ID,
			Timestamp: time.Now().UTC(),
		}
		ok, err := g.addExample(ex)
		if err != nil {
			return inserted, err
		}
		if ok {
			inserted = append(inserted, ex)
		}
	}

	g.logger.Info("harvested observed examples",
		zap.Int("decisions", len(decisions)),
		zap.Int("inserted", len(inserted)))
	return inserted, nil
}

// RecordCorrection converts an explicit caller dispute into a corrected
// example superseding prior labels for the query shape. Idempotent per
// (decision id, correction content).
func (g *Generator) RecordCorrection(decisionID, toolName string, arguments map[string]string) (bool, error) {
	dec, err := g.store.GetDecision(decisionID)
	if err != nil {
		return false, err
	}
	desc, known := g.registry.Get(toolName)
	if !known {
		return false, fmt.Errorf("correction references unknown tool %q", toolName)
	}

	ex := storage.ExampleRecord{
		Query:     dec.Query,
		ToolName:  toolName,
		Arguments: arguments,
		Origin:    storage.OriginCorrected,
		Tier:      Tier(desc),
		DedupKey:  correctionKey(decisionID, toolName, arguments),
		Timestamp: time.Now().UTC(),
	}

	id, inserted, err := g.store.InsertExample(ex)
	if err != nil {
		return false, err
	}
	if !inserted {
		return false, nil // same correction already applied
	}

	if err := g.store.SupersedeExamples(dec.Query, id); err != nil {
		return true, err
	}

	// Corrections overwrite the dedup index entry: the corrected label is
	// now the authoritative one for this query shape.
	g.indexExample(ex)

	g.logger.Info("recorded correction",
		zap.String("decision_id", decisionID),
		zap.String("from_tool", dec.ToolName),
		zap.String("to_tool", toolName))
	return true, nil
}

// TrainingSet returns the examples eligible for training, ordered by
// complexity tier then insertion order. Superseded and review-pending
// examples are excluded.
func (g *Generator) TrainingSet() ([]storage.ExampleRecord, error) {
	all, err := g.store.ListExamples()
	if err != nil {
		return nil, err
	}

	eligible := make([]storage.ExampleRecord, 0, len(all))
	for _, ex := range all {
		if ex.SupersededBy != nil || ex.NeedsReview {
			continue
		}
		eligible = append(eligible, ex)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].Tier != eligible[j].Tier {
			return eligible[i].Tier < eligible[j].Tier
		}
		return eligible[i].ID < eligible[j].ID
	})
	return eligible, nil
}

// ReindexAll rebuilds the semantic index from the persisted training set.
// The index lives in memory only, so this runs once at startup to restore
// near-duplicate detection and mid-tier recall across restarts.
func (g *Generator) ReindexAll() (int, error) {
	eligible, err := g.TrainingSet()
	if err != nil {
		return 0, err
	}
	for _, ex := range eligible {
		g.indexExample(ex)
	}
	return len(eligible), nil
}

// addExample runs the near-duplicate check and persists the example.
func (g *Generator) addExample(ex storage.ExampleRecord) (bool, error) {
	vec := g.embedder.Embed(ex.Query)

	neighbors, err := g.index.Query(vec, 1)
	if err != nil {
		return false, fmt.Errorf("dedup query failed: %w", err)
	}

	if len(neighbors) > 0 && neighbors[0].Distance < g.opts.DedupDistance {
		existingTool := neighbors[0].Metadata["tool"]
		if existingTool == ex.ToolName {
			// Near-duplicate with the same label: keep the older example.
			return false, nil
		}
		// Conflicting label: persist flagged for manual review.
		ex.NeedsReview = true
		g.logger.Warn("near-duplicate with conflicting label flagged for review",
			zap.String("query", ex.Query),
			zap.String("existing_tool", existingTool),
			zap.String("new_tool", ex.ToolName))
	}

	_, inserted, err := g.store.InsertExample(ex)
	if err != nil || !inserted {
		return inserted, err
	}

	if !ex.NeedsReview {
		g.indexExample(ex)
	}
	return true, nil
}

// indexExample upserts the example's embedding into the dedup index, keyed
// by query shape so repeated queries share one entry.
func (g *Generator) indexExample(ex storage.ExampleRecord) {
	vec := g.embedder.Embed(ex.Query)
	meta := map[string]string{"tool": ex.ToolName, "origin": ex.Origin}
	if err := g.index.Upsert(storage.HashQuery(ex.Query), vec, meta); err != nil {
		g.logger.Warn("failed to index example", zap.Error(err))
	}
}

func correctionKey(decisionID, toolName string, arguments map[string]string) string {
	keys := make([]string, 0, len(arguments))
	for k := range arguments {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(decisionID)
	sb.WriteByte(':')
	sb.WriteString(toolName)
	for _, k := range keys {
		sb.WriteByte(':')
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(arguments[k])
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return "corrected:" + hex.EncodeToString(sum[:])
}
