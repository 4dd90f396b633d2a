package router

import (
	"context"
	"time"

	"github.com/khanglvm/tool-router/internal/classifier"
	"github.com/khanglvm/tool-router/internal/registry"
	"github.com/khanglvm/tool-router/internal/storage"
)

// Candidate is one tier's proposed routing answer.
type Candidate struct {
	ToolName   string
	Arguments  map[string]string
	Confidence float64
}

// Tier is a routing stage. A nil candidate with a nil error means the tier
// has no opinion and the gate escalates.
type Tier interface {
	Name() string
	Attempt(ctx context.Context, query string) (*Candidate, error)
}

// tieEpsilon is the confidence margin within which two predictions are
// considered tied and broken by recency then registration order.
const tieEpsilon = 0.02

// PatternTier classifies against the live model snapshot. It is the cheap
// first stage: a vocabulary lookup and one sparse dot product per tool.
type PatternTier struct {
	live  *classifier.Live
	reg   *registry.Registry
	store storage.Storage
}

// NewPatternTier creates the pattern tier over the live snapshot handle.
func NewPatternTier(live *classifier.Live, reg *registry.Registry, store storage.Storage) *PatternTier {
	return &PatternTier{live: live, reg: reg, store: store}
}

func (p *PatternTier) Name() string { return "pattern" }

// Attempt classifies the query. Predictions for disabled or unregistered
// tools are skipped; near-ties are broken by the most recent successful
// outcome for this query shape, then by registration order.
func (p *PatternTier) Attempt(ctx context.Context, query string) (*Candidate, error) {
	snap := p.live.Current()
	preds := classifier.Classify(snap, query)
	if len(preds) == 0 {
		return nil, nil
	}

	eligible := preds[:0]
	for _, pred := range preds {
		desc, ok := p.reg.Get(pred.ToolName)
		if !ok || !desc.Enabled {
			continue
		}
		eligible = append(eligible, pred)
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	best := p.breakTies(eligible, query)
	desc, _ := p.reg.Get(best.ToolName)

	return &Candidate{
		ToolName:   best.ToolName,
		Arguments:  ExtractArguments(desc, query),
		Confidence: best.Confidence,
	}, nil
}

// breakTies resolves predictions within tieEpsilon of the top score.
func (p *PatternTier) breakTies(preds []classifier.Prediction, query string) classifier.Prediction {
	top := preds[0]
	tied := []classifier.Prediction{top}
	for _, pred := range preds[1:] {
		if top.Confidence-pred.Confidence < tieEpsilon {
			tied = append(tied, pred)
		}
	}
	if len(tied) == 1 {
		return top
	}

	// Prefer the tool that most recently succeeded for this query shape.
	if p.store != nil {
		if recency, err := p.store.LastSuccess(storage.HashQuery(query)); err == nil && len(recency) > 0 {
			best := top
			var bestAt time.Time
			for _, pred := range tied {
				if at, ok := recency[pred.ToolName]; ok && at.After(bestAt) {
					best = pred
					bestAt = at
				}
			}
			if !bestAt.IsZero() {
				return best
			}
		}
	}

	// No outcome history: earliest-registered tool wins.
	best := tied[0]
	bestOrder := p.reg.Order(best.ToolName)
	for _, pred := range tied[1:] {
		if order := p.reg.Order(pred.ToolName); order < bestOrder {
			best = pred
			bestOrder = order
		}
	}
	return best
}
