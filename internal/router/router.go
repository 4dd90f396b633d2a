/*
Package router implements the three-tier confidence gate.

Every query walks the same escalation ladder: the pattern tier (classifier
over the live snapshot, ~10ms budget), then the mid tier (BM25 plus semantic
similarity, ~50ms budget), then the external fallback backend. A tier's
answer is accepted when its confidence clears that tier's threshold;
otherwise the request escalates. The fallback's answer is always accepted
and flagged low-native-confidence so the training loop prioritizes it.

Accepted decisions are logged asynchronously; a request abandoned before a
decision is reached leaves no trace in the log.
*/
package router

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/khanglvm/tool-router/internal/classifier"
	"github.com/khanglvm/tool-router/internal/config"
	"github.com/khanglvm/tool-router/internal/fallback"
	"github.com/khanglvm/tool-router/internal/registry"
	"github.com/khanglvm/tool-router/internal/storage"
)

// Decision sources.
const (
	SourcePattern  = "pattern"
	SourceMidTier  = "mid_tier"
	SourceFallback = "fallback"
)

// Fallback abstracts the external backend so tests can stub it.
type Fallback interface {
	Configured() bool
	Route(ctx context.Context, query string, toolNames []string) (*fallback.Result, error)
}

// Router runs the escalation ladder.
type Router struct {
	reg        *registry.Registry
	pattern    Tier
	mid        Tier
	fb         Fallback
	thresholds config.Thresholds
	snapshotID func() string
	tracker    *Tracker
	store      storage.Storage
	logger     *zap.Logger
}

// New assembles a router. The snapshot id function reports which model
// version produced each decision; pass the live handle's current version.
func New(reg *registry.Registry, pattern, mid Tier, fb Fallback, thresholds config.Thresholds,
	snapshotID func() string, tracker *Tracker, store storage.Storage, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		reg:        reg,
		pattern:    pattern,
		mid:        mid,
		fb:         fb,
		thresholds: thresholds,
		snapshotID: snapshotID,
		tracker:    tracker,
		store:      store,
		logger:     logger,
	}
}

// Route walks the escalation ladder for one query.
func (r *Router) Route(ctx context.Context, rawQuery string) (*storage.DecisionRecord, error) {
	start := time.Now()
	query := classifier.Normalize(rawQuery)
	if query == "" {
		return nil, &NoMatchError{Query: rawQuery, Reason: "empty query"}
	}

	// An empty registry skips the native tiers: there is nothing for them
	// to score against.
	enabled := r.reg.ListEnabled()
	if len(enabled) == 0 {
		return r.tryFallback(ctx, query, start, "registry is empty")
	}

	// Pattern tier.
	cand, err := r.attempt(ctx, r.pattern, query, r.patternBudget())
	if err != nil {
		r.logger.Debug("pattern tier unavailable, escalating", zap.Error(err))
	}
	if cand != nil {
		switch {
		case cand.Confidence >= r.thresholds.PatternAccept:
			return r.accept(ctx, query, cand, SourcePattern, start, false)
		case cand.Confidence < r.thresholds.PatternEscalate:
			// Too weak for the mid tier to rescue.
			return r.tryFallback(ctx, query, start, "pattern confidence below escalation floor")
		}
	}

	// Mid tier.
	cand, err = r.attempt(ctx, r.mid, query, r.midBudget())
	if err != nil {
		r.logger.Debug("mid tier unavailable, escalating", zap.Error(err))
	}
	if cand != nil && cand.Confidence >= r.thresholds.MidAccept {
		return r.accept(ctx, query, cand, SourceMidTier, start, false)
	}

	return r.tryFallback(ctx, query, start, "native tiers below acceptance thresholds")
}

// ReportOutcome records caller feedback for a decision. Safe to call more
// than once; the latest report wins.
func (r *Router) ReportOutcome(decisionID string, success bool) error {
	return r.store.MarkOutcome(decisionID, success)
}

// Close stops the background decision writer.
func (r *Router) Close() {
	if r.tracker != nil {
		r.tracker.Stop()
	}
}

// attempt runs one tier under its latency budget. Budget exhaustion is
// reported as a TimeoutError; Route treats it as an escalation signal.
func (r *Router) attempt(ctx context.Context, tier Tier, query string, budget time.Duration) (*Candidate, error) {
	tierCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	type result struct {
		cand *Candidate
		err  error
	}
	done := make(chan result, 1)
	go func() {
		cand, err := tier.Attempt(tierCtx, query)
		done <- result{cand, err}
	}()

	select {
	case res := <-done:
		return res.cand, res.err
	case <-tierCtx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		return nil, &TimeoutError{Stage: tier.Name(), Budget: budget}
	}
}

// tryFallback sends the query to the external backend. Fallback answers are
// always accepted; a fallback failure or timeout is terminal.
func (r *Router) tryFallback(ctx context.Context, query string, start time.Time, reason string) (*storage.DecisionRecord, error) {
	if r.fb == nil || !r.fb.Configured() {
		return nil, &NoMatchError{Query: query, Reason: reason + "; no fallback configured"}
	}

	names := make([]string, 0, r.reg.Len())
	for _, desc := range r.reg.ListEnabled() {
		names = append(names, desc.Name)
	}

	res, err := r.fb.Route(ctx, query, names)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, &TimeoutError{Stage: "fallback", Budget: time.Since(start)}
		}
		return nil, &NoMatchError{Query: query, Reason: "fallback failed: " + err.Error()}
	}

	cand := &Candidate{
		ToolName:   res.ToolName,
		Arguments:  res.Arguments,
		Confidence: res.Confidence,
	}
	// Fill in arguments from template matching when the backend omits them
	// and the tool is registered.
	if len(cand.Arguments) == 0 {
		if desc, ok := r.reg.Get(res.ToolName); ok {
			cand.Arguments = ExtractArguments(desc, query)
		}
	}
	return r.accept(ctx, query, cand, SourceFallback, start, true)
}

// accept finalizes a decision and queues it for logging. The context guards
// the final stretch: a request cancelled before acceptance is never logged.
func (r *Router) accept(ctx context.Context, query string, cand *Candidate, source string, start time.Time, lowNative bool) (*storage.DecisionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec := &storage.DecisionRecord{
		ID:                  uuid.New().String(),
		Query:               query,
		QueryHash:           storage.HashQuery(query),
		ToolName:            cand.ToolName,
		Arguments:           cand.Arguments,
		Confidence:          cand.Confidence,
		Source:              source,
		LatencyMs:           float64(time.Since(start).Microseconds()) / 1000,
		SnapshotID:          r.currentSnapshotID(),
		LowNativeConfidence: lowNative,
		Timestamp:           time.Now().UTC(),
	}

	if r.tracker != nil {
		r.tracker.Log(*rec)
	}

	r.logger.Info("routed query",
		zap.String("decision_id", rec.ID),
		zap.String("tool", rec.ToolName),
		zap.String("source", rec.Source),
		zap.Float64("confidence", rec.Confidence),
		zap.Float64("latency_ms", rec.LatencyMs))
	return rec, nil
}

func (r *Router) currentSnapshotID() string {
	if r.snapshotID == nil {
		return ""
	}
	return r.snapshotID()
}

func (r *Router) patternBudget() time.Duration {
	ms := r.thresholds.PatternBudgetMs
	if ms <= 0 {
		ms = 10
	}
	return time.Duration(ms) * time.Millisecond
}

func (r *Router) midBudget() time.Duration {
	ms := r.thresholds.MidBudgetMs
	if ms <= 0 {
		ms = 50
	}
	return time.Duration(ms) * time.Millisecond
}
