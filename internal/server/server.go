/*
Package server implements the stdio JSON-RPC surface of tool-router.

The server reads line-delimited JSON-RPC 2.0 requests on stdin and writes
responses on stdout. Exposed methods:

  - initialize          - protocol handshake, reports server info
  - route               - route a query through the escalation ladder
  - report_outcome      - record success/failure for a past decision
  - correct             - record an operator correction for a decision
  - tools/register      - register a tool descriptor
  - tools/deregister    - remove a tool
  - tools/list          - list registered tools
  - lifecycle/propose   - open an improvement proposal
  - lifecycle/approve   - approve or reject a pending proposal
  - lifecycle/apply     - train and promote an approved proposal
  - lifecycle/rollback  - restore the proposal's anchor snapshot
  - status              - live snapshot, tool count, pending decision queue

All diagnostics go to the logger (stderr); stdout carries only responses.
*/
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/khanglvm/tool-router/internal/classifier"
	"github.com/khanglvm/tool-router/internal/config"
	"github.com/khanglvm/tool-router/internal/corpus"
	"github.com/khanglvm/tool-router/internal/fallback"
	"github.com/khanglvm/tool-router/internal/lifecycle"
	"github.com/khanglvm/tool-router/internal/memory"
	"github.com/khanglvm/tool-router/internal/registry"
	"github.com/khanglvm/tool-router/internal/router"
	"github.com/khanglvm/tool-router/internal/storage"
	"github.com/khanglvm/tool-router/internal/trainer"
	"github.com/khanglvm/tool-router/internal/version"
)

// Server wires every component of the router behind the stdio transport.
type Server struct {
	cfg      *config.Config
	store    *storage.SQLiteStorage
	registry *registry.Registry
	index    *memory.Store
	embedder memory.Embedder
	corpus   *corpus.Generator
	trainer  *trainer.Trainer
	live     *classifier.Live
	mid      *router.MidTier
	fallback *fallback.Client
	tracker  *router.Tracker
	router   *router.Router
	manager  *lifecycle.Manager
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	in  io.Reader
	out io.Writer
}

// New builds a fully wired server from configuration: opens storage, restores
// the tool catalog and the live snapshot, and rebuilds the in-memory semantic
// index from the persisted training set.
func New(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	store := storage.NewStorageAt(cfg.DatabasePath())
	if err := store.Init(); err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	reg := registry.NewRegistry()
	descs, err := registry.LoadCatalog(cfg.CatalogPath())
	if err != nil {
		store.Close()
		return nil, err
	}
	for _, d := range descs {
		if err := reg.Register(d); err != nil {
			logger.Warn("skipping catalog entry", zap.String("tool", d.Name), zap.Error(err))
		}
	}

	embedder := memory.NewHashingEmbedder(cfg.Memory.Dims)
	index, err := memory.NewStore(memory.Options{
		Dims:           cfg.Memory.Dims,
		M:              cfg.Memory.M,
		EfSearch:       cfg.Memory.EfSearch,
		EfConstruction: cfg.Memory.EfConstruction,
		Seed:           1,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to build semantic index: %w", err)
	}

	gen := corpus.NewGenerator(corpus.Options{
		DedupDistance:          cfg.Memory.DedupDistance,
		SyntheticPerUtterance:  cfg.Training.SyntheticPerUtterance,
		HarvestConfidenceFloor: cfg.Training.HarvestConfidenceFloor,
	}, reg, store, index, embedder, logger)

	indexed, err := gen.ReindexAll()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to rebuild semantic index: %w", err)
	}
	if indexed > 0 {
		logger.Info("semantic index restored", zap.Int("examples", indexed))
	}

	tr := trainer.New(store, cfg.Training.Seed, cfg.Training.HeldOutFraction,
		cfg.Training.MinAccuracy, cfg.BenchmarkLogPath(), logger)

	var initial *classifier.Snapshot
	liveRec, err := store.GetLiveSnapshot()
	if err != nil {
		store.Close()
		return nil, err
	}
	if liveRec != nil {
		initial, err = trainer.LoadSnapshot(store, liveRec.VersionID)
		if err != nil {
			// A corrupt live snapshot must not take the router down; the
			// pattern tier simply stays cold until the next retrain.
			logger.Error("live snapshot failed to load, starting cold",
				zap.String("version", liveRec.VersionID), zap.Error(err))
			initial = nil
		}
	}
	live := classifier.NewLive(initial)

	midTier, err := router.NewMidTier(reg, index, embedder, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to build mid tier: %w", err)
	}
	patternTier := router.NewPatternTier(live, reg, store)

	fb := fallback.NewClient(*cfg.Fallback, logger)
	tracker := router.NewTracker(store, logger)

	rtr := router.New(reg, patternTier, midTier, fb, *cfg.Thresholds,
		func() string {
			if snap := live.Current(); snap != nil {
				return snap.VersionID
			}
			return ""
		}, tracker, store, logger)

	mgr := lifecycle.NewManager(store, tr, gen, live, reg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		store:    store,
		registry: reg,
		index:    index,
		embedder: embedder,
		corpus:   gen,
		trainer:  tr,
		live:     live,
		mid:      midTier,
		fallback: fb,
		tracker:  tracker,
		router:   rtr,
		manager:  mgr,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		in:       os.Stdin,
		out:      os.Stdout,
	}, nil
}

// Context returns the server's lifetime context, cancelled on Close.
func (s *Server) Context() context.Context { return s.ctx }

// Router exposes the routing ladder for one-shot CLI commands.
func (s *Server) Router() *router.Router { return s.router }

// Manager exposes the lifecycle manager for one-shot CLI commands.
func (s *Server) Manager() *lifecycle.Manager { return s.manager }

// Corpus exposes the corpus generator for one-shot CLI commands.
func (s *Server) Corpus() *corpus.Generator { return s.corpus }

// Registry exposes the tool catalog.
func (s *Server) Registry() *registry.Registry { return s.registry }

// Store exposes the persistence layer.
func (s *Server) Store() *storage.SQLiteStorage { return s.store }

// Live exposes the live classifier handle.
func (s *Server) Live() *classifier.Live { return s.live }

// SaveCatalog persists the current registry contents to disk.
func (s *Server) SaveCatalog() error {
	return registry.SaveCatalog(s.cfg.CatalogPath(), s.registry)
}

// Run starts the stdio loop. Blocks until stdin is closed or the server
// context is cancelled.
func (s *Server) Run() error {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-s.ctx.Done():
			return nil
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		resp := s.handleRequest(line)
		if resp != nil {
			s.send(resp)
		}
	}
	return scanner.Err()
}

// Close shuts the server down: stops accepting requests, drains the decision
// tracker, kills the fallback process and closes storage.
func (s *Server) Close() error {
	s.cancel()
	s.router.Close()
	if err := s.mid.Close(); err != nil {
		s.logger.Warn("keyword index shutdown", zap.Error(err))
	}
	if err := s.fallback.Close(); err != nil {
		s.logger.Warn("fallback shutdown", zap.Error(err))
	}
	return s.store.Close()
}

// Request is an incoming JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is an outgoing JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// JSON-RPC error codes. Application errors use -32000.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeAppError       = -32000
)

// handleRequest dispatches one request and always produces a response.
func (s *Server) handleRequest(data []byte) *Response {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return &Response{JSONRPC: "2.0", ID: nil,
			Error: &Error{Code: codeParseError, Message: "invalid JSON-RPC request: " + err.Error()}}
	}

	result, rpcErr := s.dispatch(&req)
	if rpcErr != nil {
		return &Response{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
	}
	return &Response{JSONRPC: "2.0", ID: req.ID, Result: result}
}

func (s *Server) dispatch(req *Request) (interface{}, *Error) {
	switch req.Method {
	case "initialize":
		return s.handleInitialize()
	case "route":
		return s.handleRoute(req.Params)
	case "report_outcome":
		return s.handleReportOutcome(req.Params)
	case "correct":
		return s.handleCorrect(req.Params)
	case "tools/register":
		return s.handleRegister(req.Params)
	case "tools/deregister":
		return s.handleDeregister(req.Params)
	case "tools/list":
		return s.handleListTools()
	case "lifecycle/propose":
		return s.handlePropose(req.Params)
	case "lifecycle/approve":
		return s.handleApprove(req.Params)
	case "lifecycle/apply":
		return s.handleApply(req.Params)
	case "lifecycle/rollback":
		return s.handleRollback(req.Params)
	case "status":
		return s.handleStatus()
	default:
		return nil, &Error{Code: codeMethodNotFound, Message: "Method not found: " + req.Method}
	}
}

func (s *Server) handleInitialize() (interface{}, *Error) {
	return map[string]interface{}{
		"protocolVersion": "2024-11-05",
		"serverInfo": map[string]interface{}{
			"name":    "tool-router",
			"version": version.Version,
		},
	}, nil
}

func (s *Server) handleRoute(params json.RawMessage) (interface{}, *Error) {
	var p struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &Error{Code: codeInvalidParams, Message: "invalid params: " + err.Error()}
	}

	dec, err := s.router.Route(s.ctx, p.Query)
	if err != nil {
		return nil, &Error{Code: codeAppError, Message: err.Error()}
	}
	return dec, nil
}

func (s *Server) handleReportOutcome(params json.RawMessage) (interface{}, *Error) {
	var p struct {
		DecisionID string `json:"decisionId"`
		Success    bool   `json:"success"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &Error{Code: codeInvalidParams, Message: "invalid params: " + err.Error()}
	}
	if p.DecisionID == "" {
		return nil, &Error{Code: codeInvalidParams, Message: "decisionId is required"}
	}

	if err := s.router.ReportOutcome(p.DecisionID, p.Success); err != nil {
		return nil, &Error{Code: codeAppError, Message: err.Error()}
	}
	return map[string]interface{}{"recorded": true}, nil
}

func (s *Server) handleCorrect(params json.RawMessage) (interface{}, *Error) {
	var p struct {
		DecisionID string            `json:"decisionId"`
		Tool       string            `json:"tool"`
		Arguments  map[string]string `json:"arguments,omitempty"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &Error{Code: codeInvalidParams, Message: "invalid params: " + err.Error()}
	}
	if p.DecisionID == "" || p.Tool == "" {
		return nil, &Error{Code: codeInvalidParams, Message: "decisionId and tool are required"}
	}

	inserted, err := s.corpus.RecordCorrection(p.DecisionID, p.Tool, p.Arguments)
	if err != nil {
		return nil, &Error{Code: codeAppError, Message: err.Error()}
	}
	return map[string]interface{}{"recorded": inserted}, nil
}

func (s *Server) handleRegister(params json.RawMessage) (interface{}, *Error) {
	var desc registry.ToolDescriptor
	if err := json.Unmarshal(params, &desc); err != nil {
		return nil, &Error{Code: codeInvalidParams, Message: "invalid params: " + err.Error()}
	}

	desc.Enabled = true
	if err := s.registry.Register(desc); err != nil {
		return nil, &Error{Code: codeAppError, Message: err.Error()}
	}

	examples, err := s.corpus.GenerateForTool(desc)
	if err != nil {
		s.logger.Warn("corpus generation failed", zap.String("tool", desc.Name), zap.Error(err))
	}
	if err := s.reindexMidTier(); err != nil {
		return nil, &Error{Code: codeAppError, Message: err.Error()}
	}
	if err := s.SaveCatalog(); err != nil {
		return nil, &Error{Code: codeAppError, Message: err.Error()}
	}

	return map[string]interface{}{
		"registered": desc.Name,
		"examples":   len(examples),
	}, nil
}

func (s *Server) handleDeregister(params json.RawMessage) (interface{}, *Error) {
	var p struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &Error{Code: codeInvalidParams, Message: "invalid params: " + err.Error()}
	}

	if err := s.registry.Deregister(p.Name); err != nil {
		return nil, &Error{Code: codeAppError, Message: err.Error()}
	}
	if err := s.reindexMidTier(); err != nil {
		return nil, &Error{Code: codeAppError, Message: err.Error()}
	}
	if err := s.SaveCatalog(); err != nil {
		return nil, &Error{Code: codeAppError, Message: err.Error()}
	}
	return map[string]interface{}{"deregistered": p.Name}, nil
}

func (s *Server) handleListTools() (interface{}, *Error) {
	return map[string]interface{}{"tools": s.registry.List()}, nil
}

func (s *Server) handlePropose(params json.RawMessage) (interface{}, *Error) {
	var p struct {
		Category    string `json:"category"`
		Impact      string `json:"impact"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &Error{Code: codeInvalidParams, Message: "invalid params: " + err.Error()}
	}

	rec, err := s.manager.Propose(p.Category, p.Impact, p.Description)
	if err != nil {
		return nil, &Error{Code: codeAppError, Message: err.Error()}
	}
	return rec, nil
}

func (s *Server) handleApprove(params json.RawMessage) (interface{}, *Error) {
	var p struct {
		ProposalID string `json:"proposalId"`
		Approve    bool   `json:"approve"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &Error{Code: codeInvalidParams, Message: "invalid params: " + err.Error()}
	}

	rec, err := s.manager.ResumeApproval(p.ProposalID, p.Approve)
	if err != nil {
		return nil, &Error{Code: codeAppError, Message: err.Error()}
	}
	return rec, nil
}

func (s *Server) handleApply(params json.RawMessage) (interface{}, *Error) {
	var p struct {
		ProposalID string `json:"proposalId"`
		NoWait     bool   `json:"noWait,omitempty"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &Error{Code: codeInvalidParams, Message: "invalid params: " + err.Error()}
	}

	var rec *storage.ProposalRecord
	var err error
	if p.NoWait {
		rec, err = s.manager.TryApply(s.ctx, p.ProposalID)
	} else {
		rec, err = s.manager.Apply(s.ctx, p.ProposalID)
	}
	if err != nil {
		return nil, &Error{Code: codeAppError, Message: err.Error()}
	}
	return rec, nil
}

func (s *Server) handleRollback(params json.RawMessage) (interface{}, *Error) {
	var p struct {
		ProposalID string `json:"proposalId"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &Error{Code: codeInvalidParams, Message: "invalid params: " + err.Error()}
	}

	rec, err := s.manager.Rollback(p.ProposalID)
	if err != nil {
		return nil, &Error{Code: codeAppError, Message: err.Error()}
	}
	return rec, nil
}

func (s *Server) handleStatus() (interface{}, *Error) {
	status := map[string]interface{}{
		"tools":            s.registry.Len(),
		"pendingDecisions": s.tracker.Pending(),
		"fallback":         s.fallback.Configured(),
		"snapshot":         "",
	}
	if snap := s.live.Current(); snap != nil {
		status["snapshot"] = snap.VersionID
	}
	return status, nil
}

// reindexMidTier rebuilds the keyword and utterance indexes after a catalog
// change. The mid tier owns its bleve index, so registration changes are not
// visible until this runs.
func (s *Server) reindexMidTier() error {
	return s.mid.Reindex()
}

func (s *Server) send(resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("failed to marshal response", zap.Error(err))
		return
	}
	fmt.Fprintln(s.out, string(data))
}
