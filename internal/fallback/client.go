/*
Package fallback spawns and talks to the high-capability fallback backend.

The backend is an external process speaking line-delimited JSON-RPC on
stdio. The client spawns it lazily on the first escalated request, keeps it
alive across requests, and shuts it down gracefully: stdin closes first, the
process gets a short grace period, then it is force killed.
*/
package fallback

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/khanglvm/tool-router/internal/config"
)

// Result is a fallback routing answer.
type Result struct {
	ToolName   string            `json:"tool_name"`
	Arguments  map[string]string `json:"arguments,omitempty"`
	Confidence float64           `json:"confidence"`
	Reasoning  string            `json:"reasoning,omitempty"`
}

// Client manages the fallback backend process.
type Client struct {
	cfg    config.Fallback
	logger *zap.Logger

	mu     sync.Mutex
	proc   *process
}

type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	mu     sync.Mutex
	// reqID is a counter rather than UnixNano so ids stay inside the safe
	// integer range of JSON number consumers.
	reqID int64
}

// NewClient creates a fallback client. The backend is not spawned until the
// first request.
func NewClient(cfg config.Fallback, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, logger: logger}
}

// Configured reports whether a fallback command is set. Routing treats an
// unconfigured fallback as a terminal no-match.
func (c *Client) Configured() bool {
	return c.cfg.Command != ""
}

// Route asks the backend to pick a tool for the query. The tool names give
// the backend the current registry surface. The context bounds the whole
// exchange; a timeout here is terminal for the request.
func (c *Client) Route(ctx context.Context, query string, toolNames []string) (*Result, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("no fallback backend configured")
	}

	proc, err := c.getOrSpawn()
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(c.cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := proc.sendRequest(ctx, "route", map[string]interface{}{
		"query": query,
		"tools": toolNames,
	})
	if err != nil {
		// A dead or wedged backend is not reusable; drop it so the next
		// request respawns.
		c.dropProcess(proc)
		return nil, err
	}

	resultBytes, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var result Result
	if err := json.Unmarshal(resultBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to parse fallback result: %w", err)
	}
	if result.ToolName == "" {
		return nil, fmt.Errorf("fallback returned no tool for query")
	}
	return &result, nil
}

// Close shuts the backend down: stdin closes first as the graceful signal,
// then a 2s grace period, then force kill.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.proc == nil {
		return nil
	}
	proc := c.proc
	c.proc = nil

	if proc.stdin != nil {
		if err := proc.stdin.Close(); err != nil {
			c.logger.Warn("failed to close fallback stdin", zap.Error(err))
		}
	}

	done := make(chan error, 1)
	go func() {
		done <- proc.cmd.Wait()
	}()

	select {
	case err := <-done:
		if err != nil && !strings.Contains(err.Error(), "signal: killed") {
			return fmt.Errorf("fallback backend exit: %w", err)
		}
	case <-time.After(2 * time.Second):
		c.logger.Warn("fallback backend did not exit gracefully, force killing")
		proc.kill()
	}
	return nil
}

func (c *Client) getOrSpawn() (*process, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.proc != nil {
		return c.proc, nil
	}

	proc, err := spawn(c.cfg)
	if err != nil {
		return nil, err
	}
	c.logger.Info("spawned fallback backend", zap.String("command", c.cfg.Command))
	c.proc = proc
	return proc, nil
}

func (c *Client) dropProcess(proc *process) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.proc == proc {
		c.proc = nil
		proc.kill()
	}
}

// execCommand is a variable so tests can substitute the spawned binary.
var execCommand = exec.Command

func spawn(cfg config.Fallback) (*process, error) {
	cmd := execCommand(cfg.Command, cfg.Args...)

	cmd.Env = os.Environ()
	for key, value := range cfg.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, value))
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	// Drain stderr in the background: if the pipe buffer fills the child
	// blocks entirely, stdout included.
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start fallback backend: %w", err)
	}

	// The goroutine exits on its own when the child dies and the pipe hits
	// EOF; no cancellation needed.
	go io.Copy(io.Discard, stderr)

	return &process{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
	}, nil
}

// sendRequest sends one JSON-RPC request and waits for the matching line.
func (proc *process) sendRequest(ctx context.Context, method string, params interface{}) (interface{}, error) {
	proc.mu.Lock()
	defer proc.mu.Unlock()

	proc.reqID++
	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      proc.reqID,
		"method":  method,
	}
	if params != nil {
		req["params"] = params
	}

	reqBytes, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	reqBytes = append(reqBytes, '\n')

	if _, err := proc.stdin.Write(reqBytes); err != nil {
		return nil, fmt.Errorf("failed to send fallback request: %w", err)
	}

	responseChan := make(chan []byte, 1)
	errorChan := make(chan error, 1)
	go func() {
		line, err := proc.stdout.ReadBytes('\n')
		if err != nil {
			errorChan <- fmt.Errorf("failed to read fallback response: %w", err)
			return
		}
		responseChan <- line
	}()

	select {
	case line := <-responseChan:
		var resp struct {
			JSONRPC string      `json:"jsonrpc"`
			ID      interface{} `json:"id"`
			Result  interface{} `json:"result"`
			Error   *struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(line, &resp); err != nil {
			return nil, fmt.Errorf("failed to parse fallback response: %w", err)
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("fallback error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil

	case err := <-errorChan:
		return nil, err

	case <-ctx.Done():
		return nil, fmt.Errorf("fallback request timed out: %w", ctx.Err())
	}
}

func (proc *process) kill() {
	if proc.cmd != nil && proc.cmd.Process != nil {
		proc.cmd.Process.Kill()
	}
}
