package fallback

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/khanglvm/tool-router/internal/config"
)

// echoBackend builds a config whose command answers every request line with
// the given JSON-RPC response line.
func echoBackend(response string, timeoutSeconds int) config.Fallback {
	script := `while read -r line; do printf '%s\n' '` + response + `'; done`
	return config.Fallback{
		Command:        "sh",
		Args:           []string{"-c", script},
		TimeoutSeconds: timeoutSeconds,
	}
}

func TestUnconfiguredClient(t *testing.T) {
	c := NewClient(config.Fallback{}, zap.NewNop())
	if c.Configured() {
		t.Error("empty config should not report configured")
	}
	if _, err := c.Route(context.Background(), "anything", nil); err == nil {
		t.Error("expected error from unconfigured client")
	}
}

func TestRouteRoundTrip(t *testing.T) {
	cfg := echoBackend(`{"jsonrpc":"2.0","id":1,"result":{"tool_name":"deploy_service","arguments":{"service":"billing"},"confidence":0.9}}`, 5)
	c := NewClient(cfg, zap.NewNop())
	defer c.Close()

	result, err := c.Route(context.Background(), "deploy billing", []string{"deploy_service", "cluster_status"})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if result.ToolName != "deploy_service" {
		t.Errorf("tool = %q, want deploy_service", result.ToolName)
	}
	if result.Arguments["service"] != "billing" {
		t.Errorf("arguments = %v", result.Arguments)
	}
	if result.Confidence != 0.9 {
		t.Errorf("confidence = %v, want 0.9", result.Confidence)
	}
}

func TestRouteReusesProcess(t *testing.T) {
	cfg := echoBackend(`{"jsonrpc":"2.0","id":1,"result":{"tool_name":"cluster_status","confidence":0.8}}`, 5)
	c := NewClient(cfg, zap.NewNop())
	defer c.Close()

	if _, err := c.Route(context.Background(), "first", nil); err != nil {
		t.Fatalf("first Route failed: %v", err)
	}
	first := c.proc
	if _, err := c.Route(context.Background(), "second", nil); err != nil {
		t.Fatalf("second Route failed: %v", err)
	}
	if c.proc != first {
		t.Error("second request should reuse the spawned process")
	}
}

func TestRouteSurvivesNoisyStderr(t *testing.T) {
	// A backend that floods stderr past the pipe buffer would deadlock the
	// whole process, stdout included, if nothing drained it.
	script := `i=0; while [ $i -lt 2000 ]; do printf '%0100d\n' "$i" >&2; i=$((i+1)); done
while read -r line; do printf '%s\n' '{"jsonrpc":"2.0","id":1,"result":{"tool_name":"cluster_status","confidence":0.8}}'; done`
	cfg := config.Fallback{Command: "sh", Args: []string{"-c", script}, TimeoutSeconds: 5}
	c := NewClient(cfg, zap.NewNop())
	defer c.Close()

	result, err := c.Route(context.Background(), "cluster status please", nil)
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if result.ToolName != "cluster_status" {
		t.Errorf("tool = %q, want cluster_status", result.ToolName)
	}
}

func TestRouteBackendError(t *testing.T) {
	cfg := echoBackend(`{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"model overloaded"}}`, 5)
	c := NewClient(cfg, zap.NewNop())
	defer c.Close()

	_, err := c.Route(context.Background(), "anything", nil)
	if err == nil || !strings.Contains(err.Error(), "model overloaded") {
		t.Errorf("expected backend error, got %v", err)
	}
}

func TestRouteMissingToolName(t *testing.T) {
	cfg := echoBackend(`{"jsonrpc":"2.0","id":1,"result":{"confidence":0.5}}`, 5)
	c := NewClient(cfg, zap.NewNop())
	defer c.Close()

	if _, err := c.Route(context.Background(), "anything", nil); err == nil {
		t.Error("expected error when backend omits tool_name")
	}
}

func TestRouteTimeout(t *testing.T) {
	// A backend that swallows requests without answering.
	cfg := config.Fallback{
		Command:        "sh",
		Args:           []string{"-c", "while read -r line; do :; done"},
		TimeoutSeconds: 30,
	}
	c := NewClient(cfg, zap.NewNop())
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Route(ctx, "anything", nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timeout took %v, should honor the caller deadline", elapsed)
	}

	// A timed-out process is dropped so the next request respawns.
	c.mu.Lock()
	dropped := c.proc == nil
	c.mu.Unlock()
	if !dropped {
		t.Error("wedged process should be dropped after timeout")
	}
}

func TestRequestIDsIncrement(t *testing.T) {
	proc := &process{}

	ids := make(map[int64]bool)
	for i := 0; i < 100; i++ {
		proc.mu.Lock()
		proc.reqID++
		id := proc.reqID
		proc.mu.Unlock()

		if ids[id] {
			t.Errorf("duplicate request id %d", id)
		}
		ids[id] = true
	}
	if len(ids) != 100 {
		t.Errorf("expected 100 unique ids, got %d", len(ids))
	}
}

func TestCloseWithoutSpawn(t *testing.T) {
	c := NewClient(config.Fallback{Command: "sh"}, zap.NewNop())
	if err := c.Close(); err != nil {
		t.Errorf("Close on unspawned client returned %v", err)
	}
}
