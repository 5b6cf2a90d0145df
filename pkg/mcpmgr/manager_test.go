package mcpmgr

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tidewater-labs/skiff/pkg/jsonrpc"
	"github.com/tidewater-labs/skiff/pkg/mcpclient"
)

const helperEnvVar = "GO_TEST_MCP_SERVER"

// TestMain re-executes the test binary as a minimal stdio MCP server when the
// helper variable is set, so manager tests exercise a real spawned process.
func TestMain(m *testing.M) {
	if os.Getenv(helperEnvVar) == "1" {
		runHelperServer()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

// runHelperServer answers initialize, tools/list, tools/call, and ping over
// newline-framed JSON-RPC on stdin/stdout.
func runHelperServer() {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	out := bufio.NewWriter(os.Stdout)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		msg, err := jsonrpc.Decode([]byte(line))
		if err != nil || !msg.IsRequest() {
			continue
		}
		var reply *jsonrpc.Message
		switch msg.Method {
		case "initialize":
			reply, _ = jsonrpc.NewResponse(msg.ID, map[string]any{
				"protocolVersion": mcpclient.ProtocolVersion,
				"capabilities":    map[string]any{"tools": map[string]any{}},
				"serverInfo":      map[string]string{"name": "helper", "version": "0.0.1"},
			})
		case "tools/list":
			reply, _ = jsonrpc.NewResponse(msg.ID, map[string]any{
				"tools": []map[string]any{
					{
						"name":        "echo",
						"description": "Echo back the message argument",
						"inputSchema": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"message": map[string]any{"type": "string"},
							},
						},
					},
				},
			})
		case "tools/call":
			var params struct {
				Name      string         `json:"name"`
				Arguments map[string]any `json:"arguments"`
			}
			_ = json.Unmarshal(msg.Params, &params)
			text, _ := params.Arguments["message"].(string)
			reply, _ = jsonrpc.NewResponse(msg.ID, map[string]any{
				"content": []map[string]any{{"type": "text", "text": text}},
			})
		case "ping":
			reply, _ = jsonrpc.NewResponse(msg.ID, map[string]any{})
		default:
			reply = jsonrpc.NewErrorResponse(msg.ID, jsonrpc.CodeMethodNotFound, "unknown method")
		}
		data, err := reply.Encode()
		if err != nil {
			continue
		}
		out.Write(data)
		out.WriteByte('\n')
		out.Flush()
	}
}

// helperConfig launches this test binary in helper mode. Extra env vars feed
// the config comparator tests.
func helperConfig(env map[string]string) ServerConfig {
	full := map[string]string{helperEnvVar: "1"}
	for k, v := range env {
		full[k] = v
	}
	return ServerConfig{
		Transport: TransportStdio,
		Command:   os.Args[0],
		Env:       full,
	}
}

// statusRecorder captures every status transition the manager publishes.
type statusRecorder struct {
	mu     sync.Mutex
	events []ServerStatus
}

func (r *statusRecorder) record(st ServerStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, st)
}

func (r *statusRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func (r *statusRecorder) forServer(id string) []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Status
	for _, st := range r.events {
		if st.ID == id {
			out = append(out, st.Status)
		}
	}
	return out
}

func newTestManager(rec *statusRecorder) *Manager {
	opts := Options{RequestTimeout: 5 * time.Second}
	if rec != nil {
		opts.OnStatusChange = rec.record
	}
	return NewManager(opts)
}

func TestInitializeIsolatesFailures(t *testing.T) {
	t.Parallel()

	m := newTestManager(nil)
	defer m.ShutdownAll()

	cfg := Config{
		"good": helperConfig(nil),
		"bad":  {Transport: TransportStdio, Command: "/nonexistent/mcp-server-xyz"},
	}
	if err := m.Initialize(t.Context(), cfg); err != nil {
		t.Fatalf("Initialize returned %v, startup failures must stay per-server", err)
	}

	good, ok := m.Status("good")
	if !ok || good.Status != StatusRunning {
		t.Fatalf("good status = %+v", good)
	}
	if len(good.Tools) != 1 || good.Tools[0].Name != "echo" {
		t.Fatalf("good tools = %+v", good.Tools)
	}
	if good.Tools[0].Enabled {
		t.Fatalf("discovered tools must start disabled")
	}

	bad, ok := m.Status("bad")
	if !ok || bad.Status != StatusError {
		t.Fatalf("bad status = %+v", bad)
	}
	if bad.Error == "" {
		t.Fatalf("bad server error message not captured")
	}
}

func TestInitializeLeavesDisabledServersUnloaded(t *testing.T) {
	t.Parallel()

	m := newTestManager(nil)
	defer m.ShutdownAll()

	if err := m.Initialize(t.Context(), Config{"off": Disabled(helperConfig(nil))}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	st, ok := m.Status("off")
	if !ok || st.Status != StatusUnloaded {
		t.Fatalf("disabled server status = %+v", st)
	}
	if m.IsRunning("off") {
		t.Fatalf("disabled server has a live connection")
	}
}

func TestCallToolThroughManager(t *testing.T) {
	t.Parallel()

	m := newTestManager(nil)
	defer m.ShutdownAll()

	if err := m.Initialize(t.Context(), Config{"srv": helperConfig(nil)}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	result, err := m.CallTool(t.Context(), "srv", "echo", map[string]any{"message": "round trip"})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if got := result.Text(); got != "round trip" {
		t.Fatalf("result text = %q", got)
	}

	if _, err := m.CallTool(t.Context(), "missing", "echo", nil); !errors.Is(err, ErrNoConnection) {
		t.Fatalf("CallTool on unknown server = %v, want %v", err, ErrNoConnection)
	}
}

func TestReconcileRestartsOnlyChangedServer(t *testing.T) {
	t.Parallel()

	rec := &statusRecorder{}
	m := newTestManager(rec)
	defer m.ShutdownAll()

	cfg := Config{
		"a": helperConfig(nil),
		"b": helperConfig(map[string]string{"TOKEN": "one"}),
	}
	if err := m.Initialize(t.Context(), cfg); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	rec.reset()

	next := Config{
		"a": helperConfig(nil),
		"b": helperConfig(map[string]string{"TOKEN": "two"}),
	}
	if err := m.Reconcile(t.Context(), next); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if events := rec.forServer("a"); len(events) != 0 {
		t.Fatalf("unchanged server saw transitions: %v", events)
	}
	bEvents := rec.forServer("b")
	if len(bEvents) == 0 || bEvents[0] != StatusStopped {
		t.Fatalf("changed server must close before restarting, transitions: %v", bEvents)
	}
	if bEvents[len(bEvents)-1] != StatusRunning {
		t.Fatalf("changed server did not come back up, transitions: %v", bEvents)
	}
}

func TestReconcileRemovesDroppedServers(t *testing.T) {
	t.Parallel()

	m := newTestManager(nil)
	defer m.ShutdownAll()

	cfg := Config{"a": helperConfig(nil), "b": helperConfig(nil)}
	if err := m.Initialize(t.Context(), cfg); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := m.Reconcile(t.Context(), Config{"a": helperConfig(nil)}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if _, ok := m.Status("b"); ok {
		t.Fatalf("removed server still has a status record")
	}
	if m.IsRunning("b") {
		t.Fatalf("removed server still has a live connection")
	}
	if st, _ := m.Status("a"); st.Status != StatusRunning {
		t.Fatalf("surviving server status = %+v", st)
	}
}

func TestReconcileJSONAbandonsMalformedUpdate(t *testing.T) {
	t.Parallel()

	m := newTestManager(nil)
	defer m.ShutdownAll()

	if err := m.Initialize(t.Context(), Config{"a": helperConfig(nil)}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := m.ReconcileJSON(t.Context(), []byte(`{"a": {"transport":`)); err == nil {
		t.Fatalf("expected parse error")
	}
	// The previous configuration stays in force.
	if st, _ := m.Status("a"); st.Status != StatusRunning {
		t.Fatalf("server disturbed by abandoned update: %+v", st)
	}
}

func TestShutdownAllStopsEverything(t *testing.T) {
	t.Parallel()

	m := newTestManager(nil)
	if err := m.Initialize(t.Context(), Config{"a": helperConfig(nil), "b": helperConfig(nil)}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	m.ShutdownAll()

	for _, st := range m.Statuses() {
		if st.Status != StatusStopped {
			t.Fatalf("server %s status = %s after shutdown", st.ID, st.Status)
		}
	}
	if _, err := m.CallTool(t.Context(), "a", "echo", nil); !errors.Is(err, ErrNoConnection) {
		t.Fatalf("CallTool after shutdown = %v, want %v", err, ErrNoConnection)
	}
}

func TestSetToolEnabled(t *testing.T) {
	t.Parallel()

	m := newTestManager(nil)
	defer m.ShutdownAll()

	if err := m.Initialize(t.Context(), Config{"srv": helperConfig(nil)}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	m.SetToolEnabled("srv", "echo", true)
	st, _ := m.Status("srv")
	if len(st.Tools) != 1 || !st.Tools[0].Enabled {
		t.Fatalf("tool not enabled: %+v", st.Tools)
	}
}
