package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tidewater-labs/skiff/pkg/jsonrpc"
)

// DefaultSynthesisDelay is how long SimulatedSSE waits before delivering a
// synthesized response, approximating one server round-trip.
const DefaultSynthesisDelay = 150 * time.Millisecond

// SimulatedTool is one entry of the catalog a SimulatedSSE transport reports
// from tools/list.
type SimulatedTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema"`
}

// DefaultSimulatedCatalog is a stand-in tool catalog for providers whose real
// catalog cannot be fetched over this channel. Callers connecting to a known
// provider should supply that provider's catalog instead.
var DefaultSimulatedCatalog = []SimulatedTool{
	{
		Name:        "search",
		Description: "Search the provider's indexed content",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string"},
			},
			"required": []string{"query"},
		},
	},
}

// SimulatedSSE is a compatibility shim for HTTP endpoints that acknowledge
// every POST with an empty body and deliver real responses only over a
// server-push channel that cannot carry our auth headers. Requests are still
// POSTed so the server observes them, but responses for the well-known
// handshake methods are synthesized locally after a short fixed delay, and
// unrecognized id-bearing methods receive an empty-result acknowledgment.
// It is best-effort by design, not a faithful protocol implementation.
type SimulatedSSE struct {
	opts    HTTPOptions
	delay   time.Duration
	catalog []SimulatedTool
	events  Events
	logger  *slog.Logger

	mu        sync.Mutex
	sessionID string
	timers    map[*time.Timer]struct{}
	closed    bool
	closeOnce sync.Once
}

// NewSimulatedSSE builds the shim. A zero delay selects
// DefaultSynthesisDelay; a nil catalog selects DefaultSimulatedCatalog.
func NewSimulatedSSE(opts HTTPOptions, delay time.Duration, catalog []SimulatedTool, events Events, logger *slog.Logger) *SimulatedSSE {
	if delay <= 0 {
		delay = DefaultSynthesisDelay
	}
	if catalog == nil {
		catalog = DefaultSimulatedCatalog
	}
	return &SimulatedSSE{
		opts:    opts,
		delay:   delay,
		catalog: catalog,
		events:  events,
		logger:  orDefault(logger),
		timers:  make(map[*time.Timer]struct{}),
	}
}

func (t *SimulatedSSE) Start(ctx context.Context) error {
	return nil
}

// Send POSTs the message best-effort and schedules a synthesized reply for
// id-bearing requests.
func (t *SimulatedSSE) Send(ctx context.Context, msg *jsonrpc.Message) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	session := t.sessionID
	t.mu.Unlock()

	// The endpoint only ever acknowledges; a delivery failure is logged, not
	// fatal, because the synthesized reply is what the caller consumes.
	if _, _, header, err := postJSONRPC(ctx, t.opts, session, msg); err != nil {
		t.logger.Debug("simulated sse post failed",
			"endpoint", t.opts.Endpoint,
			"method", msg.Method,
			"error", err,
		)
	} else if sid := header.Get(SessionIDHeader); sid != "" {
		t.mu.Lock()
		t.sessionID = sid
		t.mu.Unlock()
	}

	if !msg.IsRequest() {
		return nil
	}
	t.schedule(msg.ID, msg.Method)
	return nil
}

// Close cancels every outstanding synthesis timer and fires OnClose.
func (t *SimulatedSSE) Close() error {
	t.mu.Lock()
	t.closed = true
	for timer := range t.timers {
		timer.Stop()
	}
	t.timers = make(map[*time.Timer]struct{})
	t.mu.Unlock()
	t.closeOnce.Do(t.events.closed)
	return nil
}

func (t *SimulatedSSE) schedule(id int64, method string) {
	var timer *time.Timer
	timer = time.AfterFunc(t.delay, func() {
		t.mu.Lock()
		_, live := t.timers[timer]
		delete(t.timers, timer)
		t.mu.Unlock()
		if !live {
			return
		}
		reply, err := t.synthesize(id, method)
		if err != nil {
			t.events.error(err)
			return
		}
		t.events.message(reply)
	})
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		timer.Stop()
		return
	}
	t.timers[timer] = struct{}{}
	t.mu.Unlock()
}

func (t *SimulatedSSE) synthesize(id int64, method string) (*jsonrpc.Message, error) {
	switch method {
	case "initialize":
		return jsonrpc.NewResponse(id, map[string]any{
			"protocolVersion": "2024-11-05",
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo": map[string]any{
				"name":    "simulated-sse",
				"version": "0.0.0",
			},
		})
	case "tools/list":
		return jsonrpc.NewResponse(id, map[string]any{"tools": t.catalog})
	default:
		return jsonrpc.NewResponse(id, map[string]any{})
	}
}
