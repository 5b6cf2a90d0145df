// Package transport provides the message-level channels that carry MCP
// JSON-RPC envelopes: a locally spawned process speaking newline-delimited
// JSON over stdio, three HTTP variants (streamable, simulated-SSE, polling),
// and a WebSocket duplex. All implementations share the Transport contract
// and deliver inbound traffic through an Events struct fixed at construction.
package transport

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tidewater-labs/skiff/pkg/jsonrpc"
)

// SessionIDHeader is the HTTP header MCP servers use to pin a client to a
// session. Once observed on a response it is echoed on every later request.
const SessionIDHeader = "Mcp-Session-Id"

// ErrClosed is returned by Send after the transport has been closed.
var ErrClosed = errors.New("transport: closed")

// Transport is a bidirectional channel for JSON-RPC messages. Send transmits
// one message, which may be fire-and-forget (no id) or request-expecting
// (id set); replies and server-initiated traffic arrive via Events.OnMessage.
// Close releases every resource the transport holds, including any pending
// timers, and fires Events.OnClose exactly once.
type Transport interface {
	Start(ctx context.Context) error
	Send(ctx context.Context, msg *jsonrpc.Message) error
	Close() error
}

// Events carries the inbound hooks for one transport instance. All fields are
// optional; they are fixed at construction so delivery never depends on
// assignment order.
type Events struct {
	OnMessage func(*jsonrpc.Message)
	OnError   func(error)
	OnClose   func()
}

func (e Events) message(msg *jsonrpc.Message) {
	if e.OnMessage != nil {
		e.OnMessage(msg)
	}
}

func (e Events) error(err error) {
	if e.OnError != nil {
		e.OnError(err)
	}
}

func (e Events) closed() {
	if e.OnClose != nil {
		e.OnClose()
	}
}

func orDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
