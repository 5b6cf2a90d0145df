package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tidewater-labs/skiff/pkg/jsonrpc"
)

// WebSocketOptions describe an MCP server reachable over a WebSocket.
// ReconnectAttempts and ReconnectDelay govern retries of the initial dial
// only; a connection lost later is surfaced, not silently re-dialed.
type WebSocketOptions struct {
	URL               string
	Headers           map[string]string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
}

// WebSocket exchanges one JSON-RPC message per text frame over a duplex
// connection.
type WebSocket struct {
	opts   WebSocketOptions
	events Events
	logger *slog.Logger

	mu        sync.Mutex // guards conn writes and closed
	conn      *websocket.Conn
	closed    bool
	closeOnce sync.Once
}

// NewWebSocket builds a WebSocket transport; Start dials.
func NewWebSocket(opts WebSocketOptions, events Events, logger *slog.Logger) *WebSocket {
	return &WebSocket{opts: opts, events: events, logger: orDefault(logger)}
}

// Start dials the endpoint, retrying the initial connection per the
// configured attempts, and begins the read loop.
func (t *WebSocket) Start(ctx context.Context) error {
	u, err := url.Parse(t.opts.URL)
	if err != nil {
		return fmt.Errorf("websocket: invalid url %q: %w", t.opts.URL, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}

	header := http.Header{}
	for k, v := range t.opts.Headers {
		header.Set(k, v)
	}

	attempts := t.opts.ReconnectAttempts
	if attempts < 0 {
		attempts = 0
	}
	delay := t.opts.ReconnectDelay
	if delay <= 0 {
		delay = time.Second
	}

	var conn *websocket.Conn
	for attempt := 0; ; attempt++ {
		conn, _, err = websocket.DefaultDialer.DialContext(ctx, u.String(), header)
		if err == nil {
			break
		}
		if attempt >= attempts {
			return fmt.Errorf("websocket: dial %s: %w", u, err)
		}
		t.logger.Debug("websocket dial failed, retrying",
			"url", u.String(),
			"attempt", attempt+1,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	t.conn = conn
	t.mu.Unlock()

	go t.readLoop(conn)
	return nil
}

// Send writes one message as a single text frame.
func (t *WebSocket) Send(ctx context.Context, msg *jsonrpc.Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.conn == nil {
		return ErrClosed
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("websocket: write: %w", err)
	}
	return nil
}

// Close tears down the connection and fires OnClose.
func (t *WebSocket) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	t.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	t.closeOnce.Do(t.events.closed)
	return nil
}

func (t *WebSocket) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if !closed {
				t.events.error(fmt.Errorf("websocket: read: %w", err))
			}
			t.Close()
			return
		}
		msg, err := jsonrpc.Decode(data)
		if err != nil {
			t.logger.Warn("dropping malformed websocket frame",
				"url", t.opts.URL,
				"error", err,
			)
			continue
		}
		t.events.message(msg)
	}
}
