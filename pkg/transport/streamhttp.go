package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/tidewater-labs/skiff/pkg/jsonrpc"
)

// HTTPOptions describe an MCP server reachable over an HTTP-class transport.
type HTTPOptions struct {
	Endpoint string
	Headers  map[string]string
	Client   *http.Client
}

func (o HTTPOptions) client() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	return http.DefaultClient
}

// StreamableHTTP POSTs each message to the endpoint. A non-empty response
// body is parsed as one or more immediate JSON-RPC messages; an empty body
// for an id-bearing request means the reply would arrive on a server-push
// channel this transport does not provide, so the caller's timeout governs.
// A session id observed on any response header is echoed on all later
// requests.
type StreamableHTTP struct {
	opts   HTTPOptions
	events Events
	logger *slog.Logger

	mu        sync.Mutex
	sessionID string
	closed    bool
	closeOnce sync.Once
}

// NewStreamableHTTP builds a streamable HTTP transport.
func NewStreamableHTTP(opts HTTPOptions, events Events, logger *slog.Logger) *StreamableHTTP {
	return &StreamableHTTP{opts: opts, events: events, logger: orDefault(logger)}
}

// Start validates the endpoint; the first real traffic is the caller's
// initialize request.
func (t *StreamableHTTP) Start(ctx context.Context) error {
	if _, err := url.ParseRequestURI(t.opts.Endpoint); err != nil {
		return fmt.Errorf("streamable http: invalid endpoint %q: %w", t.opts.Endpoint, err)
	}
	return nil
}

// Send POSTs one message and feeds any immediate response body back through
// OnMessage.
func (t *StreamableHTTP) Send(ctx context.Context, msg *jsonrpc.Message) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	session := t.sessionID
	t.mu.Unlock()

	body, status, header, err := postJSONRPC(ctx, t.opts, session, msg)
	if err != nil {
		return fmt.Errorf("streamable http: %w", err)
	}

	if sid := header.Get(SessionIDHeader); sid != "" {
		t.mu.Lock()
		t.sessionID = sid
		t.mu.Unlock()
	}
	if status >= http.StatusBadRequest {
		return fmt.Errorf("streamable http: endpoint returned status %d", status)
	}

	for _, raw := range splitJSONLines(body) {
		reply, err := jsonrpc.Decode(raw)
		if err != nil {
			t.logger.Warn("dropping malformed http response line",
				"endpoint", t.opts.Endpoint,
				"error", err,
			)
			continue
		}
		t.events.message(reply)
	}
	return nil
}

// SessionID returns the sticky session identifier, when one was negotiated.
func (t *StreamableHTTP) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// Close marks the transport closed and fires OnClose.
func (t *StreamableHTTP) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.closeOnce.Do(t.events.closed)
	return nil
}

// postJSONRPC performs one JSON-RPC POST with the shared header conventions
// of the HTTP-class transports and returns the raw body, status, and headers.
func postJSONRPC(ctx context.Context, opts HTTPOptions, sessionID string, msg *jsonrpc.Message) ([]byte, int, http.Header, error) {
	data, err := msg.Encode()
	if err != nil {
		return nil, 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.Endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}
	if sessionID != "" {
		req.Header.Set(SessionIDHeader, sessionID)
	}

	resp, err := opts.client().Do(req)
	if err != nil {
		return nil, 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, resp.Header, fmt.Errorf("read body: %w", err)
	}
	return body, resp.StatusCode, resp.Header, nil
}

// splitJSONLines yields each non-empty line of body; servers answer with a
// single JSON object or a short NDJSON burst.
func splitJSONLines(body []byte) [][]byte {
	var out [][]byte
	for _, line := range bytes.Split(body, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			out = append(out, line)
		}
	}
	return out
}
