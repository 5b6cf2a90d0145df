// Package mcpclient implements an MCP client over a message transport:
// the initialize handshake, tool listing and invocation, and request/response
// correlation with per-request timeouts.
package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tidewater-labs/skiff/pkg/jsonrpc"
	"github.com/tidewater-labs/skiff/pkg/transport"
)

// ProtocolVersion is the MCP revision this client negotiates.
const ProtocolVersion = "2024-11-05"

// Implementation identifies one side of an MCP session.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Tool is a callable tool as reported by a server's tools/list.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// Content is one part of a tool result. Only textual parts are interpreted;
// other types are carried through untouched.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ToolResult is the structured result of a tools/call invocation.
type ToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Text concatenates the textual parts of the result. A result with no textual
// parts yields "".
func (r *ToolResult) Text() string {
	var out string
	for _, c := range r.Content {
		if c.Type == "text" {
			out += c.Text
		}
	}
	return out
}

// InitializeResult is the server's half of the handshake.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      Implementation `json:"serverInfo"`
}

// TransportFactory builds a transport wired to the given event hooks. The
// client owns the hooks so it can feed inbound responses to its correlator.
type TransportFactory func(events transport.Events) transport.Transport

// Options configure a Client.
type Options struct {
	// Info identifies this client in the initialize handshake. Zero value
	// gets a generic identity.
	Info Implementation
	// Timeout bounds each outstanding request. Non-positive selects
	// jsonrpc.DefaultTimeout.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Client speaks MCP over a single transport. Methods are safe for concurrent
// use; responses are matched to requests by id, so callers may overlap.
type Client struct {
	transport  transport.Transport
	correlator *jsonrpc.Correlator
	info       Implementation
	logger     *slog.Logger

	mu         sync.Mutex
	serverInfo Implementation
	connected  bool
	closed     bool
}

// New builds a Client around the transport produced by factory. The transport
// is not started until Connect.
func New(factory TransportFactory, opts Options) *Client {
	info := opts.Info
	if info.Name == "" {
		info = Implementation{Name: "skiff", Version: "0.1.0"}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		correlator: jsonrpc.NewCorrelator(opts.Timeout),
		info:       info,
		logger:     logger,
	}
	c.transport = factory(transport.Events{
		OnMessage: c.handleMessage,
		OnError:   c.handleError,
		OnClose:   c.handleClose,
	})
	return c
}

// Connect starts the transport and runs the initialize handshake, then sends
// notifications/initialized. It must be called once before ListTools,
// CallTool, or Ping.
func (c *Client) Connect(ctx context.Context) (*InitializeResult, error) {
	if err := c.transport.Start(ctx); err != nil {
		return nil, fmt.Errorf("start transport: %w", err)
	}

	params := map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      c.info,
	}
	raw, err := c.call(ctx, "initialize", params)
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	var result InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("initialize: decode result: %w", err)
	}

	note, err := jsonrpc.NewNotification("notifications/initialized", nil)
	if err != nil {
		return nil, err
	}
	if err := c.transport.Send(ctx, note); err != nil {
		return nil, fmt.Errorf("initialized notification: %w", err)
	}

	c.mu.Lock()
	c.serverInfo = result.ServerInfo
	c.connected = true
	c.mu.Unlock()
	return &result, nil
}

// ServerInfo reports the identity the server declared during the handshake.
func (c *Client) ServerInfo() Implementation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// ListTools fetches the server's current tool catalog.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	raw, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}
	var result struct {
		Tools []Tool `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("tools/list: decode result: %w", err)
	}
	return result.Tools, nil
}

// CallTool invokes one tool by its server-local name.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	params := map[string]any{"name": name}
	if args != nil {
		params["arguments"] = args
	}
	raw, err := c.call(ctx, "tools/call", params)
	if err != nil {
		return nil, fmt.Errorf("tools/call %s: %w", name, err)
	}
	var result ToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("tools/call %s: decode result: %w", name, err)
	}
	return &result, nil
}

// Ping checks that the server is still answering.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, "ping", nil)
	return err
}

// Close tears down the transport. Outstanding requests are failed by the
// close hook.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.transport.Close()
}

// call sends one request and blocks until its response, its timeout, or ctx
// cancellation.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.correlator.NextID()
	req, err := jsonrpc.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	ch := c.correlator.Register(id)
	if err := c.transport.Send(ctx, req); err != nil {
		c.correlator.Fail(id, err)
		<-ch
		return nil, err
	}
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Msg.Error != nil {
			return nil, res.Msg.Error
		}
		return res.Msg.Result, nil
	case <-ctx.Done():
		c.correlator.Fail(id, ctx.Err())
		return nil, ctx.Err()
	}
}

func (c *Client) handleMessage(msg *jsonrpc.Message) {
	switch {
	case msg.IsResponse():
		if !c.correlator.Resolve(msg) {
			c.logger.Debug("dropping unmatched response", "id", msg.ID)
		}
	case msg.IsNotification():
		c.logger.Debug("server notification", "method", msg.Method)
	case msg.IsRequest():
		c.handleServerRequest(msg)
	}
}

// handleServerRequest answers the few requests servers are allowed to send a
// client. Ping gets an empty result; anything else is declined.
func (c *Client) handleServerRequest(msg *jsonrpc.Message) {
	var reply *jsonrpc.Message
	if msg.Method == "ping" {
		reply, _ = jsonrpc.NewResponse(msg.ID, map[string]any{})
	} else {
		reply = jsonrpc.NewErrorResponse(msg.ID, jsonrpc.CodeMethodNotFound,
			fmt.Sprintf("method %q not supported", msg.Method))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.transport.Send(ctx, reply); err != nil {
		c.logger.Warn("failed to answer server request", "method", msg.Method, "error", err)
	}
}

func (c *Client) handleError(err error) {
	c.logger.Warn("transport error", "error", err)
}

func (c *Client) handleClose() {
	c.correlator.FailAll(transport.ErrClosed)
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}
