package mcpmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tidewater-labs/skiff/pkg/mcpclient"
	"github.com/tidewater-labs/skiff/pkg/transport"
)

// Status is the lifecycle state of a managed server.
type Status string

const (
	StatusUnloaded Status = "unloaded"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusError    Status = "error"
	StatusStopped  Status = "stopped"
)

// ErrNoConnection is returned for calls against a server id with no live
// connection.
var ErrNoConnection = errors.New("no active connection")

// ToolInfo is one discovered tool as recorded on a server's status. Tools
// start disabled; enabling them for use is a caller decision.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// ServerStatus is the externally visible state of one configured server.
type ServerStatus struct {
	ID          string     `json:"id"`
	Name        string     `json:"name,omitempty"`
	Description string     `json:"description,omitempty"`
	Status      Status     `json:"status"`
	Tools       []ToolInfo `json:"tools"`
	Error       string     `json:"error,omitempty"`
}

func (s *ServerStatus) clone() ServerStatus {
	out := *s
	out.Tools = append([]ToolInfo(nil), s.Tools...)
	return out
}

// connection pairs a server id with its live client. Connections are owned
// exclusively by the Manager and never handed out.
type connection struct {
	serverID string
	config   ServerConfig
	client   *mcpclient.Client
}

// Options configure a Manager.
type Options struct {
	// ClientInfo identifies this application to servers during the
	// handshake. A zero value falls back to a per-server identity.
	ClientInfo mcpclient.Implementation
	// RequestTimeout bounds each outstanding request on every connection.
	// Non-positive selects jsonrpc.DefaultTimeout.
	RequestTimeout time.Duration
	// Dial carries transport-negotiation tuning shared by all servers.
	// Info and Timeout on it are overwritten from the fields above.
	Dial mcpclient.DialOptions
	// OnStatusChange, when set, observes every status transition. Called
	// outside the manager's lock.
	OnStatusChange func(ServerStatus)
	Logger         *slog.Logger
}

// Manager owns the full set of MCP server connections: it starts them from
// configuration, reconciles configuration changes into start/stop/restart
// actions, tracks per-server status, and routes tool calls. One server's
// failure never affects its siblings.
type Manager struct {
	opts   Options
	logger *slog.Logger

	mu       sync.RWMutex
	configs  Config
	statuses map[string]*ServerStatus
	conns    map[string]*connection
	starting map[string]struct{}
}

// NewManager builds an empty manager; Initialize loads the first
// configuration.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		opts:     opts,
		logger:   logger,
		configs:  Config{},
		statuses: make(map[string]*ServerStatus),
		conns:    make(map[string]*connection),
		starting: make(map[string]struct{}),
	}
}

// Initialize publishes an unloaded status for every configured server, then
// starts all enabled servers concurrently. Each start is independently
// caught: one server's failure lands in its own status and never aborts the
// batch, so Initialize itself only reports usage errors, not startup ones.
func (m *Manager) Initialize(ctx context.Context, cfg Config) error {
	for id, sc := range cfg {
		if err := sc.Validate(); err != nil {
			return fmt.Errorf("server %q: %w", id, err)
		}
	}

	m.mu.Lock()
	m.configs = cfg
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range cfg.IDs() {
		sc := cfg[id]
		m.publish(id, sc, StatusUnloaded)
		if !sc.IsEnabled() {
			continue
		}
		wg.Add(1)
		go func(id string, sc ServerConfig) {
			defer wg.Done()
			if err := m.startServer(ctx, id, sc); err != nil {
				m.logger.Warn("server failed to start", "server", id, "error", err)
			}
		}(id, sc)
	}
	wg.Wait()

	if len(cfg) > 0 && !m.anyRunning() {
		m.logger.Warn("no MCP servers could be started", "configured", len(cfg))
	}
	return nil
}

// Reconcile diffs the new configuration against the current one and applies
// the resulting plan: removals are closed and forgotten, restarts are closed
// then started fresh, additions start fresh, unchanged servers are untouched.
func (m *Manager) Reconcile(ctx context.Context, cfg Config) error {
	for id, sc := range cfg {
		if err := sc.Validate(); err != nil {
			return fmt.Errorf("server %q: %w", id, err)
		}
	}

	m.mu.Lock()
	old := m.configs
	m.configs = cfg
	m.mu.Unlock()

	plan := Diff(old, cfg)
	m.logger.Debug("reconciling server configuration",
		"add", plan.Add,
		"remove", plan.Remove,
		"restart", plan.Restart,
		"unchanged", plan.Unchanged,
	)

	for _, id := range plan.Remove {
		m.stopServer(id, true)
	}

	var wg sync.WaitGroup
	start := func(id string, sc ServerConfig) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.startServer(ctx, id, sc); err != nil {
				m.logger.Warn("server failed to start", "server", id, "error", err)
			}
		}()
	}
	for _, id := range plan.Restart {
		// The old transport must be fully closed, timers and sockets
		// included, before the replacement spawns under the same id.
		m.stopServer(id, false)
		if sc := cfg[id]; sc.IsEnabled() {
			start(id, sc)
		}
	}
	for _, id := range plan.Add {
		sc := cfg[id]
		m.publish(id, sc, StatusUnloaded)
		if sc.IsEnabled() {
			start(id, sc)
		}
	}
	wg.Wait()
	return nil
}

// ReconcileJSON parses a configuration document and reconciles against it. A
// malformed document abandons the update entirely; the previous configuration
// stays in force.
func (m *Manager) ReconcileJSON(ctx context.Context, data []byte) error {
	cfg, err := ParseConfig(data)
	if err != nil {
		return err
	}
	return m.Reconcile(ctx, cfg)
}

// RestartServer closes and restarts one server with its current
// configuration.
func (m *Manager) RestartServer(ctx context.Context, id string) error {
	m.mu.RLock()
	sc, ok := m.configs[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("restart %s: %w", id, ErrNoConnection)
	}
	m.stopServer(id, false)
	if !sc.IsEnabled() {
		return nil
	}
	return m.startServer(ctx, id, sc)
}

// ShutdownAll closes every live connection. Per-connection failures are
// logged and skipped so one wedged server cannot block shutdown.
func (m *Manager) ShutdownAll() {
	m.mu.Lock()
	conns := make([]*connection, 0, len(m.conns))
	for _, conn := range m.conns {
		conns = append(conns, conn)
	}
	m.conns = make(map[string]*connection)
	m.mu.Unlock()

	for _, conn := range conns {
		if err := conn.client.Close(); err != nil {
			m.logger.Warn("error closing connection during shutdown",
				"server", conn.serverID,
				"error", err,
			)
		}
		m.setStatus(conn.serverID, func(st *ServerStatus) {
			st.Status = StatusStopped
		})
	}
}

// Status returns a snapshot of one server's status.
func (m *Manager) Status(id string) (ServerStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.statuses[id]
	if !ok {
		return ServerStatus{}, false
	}
	return st.clone(), true
}

// Statuses returns snapshots for every known server, sorted by id.
func (m *Manager) Statuses() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ServerStatus, 0, len(m.statuses))
	for _, st := range m.statuses {
		out = append(out, st.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetToolEnabled flips the default-enabled flag on one discovered tool.
func (m *Manager) SetToolEnabled(id, tool string, enabled bool) {
	m.setStatus(id, func(st *ServerStatus) {
		for i := range st.Tools {
			if st.Tools[i].Name == tool {
				st.Tools[i].Enabled = enabled
			}
		}
	})
}

// IsRunning reports whether a server currently has a live connection.
func (m *Manager) IsRunning(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, live := m.conns[id]
	return live
}

// FetchTools re-queries a running server's tool catalog, schemas included.
// Catalogs are deliberately not cached here: a live server can change its
// tools and schemas at any time.
func (m *Manager) FetchTools(ctx context.Context, id string) ([]mcpclient.Tool, error) {
	client, err := m.clientFor(id)
	if err != nil {
		return nil, err
	}
	tools, err := client.ListTools(ctx)
	if err != nil {
		m.observeCallError(id, err)
		return nil, err
	}
	return tools, nil
}

// CallTool invokes one tool on a running server. A connection-level failure
// demotes the server and evicts the connection so later calls fail fast; a
// per-call failure is returned untouched.
func (m *Manager) CallTool(ctx context.Context, id, tool string, args map[string]any) (*mcpclient.ToolResult, error) {
	client, err := m.clientFor(id)
	if err != nil {
		return nil, err
	}
	result, err := client.CallTool(ctx, tool, args)
	if err != nil {
		m.observeCallError(id, err)
		return nil, err
	}
	return result, nil
}

func (m *Manager) clientFor(id string) (*mcpclient.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[id]
	if !ok {
		return nil, fmt.Errorf("server %s: %w", id, ErrNoConnection)
	}
	return conn.client, nil
}

// observeCallError applies the health classifier to a failed call.
func (m *Manager) observeCallError(id string, err error) {
	if !IsConnectionError(err) {
		return
	}
	m.mu.Lock()
	conn, live := m.conns[id]
	delete(m.conns, id)
	m.mu.Unlock()
	if live {
		_ = conn.client.Close()
	}
	m.logger.Warn("connection demoted after connection-level error",
		"server", id,
		"error", err,
	)
	m.setStatus(id, func(st *ServerStatus) {
		st.Status = StatusError
		st.Error = err.Error()
	})
}

// startServer dials one server and promotes its status. Starting an id that
// already has a live connection, or whose start is already in flight, is a
// no-op; that guard is what makes Initialize/Reconcile races safe.
func (m *Manager) startServer(ctx context.Context, id string, sc ServerConfig) error {
	m.mu.Lock()
	if _, live := m.conns[id]; live {
		m.mu.Unlock()
		return nil
	}
	if _, inflight := m.starting[id]; inflight {
		m.mu.Unlock()
		return nil
	}
	m.starting[id] = struct{}{}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.starting, id)
		m.mu.Unlock()
	}()

	m.setStatus(id, func(st *ServerStatus) {
		st.Status = StatusStarting
		st.Error = ""
	})

	client, err := m.dial(ctx, id, sc)
	if err != nil {
		m.setStatus(id, func(st *ServerStatus) {
			st.Status = StatusError
			st.Error = err.Error()
		})
		return fmt.Errorf("start %s: %w", id, err)
	}

	m.mu.Lock()
	st, known := m.statuses[id]
	if !known || st.Status == StatusStopped {
		// Disabled or removed while the dial was in flight.
		m.mu.Unlock()
		_ = client.Close()
		return nil
	}
	m.conns[id] = &connection{serverID: id, config: sc, client: client}
	m.mu.Unlock()

	tools, err := client.ListTools(ctx)
	if err != nil {
		m.logger.Warn("connected but tool listing failed", "server", id, "error", err)
		tools = nil
	}
	infos := make([]ToolInfo, 0, len(tools))
	for _, t := range tools {
		infos = append(infos, ToolInfo{Name: t.Name, Description: t.Description})
	}
	m.setStatus(id, func(st *ServerStatus) {
		st.Status = StatusRunning
		st.Tools = infos
		st.Error = ""
	})
	m.logger.Info("server running", "server", id, "tools", len(infos))
	return nil
}

// stopServer closes one server's connection. With forget set the status
// record is dropped entirely (the id left the configuration); otherwise the
// server is marked stopped.
func (m *Manager) stopServer(id string, forget bool) {
	m.mu.Lock()
	conn, live := m.conns[id]
	delete(m.conns, id)
	if forget {
		delete(m.statuses, id)
	}
	m.mu.Unlock()

	if live {
		if err := conn.client.Close(); err != nil {
			m.logger.Warn("error closing connection", "server", id, "error", err)
		}
	}
	if !forget {
		m.setStatus(id, func(st *ServerStatus) {
			st.Status = StatusStopped
		})
	}
}

func (m *Manager) dial(ctx context.Context, id string, sc ServerConfig) (*mcpclient.Client, error) {
	dialOpts := m.opts.Dial
	dialOpts.Info = m.opts.ClientInfo
	if dialOpts.Info.Name == "" {
		dialOpts.Info = mcpclient.Implementation{Name: "skiff-" + id, Version: "0.1.0"}
	}
	dialOpts.Timeout = m.opts.RequestTimeout
	if dialOpts.Logger == nil {
		dialOpts.Logger = m.logger
	}

	switch sc.Kind() {
	case TransportStdio:
		return mcpclient.DialStdio(ctx, transport.StdioOptions{
			Command: sc.Command,
			Args:    sc.Args,
			Env:     sc.Env,
			Dir:     sc.Cwd,
		}, dialOpts)
	case TransportHTTP:
		return mcpclient.DialHTTP(ctx, transport.HTTPOptions{
			Endpoint: sc.URL,
			Headers:  sc.Headers,
		}, dialOpts)
	case TransportWebSocket:
		return mcpclient.DialWebSocket(ctx, transport.WebSocketOptions{
			URL:               sc.URL,
			Headers:           sc.Headers,
			ReconnectAttempts: sc.ReconnectAttempts,
			ReconnectDelay:    sc.ReconnectDelay(),
		}, dialOpts)
	default:
		return nil, fmt.Errorf("unknown transport %q", sc.Transport)
	}
}

// publish creates or refreshes a status record from configuration.
func (m *Manager) publish(id string, sc ServerConfig, status Status) {
	m.mu.Lock()
	st, ok := m.statuses[id]
	if !ok {
		st = &ServerStatus{ID: id}
		m.statuses[id] = st
	}
	st.Name = sc.Name
	st.Description = sc.Description
	st.Status = status
	snapshot := st.clone()
	m.mu.Unlock()
	m.notify(snapshot)
}

// setStatus mutates one status record and notifies the observer. Unknown ids
// are ignored; a record must have been published first.
func (m *Manager) setStatus(id string, mutate func(*ServerStatus)) {
	m.mu.Lock()
	st, ok := m.statuses[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	mutate(st)
	snapshot := st.clone()
	m.mu.Unlock()
	m.notify(snapshot)
}

func (m *Manager) notify(st ServerStatus) {
	if m.opts.OnStatusChange != nil {
		m.opts.OnStatusChange(st)
	}
}

func (m *Manager) anyRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns) > 0
}
