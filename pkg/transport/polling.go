package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/tidewater-labs/skiff/pkg/jsonrpc"
)

// DefaultPollInterval is how often the polling transport asks the endpoint
// for queued responses.
const DefaultPollInterval = time.Second

// Polling is the last-resort HTTP fallback. Outbound messages are POSTed like
// the streamable transport; queued responses are retrieved by issuing a GET
// against the endpoint on a fixed interval and parsing any JSON-RPC lines in
// the body.
type Polling struct {
	opts     HTTPOptions
	interval time.Duration
	events   Events
	logger   *slog.Logger

	mu        sync.Mutex
	sessionID string
	cancel    context.CancelFunc
	closed    bool
	closeOnce sync.Once
}

// NewPolling builds a polling transport. A non-positive interval selects
// DefaultPollInterval.
func NewPolling(opts HTTPOptions, interval time.Duration, events Events, logger *slog.Logger) *Polling {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Polling{opts: opts, interval: interval, events: events, logger: orDefault(logger)}
}

// Start launches the poll loop.
func (t *Polling) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		cancel()
		return ErrClosed
	}
	t.cancel = cancel
	t.mu.Unlock()

	go t.loop(loopCtx)
	return nil
}

// Send POSTs one message; immediate non-empty bodies are delivered like the
// streamable transport, everything else arrives via the poll loop.
func (t *Polling) Send(ctx context.Context, msg *jsonrpc.Message) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	session := t.sessionID
	t.mu.Unlock()

	body, status, header, err := postJSONRPC(ctx, t.opts, session, msg)
	if err != nil {
		return fmt.Errorf("polling: %w", err)
	}
	if sid := header.Get(SessionIDHeader); sid != "" {
		t.mu.Lock()
		t.sessionID = sid
		t.mu.Unlock()
	}
	if status >= http.StatusBadRequest {
		return fmt.Errorf("polling: endpoint returned status %d", status)
	}
	t.deliverLines(body)
	return nil
}

// Close stops the poll loop and fires OnClose.
func (t *Polling) Close() error {
	t.mu.Lock()
	t.closed = true
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	t.closeOnce.Do(t.events.closed)
	return nil
}

func (t *Polling) loop(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.poll(ctx)
		}
	}
}

func (t *Polling) poll(ctx context.Context) {
	t.mu.Lock()
	session := t.sessionID
	t.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.opts.Endpoint, nil)
	if err != nil {
		return
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range t.opts.Headers {
		req.Header.Set(k, v)
	}
	if session != "" {
		req.Header.Set(SessionIDHeader, session)
	}

	resp, err := t.opts.client().Do(req)
	if err != nil {
		// Transient by definition; the next tick retries.
		t.logger.Debug("poll failed", "endpoint", t.opts.Endpoint, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return
	}
	t.deliverLines(body)
}

func (t *Polling) deliverLines(body []byte) {
	for _, raw := range splitJSONLines(body) {
		msg, err := jsonrpc.Decode(raw)
		if err != nil {
			t.logger.Warn("dropping malformed polled line",
				"endpoint", t.opts.Endpoint,
				"error", err,
			)
			continue
		}
		t.events.message(msg)
	}
}
