package mcpclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/tidewater-labs/skiff/pkg/transport"
)

// DialOptions tune connection establishment across all transports.
type DialOptions struct {
	Info    Implementation
	Timeout time.Duration
	Logger  *slog.Logger

	// SimulatedSSEHosts lists hostname suffixes whose providers are known to
	// answer only over a push channel; endpoints matching one skip straight
	// to the simulated-SSE transport instead of burning a streamable-HTTP
	// attempt on them.
	SimulatedSSEHosts []string
	// SimulatedCatalog overrides the synthesized tools/list payload used by
	// the simulated-SSE transport.
	SimulatedCatalog []transport.SimulatedTool
	// SynthesisDelay overrides the simulated-SSE response delay.
	SynthesisDelay time.Duration
	// PollInterval overrides the polling transport's read interval.
	PollInterval time.Duration
}

func (o DialOptions) clientOptions() Options {
	return Options{Info: o.Info, Timeout: o.Timeout, Logger: o.Logger}
}

func (o DialOptions) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// DialStdio spawns the configured process and completes the handshake. Local
// processes get no fallback chain; a failure here is final.
func DialStdio(ctx context.Context, opts transport.StdioOptions, dial DialOptions) (*Client, error) {
	client := New(func(events transport.Events) transport.Transport {
		return transport.NewStdio(opts, events, dial.Logger)
	}, dial.clientOptions())
	if _, err := client.Connect(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// DialWebSocket dials the endpoint and completes the handshake.
func DialWebSocket(ctx context.Context, opts transport.WebSocketOptions, dial DialOptions) (*Client, error) {
	client := New(func(events transport.Events) transport.Transport {
		return transport.NewWebSocket(opts, events, dial.Logger)
	}, dial.clientOptions())
	if _, err := client.Connect(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// DialHTTP negotiates a working transport for an HTTP-class endpoint:
// streamable HTTP first, then the simulated-SSE shim, then polling. Each
// attempt builds a fresh client and transport; a candidate that fails its
// handshake is closed before the next is tried, and only the first to
// complete the handshake is retained. Hosts matching SimulatedSSEHosts skip
// the streamable attempt entirely.
func DialHTTP(ctx context.Context, opts transport.HTTPOptions, dial DialOptions) (*Client, error) {
	type candidate struct {
		name    string
		factory TransportFactory
	}

	var candidates []candidate
	if !hostWantsSimulatedSSE(opts.Endpoint, dial.SimulatedSSEHosts) {
		candidates = append(candidates, candidate{"streamable-http", func(events transport.Events) transport.Transport {
			return transport.NewStreamableHTTP(opts, events, dial.Logger)
		}})
	}
	candidates = append(candidates,
		candidate{"simulated-sse", func(events transport.Events) transport.Transport {
			return transport.NewSimulatedSSE(opts, dial.SynthesisDelay, dial.SimulatedCatalog, events, dial.Logger)
		}},
		candidate{"polling", func(events transport.Events) transport.Transport {
			return transport.NewPolling(opts, dial.PollInterval, events, dial.Logger)
		}},
	)

	var errs []error
	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		client := New(cand.factory, dial.clientOptions())
		if _, err := client.Connect(ctx); err != nil {
			client.Close()
			dial.logger().Debug("transport candidate failed",
				"endpoint", opts.Endpoint,
				"candidate", cand.name,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("%s: %w", cand.name, err))
			continue
		}
		dial.logger().Debug("transport negotiated",
			"endpoint", opts.Endpoint,
			"candidate", cand.name,
		)
		return client, nil
	}
	return nil, fmt.Errorf("dial %s: all transports failed: %w", opts.Endpoint, errors.Join(errs...))
}

func hostWantsSimulatedSSE(endpoint string, hosts []string) bool {
	if len(hosts) == 0 {
		return false
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimPrefix(h, "."))
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}
