package mcpmgr

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// TransportKind discriminates the transport-specific shape of a ServerConfig.
type TransportKind string

const (
	TransportStdio     TransportKind = "stdio"
	TransportHTTP      TransportKind = "http"
	TransportWebSocket TransportKind = "websocket"
)

// ServerConfig describes one configured MCP server. The JSON shape is flat;
// Transport selects which field group applies and Validate enforces that only
// that group is populated. A missing transport defaults to stdio, and a
// missing enabled flag defaults to true, matching what settings files
// typically omit.
type ServerConfig struct {
	Name        string        `json:"name,omitempty"`
	Description string        `json:"description,omitempty"`
	Transport   TransportKind `json:"transport,omitempty"`
	Enabled     *bool         `json:"enabled,omitempty"`

	// stdio
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`

	// http and websocket
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	// websocket
	ReconnectAttempts int `json:"reconnectAttempts,omitempty"`
	ReconnectDelayMS  int `json:"reconnectDelayMs,omitempty"`
}

// Kind returns the effective transport discriminant.
func (c ServerConfig) Kind() TransportKind {
	if c.Transport == "" {
		return TransportStdio
	}
	return c.Transport
}

// IsEnabled reports whether the server should be started.
func (c ServerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// ReconnectDelay returns the websocket redial delay as a duration.
func (c ServerConfig) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelayMS) * time.Millisecond
}

// Validate checks that the populated fields match the declared transport.
func (c ServerConfig) Validate() error {
	switch c.Kind() {
	case TransportStdio:
		if c.Command == "" {
			return fmt.Errorf("stdio server requires a command")
		}
		if c.URL != "" {
			return fmt.Errorf("stdio server must not set url")
		}
	case TransportHTTP, TransportWebSocket:
		if c.URL == "" {
			return fmt.Errorf("%s server requires a url", c.Kind())
		}
		if c.Command != "" {
			return fmt.Errorf("%s server must not set command", c.Kind())
		}
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	return nil
}

// Config maps server ids to their configurations.
type Config map[string]ServerConfig

// ParseConfig decodes and validates a configuration document. A malformed
// document or any invalid server entry fails the whole parse; callers abandon
// that update and keep the previous configuration.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse server config: %w", err)
	}
	for id, sc := range cfg {
		if id == "" {
			return nil, fmt.Errorf("server config contains an empty id")
		}
		if err := sc.Validate(); err != nil {
			return nil, fmt.Errorf("server %q: %w", id, err)
		}
	}
	return cfg, nil
}

// IDs returns the configured server ids in sorted order.
func (c Config) IDs() []string {
	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
