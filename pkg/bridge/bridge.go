// Package bridge exposes MCP-discovered tools to the streaming LLM loop. It
// namespaces every tool as serverID_toolName so tools from different servers
// cannot collide, filters discovery through a per-conversation enablement
// map, and routes invocations back to the owning server.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/tidewater-labs/skiff/pkg/mcpclient"
)

// ErrBadQualifiedName is returned when a tool name cannot be split back into
// a server id and tool name.
var ErrBadQualifiedName = errors.New("malformed qualified tool name")

// Registry is the slice of the connection manager the bridge needs.
type Registry interface {
	IsRunning(id string) bool
	FetchTools(ctx context.Context, id string) ([]mcpclient.Tool, error)
	CallTool(ctx context.Context, id, tool string, args map[string]any) (*mcpclient.ToolResult, error)
}

// EnabledTools maps a server id to the tool names a conversation has enabled.
// It is owned by the conversation layer; the bridge only reads it.
type EnabledTools map[string][]string

// Tool is one namespaced tool ready for the model-invocation layer.
type Tool struct {
	QualifiedName string
	Description   string
	// Parameters is the tool's JSON schema as last reported by its server.
	Parameters json.RawMessage
}

// QualifyName joins a server id and tool name into the namespaced form.
func QualifyName(serverID, tool string) string {
	return serverID + "_" + tool
}

// SplitName reverses QualifyName by taking the substring before the first
// underscore as the server id. Server ids containing an underscore therefore
// cannot round-trip; keep ids underscore-free.
func SplitName(qualified string) (serverID, tool string, err error) {
	idx := strings.Index(qualified, "_")
	if idx <= 0 || idx == len(qualified)-1 {
		return "", "", fmt.Errorf("%w: %q", ErrBadQualifiedName, qualified)
	}
	return qualified[:idx], qualified[idx+1:], nil
}

// Bridge reads tool enablement and routes invocations through the registry.
type Bridge struct {
	registry Registry
	logger   *slog.Logger
}

// New builds a Bridge over a registry.
func New(registry Registry, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{registry: registry, logger: logger}
}

// ActiveTools resolves a conversation's enabled tools against live servers.
// Servers that are not running are skipped, as are tool names the server no
// longer advertises — a tool that disappeared is dropped silently, not an
// error. Schemas are re-fetched on every call because a live server can
// change them at any time.
func (b *Bridge) ActiveTools(ctx context.Context, enabled EnabledTools) []Tool {
	serverIDs := make([]string, 0, len(enabled))
	for id := range enabled {
		serverIDs = append(serverIDs, id)
	}
	sort.Strings(serverIDs)

	var out []Tool
	for _, serverID := range serverIDs {
		if !b.registry.IsRunning(serverID) {
			b.logger.Debug("skipping tools of non-running server", "server", serverID)
			continue
		}
		advertised, err := b.registry.FetchTools(ctx, serverID)
		if err != nil {
			b.logger.Warn("tool listing failed, skipping server", "server", serverID, "error", err)
			continue
		}
		byName := make(map[string]mcpclient.Tool, len(advertised))
		for _, t := range advertised {
			byName[t.Name] = t
		}
		for _, name := range enabled[serverID] {
			t, still := byName[name]
			if !still {
				b.logger.Debug("enabled tool no longer advertised",
					"server", serverID,
					"tool", name,
				)
				continue
			}
			out = append(out, Tool{
				QualifiedName: QualifyName(serverID, t.Name),
				Description:   t.Description,
				Parameters:    t.InputSchema,
			})
		}
	}
	return out
}

// Invoke routes a qualified tool call to its server and normalizes the
// result: textual content parts are concatenated; a result with no textual
// parts falls back to its raw JSON form.
func (b *Bridge) Invoke(ctx context.Context, qualifiedName string, args map[string]any) (string, error) {
	serverID, tool, err := SplitName(qualifiedName)
	if err != nil {
		return "", err
	}
	result, err := b.registry.CallTool(ctx, serverID, tool, args)
	if err != nil {
		return "", fmt.Errorf("invoke %s: %w", qualifiedName, err)
	}
	text := result.Text()
	if result.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return "", fmt.Errorf("invoke %s: %s", qualifiedName, text)
	}
	if text != "" || len(result.Content) == 0 {
		return text, nil
	}
	raw, err := json.Marshal(result.Content)
	if err != nil {
		return "", fmt.Errorf("invoke %s: encode result: %w", qualifiedName, err)
	}
	return string(raw), nil
}
