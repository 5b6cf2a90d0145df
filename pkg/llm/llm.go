// Package llm defines the narrow contract between the turn orchestrator and
// whatever model provider backs it. Providers are external; only the shapes
// needed for streaming tool-calling conversations live here.
package llm

import (
	"context"
	"encoding/json"
)

// Role tags a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Message is one entry of the conversation transcript.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`
	// ToolCalls is set on assistant messages that requested tools.
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
	// ToolCallID links a tool message back to the call it answers.
	ToolCallID string `json:"toolCallId,omitempty"`
}

// SystemMessage builds a system-role message.
func SystemMessage(text string) Message { return Message{Role: RoleSystem, Content: text} }

// UserMessage builds a user-role message.
func UserMessage(text string) Message { return Message{Role: RoleUser, Content: text} }

// AssistantMessage builds an assistant-role message, with any tool calls the
// model issued alongside its text.
func AssistantMessage(text string, calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: text, ToolCalls: calls}
}

// ToolMessage builds a tool-result message answering one tool call.
func ToolMessage(callID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID}
}

// ToolDef advertises one callable tool to the model.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Request is one model invocation within a turn.
type Request struct {
	Messages []Message
	Tools    []ToolDef
}

// Completion is the model's full output for one request.
type Completion struct {
	Text      string
	ToolCalls []ToolCall
}

// Client streams one completion per call. Implementations invoke onDelta for
// each text fragment as it arrives, then return the assembled completion.
// A cancelled ctx aborts the in-flight call; text already delivered through
// onDelta remains valid.
type Client interface {
	ChatStream(ctx context.Context, req Request, onDelta func(string)) (*Completion, error)
}
