// Package jsonrpc implements the JSON-RPC 2.0 envelope used on every MCP
// transport, plus the correlator that matches asynchronous responses back to
// the requests that are waiting on them.
package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// Version is the protocol version stamped on every outbound message.
const Version = "2.0"

// Well-known error codes. The negative-32xxx range is reserved by the
// JSON-RPC 2.0 specification; -32000 and -32001 are used by MCP servers to
// signal connection-scoped failures.
const (
	CodeParseError       = -32700
	CodeInvalidRequest   = -32600
	CodeMethodNotFound   = -32601
	CodeInvalidParams    = -32602
	CodeInternalError    = -32603
	CodeConnectionClosed = -32000
	CodeRequestTimeout   = -32001
)

// Message is a single JSON-RPC 2.0 envelope. A request carries Method and a
// non-zero ID, a notification carries Method with ID zero (omitted on the
// wire), and a response carries Result or Error for a previously issued ID.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is the error member of a JSON-RPC response.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewRequest builds a request envelope, marshalling params when non-nil.
func NewRequest(id int64, method string, params any) (*Message, error) {
	msg := &Message{JSONRPC: Version, ID: id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params for %s: %w", method, err)
		}
		msg.Params = raw
	}
	return msg, nil
}

// NewNotification builds a request envelope without an ID; the peer must not
// reply to it.
func NewNotification(method string, params any) (*Message, error) {
	msg, err := NewRequest(0, method, params)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// NewResponse builds a successful response for the given request ID.
func NewResponse(id int64, result any) (*Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &Message{JSONRPC: Version, ID: id, Result: raw}, nil
}

// NewErrorResponse builds an error response for the given request ID.
func NewErrorResponse(id int64, code int, message string) *Message {
	return &Message{JSONRPC: Version, ID: id, Error: &Error{Code: code, Message: message}}
}

// IsResponse reports whether the message answers an outstanding request.
func (m *Message) IsResponse() bool {
	return m.Method == "" && (m.Result != nil || m.Error != nil)
}

// IsNotification reports whether the message is a request that expects no
// reply.
func (m *Message) IsNotification() bool {
	return m.Method != "" && m.ID == 0
}

// IsRequest reports whether the message is a request that expects a reply.
func (m *Message) IsRequest() bool {
	return m.Method != "" && m.ID != 0
}

// Encode serializes the message to a single JSON object.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses one JSON object into a Message, rejecting envelopes that do
// not declare JSON-RPC 2.0 or that carry neither a method nor a result/error.
func Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if msg.JSONRPC != Version {
		return nil, fmt.Errorf("unsupported jsonrpc version %q", msg.JSONRPC)
	}
	if msg.Method == "" && msg.Result == nil && msg.Error == nil {
		return nil, fmt.Errorf("message has neither method nor result")
	}
	return &msg, nil
}
