package mcpmgr

import (
	"context"
	"errors"
	"strings"

	"github.com/tidewater-labs/skiff/pkg/jsonrpc"
	"github.com/tidewater-labs/skiff/pkg/transport"
)

// connectionErrorPhrases are substrings that mark an error as a lost or
// unusable connection rather than a per-call failure.
var connectionErrorPhrases = []string{
	"connection closed",
	"connection refused",
	"connection reset",
	"broken pipe",
	"timeout",
	"timed out",
	"disconnected",
	"transport closed",
	"eof",
}

// connectionErrorCodes are JSON-RPC error codes that indicate the session
// itself is gone, not just the call.
var connectionErrorCodes = map[int]bool{
	jsonrpc.CodeConnectionClosed: true,
	jsonrpc.CodeRequestTimeout:   true,
	jsonrpc.CodeParseError:       true,
}

// IsConnectionError classifies an error as connection-level. Connection-level
// errors demote the server and evict its connection so later calls fail fast;
// anything else (tool not found, bad arguments) is surfaced to the caller
// without touching connection state.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, transport.ErrClosed) || errors.Is(err, jsonrpc.ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) && connectionErrorCodes[rpcErr.Code] {
		return true
	}
	text := strings.ToLower(err.Error())
	for _, phrase := range connectionErrorPhrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}
