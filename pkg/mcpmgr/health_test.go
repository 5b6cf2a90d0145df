package mcpmgr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/tidewater-labs/skiff/pkg/jsonrpc"
	"github.com/tidewater-labs/skiff/pkg/transport"
)

func TestIsConnectionError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transport closed sentinel", transport.ErrClosed, true},
		{"wrapped transport closed", fmt.Errorf("send: %w", transport.ErrClosed), true},
		{"request timeout sentinel", jsonrpc.ErrTimeout, true},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"connection refused phrase", errors.New("dial tcp 127.0.0.1:9: connection refused"), true},
		{"connection reset phrase", errors.New("read: connection reset by peer"), true},
		{"broken pipe phrase", errors.New("write: broken pipe"), true},
		{"disconnected phrase", errors.New("server disconnected"), true},
		{"rpc connection closed code", &jsonrpc.Error{Code: jsonrpc.CodeConnectionClosed, Message: "gone"}, true},
		{"rpc timeout code", &jsonrpc.Error{Code: jsonrpc.CodeRequestTimeout, Message: "late"}, true},
		{"rpc parse error code", &jsonrpc.Error{Code: jsonrpc.CodeParseError, Message: "bad json"}, true},
		{"tool not found", &jsonrpc.Error{Code: jsonrpc.CodeMethodNotFound, Message: "tool not found"}, false},
		{"invalid params", &jsonrpc.Error{Code: jsonrpc.CodeInvalidParams, Message: "missing argument"}, false},
		{"ordinary failure", errors.New("file does not exist"), false},
		{"cancelled context", context.Canceled, false},
	}
	for _, tc := range cases {
		if got := IsConnectionError(tc.err); got != tc.want {
			t.Errorf("%s: IsConnectionError(%v) = %v, want %v", tc.name, tc.err, got, tc.want)
		}
	}
}
