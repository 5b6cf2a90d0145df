package transport

import (
	"testing"
	"time"

	"github.com/tidewater-labs/skiff/pkg/jsonrpc"
)

func mustRequest(t *testing.T, id int64, method string, params any) *jsonrpc.Message {
	t.Helper()
	msg, err := jsonrpc.NewRequest(id, method, params)
	if err != nil {
		t.Fatalf("NewRequest(%s): %v", method, err)
	}
	return msg
}

func timeoutC(t *testing.T) <-chan time.Time {
	t.Helper()
	return time.After(5 * time.Second)
}

// collector gathers transport events for assertions.
type collector struct {
	messages chan *jsonrpc.Message
	errors   chan error
	closes   chan struct{}
}

func newCollector() *collector {
	return &collector{
		messages: make(chan *jsonrpc.Message, 16),
		errors:   make(chan error, 16),
		closes:   make(chan struct{}, 4),
	}
}

func (c *collector) events() Events {
	return Events{
		OnMessage: func(msg *jsonrpc.Message) { c.messages <- msg },
		OnError:   func(err error) { c.errors <- err },
		OnClose:   func() { c.closes <- struct{}{} },
	}
}
