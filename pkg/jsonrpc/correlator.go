package jsonrpc

import (
	"errors"
	"sync"
	"time"
)

// DefaultTimeout bounds how long a request may wait for its response before
// the correlator rejects it.
const DefaultTimeout = 10 * time.Second

// ErrTimeout rejects a pending request whose response never arrived.
var ErrTimeout = errors.New("jsonrpc: request timed out")

// ErrClosed rejects every pending request when the owning transport closes.
var ErrClosed = errors.New("jsonrpc: transport closed")

// Result is the terminal outcome of a pending request: exactly one of Msg and
// Err is set.
type Result struct {
	Msg *Message
	Err error
}

type pendingRequest struct {
	ch    chan Result
	timer *time.Timer
}

// Correlator matches responses to outstanding requests by ID. Transports that
// simulate synchronous replies over asynchronous channels register a pending
// entry per request; each entry is resolved or rejected exactly once, after
// which it no longer exists.
type Correlator struct {
	mu      sync.Mutex
	nextID  int64
	timeout time.Duration
	pending map[int64]*pendingRequest
}

// NewCorrelator builds a correlator whose pending requests expire after the
// given timeout. A non-positive timeout selects DefaultTimeout.
func NewCorrelator(timeout time.Duration) *Correlator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Correlator{
		timeout: timeout,
		pending: make(map[int64]*pendingRequest),
	}
}

// NextID returns a fresh request ID, unique within this correlator.
func (c *Correlator) NextID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	return c.nextID
}

// Register creates a pending entry for id and returns the channel its Result
// will be delivered on. The entry self-expires with ErrTimeout when no
// response arrives within the correlator's window.
func (c *Correlator) Register(id int64) <-chan Result {
	p := &pendingRequest{ch: make(chan Result, 1)}
	p.timer = time.AfterFunc(c.timeout, func() {
		c.fail(id, ErrTimeout)
	})
	c.mu.Lock()
	c.pending[id] = p
	c.mu.Unlock()
	return p.ch
}

// Resolve delivers a response message to its pending request. It reports
// whether a matching entry existed; unmatched responses are the caller's to
// log and drop.
func (c *Correlator) Resolve(msg *Message) bool {
	p := c.remove(msg.ID)
	if p == nil {
		return false
	}
	p.ch <- Result{Msg: msg}
	return true
}

// Fail rejects a single pending request with err.
func (c *Correlator) Fail(id int64, err error) bool {
	return c.fail(id, err)
}

// FailAll rejects every pending request, typically with ErrClosed when the
// transport goes away.
func (c *Correlator) FailAll(err error) {
	c.mu.Lock()
	drained := c.pending
	c.pending = make(map[int64]*pendingRequest)
	c.mu.Unlock()
	for _, p := range drained {
		p.timer.Stop()
		p.ch <- Result{Err: err}
	}
}

// Pending reports the number of outstanding requests.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator) fail(id int64, err error) bool {
	p := c.remove(id)
	if p == nil {
		return false
	}
	p.ch <- Result{Err: err}
	return true
}

// remove detaches and returns the pending entry for id, stopping its timer.
// Returning nil means the entry was already resolved, rejected, or never
// registered; this is what guarantees exactly-once delivery.
func (c *Correlator) remove(id int64) *pendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	p.timer.Stop()
	return p
}
