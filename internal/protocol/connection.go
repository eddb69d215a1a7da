package protocol

import (
	"log/slog"

	"github.com/roach88/blockflow/internal/scheduler"
)

// Default frame budgets, in encoded bytes.
const (
	DefaultFrameBudget     = 64 * 1024
	DefaultDescFrameBudget = 16 * 1024
)

// Transport carries batches to the peer. Send is called on the
// connection's executor goroutine and must not block on the peer.
type Transport interface {
	Send(batch []Message) error
}

// Receiver is the inbound side a transport delivers to, always through the
// receiver's executor.
type Receiver interface {
	Receive(batch []Message)
	Connected()
	Disconnected()
}

// unit is an outbound item waiting in a Connection. frame builds the next
// message without consuming anything; sent commits it. A unit that reports
// more after sent is queued again behind the units already waiting.
type unit interface {
	frame() Message
	sent()
	more() bool
}

// oneshot is a plain message.
type oneshot struct{ m Message }

func (o *oneshot) frame() Message { return o.m }
func (o *oneshot) sent()          {}
func (o *oneshot) more() bool     { return false }

type handler interface {
	handle(m Message)
	connected()
	disconnected()
}

type options struct {
	budget     int
	descBudget int
	logger     *slog.Logger
	session    string
}

// Option configures a Server or Client.
type Option func(*options)

// WithFrameBudget caps the encoded size of an outbound batch. A single unit
// larger than the budget is still sent alone.
func WithFrameBudget(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.budget = n
		}
	}
}

// WithDescFrameBudget caps the encoded size of one descriptor-watch frame.
func WithDescFrameBudget(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.descBudget = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithSession sets the session id used in log lines.
func WithSession(id string) Option {
	return func(o *options) {
		o.session = id
	}
}

func newOptions(opts []Option) options {
	o := options{
		budget:     DefaultFrameBudget,
		descBudget: DefaultDescFrameBudget,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Connection batches outbound units over a Transport.
//
// Flushes run deferred on the executor, so everything queued during one
// task goes out in one batch. The batch stops before the first unit that
// would push it past the budget; that unit and everything after it wait
// for the next flush. While a batch is in flight no flush is scheduled.
// Any inbound batch counts as the reply and re-arms flushing. An inbound
// batch that produces nothing to send is acknowledged with an empty batch,
// which does not itself expect a reply.
type Connection struct {
	exec      scheduler.Executor
	transport Transport
	h         handler
	budget    int
	logger    *slog.Logger

	pending   []unit
	queued    map[unit]bool
	connected bool
	waiting   bool
	scheduled bool
}

func newConnection(exec scheduler.Executor, t Transport, h handler, o options) *Connection {
	logger := o.logger
	if o.session != "" {
		logger = logger.With("session", o.session)
	}
	return &Connection{
		exec:      exec,
		transport: t,
		h:         h,
		budget:    o.budget,
		logger:    logger,
		queued:    make(map[unit]bool),
	}
}

// IsConnected reports whether the transport is up.
func (c *Connection) IsConnected() bool { return c.connected }

// Waiting reports whether a batch is awaiting its reply.
func (c *Connection) Waiting() bool { return c.waiting }

// Pending returns the number of queued units.
func (c *Connection) Pending() int { return len(c.pending) }

// Connected marks the transport up and flushes queued work.
func (c *Connection) Connected() {
	c.connected = true
	c.waiting = false
	c.logger.Info("connection open")
	c.h.connected()
	c.scheduleFlush()
}

// Disconnected marks the transport down.
func (c *Connection) Disconnected() {
	if !c.connected {
		return
	}
	c.connected = false
	c.waiting = false
	c.logger.Info("connection closed", "pending", len(c.pending))
	c.h.disconnected()
}

// Receive handles an inbound batch.
func (c *Connection) Receive(batch []Message) {
	if !c.connected {
		c.logger.Warn("batch received while disconnected", "size", len(batch))
		return
	}
	c.waiting = false
	for _, m := range batch {
		c.h.handle(m)
	}
	if len(c.pending) > 0 {
		c.scheduleFlush()
		return
	}
	if len(batch) > 0 && !c.scheduled {
		if err := c.transport.Send([]Message{}); err != nil {
			c.logger.Warn("ack failed", "error", err)
		}
	}
}

// Send queues a single message.
func (c *Connection) Send(m Message) {
	c.queue(&oneshot{m: m})
}

func (c *Connection) queue(u unit) {
	if c.queued[u] {
		return
	}
	c.queued[u] = true
	c.pending = append(c.pending, u)
	c.scheduleFlush()
}

func (c *Connection) dequeue(u unit) {
	if !c.queued[u] {
		return
	}
	delete(c.queued, u)
	for i, p := range c.pending {
		if p == u {
			c.pending = append(c.pending[:i:i], c.pending[i+1:]...)
			return
		}
	}
}

// reset drops every queued unit.
func (c *Connection) reset() {
	c.pending = nil
	c.queued = make(map[unit]bool)
}

func (c *Connection) scheduleFlush() {
	if c.scheduled || c.waiting || !c.connected || len(c.pending) == 0 {
		return
	}
	c.scheduled = true
	if !c.exec.Post(c.flush) {
		c.scheduled = false
	}
}

func (c *Connection) flush() {
	c.scheduled = false
	if !c.connected || c.waiting || len(c.pending) == 0 {
		return
	}

	var (
		batch []Message
		again []unit
		size  = 2
		taken int
	)
	for _, u := range c.pending {
		m := u.frame()
		if m == nil {
			taken++
			delete(c.queued, u)
			continue
		}
		n := Size(m) + 1
		if len(batch) > 0 && size+n > c.budget {
			break
		}
		batch = append(batch, m)
		size += n
		taken++
		delete(c.queued, u)
		u.sent()
		if u.more() {
			again = append(again, u)
		}
	}
	rest := make([]unit, 0, len(c.pending)-taken+len(again))
	rest = append(rest, c.pending[taken:]...)
	c.pending = rest
	for _, u := range again {
		if !c.queued[u] {
			c.queued[u] = true
			c.pending = append(c.pending, u)
		}
	}

	if len(batch) == 0 {
		return
	}
	c.waiting = true
	c.logger.Debug("flush", "messages", len(batch), "bytes", size, "deferred", len(c.pending))
	if err := c.transport.Send(batch); err != nil {
		c.waiting = false
		c.logger.Warn("send failed", "error", err)
	}
}
