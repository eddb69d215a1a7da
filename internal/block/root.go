package block

import (
	"log/slog"
	"time"

	"github.com/petermattis/goid"

	"github.com/roach88/blockflow/internal/functions"
	"github.com/roach88/blockflow/internal/scheduler"
)

// Root is the top-level Job. It owns the pass clock, the mailbox every
// other goroutine posts into, the function registry and the integrity
// policy.
//
// All graph access happens on one goroutine: whichever goroutine calls Run.
// Other goroutines (transports, timers, async functions) use Post.
type Root struct {
	Job

	mailbox  *scheduler.Mailbox
	clock    *scheduler.Clock
	registry *functions.Registry
	ids      IDGenerator
	logger   *slog.Logger
	storage  Storage

	strict       bool
	ownerCheck   bool
	owner        int64
	asyncTimeout time.Duration

	global *Job
	void   *Property
}

// Option configures a Root.
type Option func(*Root)

// WithStrict makes integrity violations (writes to destroyed or read-only
// properties, invalid paths) panic with *GraphError instead of being
// absorbed.
func WithStrict(strict bool) Option {
	return func(r *Root) {
		r.strict = strict
	}
}

// WithOwnerCheck makes strict mode also panic when the graph is written
// from a goroutine other than the owner.
func WithOwnerCheck() Option {
	return func(r *Root) {
		r.ownerCheck = true
	}
}

// WithIDGenerator sets the block id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(r *Root) {
		r.ids = g
	}
}

// WithRegistry sets the function registry.
func WithRegistry(reg *functions.Registry) Option {
	return func(r *Root) {
		r.registry = reg
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Root) {
		r.logger = l
	}
}

// WithAsyncTimeout force-completes async results that do not settle in d
// with a timeout ErrorEvent. Zero disables the timeout.
func WithAsyncTimeout(d time.Duration) Option {
	return func(r *Root) {
		r.asyncTimeout = d
	}
}

// WithClock sets the pass clock.
func WithClock(c *scheduler.Clock) Option {
	return func(r *Root) {
		r.clock = c
	}
}

// WithStorage sets the flow storage.
func WithStorage(s Storage) Option {
	return func(r *Root) {
		r.storage = s
	}
}

// NewRoot creates a graph root.
func NewRoot(opts ...Option) *Root {
	r := &Root{
		mailbox: scheduler.NewMailbox(),
		clock:   scheduler.NewClock(),
		ids:     UUIDv7Generator{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.registry == nil {
		r.registry = functions.NewRegistry(functions.WithRegistryLogger(r.logger))
	}
	r.owner = goid.Get()

	r.void = newProperty(nil, "", KindProperty)
	r.void.destroyed = true

	r.init(r, &r.Job, nil, nil)
	r.asJob = &r.Job
	r.resolver = scheduler.NewResolver(
		func() { r.mailbox.Post(r.resolver.Resolve) },
		scheduler.WithDrained(func() { r.clock.Next() }),
		scheduler.WithLogger(r.logger),
	)

	r.global = newJob(r, &r.Block, nil)
	r.global.prop = r.GetProperty(FieldGlobal)
	return r
}

// Registry returns the function registry.
func (r *Root) Registry() *functions.Registry { return r.registry }

// Clock returns the pass clock.
func (r *Root) Clock() *scheduler.Clock { return r.clock }

// Mailbox returns the task mailbox.
func (r *Root) Mailbox() *scheduler.Mailbox { return r.mailbox }

// Global returns the shared job reachable as #global from every block.
func (r *Root) Global() *Job { return r.global }

// Strict reports whether integrity violations panic.
func (r *Root) Strict() bool { return r.strict }

// Void returns the shared sentinel property.
func (r *Root) Void() *Property { return r.void }

// Post queues fn to run on the graph goroutine. Safe from any goroutine.
func (r *Root) Post(fn func()) bool {
	return r.mailbox.Post(fn)
}

// Run drains posted tasks and scheduler passes until nothing is left.
// Returns the number of tasks run.
func (r *Root) Run() int {
	r.assertOwner()
	return r.mailbox.Drain()
}

// AdoptOwner makes the calling goroutine the graph owner.
func (r *Root) AdoptOwner() {
	r.owner = goid.Get()
}

// Close destroys the graph and stops accepting posts.
func (r *Root) Close() {
	r.destroy()
	r.mailbox.Close()
}

func (r *Root) violate(err *GraphError) {
	if r.strict {
		panic(err)
	}
	r.logger.Debug("graph violation absorbed", "code", err.Code, "path", err.Path, "msg", err.Message)
}

func (r *Root) assertOwner() {
	if !r.strict || !r.ownerCheck {
		return
	}
	if gid := goid.Get(); gid != r.owner {
		panic(&GraphError{Code: ErrCodeWrongGoroutine, Message: "graph accessed off its owner goroutine"})
	}
}
