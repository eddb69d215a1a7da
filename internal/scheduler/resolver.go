// Package scheduler implements the cooperative run loop that decides when
// queued blocks execute and in what order.
//
// A Resolver keeps four priority buckets. Priority 0 work is always drained
// completely, in LIFO order, before any priority 1..3 item runs, and any
// priority 0 work produced while lower priority work executes preempts it.
// Lower priorities can starve while priority 0 work keeps regenerating; that
// is accepted behavior.
//
// Resolvers compose: a nested scope's Resolver is itself a Runnable queued in
// its parent's Resolver, so every scope is drained inside one global pass.
// Only the root Resolver advances the pass Clock.
package scheduler

import "log/slog"

// Priority bounds. Items reporting a priority outside [PriorityMin,
// PriorityMax] are dropped from execution.
const (
	PriorityMin = 0
	PriorityMax = 3
	buckets     = PriorityMax + 1
)

// Runnable is a unit of work the Resolver can execute.
type Runnable interface {
	Priority() int
	Run()
}

// Resolver is the priority run loop.
//
// Not thread-safe: Queue and Resolve must be called from the graph's writer
// goroutine.
type Resolver struct {
	schedule  func()
	onDrained func()
	priority  func() int
	logger    *slog.Logger

	pending   []Runnable
	queued    map[Runnable]struct{}
	buckets   [buckets][]Runnable
	scheduled bool
	running   bool
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithDrained sets a callback invoked after every full drain. The root
// Resolver uses it to advance the pass Clock.
func WithDrained(fn func()) ResolverOption {
	return func(r *Resolver) {
		r.onDrained = fn
	}
}

// WithPriority sets the priority the Resolver reports when it is itself
// queued into a parent Resolver.
func WithPriority(fn func() int) ResolverOption {
	return func(r *Resolver) {
		r.priority = fn
	}
}

// WithLogger sets the logger used for dropped items.
func WithLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = l
	}
}

// NewResolver creates a Resolver. schedule is called whenever the Resolver
// has work and is neither scheduled nor running; it must arrange for
// Resolve (or Run) to be called later.
func NewResolver(schedule func(), opts ...ResolverOption) *Resolver {
	r := &Resolver{
		schedule: schedule,
		queued:   make(map[Runnable]struct{}),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Queue adds item to the pending list. No-op if item is already queued.
func (r *Resolver) Queue(item Runnable) {
	if _, ok := r.queued[item]; ok {
		return
	}
	r.queued[item] = struct{}{}
	r.pending = append(r.pending, item)
	r.requestSchedule()
}

// IsQueued reports whether item is waiting to run.
func (r *Resolver) IsQueued(item Runnable) bool {
	_, ok := r.queued[item]
	return ok
}

// Dequeue removes item if it has not run yet. Used when a block is
// destroyed while queued.
func (r *Resolver) Dequeue(item Runnable) {
	// the item stays in its bucket; run() skips anything no longer marked
	delete(r.queued, item)
}

// Len returns the number of queued items.
func (r *Resolver) Len() int {
	return len(r.queued)
}

// Running reports whether a drain is in progress.
func (r *Resolver) Running() bool {
	return r.running
}

func (r *Resolver) requestSchedule() {
	if r.scheduled || r.running {
		return
	}
	r.scheduled = true
	if r.schedule != nil {
		r.schedule()
	}
}

// Resolve drains every queued item according to priority.
func (r *Resolver) Resolve() {
	r.scheduled = false
	r.running = true
	defer func() {
		r.running = false
		// a panic escaped an item; leftovers get a fresh pass
		if len(r.queued) > 0 {
			r.requestSchedule()
		}
	}()

	r.partition()
drain:
	for {
		for len(r.buckets[0]) > 0 {
			r.run(r.pop(0))
			if len(r.pending) > 0 {
				r.partition()
			}
		}
		for p := 1; p < buckets; p++ {
			for len(r.buckets[p]) > 0 {
				r.run(r.pop(p))
				if len(r.pending) > 0 {
					r.partition()
					if len(r.buckets[0]) > 0 {
						continue drain
					}
				}
			}
		}
		if r.empty() {
			break
		}
	}

	if r.onDrained != nil {
		r.onDrained()
	}
}

// Run lets a nested Resolver be queued in its parent.
func (r *Resolver) Run() {
	r.Resolve()
}

// Priority implements Runnable for nested Resolvers.
func (r *Resolver) Priority() int {
	if r.priority == nil {
		return 1
	}
	return r.priority()
}

func (r *Resolver) partition() {
	for _, item := range r.pending {
		p := item.Priority()
		if p < PriorityMin || p > PriorityMax {
			r.logger.Warn("dropping runnable with out-of-range priority", "priority", p)
			delete(r.queued, item)
			continue
		}
		r.buckets[p] = append(r.buckets[p], item)
	}
	clear(r.pending)
	r.pending = r.pending[:0]
}

func (r *Resolver) pop(p int) Runnable {
	b := r.buckets[p]
	item := b[len(b)-1]
	b[len(b)-1] = nil
	r.buckets[p] = b[:len(b)-1]
	return item
}

func (r *Resolver) run(item Runnable) {
	if _, ok := r.queued[item]; !ok {
		return
	}
	// unmark first so the item may queue itself again while running
	delete(r.queued, item)
	item.Run()
}

func (r *Resolver) empty() bool {
	if len(r.pending) > 0 {
		return false
	}
	for _, b := range r.buckets {
		if len(b) > 0 {
			return false
		}
	}
	return true
}
