package scheduler

import "sync"

// Executor runs tasks on the graph's single writer goroutine.
type Executor interface {
	// Post queues fn. Safe from any goroutine. Returns false once closed.
	Post(fn func()) bool
}

// Mailbox is a thread-safe FIFO of tasks drained by exactly one goroutine.
//
// Transports, timers and async behaviors never touch the graph directly;
// they Post closures here and the loop goroutine runs them between
// scheduler passes. This is what keeps the graph single-threaded without
// locks.
//
// The signal channel (buffer of 1) coalesces wakeups so the owner can wait
// on it together with a context.
type Mailbox struct {
	mu     sync.Mutex
	tasks  []func()
	closed bool
	signal chan struct{}
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{
		tasks:  make([]func(), 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Post appends fn. Thread-safe.
func (m *Mailbox) Post(fn func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	m.tasks = append(m.tasks, fn)
	m.notify()
	return true
}

// Wake signals the owner without queueing a task. Used when a scheduler
// pass has been requested.
func (m *Mailbox) Wake() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.notify()
	}
}

func (m *Mailbox) notify() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// TryTake removes and returns the oldest task without blocking.
func (m *Mailbox) TryTake() (func(), bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.tasks) == 0 {
		return nil, false
	}
	fn := m.tasks[0]
	// release the closure for GC
	m.tasks[0] = nil
	if len(m.tasks) == 1 {
		m.tasks = m.tasks[:0]
	} else {
		m.tasks = m.tasks[1:]
	}
	return fn, true
}

// Drain runs tasks until the mailbox is empty, including tasks posted by
// the tasks themselves. Returns the number of tasks run.
func (m *Mailbox) Drain() int {
	n := 0
	for {
		fn, ok := m.TryTake()
		if !ok {
			return n
		}
		fn()
		n++
	}
}

// Wait returns a channel that receives when tasks may be available. It is
// closed when the mailbox is closed.
func (m *Mailbox) Wait() <-chan struct{} {
	return m.signal
}

// Len returns the number of queued tasks.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Closed reports whether Close has been called.
func (m *Mailbox) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close rejects further posts and wakes any waiter.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	close(m.signal)
}
