// Package reactive provides the single-value pub/sub primitive the graph is
// built from.
//
// A Dispatcher holds one value and fans changes out synchronously to its
// listeners. All calls are expected on the graph's single writer goroutine;
// the type does no locking.
package reactive

// Listener receives values from a Dispatcher.
type Listener[T any] interface {
	// OnSourceChange is called once when the listener is attached.
	OnSourceChange(source *Dispatcher[T])
	// OnChange is called with the current value on attach and on every change.
	OnChange(value T)
}

// Dispatcher is a single-value pub/sub cell.
//
// Invariants:
//   - a new listener sees the current value exactly once
//   - fan-out iterates a snapshot of the listener set, so listen/unlisten
//     during a fan-out never cause missed or duplicate deliveries
type Dispatcher[T any] struct {
	value     T
	listeners []Listener[T]
	updating  bool
	late      []Listener[T]
}

// NewDispatcher creates a Dispatcher holding value.
func NewDispatcher[T any](value T) *Dispatcher[T] {
	return &Dispatcher[T]{value: value}
}

// Value returns the current value.
func (d *Dispatcher[T]) Value() T {
	return d.value
}

// Listen attaches l. Attaching an already attached listener is a no-op.
//
// The listener is told about its source, then receives the current value.
// When Listen is called during a fan-out, delivery of the current value is
// postponed to the end of that fan-out.
func (d *Dispatcher[T]) Listen(l Listener[T]) {
	if d.indexOf(l) >= 0 {
		return
	}
	d.listeners = append(d.listeners, l)
	l.OnSourceChange(d)
	if d.updating {
		d.late = append(d.late, l)
		return
	}
	l.OnChange(d.value)
}

// Unlisten detaches l.
func (d *Dispatcher[T]) Unlisten(l Listener[T]) {
	i := d.indexOf(l)
	if i < 0 {
		return
	}
	d.listeners = append(d.listeners[:i:i], d.listeners[i+1:]...)
}

// Update sets the value and notifies listeners. Returns false when v is
// identical to the current value, in which case nothing happens.
func (d *Dispatcher[T]) Update(v T) bool {
	if Same(d.value, v) {
		return false
	}
	d.value = v
	d.dispatch()
	return true
}

// Set stores v without notifying anyone. Callers that need to run work
// between storing and fan-out pair it with Dispatch.
func (d *Dispatcher[T]) Set(v T) {
	d.value = v
}

// Dispatch re-sends the current value to every listener.
func (d *Dispatcher[T]) Dispatch() {
	d.dispatch()
}

// Len returns the number of attached listeners.
func (d *Dispatcher[T]) Len() int {
	return len(d.listeners)
}

// Has reports whether l is attached.
func (d *Dispatcher[T]) Has(l Listener[T]) bool {
	return d.indexOf(l) >= 0
}

// Clear detaches every listener without notifying them.
func (d *Dispatcher[T]) Clear() {
	d.listeners = nil
	d.late = nil
}

func (d *Dispatcher[T]) dispatch() {
	snapshot := make([]Listener[T], len(d.listeners))
	copy(snapshot, d.listeners)
	// every pending late joiner is part of this snapshot
	d.late = nil

	if d.updating {
		d.fanOut(snapshot)
		return
	}
	d.updating = true
	func() {
		// reset even when a listener panics
		defer func() { d.updating = false }()
		d.fanOut(snapshot)
	}()

	for len(d.late) > 0 {
		late := d.late
		d.late = nil
		for _, l := range late {
			if d.indexOf(l) >= 0 {
				l.OnChange(d.value)
			}
		}
	}
}

func (d *Dispatcher[T]) fanOut(snapshot []Listener[T]) {
	for _, l := range snapshot {
		l.OnChange(d.value)
	}
}

func (d *Dispatcher[T]) indexOf(l Listener[T]) int {
	for i, existing := range d.listeners {
		if Same(existing, l) {
			return i
		}
	}
	return -1
}
