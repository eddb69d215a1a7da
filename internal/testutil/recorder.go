package testutil

import (
	"sync"

	"github.com/roach88/blockflow/internal/reactive"
)

// Recorder is a reactive listener that records every value it receives.
//
// Thread-safety: Values may be read from a different goroutine than the one
// delivering changes.
type Recorder struct {
	mu      sync.Mutex
	values  []any
	sources int
}

// OnSourceChange implements reactive.Listener.
func (r *Recorder) OnSourceChange(*reactive.Dispatcher[any]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources++
}

// OnChange implements reactive.Listener.
func (r *Recorder) OnChange(v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, v)
}

// Values returns a copy of the recorded values.
func (r *Recorder) Values() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.values...)
}

// Last returns the most recent value, nil when nothing was recorded.
func (r *Recorder) Last() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.values) == 0 {
		return nil
	}
	return r.values[len(r.values)-1]
}

// Count returns how many values were recorded.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.values)
}

// Reset forgets recorded values.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = nil
}
