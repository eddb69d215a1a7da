package functions

import "sync"

// Async is the pending result of a Function. It is settled exactly once,
// from any goroutine, with Resolve or Reject.
type Async struct {
	mu       sync.Mutex
	settled  bool
	value    any
	err      error
	onSettle []func(value any, err error)
	cancel   func()
}

// NewAsync creates a pending Async. cancel, if non-nil, is invoked by
// Cancel before the Async settles.
func NewAsync(cancel func()) *Async {
	return &Async{cancel: cancel}
}

// Resolve settles the Async with a value. Later settlements are ignored.
func (a *Async) Resolve(value any) {
	a.settle(value, nil)
}

// Reject settles the Async with an error.
func (a *Async) Reject(err error) {
	a.settle(nil, err)
}

// Cancel runs the cancel hook if the Async is still pending. Returns true
// when the hook ran.
func (a *Async) Cancel() bool {
	a.mu.Lock()
	if a.settled || a.cancel == nil {
		a.mu.Unlock()
		return false
	}
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()
	cancel()
	return true
}

// Result returns the settled value. ok is false while pending.
func (a *Async) Result() (value any, err error, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.value, a.err, a.settled
}

// OnSettle registers fn to run on settlement, on the settling goroutine.
// If the Async already settled, fn runs immediately.
func (a *Async) OnSettle(fn func(value any, err error)) {
	a.mu.Lock()
	if a.settled {
		value, err := a.value, a.err
		a.mu.Unlock()
		fn(value, err)
		return
	}
	a.onSettle = append(a.onSettle, fn)
	a.mu.Unlock()
}

func (a *Async) settle(value any, err error) {
	a.mu.Lock()
	if a.settled {
		a.mu.Unlock()
		return
	}
	a.settled = true
	a.value, a.err = value, err
	callbacks := a.onSettle
	a.onSettle = nil
	a.cancel = nil
	a.mu.Unlock()

	for _, fn := range callbacks {
		fn(value, err)
	}
}
