package scheduler

import "sync/atomic"

// Clock is the monotonic pass counter shared by every Resolver of a graph.
//
// The root Resolver advances it after each full drain. Events stamp
// themselves with Current() and compare against it later to decide whether
// they belong to a pass that has already settled.
//
// Thread-safety: Clock is safe for concurrent use. Async settlements read it
// from timer goroutines before posting back to the loop.
type Clock struct {
	pass atomic.Int64
}

// NewClock creates a clock at pass 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock at a specific pass. Used when a host restarts
// and wants pass ids to keep increasing across restarts.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.pass.Store(start)
	return c
}

// Next advances to the next pass and returns it.
func (c *Clock) Next() int64 {
	return c.pass.Add(1)
}

// Current returns the current pass id without advancing.
func (c *Clock) Current() int64 {
	return c.pass.Load()
}
