package protocol

import "time"

// Backoff yields exponentially growing reconnect delays, capped at max.
type Backoff struct {
	min  time.Duration
	max  time.Duration
	next time.Duration
}

// NewBackoff creates a Backoff starting at min.
func NewBackoff(min, max time.Duration) *Backoff {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	return &Backoff{min: min, max: max, next: min}
}

// Next returns the delay to wait before the next attempt and doubles the
// one after it.
func (b *Backoff) Next() time.Duration {
	d := b.next
	b.next *= 2
	if b.next > b.max {
		b.next = b.max
	}
	return d
}

// Reset starts over from min. Call it after a successful connect.
func (b *Backoff) Reset() {
	b.next = b.min
}
