// Package event implements the edge-triggered pulses carried through #emit
// and #call.
//
// An Event is stamped with the pass it was created in and only counts as a
// trigger while that pass is current. Errors are never stale. Wait means "no
// output yet" and never triggers downstream work.
package event

import (
	"fmt"

	"github.com/roach88/blockflow/internal/scheduler"
)

// Result is the outcome of checking a value as an event.
type Result int

const (
	// Void means the value does not trigger anything.
	Void Result = iota
	// Trigger means the value is a live pulse for the current pass.
	Trigger
	// Error means the value carries an error.
	Error
	// Wait means the producer has no output yet.
	Wait
)

func (r Result) String() string {
	switch r {
	case Void:
		return "void"
	case Trigger:
		return "trigger"
	case Error:
		return "error"
	case Wait:
		return "wait"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// Event is an immutable pulse scoped to one scheduler pass.
type Event struct {
	pass int64
}

// New creates an Event stamped with the clock's current pass.
func New(clock *scheduler.Clock) *Event {
	return &Event{pass: clock.Current()}
}

// Pass returns the pass the event was created in.
func (e *Event) Pass() int64 {
	return e.pass
}

// Check returns Trigger while the event's pass is still current, Void after.
func (e *Event) Check(clock *scheduler.Clock) Result {
	if e.pass == clock.Current() {
		return Trigger
	}
	return Void
}

// Wire returns the event's transport representation.
func (e *Event) Wire() map[string]any {
	return map[string]any{"#event": e.pass}
}

func (e *Event) String() string {
	return fmt.Sprintf("event(pass=%d)", e.pass)
}

// Error codes carried by ErrorEvent.
const (
	CodeFailed    = "failed"
	CodeTimeout   = "timeout"
	CodeCancelled = "cancelled"
)

// ErrorEvent carries an error through the same channel as results.
// It always checks as Error, whatever the pass.
type ErrorEvent struct {
	Code    string
	Message string
	Detail  any
}

// NewError creates an ErrorEvent.
func NewError(code, message string, detail any) *ErrorEvent {
	return &ErrorEvent{Code: code, Message: message, Detail: detail}
}

// FromError wraps err as a failed ErrorEvent. Returns err itself when it
// already is one.
func FromError(err error) *ErrorEvent {
	if ee, ok := err.(*ErrorEvent); ok {
		return ee
	}
	return &ErrorEvent{Code: CodeFailed, Message: err.Error()}
}

// Error implements the error interface.
func (e *ErrorEvent) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Check always returns Error.
func (e *ErrorEvent) Check(*scheduler.Clock) Result {
	return Error
}

// Wire returns the error's transport representation.
func (e *ErrorEvent) Wire() map[string]any {
	m := map[string]any{"#error": e.Message, "code": e.Code}
	if e.Detail != nil {
		m["detail"] = e.Detail
	}
	return m
}

type waitSentinel struct{}

func (waitSentinel) String() string { return "wait" }

// WaitValue is the shared "no output yet" sentinel.
var WaitValue any = waitSentinel{}

// IsWait reports whether v is the wait sentinel.
func IsWait(v any) bool {
	_, ok := v.(waitSentinel)
	return ok
}

// Check classifies any value as an event.
//
// nil is Void, events check themselves, the wait sentinel is Wait, and any
// other non-nil value is a Trigger.
func Check(v any, clock *scheduler.Clock) Result {
	switch e := v.(type) {
	case nil:
		return Void
	case *Event:
		if e == nil {
			return Void
		}
		return e.Check(clock)
	case *ErrorEvent:
		if e == nil {
			return Void
		}
		return Error
	case waitSentinel:
		return Wait
	case bool:
		if !e {
			return Void
		}
		return Trigger
	default:
		return Trigger
	}
}
