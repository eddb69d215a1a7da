// Package functions defines the behavior contract a Block runs and the
// registry that maps type ids to behaviors.
//
// A Function never touches the graph directly; it talks to its Block
// through the Host interface. The Block owns the Function and calls Run,
// InputChanged, Cancel and Destroy from the graph's writer goroutine.
package functions

import (
	"fmt"
	"log/slog"
	"strings"
)

// Function is the behavior attached to a Block.
type Function interface {
	// Run computes the block's output. It may return a plain value, an
	// *Async for work that settles later, event.WaitValue for "no output
	// yet", an *event.ErrorEvent, or nil (a completion event is emitted).
	Run() any
	// InputChanged is called when an input pin changes. Returning true asks
	// the Block to queue a run.
	InputChanged(input string, value any) bool
	// Cancel aborts pending async work. Returns true if anything was
	// cancelled.
	Cancel(reason string) bool
	// Destroy releases everything the Function holds.
	Destroy()
}

// Commander is implemented by Functions that accept remote commands.
// params is nil when the request carried none.
type Commander interface {
	Command(name string, params map[string]any) (any, error)
}

// Host is the Block side of the contract.
type Host interface {
	// ID returns the block's process-unique id.
	ID() string
	// GetValue returns the live value of the named property.
	GetValue(name string) any
	// Output writes a value produced by the function. Writing an output pin
	// does not re-trigger the owning block.
	Output(name string, value any)
	// Length returns the #len value for functions that use it.
	Length() int
	// Queue asks the scheduler to run the block.
	Queue()
	// Post runs fn on the graph's writer goroutine. Safe from any goroutine.
	Post(fn func()) bool
	// Logger returns the block-scoped logger.
	Logger() *slog.Logger
}

// Factory creates a Function bound to host.
type Factory func(host Host) Function

// Mode controls when a Block runs.
type Mode int

const (
	// ModeAuto defers to the Function's declared default mode.
	ModeAuto Mode = iota
	// ModeAlways runs on every dependency change and on load.
	ModeAlways
	// ModeOnChange runs on dependency change only.
	ModeOnChange
	// ModeOnCall runs only when #call is triggered.
	ModeOnCall
	// ModeDisabled never runs.
	ModeDisabled
)

var modeNames = [...]string{"auto", "always", "onChange", "onCall", "disabled"}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("Mode(%d)", int(m))
	}
	return modeNames[m]
}

// ParseMode parses a mode name. Matching is case-insensitive.
func ParseMode(s string) (Mode, bool) {
	for i, name := range modeNames {
		if strings.EqualFold(name, s) {
			return Mode(i), true
		}
	}
	return ModeAuto, false
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	mode, ok := ParseMode(string(b))
	if !ok {
		return fmt.Errorf("unknown mode %q", b)
	}
	*m = mode
	return nil
}

// Base provides default method implementations. Functions embed it and
// override what they need.
type Base struct {
	Host Host
}

// InputChanged requests a run on every input change.
func (b *Base) InputChanged(string, any) bool { return true }

// Cancel has nothing to cancel.
func (b *Base) Cancel(string) bool { return false }

// Destroy has nothing to release.
func (b *Base) Destroy() {}
