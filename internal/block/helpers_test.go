package block

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/blockflow/internal/functions"
	"github.com/roach88/blockflow/internal/functions/builtin"
	"github.com/roach88/blockflow/internal/testutil"
)

// spy is a Function whose behavior and call counts are controlled by the
// test.
type spy struct {
	functions.Base
	stats *spyStats
}

type spyStats struct {
	runs     int
	inputs   []string
	cancels  int
	destroys int
	result   func(h functions.Host) any
}

func (p *spy) Run() any {
	p.stats.runs++
	if p.stats.result != nil {
		return p.stats.result(p.Host)
	}
	return nil
}

func (p *spy) InputChanged(input string, _ any) bool {
	p.stats.inputs = append(p.stats.inputs, input)
	return true
}

func (p *spy) Cancel(string) bool {
	p.stats.cancels++
	return true
}

func (p *spy) Destroy() {
	p.stats.destroys++
}

func registerSpy(reg *functions.Registry, name string, mode functions.Mode, priority int) *spyStats {
	stats := &spyStats{}
	reg.MustAdd(func(h functions.Host) functions.Function {
		return &spy{Base: functions.Base{Host: h}, stats: stats}
	}, functions.Descriptor{Name: name, Mode: mode, Priority: priority}, "")
	return stats
}

func newTestRoot(t *testing.T, opts ...Option) *Root {
	t.Helper()
	reg := functions.NewRegistry()
	builtin.Register(reg)
	all := append([]Option{
		WithIDGenerator(testutil.NewSequentialIDs("b")),
		WithRegistry(reg),
		WithStrict(true),
	}, opts...)
	r := NewRoot(all...)
	t.Cleanup(r.Close)
	return r
}

// runUntil drains the root until cond holds, waiting for posts from other
// goroutines in between.
func runUntil(t *testing.T, r *Root, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		r.Run()
		if cond() {
			return
		}
		select {
		case <-r.Mailbox().Wait():
		case <-deadline:
			require.FailNow(t, "condition not met before deadline")
		}
	}
}

// graphPanic runs fn and returns the *GraphError it panicked with.
func graphPanic(t *testing.T, fn func()) (ge *GraphError) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a panic")
		var ok bool
		ge, ok = r.(*GraphError)
		require.True(t, ok, "panic value %v is not a *GraphError", r)
	}()
	fn()
	return nil
}
