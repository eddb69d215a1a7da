package block

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/blockflow/internal/event"
	"github.com/roach88/blockflow/internal/functions"
)

type asyncFixture struct {
	root    *Root
	block   *Block
	stats   *spyStats
	pending []*functions.Async
	aborted int
}

func newAsyncFixture(t *testing.T, opts ...Option) *asyncFixture {
	t.Helper()
	f := &asyncFixture{root: newTestRoot(t, opts...)}
	f.stats = registerSpy(f.root.Registry(), "later", functions.ModeOnCall, 1)
	f.stats.result = func(functions.Host) any {
		a := functions.NewAsync(func() { f.aborted++ })
		f.pending = append(f.pending, a)
		return a
	}
	job := f.root.AddFlow("flow", nil)
	f.block = job.CreateBlock("b")
	f.block.SetValue("#is", "later")
	return f
}

func (f *asyncFixture) call() {
	f.block.UpdateValue("#call", event.New(f.root.Clock()))
	f.root.Run()
}

func TestAsync_SettlementEmits(t *testing.T) {
	f := newAsyncFixture(t)
	f.call()

	require.Len(t, f.pending, 1)
	assert.Equal(t, true, f.block.GetValue("#waiting"))
	assert.True(t, f.block.Waiting())

	go f.pending[0].Resolve("done")
	runUntil(t, f.root, func() bool { return f.block.GetValue("#emit") == "done" })

	assert.Nil(t, f.block.GetValue("#waiting"))
	assert.False(t, f.block.Waiting())
}

func TestAsync_RejectionEmitsError(t *testing.T) {
	f := newAsyncFixture(t)
	f.call()

	f.pending[0].Reject(errors.New("lost"))
	f.root.Run()

	ee, ok := f.block.GetValue("#emit").(*event.ErrorEvent)
	require.True(t, ok)
	assert.Equal(t, "lost", ee.Message)
}

func TestAsync_NilResultEmitsEvent(t *testing.T) {
	f := newAsyncFixture(t)
	f.call()

	f.pending[0].Resolve(nil)
	f.root.Run()

	_, ok := f.block.GetValue("#emit").(*event.Event)
	assert.True(t, ok)
}

func TestAsync_SupersededResultIgnored(t *testing.T) {
	f := newAsyncFixture(t)
	f.call()
	f.call()
	require.Len(t, f.pending, 2)

	// the superseded result is released, the function is not cancelled
	assert.Equal(t, 1, f.aborted)
	assert.Equal(t, 0, f.stats.cancels)

	f.pending[0].Resolve("stale")
	f.root.Run()
	assert.Nil(t, f.block.GetValue("#emit"))
	assert.Equal(t, true, f.block.GetValue("#waiting"))

	f.pending[1].Resolve("fresh")
	f.root.Run()
	assert.Equal(t, "fresh", f.block.GetValue("#emit"))
}

func TestAsync_SyncCancelsStaleWait(t *testing.T) {
	f := newAsyncFixture(t)
	f.block.SetValue("#sync", true)
	f.call()
	require.Len(t, f.pending, 1)

	f.call()
	require.Len(t, f.pending, 2)
	assert.Equal(t, 1, f.stats.cancels)
	assert.Equal(t, 1, f.aborted)
}

func TestAsync_CancelTrigger(t *testing.T) {
	f := newAsyncFixture(t)
	f.call()

	f.block.UpdateValue("#cancel", true)

	assert.Equal(t, 1, f.stats.cancels)
	assert.Equal(t, 1, f.aborted)
	assert.Nil(t, f.block.GetValue("#waiting"))

	f.pending[0].Resolve("late")
	f.root.Run()
	assert.Nil(t, f.block.GetValue("#emit"))
}

func TestAsync_Timeout(t *testing.T) {
	f := newAsyncFixture(t, WithAsyncTimeout(10*time.Millisecond))
	f.call()

	runUntil(t, f.root, func() bool {
		_, ok := f.block.GetValue("#emit").(*event.ErrorEvent)
		return ok
	})

	ee := f.block.GetValue("#emit").(*event.ErrorEvent)
	assert.Equal(t, event.CodeTimeout, ee.Code)
	assert.Equal(t, 1, f.stats.cancels)
	assert.Equal(t, 1, f.aborted)
	assert.Nil(t, f.block.GetValue("#waiting"))
}

func TestAsync_DestroyWhilePending(t *testing.T) {
	f := newAsyncFixture(t)
	f.call()

	f.block.Destroy()
	assert.Equal(t, 1, f.stats.cancels)
	assert.Equal(t, 1, f.stats.destroys)
	assert.Equal(t, 1, f.aborted)

	f.pending[0].Resolve("after")
	assert.NotPanics(t, func() { f.root.Run() })
}

func TestAsync_TypeSwitchCancelsPending(t *testing.T) {
	f := newAsyncFixture(t)
	f.call()

	f.block.SetValue("#is", "add")

	assert.Equal(t, 1, f.aborted)
	assert.Nil(t, f.block.GetValue("#waiting"))
}
