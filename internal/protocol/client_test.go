package protocol

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/blockflow/internal/functions"
)

func TestClient_SubscribeMergesPerPath(t *testing.T) {
	f := newFixture(t)
	f.root.SetValue("x", 1)

	var first, second result
	cancelFirst := f.client.Subscribe("x", first.callbacks())
	f.run()
	require.Equal(t, []any{1}, first.values())

	cancelSecond := f.client.Subscribe("x", second.callbacks())
	// the cached value arrives before any round trip
	assert.Equal(t, []any{1}, second.values())
	f.run()
	assert.Equal(t, 1, f.requests(CmdSubscribe))

	// changes between flushes coalesce
	f.root.SetValue("x", 2)
	f.root.SetValue("x", 3)
	f.run()
	assert.Equal(t, []any{1, 3}, first.values())
	assert.Equal(t, []any{1, 3}, second.values())

	cancelFirst()
	f.run()
	assert.Zero(t, f.requests(CmdUnsubscribe))

	cancelSecond()
	f.run()
	assert.Equal(t, 1, f.requests(CmdUnsubscribe))
	assert.Zero(t, f.server.Streams())

	f.root.SetValue("x", 4)
	f.run()
	assert.Equal(t, []any{1, 3}, first.values())
}

func TestClient_SubscribeFollowsPath(t *testing.T) {
	f := newFixture(t)
	job := f.root.AddFlow("job", nil)
	job.CreateBlock("obj").SetValue("c", 1)

	var r result
	f.client.Subscribe("job.obj.c", r.callbacks())
	f.run()
	require.Equal(t, 1, r.last())

	job.CreateBlock("obj").SetValue("c", 2)
	f.run()
	assert.Equal(t, 2, r.last())
}

func TestClient_SubscribeReportsBindingPath(t *testing.T) {
	f := newFixture(t)
	job := f.root.AddFlow("job", nil)
	job.SetValue("src", 5)

	var r result
	f.client.Subscribe("job.d", r.callbacks())
	f.run()

	job.SetBinding("d", "src")
	f.run()
	last := r.updates[len(r.updates)-1]
	assert.Equal(t, 5, last[FieldValue])
	assert.Equal(t, "src", last[FieldBindingPath])

	var late result
	f.client.Subscribe("job.d", late.callbacks())
	require.Len(t, late.updates, 1)
	assert.Equal(t, "src", late.updates[0][FieldBindingPath])
}

func TestClient_SubscribeReportsOtherListeners(t *testing.T) {
	f := newFixture(t)
	job := f.root.AddFlow("job", nil)
	job.SetValue("src", 5)

	var r result
	f.client.Subscribe("job.src", r.callbacks())
	f.run()
	require.NotEmpty(t, r.updates)
	assert.Equal(t, false, r.updates[len(r.updates)-1][FieldHasListener])

	job.SetBinding("d", "src")
	f.run()
	assert.Equal(t, true, r.updates[len(r.updates)-1][FieldHasListener])

	var late result
	f.client.Subscribe("job.src", late.callbacks())
	require.Len(t, late.updates, 1)
	assert.Equal(t, true, late.updates[0][FieldHasListener])
	assert.Equal(t, 5, late.updates[0][FieldValue])

	job.SetValue("d", 1)
	f.run()
	assert.Equal(t, false, r.updates[len(r.updates)-1][FieldHasListener])
	assert.Equal(t, false, late.updates[len(late.updates)-1][FieldHasListener])
}

func TestClient_WatchChildren(t *testing.T) {
	f := newFixture(t)
	job := f.root.AddFlow("job", nil)
	x := job.CreateBlock("x")

	var r result
	f.client.Watch("job", r.callbacks())
	f.run()
	require.Len(t, r.updates, 1)
	assert.Equal(t, map[string]any{"x": x.ID()}, r.last())

	y := job.CreateBlock("y")
	f.run()
	assert.Equal(t, map[string]any{"y": y.ID()}, r.last())

	job.SetValue("x", nil)
	f.run()
	assert.Equal(t, map[string]any{"x": nil}, r.last())

	var late result
	f.client.Watch("job", late.callbacks())
	require.Len(t, late.updates, 1)
	assert.Equal(t, map[string]any{"y": y.ID()}, late.last())
	f.run()
	assert.Equal(t, 1, f.requests(CmdWatch))
}

func TestClient_WatchDescFramesAreCapped(t *testing.T) {
	const (
		frameBudget = 16 * 1024
		descBudget  = 4 * 1024
		count       = 4000
	)
	f := newFixture(t, WithFrameBudget(frameBudget), WithDescFrameBudget(descBudget))
	reg := f.root.Registry()
	noop := func(functions.Host) functions.Function { return nil }
	for i := 0; i < count; i++ {
		reg.MustAdd(noop, functions.Descriptor{Name: fmt.Sprintf("a%d", i)}, "")
	}

	seenAt := 0
	var last any
	f.client.WatchDesc("a3999", func(desc any) {
		if seenAt == 0 {
			seenAt = len(f.toClient)
		}
		last = desc
	})
	f.run()

	require.NotZero(t, seenAt, "descriptor never delivered")
	assert.Greater(t, seenAt, 1, "delivered in the first frame")
	assert.Equal(t, "a3999", last.(map[string]any)["name"])
	for _, batch := range f.toClient {
		assert.LessOrEqual(t, BatchSize(batch), frameBudget)
	}
	assert.Equal(t, 1, f.requests(CmdWatchDesc))
	for _, id := range []string{"a0", "a1234", "add", "delay"} {
		_, ok := f.client.Desc(id)
		assert.True(t, ok, id)
	}

	// later changes stream through the same watch
	reg.Clear("a3999")
	f.run()
	assert.Nil(t, last)
	_, ok := f.client.Desc("a3999")
	assert.False(t, ok)
}

func TestClient_WatchDescCachedForLateWatchers(t *testing.T) {
	f := newFixture(t)
	f.client.WatchDesc("add", func(any) {})
	f.run()

	var got any
	cancel := f.client.WatchDesc("add", func(desc any) { got = desc })
	require.NotNil(t, got)
	assert.Equal(t, "add", got.(map[string]any)["id"])

	cancel()
	f.run()
	assert.Zero(t, f.requests(CmdUnwatch))
}

func TestClient_DisconnectFailsPlainRequests(t *testing.T) {
	f := newFixture(t)
	f.root.SetValue("x", 1)

	var sub result
	f.client.Subscribe("x", sub.callbacks())
	f.run()
	require.Equal(t, []any{1}, sub.values())

	var get result
	f.client.Get("x", get.callbacks())
	f.srvEnd.Close()
	f.run()
	assert.ErrorIs(t, get.err, ErrDisconnected)
	assert.NoError(t, sub.err, "merged requests survive")

	var offline result
	f.client.Set("x", 2, offline.callbacks())
	assert.ErrorIs(t, offline.err, ErrDisconnected)

	f.root.SetValue("x", 5)
	f.srvEnd.Reopen()
	f.run()
	assert.Equal(t, 2, f.requests(CmdSubscribe), "subscription sent again")
	assert.Equal(t, []any{1, 5}, sub.values())
}
