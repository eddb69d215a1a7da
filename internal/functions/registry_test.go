package functions

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/blockflow/internal/reactive"
)

type stubFunction struct {
	Base
}

func (s *stubFunction) Run() any { return nil }

func stubFactory(h Host) Function { return &stubFunction{Base{Host: h}} }

type entryRecorder struct {
	entries []*Entry
}

func (r *entryRecorder) OnSourceChange(*reactive.Dispatcher[*Entry]) {}

func (r *entryRecorder) OnChange(e *Entry) { r.entries = append(r.entries, e) }

func TestRegistry_AddNotifiesBoundListeners(t *testing.T) {
	reg := NewRegistry()
	rec := &entryRecorder{}
	reg.Listen("add", rec)

	require.Len(t, rec.entries, 1)
	assert.Nil(t, rec.entries[0])

	id, err := reg.Add(stubFactory, Descriptor{Name: "add", Priority: 1}, "")
	require.NoError(t, err)
	assert.Equal(t, "add", id)
	require.Len(t, rec.entries, 2)
	assert.Equal(t, "add", rec.entries[1].ID)
	assert.Equal(t, ModeOnChange, rec.entries[1].Desc.Mode)
	assert.Greater(t, rec.entries[1].DescSize, 0)

	// re-registration swaps the entry
	_, err = reg.Add(stubFactory, Descriptor{Name: "add", Priority: 2}, "")
	require.NoError(t, err)
	require.Len(t, rec.entries, 3)
	assert.Equal(t, 2, rec.entries[2].Desc.Priority)
}

func TestRegistry_ClearAndPrune(t *testing.T) {
	reg := NewRegistry()
	reg.MustAdd(stubFactory, Descriptor{Name: "x"}, "math")
	rec := &entryRecorder{}
	reg.Listen("math:x", rec)
	require.NotNil(t, rec.entries[0])

	reg.Clear("math:x")
	assert.Nil(t, rec.entries[len(rec.entries)-1])
	assert.Nil(t, reg.Get("math:x"))
	assert.Equal(t, 1, reg.Listeners("math:x"))

	reg.Unlisten("math:x", rec)
	assert.Equal(t, 0, reg.Listeners("math:x"))
	assert.Empty(t, reg.types)

	// clearing an unknown id is a no-op
	reg.Clear("nope")
}

func TestRegistry_WatchDesc(t *testing.T) {
	reg := NewRegistry()
	var seen []string
	unwatch := reg.WatchDesc(func(id string, e *Entry) {
		if e == nil {
			seen = append(seen, "-"+id)
			return
		}
		seen = append(seen, "+"+id)
	})

	reg.MustAdd(stubFactory, Descriptor{Name: "a"}, "")
	reg.MustAdd(stubFactory, Descriptor{Name: "b"}, "")
	reg.Clear("a")
	unwatch()
	reg.MustAdd(stubFactory, Descriptor{Name: "c"}, "")

	assert.Equal(t, []string{"+a", "+b", "-a"}, seen)
	assert.Equal(t, []string{"b", "c"}, reg.IDs())
}

func TestRegistry_AddValidates(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Add(nil, Descriptor{Name: "a"}, "")
	assert.Error(t, err)
	_, err = reg.Add(stubFactory, Descriptor{}, "")
	assert.Error(t, err)
	_, err = reg.Add(stubFactory, Descriptor{Name: "a", Priority: 4}, "")
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	assert.Equal(t, "flow1:add", Resolve(":add", "flow1"))
	assert.Equal(t, "add", Resolve(":add", ""))
	assert.Equal(t, "add", Resolve("add", "flow1"))
}

func TestParseMode(t *testing.T) {
	m, ok := ParseMode("onCall")
	assert.True(t, ok)
	assert.Equal(t, ModeOnCall, m)

	m, ok = ParseMode("ONCHANGE")
	assert.True(t, ok)
	assert.Equal(t, ModeOnChange, m)

	_, ok = ParseMode("sometimes")
	assert.False(t, ok)

	var parsed Mode
	require.NoError(t, parsed.UnmarshalText([]byte("disabled")))
	assert.Equal(t, ModeDisabled, parsed)
	assert.Error(t, parsed.UnmarshalText([]byte("x")))
}

func TestAsync_SettlesOnce(t *testing.T) {
	cancelled := 0
	a := NewAsync(func() { cancelled++ })
	var got []any
	a.OnSettle(func(v any, err error) { got = append(got, v) })

	a.Resolve(1)
	a.Resolve(2)
	a.Reject(errors.New("late"))

	v, err, ok := a.Result()
	assert.True(t, ok)
	assert.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, []any{1}, got)

	// settled: cancel hook never runs
	assert.False(t, a.Cancel())
	assert.Equal(t, 0, cancelled)

	// late registration fires immediately
	a.OnSettle(func(v any, err error) { got = append(got, v) })
	assert.Equal(t, []any{1, 1}, got)
}

func TestAsync_Cancel(t *testing.T) {
	cancelled := 0
	a := NewAsync(func() { cancelled++ })
	assert.True(t, a.Cancel())
	assert.False(t, a.Cancel())
	assert.Equal(t, 1, cancelled)

	_, _, ok := a.Result()
	assert.False(t, ok)
}
