package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/blockflow/internal/block"
	"github.com/roach88/blockflow/internal/functions"
	"github.com/roach88/blockflow/internal/functions/builtin"
	"github.com/roach88/blockflow/internal/ir"
	"github.com/roach88/blockflow/internal/testutil"
)

var _ block.Storage = (*Store)(nil)

func TestSaveFlow_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveFlow(ctx, "calc", testFlow(1)))

	docs, err := s.LoadFlows(ctx)
	require.NoError(t, err)
	require.Contains(t, docs, "calc")
	assert.Equal(t, testFlow(1), docs["calc"])

	doc, err := s.LoadFlow(ctx, "calc")
	require.NoError(t, err)
	assert.Equal(t, testFlow(1), doc)
}

func TestSaveFlow_StoresCompressedCanonicalJSON(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveFlow(ctx, "calc", testFlow(1)))

	var (
		blob []byte
		hash string
	)
	require.NoError(t, s.db.QueryRow(`SELECT data, content_hash FROM flows WHERE name = 'calc'`).Scan(&blob, &hash))

	raw, err := s.codec.decompress(blob)
	require.NoError(t, err)
	want, err := ir.MarshalCanonical(testFlow(1))
	require.NoError(t, err)
	assert.Equal(t, string(want), string(raw))
	assert.Equal(t, ir.MustFlowHash(testFlow(1)), hash)
}

func TestSaveFlow_Revisions(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveFlow(ctx, "calc", testFlow(1)))
	require.NoError(t, s.SaveFlow(ctx, "calc", testFlow(1)))
	require.NoError(t, s.SaveFlow(ctx, "calc", testFlow(2)))

	flows, err := s.Flows(ctx)
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, int64(2), flows[0].Revision, "unchanged save must not bump the revision")
	assert.Equal(t, ir.FormatVersion, flows[0].FormatVersion)
	assert.Equal(t, ir.EngineVersion, flows[0].EngineVersion)

	history, err := s.History(ctx, "calc")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(1), history[0].Revision)
	assert.Equal(t, int64(2), history[1].Revision)
	assert.Less(t, history[0].Seq, history[1].Seq)

	old, err := s.LoadRevision(ctx, "calc", 1)
	require.NoError(t, err)
	assert.Equal(t, testFlow(1), old)

	_, err = s.LoadRevision(ctx, "calc", 9)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteFlow(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveFlow(ctx, "calc", testFlow(1)))
	require.NoError(t, s.DeleteFlow(ctx, "calc"))
	require.NoError(t, s.DeleteFlow(ctx, "calc"), "deleting twice is a no-op")

	docs, err := s.LoadFlows(ctx)
	require.NoError(t, err)
	assert.Empty(t, docs)

	_, err = s.LoadFlow(ctx, "calc")
	assert.ErrorIs(t, err, ErrNotFound)

	history, err := s.History(ctx, "calc")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[1].Deleted)

	// numbering continues after a delete
	require.NoError(t, s.SaveFlow(ctx, "calc", testFlow(1)))
	flows, err := s.Flows(ctx)
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, int64(3), flows[0].Revision)
}

func TestSaveFlow_RejectsUnencodable(t *testing.T) {
	s := createTestStore(t)
	err := s.SaveFlow(context.Background(), "bad", map[string]any{"f": func() {}})
	assert.Error(t, err)

	flows, err := s.Flows(context.Background())
	require.NoError(t, err)
	assert.Empty(t, flows)
}

func TestStore_AsRootStorage(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	newRoot := func() *block.Root {
		reg := functions.NewRegistry()
		builtin.Register(reg)
		r := block.NewRoot(
			block.WithRegistry(reg),
			block.WithIDGenerator(testutil.NewSequentialIDs("b")),
			block.WithStorage(s),
		)
		t.Cleanup(r.Close)
		return r
	}

	r1 := newRoot()
	r1.AddFlow("calc", testFlow(4))
	r1.Run()
	assert.Equal(t, 15.0, r1.QueryValue("calc.b.#output"))
	require.NoError(t, r1.SaveFlow(ctx, "calc"))

	r2 := newRoot()
	require.NoError(t, r2.LoadFlows(ctx))
	r2.Run()
	assert.Equal(t, []string{"calc"}, r2.FlowNames())
	assert.Equal(t, 15.0, r2.QueryValue("calc.b.#output"))

	// saving the restored flow changes nothing
	require.NoError(t, r2.SaveFlow(ctx, "calc"))
	history, err := s.History(ctx, "calc")
	require.NoError(t, err)
	assert.Len(t, history, 1)

	require.NoError(t, r2.DeleteFlow(ctx, "calc"))
	assert.Empty(t, r2.FlowNames())
	docs, err := s.LoadFlows(ctx)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestFlows_OrderedByName(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"b", "a", "B"} {
		require.NoError(t, s.SaveFlow(ctx, name, testFlow(1)))
	}

	flows, err := s.Flows(ctx)
	require.NoError(t, err)
	names := make([]string, len(flows))
	for i, fi := range flows {
		names[i] = fi.Name
	}
	assert.Equal(t, []string{"B", "a", "b"}, names)

	docs, err := s.LoadFlows(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 3)
}
