package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/blockflow/internal/store"
)

// seedStore writes calc at two revisions and returns the database path.
func seedStore(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "flows.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	require.NoError(t, st.SaveFlow(ctx, "calc", map[string]any{
		"#is": "",
		"a":   map[string]any{"#is": "add", "0": 2.0, "1": 3.0},
	}))
	require.NoError(t, st.SaveFlow(ctx, "calc", map[string]any{
		"#is": "",
		"a":   map[string]any{"#is": "add", "0": 4.0, "1": 3.0},
	}))
	return dbPath
}

func runFlows(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewFlowsCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestFlowsList(t *testing.T) {
	dbPath := seedStore(t)

	out, err := runFlows(t, "text", "list", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "calc")
}

func TestFlowsListJSON(t *testing.T) {
	dbPath := seedStore(t)

	out, err := runFlows(t, "json", "list", "--db", dbPath)
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   []FlowSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "calc", resp.Data[0].Name)
	assert.Equal(t, int64(2), resp.Data[0].Revision)
	assert.Len(t, resp.Data[0].ContentHash, 64)
}

func TestFlowsHistory(t *testing.T) {
	dbPath := seedStore(t)

	out, err := runFlows(t, "json", "history", "calc", "--db", dbPath)
	require.NoError(t, err)

	var resp struct {
		Data []RevisionSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, int64(1), resp.Data[0].Revision)
	assert.Equal(t, int64(2), resp.Data[1].Revision)
	assert.Less(t, resp.Data[0].Seq, resp.Data[1].Seq)
}

func TestFlowsHistoryUnknown(t *testing.T) {
	dbPath := seedStore(t)

	out, err := runFlows(t, "text", "history", "nope", "--db", dbPath)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, ErrCodeNotFound)
}

func TestFlowsShow(t *testing.T) {
	dbPath := seedStore(t)

	out, err := runFlows(t, "text", "show", "calc", "--db", dbPath)
	require.NoError(t, err)
	assert.Equal(t, `{"#is":"","a":{"#is":"add","0":4,"1":3}}`+"\n", out)

	out, err = runFlows(t, "text", "show", "calc", "--revision", "1", "--db", dbPath)
	require.NoError(t, err)
	assert.Equal(t, `{"#is":"","a":{"#is":"add","0":2,"1":3}}`+"\n", out)
}

func TestFlowsDelete(t *testing.T) {
	dbPath := seedStore(t)

	out, err := runFlows(t, "text", "delete", "calc", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Deleted calc")

	out, err = runFlows(t, "text", "list", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "No flows stored.")

	out, err = runFlows(t, "json", "history", "calc", "--db", dbPath)
	require.NoError(t, err)
	var resp struct {
		Data []RevisionSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 3)
	assert.True(t, resp.Data[2].Deleted)

	_, err = runFlows(t, "text", "delete", "calc", "--db", dbPath)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestFlowsMissingDatabase(t *testing.T) {
	out, err := runFlows(t, "text", "list", "--db", filepath.Join(t.TempDir(), "absent.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "database not found")
}

func TestFlowsRequiresDatabaseFlag(t *testing.T) {
	_, err := runFlows(t, "text", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"db" not set`)
}
