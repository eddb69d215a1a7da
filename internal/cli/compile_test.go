package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const calcFlow = `
package flows

flow: calc: {
	blocks: {
		a: {
			is: "add"
			set: {"0": 2, "1": 3}
		}
		b: {
			is: "add"
			bind: {"0": "##.a.#output"}
			set: {"1": 10}
		}
	}
}
`

// writeFlows writes name -> content CUE files into a temp dir.
func writeFlows(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	return dir
}

func TestCompileValidFlows(t *testing.T) {
	dir := writeFlows(t, map[string]string{"calc.cue": calcFlow})

	buf := &bytes.Buffer{}
	cmd := NewCompileCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	require.NoError(t, cmd.Execute())

	output := buf.String()
	assert.Contains(t, output, "✓ Compiled 1 flow(s)")
	assert.Contains(t, output, "calc: 2 block(s)")
	assert.Contains(t, output, `"~0":"##.a.#output"`)
}

func TestCompileValidFlowsJSON(t *testing.T) {
	dir := writeFlows(t, map[string]string{"calc.cue": calcFlow})

	buf := &bytes.Buffer{}
	cmd := NewCompileCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	require.NoError(t, cmd.Execute())

	var resp struct {
		Status string         `json:"status"`
		Data   []CompiledFlow `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "calc", resp.Data[0].Name)
	assert.Equal(t, 2, resp.Data[0].Blocks)
	assert.Len(t, resp.Data[0].Hash, 64)
	assert.Equal(t, "add", resp.Data[0].Doc["a"].(map[string]any)["#is"])
}

func TestCompileOutputToFile(t *testing.T) {
	dir := writeFlows(t, map[string]string{"calc.cue": calcFlow})
	outputFile := filepath.Join(t.TempDir(), "compiled.json")

	buf := &bytes.Buffer{}
	cmd := NewCompileCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir, "--output", outputFile})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "Wrote canonical JSON to")

	data, err := os.ReadFile(outputFile)
	require.NoError(t, err)

	var flows map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &flows))
	require.Contains(t, flows, "calc")
	b := flows["calc"]["b"].(map[string]any)
	assert.Equal(t, 10.0, b["1"])
	assert.Equal(t, "##.a.#output", b["~0"])
}

func TestCompileIsDeterministic(t *testing.T) {
	dir := writeFlows(t, map[string]string{"calc.cue": calcFlow})

	run := func() string {
		buf := &bytes.Buffer{}
		cmd := NewCompileCommand(&RootOptions{Format: "text"})
		cmd.SetOut(buf)
		cmd.SetArgs([]string{dir})
		require.NoError(t, cmd.Execute())
		return buf.String()
	}
	assert.Equal(t, run(), run())
}

func TestCompileNonExistentDirectory(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewCompileCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"/nonexistent/directory/path"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrCodeNotFound)
	assert.Contains(t, buf.String(), "not found")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCompileEmptyDirectory(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewCompileCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{t.TempDir()})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrCodeNoFiles)
	assert.Contains(t, buf.String(), "no CUE files found")
}

func TestCompileNoFlows(t *testing.T) {
	dir := writeFlows(t, map[string]string{"other.cue": "package flows\n\nsettings: {debug: true}\n"})

	buf := &bytes.Buffer{}
	cmd := NewCompileCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, buf.String(), "no flows found")
}

func TestCompileInvalidMode(t *testing.T) {
	dir := writeFlows(t, map[string]string{"bad.cue": `
package flows

flow: bad: {
	blocks: a: {
		is:   "add"
		mode: "sometimes"
	}
}
`})

	buf := &bytes.Buffer{}
	cmd := NewCompileCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compilation failed")
	assert.Contains(t, buf.String(), "✗ Compilation failed")
	assert.Contains(t, buf.String(), ErrCodeInvalidMode)
	assert.Contains(t, buf.String(), `unknown mode "sometimes"`)
}

func TestCompileInvalidFlowJSON(t *testing.T) {
	dir := writeFlows(t, map[string]string{"bad.cue": `
package flows

flow: bad: {
	blocks: a: {
		is:    "add"
		extra: 1
	}
}
`})

	buf := &bytes.Buffer{}
	cmd := NewCompileCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	err := cmd.Execute()
	require.Error(t, err)

	var resp Envelope
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Contains(t, resp.Error.Message, "unknown field")
}

func TestCompileCollectsEveryBadFlow(t *testing.T) {
	dir := writeFlows(t, map[string]string{"bad.cue": `
package flows

flow: one: blocks: a: {is: "add", mode: "never"}
flow: two: blocks: a: {is: 1}
`})

	buf := &bytes.Buffer{}
	cmd := NewCompileCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 error(s)")
}

func TestCompileVerboseOutput(t *testing.T) {
	dir := writeFlows(t, map[string]string{"calc.cue": calcFlow})

	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd := NewCompileCommand(&RootOptions{Format: "text", Verbose: true})
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs([]string{dir})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, errOut.String(), "Found 1 CUE file(s)")
	assert.Contains(t, errOut.String(), "Compiled flow: calc (2 blocks)")
}

func TestFindCUEFiles(t *testing.T) {
	dir := writeFlows(t, map[string]string{
		"a.cue":     "package flows",
		"b.cue":     "package flows",
		"notes.txt": "ignored",
	})

	files, err := FindCUEFiles(dir)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestMapFieldToErrorCode(t *testing.T) {
	tests := []struct {
		field string
		want  string
	}{
		{"calc.a.mode", ErrCodeInvalidMode},
		{"calc.a.set.0", ErrCodeInvalidValue},
		{"calc.a.bind.0", ErrCodeInvalidBinding},
		{"calc.a.is", ErrCodeInvalidType},
		{"calc.blocks.x", ErrCodeInvalidBlock},
		{"calc.a.priority", ErrCodeInvalidBlock},
		{"calc", ErrCodeGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			assert.Equal(t, tt.want, MapFieldToErrorCode(tt.field))
		})
	}
}

func TestCountBlocks(t *testing.T) {
	doc := map[string]any{
		"#is": "",
		"a": map[string]any{
			"#is": "add",
			"inner": map[string]any{"#is": "add"},
		},
		"value": map[string]any{"x": 1.0},
	}
	assert.Equal(t, 2, countBlocks(doc))
}
