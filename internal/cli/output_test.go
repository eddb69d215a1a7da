package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/blockflow/internal/event"
	"github.com/roach88/blockflow/internal/protocol"
)

func newTestPrinter(format string) (*Printer, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return &Printer{Format: format, Out: buf}, buf
}

func TestPrinter_FlowTable(t *testing.T) {
	rows := []FlowSummary{
		{Name: "calc", Revision: 3, ContentHash: "0123456789abcdef", FormatVersion: "1", EngineVersion: "dev"},
	}

	p, buf := newTestPrinter("text")
	require.NoError(t, p.FlowTable(rows))
	assert.Contains(t, buf.String(), "NAME")
	assert.Contains(t, buf.String(), "calc")
	assert.Contains(t, buf.String(), "0123456789ab ")
	assert.NotContains(t, buf.String(), "0123456789abc")

	p, buf = newTestPrinter("text")
	require.NoError(t, p.FlowTable(nil))
	assert.Equal(t, "No flows stored.\n", buf.String())

	p, buf = newTestPrinter("json")
	require.NoError(t, p.FlowTable(rows))
	var resp struct {
		Status string        `json:"status"`
		Data   []FlowSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, rows, resp.Data)
}

func TestPrinter_RevisionTableMarksDeletes(t *testing.T) {
	p, buf := newTestPrinter("text")
	require.NoError(t, p.RevisionTable([]RevisionSummary{
		{Seq: 1, Revision: 1, ContentHash: "aa"},
		{Seq: 2, Revision: 2, ContentHash: "bb", Deleted: true},
	}))
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 3)
	assert.NotContains(t, string(lines[1]), "deleted")
	assert.Contains(t, string(lines[2]), "deleted")
}

func TestPrinter_UpdateText(t *testing.T) {
	tests := []struct {
		name string
		msg  protocol.Message
		want string
	}{
		{
			name: "plain value",
			msg:  protocol.Message{protocol.FieldValue: map[string]any{"x": 1}},
			want: `calc.a.#output = {"x":1}` + "\n",
		},
		{
			name: "bound value",
			msg:  protocol.Message{protocol.FieldValue: 5, protocol.FieldBindingPath: "##.src"},
			want: "calc.a.#output = 5 (bound to ##.src)\n",
		},
		{
			name: "error event",
			msg:  protocol.Message{protocol.FieldValue: event.NewError(event.CodeTimeout, "too slow", nil).Wire()},
			want: "calc.a.#output = error [timeout] too slow\n",
		},
		{
			name: "event",
			msg:  protocol.Message{protocol.FieldValue: map[string]any{"#event": int64(4)}},
			want: "calc.a.#output = event (pass 4)\n",
		},
		{
			name: "block reference",
			msg:  protocol.Message{protocol.FieldValue: map[string]any{protocol.BlockRefField: "b7"}},
			want: "calc.a.#output = block b7\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, buf := newTestPrinter("text")
			require.NoError(t, p.Update("calc.a.#output", tt.msg))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestPrinter_UpdateJSONIsLineDelimited(t *testing.T) {
	p, buf := newTestPrinter("json")
	require.NoError(t, p.Update("calc.a.#output", protocol.Message{protocol.FieldValue: 1}))
	require.NoError(t, p.Update("calc.a.#output", protocol.Message{protocol.FieldValue: 2, protocol.FieldBindingPath: "src"}))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	var second map[string]any
	require.NoError(t, json.Unmarshal(lines[1], &second))
	assert.Equal(t, map[string]any{"path": "calc.a.#output", "value": 2.0, "bindingPath": "src"}, second)
}

func TestPrinter_Problem(t *testing.T) {
	p, buf := newTestPrinter("json")
	require.NoError(t, p.Problem(ErrCodeLoadFailed, "bad flow", map[string]string{"file": "calc.cue"}))
	var resp Envelope
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeLoadFailed, resp.Error.Code)
	assert.NotNil(t, resp.Error.Details)

	p, buf = newTestPrinter("text")
	require.NoError(t, p.Problem(ErrCodeLoadFailed, "bad flow", "hidden"))
	assert.Equal(t, "Error [E004]: bad flow\n", buf.String())

	p, buf = newTestPrinter("text")
	p.Verbose = true
	require.NoError(t, p.Problem(ErrCodeLoadFailed, "bad flow", "shown"))
	assert.Contains(t, buf.String(), "Details: shown")
}

func TestPrinter_Problems(t *testing.T) {
	problems := []Problem{{Code: ErrCodeInvalidBlock, Message: "a"}, {Code: ErrCodeInvalidMode, Message: "b"}}

	p, buf := newTestPrinter("json")
	err := p.Problems(ExitFailure, "2 errors", "Validation failed", problems, problems, nil)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	var resp struct {
		Status string    `json:"status"`
		Data   []Problem `json:"data"`
		Error  *Problem  `json:"error"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Len(t, resp.Data, 2)
	assert.Equal(t, ErrCodeInvalidBlock, resp.Error.Code)

	p, buf = newTestPrinter("text")
	err = p.Problems(ExitCommandError, "2 errors", "Compilation failed", problems, nil, func(w io.Writer) {
		fmt.Fprintln(w, "details")
	})
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, "✗ Compilation failed\n\ndetails\n", buf.String())
}

func TestPrinter_DebugfGoesToDiag(t *testing.T) {
	p, out := newTestPrinter("json")
	diag := &bytes.Buffer{}
	p.Diag = diag

	p.Debugf("loading %s", "calc.cue")
	assert.Empty(t, diag.String())

	p.Verbose = true
	p.Debugf("loading %s", "calc.cue")
	assert.Equal(t, "loading calc.cue\n", diag.String())
	assert.Empty(t, out.String())
}

func TestPrinter_Fail(t *testing.T) {
	p, buf := newTestPrinter("text")
	err := p.Fail(ExitCommandError, ErrCodeNotFound, "flow calc", assert.AnError)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, "Error [E005]: flow calc\n", buf.String())
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(assert.AnError))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad")))
	wrapped := fmt.Errorf("outer: %w", NewExitError(ExitCommandError, "bad"))
	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))
}
