package harness

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/blockflow/internal/event"
)

func TestValidateAssertion(t *testing.T) {
	tests := []struct {
		name    string
		a       Assertion
		wantErr string
	}{
		{"value ok", Assertion{Type: AssertValueEquals, Path: "f.a.#output"}, ""},
		{"value no path", Assertion{Type: AssertValueEquals}, "path is required"},
		{"saved ok", Assertion{Type: AssertSavedEquals, Flow: "f", Path: "a.0"}, ""},
		{"saved no flow", Assertion{Type: AssertSavedEquals, Path: "a.0"}, "flow and path are required"},
		{"count zero", Assertion{Type: AssertRevisionCount, Flow: "f"}, ""},
		{"count negative", Assertion{Type: AssertRevisionCount, Flow: "f", Count: -1}, "must not be negative"},
		{"count no flow", Assertion{Type: AssertRevisionCount}, "flow is required"},
		{"no type", Assertion{}, "type is required"},
		{"unknown", Assertion{Type: "final_state"}, "unknown type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateAssertion(0, &tt.a)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEvaluateAssertions_ValueEquals(t *testing.T) {
	values := map[string]any{"f.a.#output": 5.0}
	actx := &AssertionContext{Lookup: func(path string) (any, error) {
		return values[path], nil
	}}
	result := NewResult()

	failures := EvaluateAssertions(result, []Assertion{
		{Type: AssertValueEquals, Path: "f.a.#output", Value: 5},
		{Type: AssertValueEquals, Path: "f.a.#output", Value: 6},
		{Type: AssertValueEquals, Path: "f.b.#output", Value: nil},
	}, actx)

	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], "assertions[1]")
	assert.Contains(t, failures[0], "f.a.#output = 6")
}

func TestEvaluateAssertions_LookupError(t *testing.T) {
	actx := &AssertionContext{Lookup: func(string) (any, error) {
		return nil, errors.New("engine stopped")
	}}
	failures := EvaluateAssertions(NewResult(), []Assertion{{Type: AssertValueEquals, Path: "x"}}, actx)
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], "engine stopped")
}

func TestEvaluateAssertions_UnknownType(t *testing.T) {
	failures := EvaluateAssertions(NewResult(), []Assertion{{Type: "bogus"}}, &AssertionContext{})
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], `unknown assertion type "bogus"`)
}

func TestAssertionError_ErrorFormat(t *testing.T) {
	err := &AssertionError{
		Type:     AssertValueEquals,
		Expected: "f.a.#output = 6",
		Actual:   "5",
		Trace:    []TraceEvent{{Step: 0, Action: ActionSet, Path: "f.a.0", Value: 3.0}},
	}
	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: value_equals")
	assert.Contains(t, msg, "Expected: f.a.#output = 6")
	assert.Contains(t, msg, "Actual: 5")
	assert.Contains(t, msg, "[0] set f.a.0 3")
}

func TestLookupDoc(t *testing.T) {
	doc := map[string]any{
		"#is": "",
		"a":   map[string]any{"#is": "add", "0": 1.0, "~1": "##.b.#output"},
	}
	assert.Equal(t, 1.0, lookupDoc(doc, "a.0"))
	assert.Equal(t, "##.b.#output", lookupDoc(doc, "a.~1"))
	assert.Nil(t, lookupDoc(doc, "a.0.x"))
	assert.Nil(t, lookupDoc(doc, "missing"))
}

func TestExportValue(t *testing.T) {
	assert.Equal(t, EventMarker, exportValue(&event.Event{}))
	assert.Equal(t, ErrorMarker, exportValue(event.NewError("FAILED", "x", nil)))
	assert.Equal(t, 2.0, exportValue(2.0))
	assert.Nil(t, exportValue(nil))
}

func TestValuesEqual(t *testing.T) {
	assert.True(t, valuesEqual(nil, nil))
	assert.False(t, valuesEqual(nil, 1.0))
	assert.False(t, valuesEqual(1.0, nil))
	assert.True(t, valuesEqual(1.0, 1.0))
	assert.False(t, valuesEqual(1, 1.0))
	assert.True(t, valuesEqual(map[string]any{"a": []any{"x"}}, map[string]any{"a": []any{"x"}}))
}
