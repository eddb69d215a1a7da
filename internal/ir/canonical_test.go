package ir

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"null", nil, "null"},
		{"string", "hello", `"hello"`},
		{"empty string", "", `""`},
		{"int", 42, "42"},
		{"negative int64", int64(-100), "-100"},
		{"uint8", uint8(7), "7"},
		{"zero float", 0.0, "0"},
		{"integral float", 5.0, "5"},
		{"fraction", 1.5, "1.5"},
		{"small float", 1e-7, "1e-7"},
		{"large float", 1e21, "1e+21"},
		{"json number", json.Number("3"), "3"},
		{"bool true", true, "true"},
		{"bool false", false, "false"},
		{"empty array", []any{}, "[]"},
		{"empty object", map[string]any{}, "{}"},
		{"array", []any{1, "a", nil}, `[1,"a",null]`},
		{"simple object", map[string]any{"a": 1}, `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalSortedKeys(t *testing.T) {
	obj := map[string]any{
		"z":   map[string]any{"b": 1, "a": 2},
		"~a":  "x.y",
		"#is": "add",
		"a":   3,
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"#is":"add","a":3,"z":{"a":2,"b":1},"~a":"x.y"}`, string(result))
}

func TestMarshalCanonicalUTF16Ordering(t *testing.T) {
	// U+10000 encodes as the surrogate pair D800 DC00, before U+E000
	obj := map[string]any{
		"\uE000":     1,
		"\U00010000": 2,
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\"\U00010000\":2,\"\uE000\":1}", string(result))
}

func TestMarshalCanonicalStrings(t *testing.T) {
	t.Run("no html escaping", func(t *testing.T) {
		result, err := MarshalCanonical("<a>&</a>")
		require.NoError(t, err)
		assert.Equal(t, `"<a>&</a>"`, string(result))
	})

	t.Run("nfc", func(t *testing.T) {
		result, err := MarshalCanonical("e\u0301")
		require.NoError(t, err)
		assert.Equal(t, "\"\u00e9\"", string(result))
	})

	t.Run("line separators stay literal", func(t *testing.T) {
		result, err := MarshalCanonical("a\u2028b\u2029c")
		require.NoError(t, err)
		assert.Equal(t, "\"a\u2028b\u2029c\"", string(result))
	})

	t.Run("escaped backslash before u2028 text", func(t *testing.T) {
		result, err := MarshalCanonical(`\u2028`)
		require.NoError(t, err)
		assert.Equal(t, `"\\u2028"`, string(result))
	})

	t.Run("control characters escaped", func(t *testing.T) {
		result, err := MarshalCanonical("a\nb\"c")
		require.NoError(t, err)
		assert.Equal(t, `"a\nb\"c"`, string(result))
	})
}

func TestMarshalCanonicalErrors(t *testing.T) {
	_, err := MarshalCanonical(math.NaN())
	assert.Error(t, err)

	_, err = MarshalCanonical(map[string]any{"a": []any{math.Inf(1)}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"a"`)

	_, err = MarshalCanonical(struct{}{})
	assert.Error(t, err)
}

func TestMarshalCanonicalDeterministic(t *testing.T) {
	doc := map[string]any{"b": 1, "a": []any{map[string]any{"y": 1, "x": 2}}, "c": "s"}
	first, err := MarshalCanonical(doc)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := MarshalCanonical(doc)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}
