package store

import (
	"path/filepath"
	"testing"
)

// createTestStore opens a store in a temp dir, closed at cleanup.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testFlow is a two-block flow: b adds a's output to 10.
func testFlow(x float64) map[string]any {
	return map[string]any{
		"#is": "",
		"a":   map[string]any{"#is": "add", "0": x, "1": 1.0},
		"b":   map[string]any{"#is": "add", "~0": "##.a.#output", "1": 10.0},
	}
}
