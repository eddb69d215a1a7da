package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs generates block ids "<prefix>1", "<prefix>2", ...
//
// This enables deterministic test execution and golden snapshot comparison:
// the same scenario produces the same ids on every run.
//
// Thread-safety: SequentialIDs is safe for concurrent use via internal mutex.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	seq    int
}

// NewSequentialIDs creates a generator. An empty prefix defaults to "b".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "b"
	}
	return &SequentialIDs{prefix: prefix}
}

// Generate returns the next id. Implements block.IDGenerator.
func (g *SequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("%s%d", g.prefix, g.seq)
}

// Reset restarts the sequence. After Reset, Generate returns "<prefix>1".
func (g *SequentialIDs) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq = 0
}
