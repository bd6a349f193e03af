package testutil

import (
	"fmt"
	"sync"
)

// SequenceIDs generates command ids "<prefix>0001", "<prefix>0002", ...
//
// It satisfies queue.IDGenerator, so a scenario run twice with a fresh
// SequenceIDs produces identical queues and batch payloads.
//
// Thread-safety: SequenceIDs is safe for concurrent use via internal mutex.
type SequenceIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceIDs creates a generator. An empty prefix defaults to "cmd-".
func NewSequenceIDs(prefix string) *SequenceIDs {
	if prefix == "" {
		prefix = "cmd-"
	}
	return &SequenceIDs{prefix: prefix}
}

// Generate returns the next id in the sequence.
func (g *SequenceIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s%04d", g.prefix, g.n)
}
