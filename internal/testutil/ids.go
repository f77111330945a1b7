package testutil

import (
	"strconv"
	"sync"
)

// SequenceIDGenerator returns "<prefix>-1", "<prefix>-2", ... so row
// identities are predictable in assertions and golden files.
//
// Implements dashboard.IDGenerator. Safe for concurrent use.
type SequenceIDGenerator struct {
	mu     sync.Mutex
	prefix string
	next   int
}

// NewSequenceIDGenerator creates a generator with the given prefix.
// An empty prefix defaults to "id".
func NewSequenceIDGenerator(prefix string) *SequenceIDGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &SequenceIDGenerator{prefix: prefix}
}

// NewID returns the next identity in sequence.
func (g *SequenceIDGenerator) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return g.prefix + "-" + strconv.Itoa(g.next)
}
