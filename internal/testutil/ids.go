package testutil

import (
	"fmt"
	"sync"
)

// FixedIDGenerator generates a reproducible sequence of transaction IDs.
//
// The same scenario run with a fresh FixedIDGenerator produces
// byte-identical transaction logs, which golden snapshots rely on.
// IDs are distinct because the store requires unique transaction UUIDs.
//
// Thread-safety: Generate is safe for concurrent use.
type FixedIDGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewFixedIDGenerator creates a generator whose IDs start with prefix.
//
// If prefix is empty, IDs look like "test-tx-000001".
func NewFixedIDGenerator(prefix string) *FixedIDGenerator {
	if prefix == "" {
		prefix = "test-tx"
	}
	return &FixedIDGenerator{prefix: prefix}
}

// Generate returns the next ID in the sequence.
//
// Implements store.IDGenerator.
func (g *FixedIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%06d", g.prefix, g.n)
}
