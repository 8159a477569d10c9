package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/agentivo/overlap/pkg/graph"
	"github.com/agentivo/overlap/pkg/ports"
)

// InMemoryGraphStore implements GraphStore using an in-memory map
// Nothing survives a restart, so this is for testing and ephemeral relays
type InMemoryGraphStore struct {
	nodes  map[string]*graph.Node
	mu     sync.RWMutex
	closed bool
}

// NewInMemoryGraphStore creates a new in-memory graph store
func NewInMemoryGraphStore() *InMemoryGraphStore {
	return &InMemoryGraphStore{
		nodes: make(map[string]*graph.Node),
	}
}

// GetNode retrieves a node (ports.GraphStore interface)
func (s *InMemoryGraphStore) GetNode(ctx context.Context, soul string) (*graph.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	n, ok := s.nodes[soul]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrNotFound, soul)
	}

	// Copy to avoid mutations
	return n.Clone(), nil
}

// PutNodes stores complete nodes (ports.GraphStore interface)
func (s *InMemoryGraphStore) PutNodes(ctx context.Context, nodes map[string]*graph.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	for soul, n := range nodes {
		s.nodes[soul] = n.Clone()
	}
	return nil
}

// ListSouls returns all stored souls (ports.GraphStore interface)
func (s *InMemoryGraphStore) ListSouls(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	souls := make([]string, 0, len(s.nodes))
	for soul := range s.nodes {
		souls = append(souls, soul)
	}
	sort.Strings(souls)

	return souls, nil
}

// Healthcheck reports whether the store is open (ports.GraphStore interface)
func (s *InMemoryGraphStore) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// Close marks the store closed (ports.GraphStore interface)
func (s *InMemoryGraphStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}
