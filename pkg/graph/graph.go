package graph

import (
	"math"
	"sort"
	"sync"
)

// MergeResult describes what a put changed
type MergeResult struct {
	// Diff holds the fields that were written, keyed by soul
	Diff map[string]*Node
	// Deferred holds the fields whose state is ahead of the machine clock
	Deferred map[string]*Node
	// Historical counts fields discarded because a newer write is held
	Historical int
}

// Changed reports whether the merge wrote anything
func (r MergeResult) Changed() bool {
	return len(r.Diff) > 0
}

// Graph is an in-memory set of nodes guarded for concurrent use
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]*Node
}

// New creates an empty graph
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*Node),
	}
}

// Get returns a copy of the node with the given soul, or nil
func (g *Graph) Get(soul string) *Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.nodes[soul].Clone()
}

// Has reports whether the soul is held
func (g *Graph) Has(soul string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	_, ok := g.nodes[soul]
	return ok
}

// Len returns the number of nodes
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return len(g.nodes)
}

// Souls returns every soul in sorted order
func (g *Graph) Souls() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	souls := make([]string, 0, len(g.nodes))
	for soul := range g.nodes {
		souls = append(souls, soul)
	}
	sort.Strings(souls)
	return souls
}

// Merge applies a put using machine as the current state.
// Nodes in put must already be valid.
func (g *Graph) Merge(put map[string]*Node, machine float64) MergeResult {
	result := MergeResult{
		Diff:     make(map[string]*Node),
		Deferred: make(map[string]*Node),
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for soul, incoming := range put {
		current := g.nodes[soul]
		for field, state := range incoming.States {
			value := incoming.Values[field]

			currentState := math.Inf(-1)
			var currentValue any
			if current != nil {
				if s, ok := current.States[field]; ok {
					currentState = s
					currentValue = current.Values[field]
				}
			}

			switch HAM(machine, state, currentState, value, currentValue) {
			case Defer:
				addField(result.Deferred, soul, field, value, state)
			case Historical:
				result.Historical++
			case ConvergeIncoming:
				if current == nil {
					current = NewNode(soul)
					g.nodes[soul] = current
				}
				current.Set(field, cloneValue(value), state)
				addField(result.Diff, soul, field, value, state)
			}
		}
	}

	return result
}

// Load seeds the graph with a node read from storage.
// Fields already held with a newer state are kept.
func (g *Graph) Load(n *Node) {
	if n == nil {
		return
	}
	g.Merge(map[string]*Node{n.Soul: n}, math.MaxFloat64)
}

// Delete forgets a node
func (g *Graph) Delete(soul string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.nodes, soul)
}

func addField(into map[string]*Node, soul, field string, value any, state float64) {
	n, ok := into[soul]
	if !ok {
		n = NewNode(soul)
		into[soul] = n
	}
	n.Set(field, cloneValue(value), state)
}
