package graph

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// MetaKey is the reserved field holding a node's soul and field states
const MetaKey = "_"

// ErrInvalidNode is returned for nodes that cannot be merged into a graph
var ErrInvalidNode = errors.New("invalid node")

// Node is a single vertex of the graph
type Node struct {
	Soul   string
	Values map[string]any
	States map[string]float64
}

// meta is the wire form of a node's "_" field
type meta struct {
	Soul   string             `json:"#"`
	States map[string]float64 `json:">"`
}

// NewNode creates an empty node with the given soul
func NewNode(soul string) *Node {
	return &Node{
		Soul:   soul,
		Values: make(map[string]any),
		States: make(map[string]float64),
	}
}

// Link returns a value pointing at another node
func Link(soul string) map[string]any {
	return map[string]any{"#": soul}
}

// Now returns the machine state for the current instant in milliseconds
func Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Millisecond)
}

// Set writes a field with its state
func (n *Node) Set(field string, value any, state float64) *Node {
	if n.Values == nil {
		n.Values = make(map[string]any)
	}
	if n.States == nil {
		n.States = make(map[string]float64)
	}
	n.Values[field] = value
	n.States[field] = state
	return n
}

// Fields returns the node's field names in sorted order
func (n *Node) Fields() []string {
	fields := make([]string, 0, len(n.States))
	for field := range n.States {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// Len returns the number of fields
func (n *Node) Len() int {
	return len(n.States)
}

// Clone returns a copy that shares no maps with n
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := &Node{
		Soul:   n.Soul,
		Values: make(map[string]any, len(n.Values)),
		States: make(map[string]float64, len(n.States)),
	}
	for field, state := range n.States {
		c.States[field] = state
		c.Values[field] = cloneValue(n.Values[field])
	}
	return c
}

// Project returns a copy holding only the named field, or nil if absent
func (n *Node) Project(field string) *Node {
	state, ok := n.States[field]
	if !ok {
		return nil
	}
	return NewNode(n.Soul).Set(field, cloneValue(n.Values[field]), state)
}

// Validate checks the node can be merged
func (n *Node) Validate() error {
	if n == nil {
		return fmt.Errorf("%w: nil node", ErrInvalidNode)
	}
	if n.Soul == "" {
		return fmt.Errorf("%w: missing soul", ErrInvalidNode)
	}
	for field, value := range n.Values {
		if field == MetaKey {
			return fmt.Errorf("%w: %s uses reserved field %q", ErrInvalidNode, n.Soul, MetaKey)
		}
		if _, ok := n.States[field]; !ok {
			return fmt.Errorf("%w: %s.%s has no state", ErrInvalidNode, n.Soul, field)
		}
		if !validValue(value) {
			return fmt.Errorf("%w: %s.%s holds an unsupported value", ErrInvalidNode, n.Soul, field)
		}
	}
	for field, state := range n.States {
		if _, ok := n.Values[field]; !ok {
			return fmt.Errorf("%w: %s.%s has a state but no value", ErrInvalidNode, n.Soul, field)
		}
		if math.IsNaN(state) || math.IsInf(state, 0) {
			return fmt.Errorf("%w: %s.%s has a non-finite state", ErrInvalidNode, n.Soul, field)
		}
	}
	return nil
}

// MarshalJSON encodes the node in its wire form
func (n *Node) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(n.Values)+1)
	states := n.States
	if states == nil {
		states = map[string]float64{}
	}
	out[MetaKey] = meta{Soul: n.Soul, States: states}
	for field, value := range n.Values {
		out[field] = value
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a node from its wire form
func (n *Node) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidNode, err)
	}

	rawMeta, ok := raw[MetaKey]
	if !ok {
		return fmt.Errorf("%w: missing %q", ErrInvalidNode, MetaKey)
	}
	var m meta
	if err := json.Unmarshal(rawMeta, &m); err != nil {
		return fmt.Errorf("%w: bad metadata: %v", ErrInvalidNode, err)
	}

	n.Soul = m.Soul
	n.States = m.States
	if n.States == nil {
		n.States = make(map[string]float64)
	}
	n.Values = make(map[string]any, len(raw)-1)
	for field, value := range raw {
		if field == MetaKey {
			continue
		}
		var v any
		if err := json.Unmarshal(value, &v); err != nil {
			return fmt.Errorf("%w: %s.%s: %v", ErrInvalidNode, n.Soul, field, err)
		}
		n.Values[field] = v
	}
	return nil
}

// IsLink reports whether v points at another node and returns its soul
func IsLink(v any) (string, bool) {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return "", false
	}
	soul, ok := m["#"].(string)
	return soul, ok && soul != ""
}

func validValue(v any) bool {
	switch v.(type) {
	case nil, bool, string, float64, int, int64:
		return true
	}
	_, ok := IsLink(v)
	return ok
}

func cloneValue(v any) any {
	if soul, ok := IsLink(v); ok {
		return Link(soul)
	}
	return v
}

// lexical renders a value the way it is compared when states tie
func lexical(v any) string {
	if v == nil {
		return ""
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return ""
	}
	return string(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
}
