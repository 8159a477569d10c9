package graph

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHAM(t *testing.T) {
	tests := []struct {
		name     string
		machine  float64
		inState  float64
		curState float64
		inValue  any
		curValue any
		want     Resolution
	}{
		{"future write is deferred", 10, 11, 5, "a", "b", Defer},
		{"older write is historical", 10, 4, 5, "a", "b", Historical},
		{"newer write wins", 10, 6, 5, "a", "b", ConvergeIncoming},
		{"first write wins", 10, 1, math.Inf(-1), "a", nil, ConvergeIncoming},
		{"tie keeps identical value", 10, 5, 5, "a", "a", Same},
		{"tie keeps lexically greater current", 10, 5, 5, "a", "b", ConvergeCurrent},
		{"tie takes lexically greater incoming", 10, 5, 5, "b", "a", ConvergeIncoming},
		{"tie compares encodings across types", 10, 5, 5, "1", 1.0, ConvergeCurrent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HAM(tt.machine, tt.inState, tt.curState, tt.inValue, tt.curValue)
			assert.Equal(t, tt.want, got, "got %s", got)
		})
	}
}

func TestMergeReturnsDiff(t *testing.T) {
	g := New()

	first := g.Merge(map[string]*Node{
		"user": NewNode("user").Set("name", "alice", 1).Set("age", 30.0, 1),
	}, 100)
	require.True(t, first.Changed())
	require.Equal(t, 2, first.Diff["user"].Len())

	second := g.Merge(map[string]*Node{
		"user": NewNode("user").Set("name", "bob", 2).Set("age", 29.0, 0),
	}, 100)
	require.Len(t, second.Diff, 1)
	assert.Equal(t, []string{"name"}, second.Diff["user"].Fields())
	assert.Equal(t, 1, second.Historical)

	user := g.Get("user")
	require.NotNil(t, user)
	assert.Equal(t, "bob", user.Values["name"])
	assert.Equal(t, 30.0, user.Values["age"])
}

func TestMergeDefersFutureStates(t *testing.T) {
	g := New()

	result := g.Merge(map[string]*Node{
		"clock": NewNode("clock").Set("tick", 1.0, 500),
	}, 100)

	assert.False(t, result.Changed())
	require.Contains(t, result.Deferred, "clock")
	assert.Equal(t, 500.0, result.Deferred["clock"].States["tick"])
	assert.False(t, g.Has("clock"))

	later := g.Merge(result.Deferred, 600)
	assert.True(t, later.Changed())
	assert.True(t, g.Has("clock"))
}

func TestMergeConvergesInAnyOrder(t *testing.T) {
	puts := []map[string]*Node{
		{"n": NewNode("n").Set("a", "x", 3).Set("b", "late", 9)},
		{"n": NewNode("n").Set("a", "y", 3).Set("c", true, 1)},
		{"n": NewNode("n").Set("a", "w", 2).Set("b", "early", 4)},
	}

	orders := [][]int{{0, 1, 2}, {2, 1, 0}, {1, 0, 2}, {1, 2, 0}}
	var want *Node
	for _, order := range orders {
		g := New()
		for _, i := range order {
			g.Merge(puts[i], 100)
		}
		got := g.Get("n")
		if want == nil {
			want = got
			continue
		}
		assert.Equal(t, want, got, "order %v", order)
	}

	assert.Equal(t, "y", want.Values["a"])
	assert.Equal(t, "late", want.Values["b"])
}

func TestLoadKeepsNewerFields(t *testing.T) {
	g := New()
	g.Merge(map[string]*Node{"n": NewNode("n").Set("a", "memory", 10)}, 100)

	g.Load(NewNode("n").Set("a", "disk", 5).Set("b", "disk", 5))

	n := g.Get("n")
	assert.Equal(t, "memory", n.Values["a"])
	assert.Equal(t, "disk", n.Values["b"])
}

func TestGetReturnsCopy(t *testing.T) {
	g := New()
	g.Merge(map[string]*Node{"n": NewNode("n").Set("ref", Link("other"), 1)}, 100)

	n := g.Get("n")
	n.Set("ref", "changed", 2)

	assert.Equal(t, Link("other"), g.Get("n").Values["ref"])
	assert.Nil(t, g.Get("missing"))
}

func TestNodeJSONWireForm(t *testing.T) {
	raw := `{"_":{"#":"user/alice",">":{"name":1700000000000,"friend":1700000000001}},"name":"Alice","friend":{"#":"user/bob"}}`

	var n Node
	require.NoError(t, json.Unmarshal([]byte(raw), &n))
	require.NoError(t, n.Validate())

	assert.Equal(t, "user/alice", n.Soul)
	assert.Equal(t, "Alice", n.Values["name"])
	soul, ok := IsLink(n.Values["friend"])
	assert.True(t, ok)
	assert.Equal(t, "user/bob", soul)

	out, err := json.Marshal(&n)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}

func TestNodeValidate(t *testing.T) {
	tests := []struct {
		name string
		node *Node
	}{
		{"nil", nil},
		{"missing soul", NewNode("").Set("a", 1.0, 1)},
		{"value without state", &Node{Soul: "n", Values: map[string]any{"a": 1.0}, States: map[string]float64{}}},
		{"state without value", &Node{Soul: "n", Values: map[string]any{}, States: map[string]float64{"a": 1}}},
		{"nested object", NewNode("n").Set("a", map[string]any{"x": 1.0}, 1)},
		{"array", NewNode("n").Set("a", []any{1.0}, 1)},
		{"reserved field", NewNode("n").Set(MetaKey, "x", 1)},
		{"non-finite state", NewNode("n").Set("a", 1.0, math.Inf(1))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.node.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidNode))
		})
	}
}

func TestUnmarshalRejectsMissingMeta(t *testing.T) {
	var n Node
	err := json.Unmarshal([]byte(`{"name":"x"}`), &n)
	require.ErrorIs(t, err, ErrInvalidNode)
}

func TestProject(t *testing.T) {
	n := NewNode("n").Set("a", "x", 1).Set("b", "y", 2)

	p := n.Project("b")
	require.NotNil(t, p)
	assert.Equal(t, []string{"b"}, p.Fields())
	assert.Nil(t, n.Project("missing"))
}
