package storetest

import (
	"testing"

	"github.com/agentivo/overlap/pkg/graph"
	"github.com/agentivo/overlap/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreFactory creates a fresh GraphStore instance for each test.
// The factory receives *testing.T so it can use t.TempDir() for stores
// that need filesystem paths and t.Cleanup() for teardown.
type StoreFactory func(t *testing.T) ports.GraphStore

// RunConformanceSuite runs the GraphStore conformance tests against the
// provided store factory. Each test gets a fresh store instance.
func RunConformanceSuite(t *testing.T, factory StoreFactory) {
	t.Helper()

	t.Run("GetMissing", func(t *testing.T) {
		store := factory(t)

		n, err := store.GetNode(t.Context(), "missing")
		require.ErrorIs(t, err, ports.ErrNotFound)
		assert.Nil(t, n)
	})

	t.Run("PutThenGet", func(t *testing.T) {
		store := factory(t)

		in := graph.NewNode("user/alice").
			Set("name", "Alice", 1700000000000).
			Set("friend", graph.Link("user/bob"), 1700000000001).
			Set("active", true, 1700000000002).
			Set("deleted", nil, 1700000000003)
		require.NoError(t, store.PutNodes(t.Context(), map[string]*graph.Node{in.Soul: in}))

		out, err := store.GetNode(t.Context(), in.Soul)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})

	t.Run("PutReplaces", func(t *testing.T) {
		store := factory(t)

		first := graph.NewNode("n").Set("a", "x", 1).Set("b", "y", 1)
		second := graph.NewNode("n").Set("a", "z", 2)
		require.NoError(t, store.PutNodes(t.Context(), map[string]*graph.Node{"n": first}))
		require.NoError(t, store.PutNodes(t.Context(), map[string]*graph.Node{"n": second}))

		out, err := store.GetNode(t.Context(), "n")
		require.NoError(t, err)
		assert.Equal(t, second, out)
	})

	t.Run("PutEmpty", func(t *testing.T) {
		store := factory(t)

		require.NoError(t, store.PutNodes(t.Context(), nil))
	})

	t.Run("ListSouls", func(t *testing.T) {
		store := factory(t)

		nodes := map[string]*graph.Node{
			"b": graph.NewNode("b").Set("v", 1.0, 1),
			"a": graph.NewNode("a").Set("v", 2.0, 1),
			"c": graph.NewNode("c").Set("v", 3.0, 1),
		}
		require.NoError(t, store.PutNodes(t.Context(), nodes))

		souls, err := store.ListSouls(t.Context())
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, souls)
	})

	t.Run("Healthcheck", func(t *testing.T) {
		store := factory(t)

		require.NoError(t, store.Healthcheck(t.Context()))
	})
}
