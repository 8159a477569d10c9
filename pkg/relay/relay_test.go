package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	eventsmemory "github.com/agentivo/overlap/pkg/adapters/events/memory"
	"github.com/agentivo/overlap/pkg/adapters/metrics/prometheus"
	storagememory "github.com/agentivo/overlap/pkg/adapters/storage/memory"
	"github.com/agentivo/overlap/pkg/graph"
	"github.com/agentivo/overlap/pkg/ports"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRelay(t *testing.T, mutate func(*Config)) *Relay {
	t.Helper()

	cfg := &Config{
		Store:      storagememory.NewInMemoryGraphStore(),
		Metrics:    prometheus.NewCollector(prom.NewRegistry()),
		Logger:     zap.NewNop(),
		DedupTTL:   time.Minute,
		MaxDrift:   time.Hour,
		PeerBuffer: 16,
	}
	if mutate != nil {
		mutate(cfg)
	}

	r, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, r.Start(t.Context()))
	t.Cleanup(func() { _ = r.Shutdown(context.Background()) })
	return r
}

func attach(t *testing.T, r *Relay) *Peer {
	t.Helper()

	p, err := r.Attach("test")
	require.NoError(t, err)
	return p
}

func next(t *testing.T, p *Peer) *Message {
	t.Helper()

	select {
	case frame := <-p.Outbound():
		var msg Message
		require.NoError(t, json.Unmarshal(frame, &msg))
		return &msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
		return nil
	}
}

func nothing(t *testing.T, p *Peer) {
	t.Helper()

	select {
	case frame := <-p.Outbound():
		t.Fatalf("unexpected message: %s", frame)
	case <-time.After(50 * time.Millisecond):
	}
}

func putFrame(t *testing.T, id string, nodes ...*graph.Node) []byte {
	t.Helper()

	put := make(map[string]*graph.Node, len(nodes))
	for _, n := range nodes {
		put[n.Soul] = n
	}
	frame, err := json.Marshal(&Message{ID: id, Put: put})
	require.NoError(t, err)
	return frame
}

func TestPutIsAckedAndBroadcast(t *testing.T) {
	r := newTestRelay(t, nil)
	alice := attach(t, r)
	bob := attach(t, r)
	carol := attach(t, r)

	now := graph.Now()
	frame := putFrame(t, "m1", graph.NewNode("room").Set("topic", "hello", now))
	require.NoError(t, r.Receive(t.Context(), alice, frame))

	ack := next(t, alice)
	assert.Equal(t, "m1", ack.Ack)
	assert.Empty(t, ack.Err)
	assert.EqualValues(t, 1, ack.OK)
	nothing(t, alice)

	for _, p := range []*Peer{bob, carol} {
		msg := next(t, p)
		assert.Equal(t, "m1", msg.ID)
		require.Contains(t, msg.Put, "room")
		assert.Equal(t, "hello", msg.Put["room"].Values["topic"])
	}
}

func TestDuplicateMessagesAreIgnored(t *testing.T) {
	r := newTestRelay(t, nil)
	alice := attach(t, r)
	bob := attach(t, r)

	frame := putFrame(t, "m1", graph.NewNode("room").Set("topic", "hello", graph.Now()))
	require.NoError(t, r.Receive(t.Context(), alice, frame))
	require.NoError(t, r.Receive(t.Context(), alice, frame))

	next(t, alice)
	nothing(t, alice)
	next(t, bob)
	nothing(t, bob)
}

func TestHistoricalPutIsNotBroadcast(t *testing.T) {
	r := newTestRelay(t, nil)
	alice := attach(t, r)
	bob := attach(t, r)

	now := graph.Now()
	require.NoError(t, r.Receive(t.Context(), alice, putFrame(t, "m1", graph.NewNode("n").Set("a", "new", now))))
	next(t, alice)
	next(t, bob)

	require.NoError(t, r.Receive(t.Context(), alice, putFrame(t, "m2", graph.NewNode("n").Set("a", "old", now-10))))
	ack := next(t, alice)
	assert.Equal(t, "m2", ack.Ack)
	nothing(t, bob)

	n, err := r.Get(t.Context(), "n")
	require.NoError(t, err)
	assert.Equal(t, "new", n.Values["a"])
}

func TestInvalidPutIsRejected(t *testing.T) {
	r := newTestRelay(t, nil)
	alice := attach(t, r)
	bob := attach(t, r)

	frame := []byte(`{"#":"m1","put":{"n":{"_":{"#":"other",">":{"a":1}},"a":"x"}}}`)
	require.NoError(t, r.Receive(t.Context(), alice, frame))

	ack := next(t, alice)
	assert.Equal(t, "m1", ack.Ack)
	assert.NotEmpty(t, ack.Err)
	nothing(t, bob)
}

func TestFarFuturePutIsRejected(t *testing.T) {
	r := newTestRelay(t, nil)
	alice := attach(t, r)

	future := graph.Now() + float64((2 * time.Hour).Milliseconds())
	require.NoError(t, r.Receive(t.Context(), alice, putFrame(t, "m1", graph.NewNode("n").Set("a", "x", future))))

	ack := next(t, alice)
	assert.Contains(t, ack.Err, "future")
	assert.False(t, r.graph.Has("n"))
}

func TestNearFuturePutIsDeferred(t *testing.T) {
	r := newTestRelay(t, nil)
	alice := attach(t, r)
	bob := attach(t, r)

	soon := graph.Now() + 100
	require.NoError(t, r.Receive(t.Context(), alice, putFrame(t, "m1", graph.NewNode("n").Set("a", "x", soon))))

	ack := next(t, alice)
	assert.Empty(t, ack.Err)
	assert.False(t, r.graph.Has("n"))

	msg := next(t, bob)
	require.Contains(t, msg.Put, "n")
	assert.True(t, r.graph.Has("n"))
}

func TestGetReturnsNodeOrField(t *testing.T) {
	r := newTestRelay(t, nil)
	alice := attach(t, r)

	now := graph.Now()
	require.NoError(t, r.Receive(t.Context(), alice, putFrame(t, "m1",
		graph.NewNode("user").Set("name", "alice", now).Set("age", 30.0, now))))
	next(t, alice)

	require.NoError(t, r.Receive(t.Context(), alice, []byte(`{"#":"g1","get":{"#":"user"}}`)))
	reply := next(t, alice)
	assert.Equal(t, "g1", reply.Ack)
	assert.NotEmpty(t, reply.ID)
	require.Contains(t, reply.Put, "user")
	assert.Equal(t, 2, reply.Put["user"].Len())

	require.NoError(t, r.Receive(t.Context(), alice, []byte(`{"#":"g2","get":{"#":"user",".":"name"}}`)))
	reply = next(t, alice)
	assert.Equal(t, []string{"name"}, reply.Put["user"].Fields())

	require.NoError(t, r.Receive(t.Context(), alice, []byte(`{"#":"g3","get":{"#":"user",".":{"=":"age"}}}`)))
	reply = next(t, alice)
	assert.Equal(t, []string{"age"}, reply.Put["user"].Fields())
}

func TestGetUnknownSoulRepliesWithoutPut(t *testing.T) {
	r := newTestRelay(t, nil)
	alice := attach(t, r)

	require.NoError(t, r.Receive(t.Context(), alice, []byte(`{"#":"g1","get":{"#":"nobody"}}`)))
	reply := next(t, alice)
	assert.Equal(t, "g1", reply.Ack)
	assert.Nil(t, reply.Put)
	assert.Empty(t, reply.Err)
}

func TestGetLoadsFromStore(t *testing.T) {
	store := storagememory.NewInMemoryGraphStore()
	require.NoError(t, store.PutNodes(t.Context(), map[string]*graph.Node{
		"overlap": graph.NewNode("overlap").Set("rooms", 3.0, 1),
	}))
	r := newTestRelay(t, func(c *Config) { c.Store = store })

	n, err := r.Get(t.Context(), "overlap")
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, 3.0, n.Values["rooms"])

	missing, err := r.Get(t.Context(), "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

type failingStore struct {
	*storagememory.InMemoryGraphStore
	calls atomic.Int32
}

func (f *failingStore) GetNode(ctx context.Context, soul string) (*graph.Node, error) {
	f.calls.Add(1)
	return nil, errors.New("disk on fire")
}

func TestGetSurfacesStoreErrors(t *testing.T) {
	store := &failingStore{InMemoryGraphStore: storagememory.NewInMemoryGraphStore()}
	r := newTestRelay(t, func(c *Config) { c.Store = store })

	_, err := r.Get(t.Context(), "overlap")
	require.Error(t, err)
	require.NotErrorIs(t, err, ports.ErrNotFound)
	assert.EqualValues(t, 1, store.calls.Load())
}

func TestPutPersistsMergedNode(t *testing.T) {
	store := storagememory.NewInMemoryGraphStore()
	require.NoError(t, store.PutNodes(t.Context(), map[string]*graph.Node{
		"n": graph.NewNode("n").Set("old", "kept", 1),
	}))
	r := newTestRelay(t, func(c *Config) { c.Store = store })

	require.NoError(t, r.Put(t.Context(), map[string]*graph.Node{
		"n": graph.NewNode("n").Set("new", "added", graph.Now()),
	}))

	stored, err := store.GetNode(t.Context(), "n")
	require.NoError(t, err)
	assert.Equal(t, "kept", stored.Values["old"])
	assert.Equal(t, "added", stored.Values["new"])
}

func TestDAMHandshake(t *testing.T) {
	r := newTestRelay(t, func(c *Config) { c.InstanceID = "relay-1" })
	alice := attach(t, r)

	require.NoError(t, r.Receive(t.Context(), alice, []byte(`{"#":"h1","dam":"?","pid":"client"}`)))
	reply := next(t, alice)
	assert.Equal(t, "?", reply.DAM)
	assert.Equal(t, "relay-1", reply.PID)
	assert.Equal(t, "h1", reply.Ack)
}

func TestBatchFrames(t *testing.T) {
	r := newTestRelay(t, nil)
	alice := attach(t, r)

	now := graph.Now()
	batch := []*Message{
		{ID: "m1", Put: map[string]*graph.Node{"a": graph.NewNode("a").Set("v", 1.0, now)}},
		{ID: "m2", Put: map[string]*graph.Node{"b": graph.NewNode("b").Set("v", 2.0, now)}},
	}
	frame, err := json.Marshal(batch)
	require.NoError(t, err)

	require.NoError(t, r.Receive(t.Context(), alice, frame))
	assert.Equal(t, "m1", next(t, alice).Ack)
	assert.Equal(t, "m2", next(t, alice).Ack)
}

func TestMalformedFrame(t *testing.T) {
	r := newTestRelay(t, nil)
	alice := attach(t, r)

	require.Error(t, r.Receive(t.Context(), alice, []byte(`{not json`)))
	assert.Equal(t, "malformed message", next(t, alice).Err)
}

func TestFullQueueDropsMessages(t *testing.T) {
	r := newTestRelay(t, func(c *Config) { c.PeerBuffer = 1 })
	alice := attach(t, r)
	bob := attach(t, r)

	now := graph.Now()
	require.NoError(t, r.Receive(t.Context(), alice, putFrame(t, "m1", graph.NewNode("a").Set("v", 1.0, now))))
	require.NoError(t, r.Receive(t.Context(), alice, putFrame(t, "m2", graph.NewNode("b").Set("v", 1.0, now))))

	assert.Equal(t, "m1", next(t, bob).ID)
	nothing(t, bob)
}

func TestInstancesSharePuts(t *testing.T) {
	bus := eventsmemory.NewInMemoryEventBus()
	t.Cleanup(func() { _ = bus.Close() })

	one := newTestRelay(t, func(c *Config) {
		c.Bus = bus
		c.InstanceID = "one"
	})
	two := newTestRelay(t, func(c *Config) {
		c.Bus = bus
		c.InstanceID = "two"
	})
	alice := attach(t, one)
	bob := attach(t, two)

	require.NoError(t, one.Receive(t.Context(), alice, putFrame(t, "m1", graph.NewNode("room").Set("topic", "hi", graph.Now()))))
	next(t, alice)

	msg := next(t, bob)
	assert.Equal(t, "m1", msg.ID)
	require.Contains(t, msg.Put, "room")

	n, err := two.Get(t.Context(), "room")
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, "hi", n.Values["topic"])
}

func TestShutdownClosesPeers(t *testing.T) {
	r := newTestRelay(t, nil)
	alice := attach(t, r)

	require.NoError(t, r.Shutdown(t.Context()))

	select {
	case <-alice.Done():
	default:
		t.Fatal("peer not closed")
	}
	_, err := r.Attach("late")
	require.ErrorIs(t, err, ErrRelayClosed)
	assert.Zero(t, r.PeerCount())
}

func TestDetach(t *testing.T) {
	r := newTestRelay(t, nil)
	alice := attach(t, r)
	attach(t, r)
	require.Equal(t, 2, r.PeerCount())

	r.Detach(alice)
	r.Detach(alice)
	assert.Equal(t, 1, r.PeerCount())
}

func TestNewRequiresStoreAndMetrics(t *testing.T) {
	_, err := New(&Config{Metrics: prometheus.NewCollector(prom.NewRegistry())})
	require.Error(t, err)

	_, err = New(&Config{Store: storagememory.NewInMemoryGraphStore()})
	require.Error(t, err)
}
