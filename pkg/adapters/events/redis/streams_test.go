package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/agentivo/overlap/pkg/ports"
	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newBus(t *testing.T, addr, group string) *StreamsEventBus {
	t.Helper()

	client := goredis.NewClient(&goredis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	bus, err := NewStreamsEventBus(client, group, group+"-consumer", zap.NewNop())
	require.NoError(t, err)
	bus.block = 50 * time.Millisecond
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func TestEveryInstanceReceivesEvents(t *testing.T) {
	mr := miniredis.RunT(t)

	a := newBus(t, mr.Addr(), "relay-a")
	b := newBus(t, mr.Addr(), "relay-b")

	gotA := make(chan ports.Event, 1)
	gotB := make(chan ports.Event, 1)
	require.NoError(t, a.Subscribe(t.Context(), ports.TopicGraph, func(ctx context.Context, e ports.Event) error {
		gotA <- e
		return nil
	}))
	require.NoError(t, b.Subscribe(t.Context(), ports.TopicGraph, func(ctx context.Context, e ports.Event) error {
		gotB <- e
		return nil
	}))

	event := ports.Event{
		ID:      "e1",
		Type:    ports.EventTypeGraphPut,
		Origin:  "relay-a",
		Payload: json.RawMessage(`{"n":{"_":{"#":"n",">":{"a":1}},"a":"x"}}`),
	}
	require.NoError(t, a.Publish(t.Context(), ports.TopicGraph, event))

	for _, ch := range []chan ports.Event{gotA, gotB} {
		select {
		case e := <-ch:
			require.Equal(t, "e1", e.ID)
			require.Equal(t, ports.EventTypeGraphPut, e.Type)
			require.JSONEq(t, string(event.Payload), string(e.Payload))
		case <-time.After(3 * time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestPublishUsesNamespacedStream(t *testing.T) {
	mr := miniredis.RunT(t)
	bus := newBus(t, mr.Addr(), "relay-a")

	require.NoError(t, bus.Publish(t.Context(), ports.TopicGraph, ports.Event{ID: "e1"}))

	require.True(t, mr.Exists("overlap:events:graph.events"))
}

func TestNewStreamsEventBusRequiresNames(t *testing.T) {
	_, err := NewStreamsEventBus(nil, "", "", zap.NewNop())
	require.Error(t, err)
}

func TestSubscribeAfterClose(t *testing.T) {
	mr := miniredis.RunT(t)
	bus := newBus(t, mr.Addr(), "relay-a")
	require.NoError(t, bus.Close())

	err := bus.Subscribe(t.Context(), ports.TopicGraph, func(ctx context.Context, e ports.Event) error {
		return nil
	})
	require.Error(t, err)
}
