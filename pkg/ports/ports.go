package ports

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/agentivo/overlap/pkg/graph"
)

// ErrNotFound is returned by a GraphStore for souls it does not hold
var ErrNotFound = errors.New("node not found")

// GraphStore persists graph nodes
type GraphStore interface {
	// GetNode returns the stored node or ErrNotFound
	GetNode(ctx context.Context, soul string) (*graph.Node, error)
	// PutNodes stores complete nodes, replacing what was held for each soul
	PutNodes(ctx context.Context, nodes map[string]*graph.Node) error
	// ListSouls returns every stored soul
	ListSouls(ctx context.Context) ([]string, error)
	// Healthcheck verifies the store can serve requests
	Healthcheck(ctx context.Context) error
	// Close releases the store
	Close() error
}

// EventType identifies the kind of event carried on the bus
type EventType string

const (
	// EventTypeGraphPut carries nodes merged by a relay instance
	EventTypeGraphPut EventType = "graph.put"
)

// TopicGraph is the topic relay instances exchange puts on
const TopicGraph = "graph.events"

// Event is a message exchanged between relay instances
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Origin    string          `json:"origin"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// EventHandler processes an event
type EventHandler func(ctx context.Context, event Event) error

// EventBus fans events out between relay instances
type EventBus interface {
	Publish(ctx context.Context, topic string, event Event) error
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	Close() error
}

// MetricsCollector records relay and startup metrics
type MetricsCollector interface {
	SetPeersConnected(count int)
	IncMessagesReceived(kind string)
	IncPutFields(outcome string, count int)
	IncOutboundDropped()
	ObserveStoreOperation(op string, duration time.Duration, err error)
	RecordStartup(trigger string, elapsed time.Duration)
	SetStoreHealthy(healthy bool)
}
