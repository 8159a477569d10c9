package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentivo/overlap/pkg/ports"
)

// InMemoryEventBus implements EventBus using in-process handlers.
// It is the default for a single relay instance and is used in tests.
type InMemoryEventBus struct {
	subscribers map[string]map[uint64]ports.EventHandler
	nextID      uint64
	closed      bool
	mu          sync.RWMutex
	wg          sync.WaitGroup
}

// NewInMemoryEventBus creates a new in-memory event bus
func NewInMemoryEventBus() *InMemoryEventBus {
	return &InMemoryEventBus{
		subscribers: make(map[string]map[uint64]ports.EventHandler),
	}
}

// Publish publishes an event to all subscribers of a topic
func (e *InMemoryEventBus) Publish(ctx context.Context, topic string, event ports.Event) error {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return fmt.Errorf("event bus is closed")
	}
	handlers := make([]ports.EventHandler, 0, len(e.subscribers[topic]))
	for _, h := range e.subscribers[topic] {
		handlers = append(handlers, h)
	}
	e.wg.Add(len(handlers))
	e.mu.RUnlock()

	// Call all handlers asynchronously
	for _, handler := range handlers {
		go func(h ports.EventHandler) {
			defer e.wg.Done()
			// Handler errors are the subscriber's concern
			_ = h(context.WithoutCancel(ctx), event)
		}(handler)
	}

	return nil
}

// Subscribe subscribes to events on a specific topic until ctx is done
func (e *InMemoryEventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return fmt.Errorf("event bus is closed")
	}

	if e.subscribers[topic] == nil {
		e.subscribers[topic] = make(map[uint64]ports.EventHandler)
	}
	id := e.nextID
	e.nextID++
	e.subscribers[topic][id] = handler

	// Clean up the subscription on context cancellation
	go func() {
		<-ctx.Done()
		e.unsubscribe(topic, id)
	}()

	return nil
}

// Close drops all subscribers and waits for in-flight handlers
func (e *InMemoryEventBus) Close() error {
	e.mu.Lock()
	e.closed = true
	e.subscribers = make(map[string]map[uint64]ports.EventHandler)
	e.mu.Unlock()

	e.wg.Wait()
	return nil
}

// unsubscribe removes a handler from a topic
func (e *InMemoryEventBus) unsubscribe(topic string, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.subscribers[topic], id)
}
