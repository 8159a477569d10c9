package startup

import (
	"sync"
	"sync/atomic"
)

// GateState is the lifecycle state of a Gate
type GateState int32

const (
	GateWaiting GateState = iota
	GateArmed
	GateFired
)

// String returns the state name
func (s GateState) String() string {
	switch s {
	case GateWaiting:
		return "waiting"
	case GateArmed:
		return "armed"
	case GateFired:
		return "fired"
	default:
		return "unknown"
	}
}

// Trigger names the event that fired a Gate
type Trigger string

const (
	TriggerNone    Trigger = ""
	TriggerRead    Trigger = "read"
	TriggerTimeout Trigger = "timeout"

	// TriggerCancelled closes the gate without starting anything
	TriggerCancelled Trigger = "cancelled"
)

// Gate is a one-shot latch fired by the first of several triggers.
//
// A gate starts Waiting, is Armed once, and then moves to Fired exactly
// once no matter how many triggers race to fire it.
type Gate struct {
	state atomic.Int32
	done  chan struct{}

	mu      sync.RWMutex
	trigger Trigger
}

// NewGate creates a waiting gate
func NewGate() *Gate {
	return &Gate{
		done: make(chan struct{}),
	}
}

// Arm begins waiting; false if the gate was already armed or fired
func (g *Gate) Arm() bool {
	return g.state.CompareAndSwap(int32(GateWaiting), int32(GateArmed))
}

// Fire fires an armed gate. Only the first caller gets true.
func (g *Gate) Fire(trigger Trigger) bool {
	if !g.state.CompareAndSwap(int32(GateArmed), int32(GateFired)) {
		return false
	}

	g.mu.Lock()
	g.trigger = trigger
	g.mu.Unlock()

	close(g.done)
	return true
}

// Done is closed when the gate fires
func (g *Gate) Done() <-chan struct{} {
	return g.done
}

// State returns the current state
func (g *Gate) State() GateState {
	return GateState(g.state.Load())
}

// Trigger returns the trigger that fired the gate.
// It is TriggerNone until Done is closed.
func (g *Gate) Trigger() Trigger {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.trigger
}
