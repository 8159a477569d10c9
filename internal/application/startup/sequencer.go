package startup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agentivo/overlap/pkg/graph"
	"github.com/agentivo/overlap/pkg/ports"
	"go.uber.org/zap"
)

// ErrAlreadyRun is returned when Run is called more than once
var ErrAlreadyRun = errors.New("startup sequencer already ran")

// Loader performs the one-shot readiness read.
// A key that was never written returns nil, nil.
type Loader interface {
	Get(ctx context.Context, key string) (*graph.Node, error)
}

// Listener is the server started once the gate fires
type Listener interface {
	Start() error
	IsListening() bool
}

// Outcome describes how startup completed
type Outcome struct {
	Trigger Trigger
	// Found is true when the readiness read returned stored data
	Found bool
	// Elapsed is the time from process start until the gate fired
	Elapsed time.Duration
}

// Config holds sequencer dependencies
type Config struct {
	Loader   Loader
	Listener Listener
	Metrics  ports.MetricsCollector
	Logger   *zap.Logger
	// Clock is the process start clock; captured by NewSequencer if zero
	Clock Clock
	// Key is read once to find out whether persisted data exists
	Key     string
	Timeout time.Duration
}

// Sequencer holds the listener back until persisted data has been read or
// the timeout has elapsed, whichever happens first
type Sequencer struct {
	gate     *Gate
	clock    Clock
	loader   Loader
	listener Listener
	metrics  ports.MetricsCollector
	logger   *zap.Logger
	key      string
	timeout  time.Duration

	settled  chan struct{}
	mu       sync.Mutex
	outcome  Outcome
	startErr error
}

// NewSequencer creates a sequencer
func NewSequencer(cfg *Config) *Sequencer {
	clock := cfg.Clock
	if clock.Started().IsZero() {
		clock = NewClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Sequencer{
		gate:     NewGate(),
		clock:    clock,
		loader:   cfg.Loader,
		listener: cfg.Listener,
		metrics:  cfg.Metrics,
		logger:   logger,
		key:      cfg.Key,
		timeout:  cfg.Timeout,
		settled:  make(chan struct{}),
	}
}

// Gate returns the readiness gate
func (s *Sequencer) Gate() *Gate {
	return s.gate
}

// Done is closed once the gate has fired and the listener start was attempted
func (s *Sequencer) Done() <-chan struct{} {
	return s.settled
}

// Run arms the gate, issues the readiness read and starts the timer, then
// blocks until one of them has started the listener.
// A failed read does not fire the gate; startup then waits for the timeout.
// Cancelling ctx before either trigger closes the gate for good; if a
// trigger already won, Run waits for it and returns its outcome.
func (s *Sequencer) Run(ctx context.Context) (Outcome, error) {
	if !s.gate.Arm() {
		return Outcome{}, ErrAlreadyRun
	}

	s.logger.Info("waiting for persisted data",
		zap.String("key", s.key),
		zap.Duration("timeout", s.timeout))

	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()

	timer := time.AfterFunc(s.timeout, func() {
		s.fire(TriggerTimeout, false)
	})
	defer timer.Stop()

	go s.read(readCtx)

	select {
	case <-s.settled:
	case <-ctx.Done():
		// Close the gate so a late read or timer cannot start the listener
		if s.gate.Fire(TriggerCancelled) {
			s.logger.Info("startup cancelled before the gate fired")
			return Outcome{Trigger: TriggerCancelled, Elapsed: s.clock.Elapsed()}, ctx.Err()
		}
		<-s.settled
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.outcome, s.startErr
}

// read performs the readiness read and fires the gate with its result
func (s *Sequencer) read(ctx context.Context) {
	node, err := s.loader.Get(ctx, s.key)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("readiness read failed, waiting for timeout",
			zap.String("key", s.key),
			zap.Error(err))
		return
	}

	s.fire(TriggerRead, node != nil)
}

// fire is the continuation shared by both triggers; only the winner acts
func (s *Sequencer) fire(trigger Trigger, found bool) {
	if !s.gate.Fire(trigger) {
		return
	}

	elapsed := s.clock.Elapsed()
	if found {
		s.logger.Info("Data loaded before timeout, starting server...",
			zap.String("trigger", string(trigger)),
			zap.Duration("elapsed", elapsed))
	} else {
		s.logger.Info("No existing data found, starting server...",
			zap.String("trigger", string(trigger)),
			zap.Duration("elapsed", elapsed))
	}
	if s.metrics != nil {
		s.metrics.RecordStartup(string(trigger), elapsed)
	}

	var err error
	if !s.listener.IsListening() {
		if startErr := s.listener.Start(); startErr != nil {
			err = fmt.Errorf("failed to start listener: %w", startErr)
		}
	}

	s.mu.Lock()
	s.outcome = Outcome{Trigger: trigger, Found: found, Elapsed: elapsed}
	s.startErr = err
	s.mu.Unlock()

	close(s.settled)
}
