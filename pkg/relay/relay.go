package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agentivo/overlap/pkg/graph"
	"github.com/agentivo/overlap/pkg/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrRelayClosed is returned once the relay has been shut down
var ErrRelayClosed = errors.New("relay is closed")

// Merge outcomes reported to the metrics collector
const (
	outcomeMerged     = "merged"
	outcomeDeferred   = "deferred"
	outcomeHistorical = "historical"
	outcomeRejected   = "rejected"
)

// Config holds relay configuration
type Config struct {
	// InstanceID identifies this relay on the event bus; generated if empty
	InstanceID string
	Store      ports.GraphStore
	// Bus fans puts out to other instances; nil for a standalone relay
	Bus        ports.EventBus
	Metrics    ports.MetricsCollector
	Logger     *zap.Logger
	DedupTTL   time.Duration
	MaxDrift   time.Duration
	PeerBuffer int
}

// Relay synchronises a graph between connected peers and persists it
type Relay struct {
	pid        string
	graph      *graph.Graph
	store      ports.GraphStore
	bus        ports.EventBus
	metrics    ports.MetricsCollector
	logger     *zap.Logger
	dedup      *dedup
	maxDrift   time.Duration
	peerBuffer int
	now        func() float64

	// persistMu orders snapshots written to the store
	persistMu sync.Mutex

	mu      sync.Mutex
	peers   map[string]*Peer
	timers  map[*time.Timer]struct{}
	running bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a relay
func New(cfg *Config) (*Relay, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("relay requires a graph store")
	}
	if cfg.Metrics == nil {
		return nil, fmt.Errorf("relay requires a metrics collector")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	pid := cfg.InstanceID
	if pid == "" {
		pid = uuid.New().String()
	}
	dedupTTL := cfg.DedupTTL
	if dedupTTL <= 0 {
		dedupTTL = 5 * time.Minute
	}
	peerBuffer := cfg.PeerBuffer
	if peerBuffer < 1 {
		peerBuffer = 256
	}

	return &Relay{
		pid:        pid,
		graph:      graph.New(),
		store:      cfg.Store,
		bus:        cfg.Bus,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger.With(zap.String("relay_pid", pid)),
		dedup:      newDedup(dedupTTL),
		maxDrift:   cfg.MaxDrift,
		peerBuffer: peerBuffer,
		now:        graph.Now,
		peers:      make(map[string]*Peer),
		timers:     make(map[*time.Timer]struct{}),
	}, nil
}

// PID returns the relay's instance id
func (r *Relay) PID() string {
	return r.pid
}

// Start subscribes to the event bus and starts background maintenance
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRelayClosed
	}
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.mu.Unlock()

	if r.bus != nil {
		if err := r.bus.Subscribe(runCtx, ports.TopicGraph, r.handleEvent); err != nil {
			cancel()
			return fmt.Errorf("failed to subscribe to graph events: %w", err)
		}
	}

	r.wg.Add(1)
	go r.sweepLoop(runCtx)

	r.logger.Info("relay started", zap.Bool("event_bus", r.bus != nil))
	return nil
}

// Shutdown drops every peer, cancels deferred merges and stops background work
func (r *Relay) Shutdown(ctx context.Context) error {
	r.logger.Info("shutting down relay")

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for timer := range r.timers {
		timer.Stop()
	}
	r.timers = make(map[*time.Timer]struct{})
	peers := r.peers
	r.peers = make(map[string]*Peer)
	cancel := r.cancel
	r.mu.Unlock()

	for _, p := range peers {
		p.close()
	}
	r.metrics.SetPeersConnected(0)
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("relay shut down complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("relay shutdown timeout: %w", ctx.Err())
	}
}

// Attach registers a new peer
func (r *Relay) Attach(remote string) (*Peer, error) {
	p := newPeer(uuid.New().String(), remote, r.peerBuffer)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRelayClosed
	}
	r.peers[p.id] = p
	count := len(r.peers)
	r.mu.Unlock()

	r.metrics.SetPeersConnected(count)
	r.logger.Debug("peer attached",
		zap.String("peer_id", p.id),
		zap.String("remote", remote))

	return p, nil
}

// Detach removes a peer
func (r *Relay) Detach(p *Peer) {
	r.mu.Lock()
	_, ok := r.peers[p.id]
	delete(r.peers, p.id)
	count := len(r.peers)
	r.mu.Unlock()

	p.close()
	if ok {
		r.metrics.SetPeersConnected(count)
		r.logger.Debug("peer detached", zap.String("peer_id", p.id))
	}
}

// PeerCount returns the number of attached peers
func (r *Relay) PeerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.peers)
}

// Get returns the node stored under soul, loading it from the store if it
// is not held in memory. A soul that was never written returns nil, nil.
func (r *Relay) Get(ctx context.Context, soul string) (*graph.Node, error) {
	if n := r.graph.Get(soul); n != nil {
		return n, nil
	}

	start := time.Now()
	n, err := r.store.GetNode(ctx, soul)
	if errors.Is(err, ports.ErrNotFound) {
		r.metrics.ObserveStoreOperation("get", time.Since(start), nil)
		return nil, nil
	}
	r.metrics.ObserveStoreOperation("get", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", soul, err)
	}

	r.graph.Load(n)
	return r.graph.Get(soul), nil
}

// Put merges nodes written locally, as if a peer had sent them
func (r *Relay) Put(ctx context.Context, nodes map[string]*graph.Node) error {
	id := uuid.New().String()
	r.dedup.track(id, time.Now())
	return r.put(ctx, nodes, nil, id, true)
}

// Receive handles a frame read from a peer
func (r *Relay) Receive(ctx context.Context, from *Peer, frame []byte) error {
	msgs, err := decodeFrame(frame)
	if err != nil {
		r.metrics.IncMessagesReceived("malformed")
		r.send(from, &Message{Err: "malformed message"})
		return err
	}

	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		if msg.ID == "" {
			msg.ID = uuid.New().String()
		}
		if !r.dedup.track(msg.ID, time.Now()) {
			r.metrics.IncMessagesReceived("duplicate")
			continue
		}
		r.metrics.IncMessagesReceived(msg.Kind())
		r.dispatch(ctx, from, msg)
	}

	return nil
}

// dispatch routes one message
func (r *Relay) dispatch(ctx context.Context, from *Peer, msg *Message) {
	switch {
	case msg.DAM == "?":
		r.send(from, &Message{DAM: "?", PID: r.pid, Ack: msg.ID})
	case msg.Put != nil:
		r.handlePut(ctx, from, msg)
	case msg.Get != nil:
		r.handleGet(ctx, from, msg)
	default:
		// Acks and unknown messages are not routed by a relay
		r.logger.Debug("ignoring message",
			zap.String("message_id", msg.ID),
			zap.String("kind", msg.Kind()))
	}
}

// handlePut merges a peer's put and acknowledges it
func (r *Relay) handlePut(ctx context.Context, from *Peer, msg *Message) {
	if err := r.put(ctx, msg.Put, from, msg.ID, true); err != nil {
		r.logger.Warn("put failed",
			zap.String("message_id", msg.ID),
			zap.Error(err))
		r.send(from, &Message{Ack: msg.ID, Err: err.Error()})
		return
	}

	r.send(from, &Message{Ack: msg.ID, OK: 1})
}

// handleGet answers a peer's read
func (r *Relay) handleGet(ctx context.Context, from *Peer, msg *Message) {
	reply := &Message{ID: uuid.New().String(), Ack: msg.ID}

	if msg.Get.Soul == "" {
		reply.Err = "get requires a soul"
		r.send(from, reply)
		return
	}

	n, err := r.Get(ctx, msg.Get.Soul)
	if err != nil {
		r.logger.Warn("get failed",
			zap.String("soul", msg.Get.Soul),
			zap.Error(err))
		reply.Err = err.Error()
		r.send(from, reply)
		return
	}

	if n != nil && msg.Get.Field != "" {
		n = n.Project(msg.Get.Field)
	}
	if n != nil {
		reply.Put = map[string]*graph.Node{n.Soul: n}
	}
	r.send(from, reply)
}

// put validates, merges, persists and fans out a put.
// from is excluded from the broadcast; publish controls the event bus.
func (r *Relay) put(ctx context.Context, nodes map[string]*graph.Node, from *Peer, id string, publish bool) error {
	machine := r.now()

	fields := 0
	for soul, n := range nodes {
		if err := n.Validate(); err != nil {
			r.metrics.IncPutFields(outcomeRejected, countFields(nodes))
			return err
		}
		if n.Soul != soul {
			r.metrics.IncPutFields(outcomeRejected, countFields(nodes))
			return fmt.Errorf("%w: soul %q stored under %q", graph.ErrInvalidNode, n.Soul, soul)
		}
		if r.maxDrift > 0 {
			limit := machine + float64(r.maxDrift.Milliseconds())
			for field, state := range n.States {
				if state > limit {
					r.metrics.IncPutFields(outcomeRejected, countFields(nodes))
					return fmt.Errorf("%w: %s.%s state is too far in the future", graph.ErrInvalidNode, soul, field)
				}
			}
		}
		fields += n.Len()
	}
	if fields == 0 {
		return nil
	}

	if err := r.loadMissing(ctx, nodes); err != nil {
		return err
	}

	result := r.graph.Merge(nodes, machine)
	r.metrics.IncPutFields(outcomeMerged, countFields(result.Diff))
	r.metrics.IncPutFields(outcomeDeferred, countFields(result.Deferred))
	r.metrics.IncPutFields(outcomeHistorical, result.Historical)

	if len(result.Deferred) > 0 {
		r.scheduleDeferred(result.Deferred, machine)
	}
	if !result.Changed() {
		return nil
	}

	persistErr := r.persist(ctx, result.Diff)

	r.broadcast(from, &Message{ID: id, Put: result.Diff})
	if publish {
		r.publish(ctx, id, result.Diff)
	}

	return persistErr
}

// loadMissing seeds the graph with stored nodes before they are merged,
// so persisting a merged node never drops fields only the store held
func (r *Relay) loadMissing(ctx context.Context, nodes map[string]*graph.Node) error {
	for soul := range nodes {
		if r.graph.Has(soul) {
			continue
		}
		if _, err := r.Get(ctx, soul); err != nil {
			return err
		}
	}
	return nil
}

// persist writes the current version of every changed node
func (r *Relay) persist(ctx context.Context, diff map[string]*graph.Node) error {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	snapshot := make(map[string]*graph.Node, len(diff))
	for soul := range diff {
		if n := r.graph.Get(soul); n != nil {
			snapshot[soul] = n
		}
	}

	start := time.Now()
	err := r.store.PutNodes(ctx, snapshot)
	r.metrics.ObserveStoreOperation("put", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to persist put: %w", err)
	}
	return nil
}

// broadcast sends a message to every peer except from
func (r *Relay) broadcast(from *Peer, msg *Message) {
	frame, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("failed to marshal broadcast", zap.Error(err))
		return
	}

	r.mu.Lock()
	targets := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		if from != nil && p.id == from.id {
			continue
		}
		targets = append(targets, p)
	}
	r.mu.Unlock()

	for _, p := range targets {
		r.deliver(p, frame)
	}
}

// send replies to a single peer
func (r *Relay) send(to *Peer, msg *Message) {
	if to == nil {
		return
	}
	frame, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("failed to marshal reply", zap.Error(err))
		return
	}
	r.deliver(to, frame)
}

func (r *Relay) deliver(to *Peer, frame []byte) {
	if !to.send(frame) {
		r.metrics.IncOutboundDropped()
		r.logger.Debug("dropped outbound message", zap.String("peer_id", to.id))
	}
}

// publish shares a diff with the other relay instances
func (r *Relay) publish(ctx context.Context, id string, diff map[string]*graph.Node) {
	if r.bus == nil {
		return
	}

	payload, err := json.Marshal(diff)
	if err != nil {
		r.logger.Error("failed to marshal graph event", zap.Error(err))
		return
	}

	event := ports.Event{
		ID:        id,
		Type:      ports.EventTypeGraphPut,
		Origin:    r.pid,
		Timestamp: time.Now(),
		Payload:   payload,
	}
	if err := r.bus.Publish(ctx, ports.TopicGraph, event); err != nil {
		r.logger.Error("failed to publish graph event",
			zap.String("event_id", id),
			zap.Error(err))
	}
}

// handleEvent merges a put published by another relay instance
func (r *Relay) handleEvent(ctx context.Context, event ports.Event) error {
	if event.Origin == r.pid || event.Type != ports.EventTypeGraphPut {
		return nil
	}
	if event.ID != "" && !r.dedup.track(event.ID, time.Now()) {
		return nil
	}

	var nodes map[string]*graph.Node
	if err := json.Unmarshal(event.Payload, &nodes); err != nil {
		return fmt.Errorf("failed to decode graph event %s: %w", event.ID, err)
	}

	r.metrics.IncMessagesReceived("event")
	if err := r.put(ctx, nodes, nil, event.ID, false); err != nil {
		return fmt.Errorf("failed to merge graph event %s: %w", event.ID, err)
	}
	return nil
}

// scheduleDeferred re-merges future writes once their state comes due
func (r *Relay) scheduleDeferred(deferred map[string]*graph.Node, machine float64) {
	latest := machine
	for _, n := range deferred {
		for _, state := range n.States {
			if state > latest {
				latest = state
			}
		}
	}
	delay := time.Duration((latest - machine) * float64(time.Millisecond))

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		r.mu.Lock()
		_, pending := r.timers[timer]
		delete(r.timers, timer)
		r.mu.Unlock()
		if !pending {
			return
		}

		id := uuid.New().String()
		r.dedup.track(id, time.Now())
		if err := r.put(context.Background(), deferred, nil, id, true); err != nil {
			r.logger.Warn("deferred put failed", zap.Error(err))
		}
	})
	r.timers[timer] = struct{}{}

	r.logger.Debug("deferred future put",
		zap.Int("nodes", len(deferred)),
		zap.Duration("delay", delay))
}

// sweepLoop periodically forgets expired message ids
func (r *Relay) sweepLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.dedup.interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			remaining := r.dedup.sweep(now)
			r.logger.Debug("swept message ids", zap.Int("remaining", remaining))
		}
	}
}

func countFields(nodes map[string]*graph.Node) int {
	total := 0
	for _, n := range nodes {
		if n != nil {
			total += n.Len()
		}
	}
	return total
}
