package relay

import "sync"

// Peer is a connection attached to the relay.
// The transport drains Outbound and stops once Done is closed.
type Peer struct {
	id     string
	remote string
	out    chan []byte
	done   chan struct{}
	once   sync.Once
}

func newPeer(id, remote string, buffer int) *Peer {
	return &Peer{
		id:     id,
		remote: remote,
		out:    make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
}

// ID returns the peer id
func (p *Peer) ID() string {
	return p.id
}

// Remote returns the peer's remote address
func (p *Peer) Remote() string {
	return p.remote
}

// Outbound returns the frames queued for the peer
func (p *Peer) Outbound() <-chan []byte {
	return p.out
}

// Done is closed when the relay drops the peer
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

// send queues a frame without blocking; false means it was dropped
func (p *Peer) send(frame []byte) bool {
	select {
	case <-p.done:
		return false
	default:
	}

	select {
	case p.out <- frame:
		return true
	default:
		return false
	}
}

func (p *Peer) close() {
	p.once.Do(func() { close(p.done) })
}
