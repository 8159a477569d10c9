package relay

import (
	"sync"
	"time"
)

// dedup remembers message ids for a while so a message travelling around
// a mesh of peers and instances is handled once
type dedup struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
}

func newDedup(ttl time.Duration) *dedup {
	return &dedup{
		ttl:  ttl,
		seen: make(map[string]time.Time),
	}
}

// track records id and reports whether it was new
func (d *dedup) track(id string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if expires, ok := d.seen[id]; ok && now.Before(expires) {
		return false
	}
	d.seen[id] = now.Add(d.ttl)
	return true
}

// sweep forgets expired ids and returns how many remain
func (d *dedup) sweep(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	for id, expires := range d.seen {
		if !now.Before(expires) {
			delete(d.seen, id)
		}
	}
	return len(d.seen)
}

// interval is how often sweep should run
func (d *dedup) interval() time.Duration {
	interval := d.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}
