package startup

import "time"

// Clock remembers when the process started
type Clock struct {
	started time.Time
}

// NewClock captures the current instant, including its monotonic reading
func NewClock() Clock {
	return Clock{started: time.Now()}
}

// Started returns the captured instant
func (c Clock) Started() time.Time {
	return c.started
}

// Elapsed returns the monotonic time since the clock was captured
func (c Clock) Elapsed() time.Duration {
	return time.Since(c.started)
}
