package recorder

import (
	"sync"

	"desktrace/internal/event"
)

// ring is a fixed-capacity circular buffer of captured events so that late
// stream subscribers can catch up on recent history.
type ring struct {
	mu       sync.RWMutex
	buf      []event.Event
	capacity int
	pos      int
	full     bool
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]event.Event, capacity), capacity: capacity}
}

func (r *ring) write(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf[r.pos] = e
	r.pos = (r.pos + 1) % r.capacity
	if r.pos == 0 {
		r.full = true
	}
}

// snapshot returns the buffered events in chronological order.
func (r *ring) snapshot() []event.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.full {
		out := make([]event.Event, r.pos)
		copy(out, r.buf[:r.pos])
		return out
	}

	out := make([]event.Event, r.capacity)
	copy(out, r.buf[r.pos:])
	copy(out[r.capacity-r.pos:], r.buf[:r.pos])
	return out
}
