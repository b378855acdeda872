package discovery

import "sync"

// DefaultSeenCapacity bounds the number of remembered event ids.
const DefaultSeenCapacity = 4096

// Detector remembers recently handled events so replays after a reconnect
// are not traded twice. Oldest ids are evicted first.
type Detector struct {
	mu       sync.Mutex
	seen     map[string]struct{}
	order    []string
	next     int
	capacity int
}

// NewDetector creates a detector remembering up to capacity ids.
func NewDetector(capacity int) *Detector {
	if capacity <= 0 {
		capacity = DefaultSeenCapacity
	}
	return &Detector{
		seen:     make(map[string]struct{}, capacity),
		order:    make([]string, 0, capacity),
		capacity: capacity,
	}
}

// FirstSeen records id and reports whether it was new.
func (d *Detector) FirstSeen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; ok {
		return false
	}

	if len(d.order) < d.capacity {
		d.order = append(d.order, id)
	} else {
		delete(d.seen, d.order[d.next])
		d.order[d.next] = id
		d.next = (d.next + 1) % d.capacity
	}
	d.seen[id] = struct{}{}
	return true
}
