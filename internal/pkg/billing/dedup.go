package billing

import "sync"

const defaultRecentEventCapacity = 1000

// RecentEventSet is a bounded set of recently processed event ids used as a
// fast-path dedup check in front of the durable webhook event table. It is
// process-local and evicts oldest-first once full, so it approximates
// idempotence rather than guaranteeing it; downstream upserts must tolerate
// the occasional replay after eviction or restart.
type RecentEventSet struct {
	mu       sync.Mutex
	capacity int
	order    []string
	seen     map[string]struct{}
}

func NewRecentEventSet(capacity int) *RecentEventSet {
	if capacity <= 0 {
		capacity = defaultRecentEventCapacity
	}
	return &RecentEventSet{
		capacity: capacity,
		seen:     make(map[string]struct{}, capacity),
	}
}

// Seen reports whether the event id was recorded and not yet evicted.
func (r *RecentEventSet) Seen(eventID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.seen[eventID]
	return ok
}

// Add records an event id, evicting the oldest entry once past capacity.
func (r *RecentEventSet) Add(eventID string) {
	if eventID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.seen[eventID]; ok {
		return
	}
	r.seen[eventID] = struct{}{}
	r.order = append(r.order, eventID)

	for len(r.order) > r.capacity {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.seen, oldest)
	}
}

// Len reports the number of tracked event ids.
func (r *RecentEventSet) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}
