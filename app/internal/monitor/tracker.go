package monitor

import "sync"

// FailureTracker keeps track of consecutive failing probe rounds per
// server. It gates alert escalation so a single flaky round does not
// page anyone; it never influences the aggregated status itself.
// Safe for concurrent use.
type FailureTracker struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewFailureTracker creates a new tracker.
func NewFailureTracker() *FailureTracker {
	return &FailureTracker{
		counts: make(map[string]int),
	}
}

// Update increments or resets the failure count for a server and
// returns the updated consecutive failure count.
func (t *FailureTracker) Update(serverID string, ok bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ok {
		t.counts[serverID] = 0
		return 0
	}

	t.counts[serverID]++
	return t.counts[serverID]
}

// Reset clears the failure count for a server.
func (t *FailureTracker) Reset(serverID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.counts, serverID)
}

// Prune removes entries for servers that no longer exist.
func (t *FailureTracker) Prune(valid map[string]struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id := range t.counts {
		if _, ok := valid[id]; !ok {
			delete(t.counts, id)
		}
	}
}
