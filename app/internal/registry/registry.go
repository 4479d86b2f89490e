package registry

import (
	"sync"
	"time"

	"github.com/Ekipoure/radar-sub001/app/internal/database"
	"github.com/gravitational/trace"
)

// Registry tracks which vantage points are expected to report and when
// each was last heard from. Sources are created implicitly on first
// observation; staleness is a function of recency, never deletion.
// It is safe for concurrent use.
type Registry struct {
	store *database.Store

	mu       sync.RWMutex
	lastSeen map[string]time.Time
}

// New creates a registry backed by the given store.
func New(store *database.Store) *Registry {
	return &Registry{
		store:    store,
		lastSeen: make(map[string]time.Time),
	}
}

// RecordSeen upserts the last-seen timestamp for a source. Idempotent;
// an older timestamp never overwrites a newer one.
func (r *Registry) RecordSeen(sourceID string, at time.Time) error {
	if err := r.store.RecordSourceSeen(sourceID, at); err != nil {
		return trace.Wrap(err)
	}

	r.mu.Lock()
	if at.After(r.lastSeen[sourceID]) {
		r.lastSeen[sourceID] = at
	}
	r.mu.Unlock()
	return nil
}

// LastSeen returns when the source last reported. Checks the in-memory
// map first and falls back to the store for sources seen by a previous
// process.
func (r *Registry) LastSeen(sourceID string) (time.Time, error) {
	r.mu.RLock()
	t, ok := r.lastSeen[sourceID]
	r.mu.RUnlock()
	if ok {
		return t, nil
	}

	t, err := r.store.SourceLastSeen(sourceID)
	if err != nil {
		return time.Time{}, trace.Wrap(err)
	}
	return t, nil
}

// KnownSources returns the set of sources that produced at least one
// observation for the server within [from, to]. This is what
// distinguishes "source never reported" from "source reported down".
func (r *Registry) KnownSources(serverID string, from, to time.Time) ([]string, error) {
	ids, err := r.store.SourcesForServer(serverID, from, to)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return ids, nil
}
