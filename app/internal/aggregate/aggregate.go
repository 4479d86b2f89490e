package aggregate

import (
	"time"

	"github.com/Ekipoure/radar-sub001/app/internal/cache"
	"github.com/Ekipoure/radar-sub001/app/internal/database"
	"github.com/Ekipoure/radar-sub001/app/internal/models"
	"github.com/Ekipoure/radar-sub001/app/internal/registry"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
)

// DefaultLookback is how far back an observation still counts as current.
const DefaultLookback = 5 * time.Minute

// statusTTL keeps aggregated statuses near-real-time when cached.
const statusTTL = 5 * time.Second

// Aggregator computes the authoritative status of a server by combining
// the most recent observation per known source within a lookback window.
type Aggregator struct {
	store    *database.Store
	reg      *registry.Registry
	cache    *cache.Cache
	clock    clockwork.Clock
	lookback time.Duration
}

// New creates an aggregator. lookback <= 0 selects DefaultLookback.
func New(store *database.Store, reg *registry.Registry, c *cache.Cache, clock clockwork.Clock, lookback time.Duration) *Aggregator {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return &Aggregator{store: store, reg: reg, cache: c, clock: clock, lookback: lookback}
}

// Decide applies the unanimity-to-fail rule to the latest status of each
// known source. Skipped observations neither confirm up nor down, so
// they are excluded; if nothing else remains the result is unknown.
// A single up is sufficient for up, and down requires every remaining
// source to report a failing kind. Pure function: identical inputs
// always produce identical output.
func Decide(latest []models.Status) models.Status {
	anyUp := false
	allFailing := true
	counted := 0
	for _, st := range latest {
		if st == models.StatusSkipped {
			continue
		}
		counted++
		if st == models.StatusUp {
			anyUp = true
		}
		if !st.Failing() {
			allFailing = false
		}
	}

	switch {
	case counted == 0:
		return models.StatusUnknown
	case anyUp:
		return models.StatusUp
	case allFailing:
		return models.StatusDown
	default:
		return models.StatusUnknown
	}
}

// ComputeStatus returns the aggregated status of a server considering
// observations within the given lookback (0 means the configured
// default). A server with no observation inside the window is unknown,
// never frozen at its last known value. Store failures propagate; they
// are never folded into a down or unknown status.
func (a *Aggregator) ComputeStatus(serverID string, lookback time.Duration) (*models.AggregatedStatus, error) {
	if _, err := a.store.GetServer(serverID); err != nil {
		return nil, trace.Wrap(err)
	}
	if lookback <= 0 {
		lookback = a.lookback
	}

	key := cache.Key("status", serverID, lookback.String())
	v, err := a.cache.GetOrCompute(key, serverID, statusTTL, func() (interface{}, error) {
		return a.computeStatus(serverID, lookback)
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	// Callers get their own copy; a mutation must never reach the
	// shared cache entry.
	cached := v.(*models.AggregatedStatus)
	out := *cached
	out.Sources = append([]models.SourceStatus(nil), cached.Sources...)
	return &out, nil
}

func (a *Aggregator) computeStatus(serverID string, lookback time.Duration) (*models.AggregatedStatus, error) {
	now := a.clock.Now().UTC()
	since := now.Add(-lookback)

	known, err := a.reg.KnownSources(serverID, since, now)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	result := &models.AggregatedStatus{
		ServerID:   serverID,
		Status:     models.StatusUnknown,
		ComputedAt: now,
	}
	if len(known) == 0 {
		return result, nil
	}

	latest, err := a.store.LatestBySource(serverID, since)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	statuses := make([]models.Status, 0, len(latest))
	for _, obs := range latest {
		result.Sources = append(result.Sources, models.SourceStatus{
			SourceID:   obs.SourceID,
			Status:     obs.Status,
			ObservedAt: obs.ObservedAt,
		})
		statuses = append(statuses, obs.Status)
	}

	result.Status = Decide(statuses)

	// ComputedAt reflects the freshest observation agreeing with the
	// decision; display only, it never affects the decision itself.
	var freshest time.Time
	for _, src := range result.Sources {
		if src.Status == result.Status && src.ObservedAt.After(freshest) {
			freshest = src.ObservedAt
		}
	}
	if !freshest.IsZero() {
		result.ComputedAt = freshest
	}
	return result, nil
}

// ComputeAll returns the aggregated status of every active server,
// ordered by server id.
func (a *Aggregator) ComputeAll() ([]models.AggregatedStatus, error) {
	servers, err := a.store.ListServers(true)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	results := make([]models.AggregatedStatus, 0, len(servers))
	for _, srv := range servers {
		st, err := a.ComputeStatus(srv.ID, 0)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		results = append(results, *st)
	}
	return results, nil
}
