package history

import (
	"time"

	"github.com/Ekipoure/radar-sub001/app/internal/aggregate"
	"github.com/Ekipoure/radar-sub001/app/internal/cache"
	"github.com/Ekipoure/radar-sub001/app/internal/database"
	"github.com/Ekipoure/radar-sub001/app/internal/models"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
)

// MaxTransitions caps the transition list of one summary so a long
// window over a flapping target cannot produce an unbounded response.
// The oldest transitions are dropped first.
const MaxTransitions = 500

const (
	openWindowTTL   = 30 * time.Second
	closedWindowTTL = 10 * time.Minute
)

// Summarizer computes uptime, latency and transition summaries over a
// requested window, merging per-source observations with the same
// unanimity rule the aggregator uses.
type Summarizer struct {
	store *database.Store
	cache *cache.Cache
	clock clockwork.Clock
}

// New creates a summarizer.
func New(store *database.Store, c *cache.Cache, clock clockwork.Clock) *Summarizer {
	return &Summarizer{store: store, cache: c, clock: clock}
}

// Summarize computes the HistorySummary for a server over [start, end].
// A window with zero observations yields nil UptimePct, never 0 or 100;
// no data and perfect uptime must stay distinguishable.
func (s *Summarizer) Summarize(serverID string, start, end time.Time) (*models.HistorySummary, error) {
	if !end.After(start) {
		return nil, trace.BadParameter("window end %v must be after start %v", end, start)
	}
	if _, err := s.store.GetServer(serverID); err != nil {
		return nil, trace.Wrap(err)
	}

	start, end = start.UTC(), end.UTC()

	// Closed windows are immutable, so their summaries can live longer.
	ttl := openWindowTTL
	if end.Before(s.clock.Now().UTC()) {
		ttl = closedWindowTTL
	}

	key := cache.Key("history", serverID, start.Format(time.RFC3339Nano), end.Format(time.RFC3339Nano))
	v, err := s.cache.GetOrCompute(key, serverID, ttl, func() (interface{}, error) {
		return s.summarize(serverID, start, end)
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	// Callers get their own copy; a mutation must never reach the
	// shared cache entry.
	cached := v.(*models.HistorySummary)
	out := *cached
	if cached.UptimePct != nil {
		pct := *cached.UptimePct
		out.UptimePct = &pct
	}
	if cached.AvgResponseMS != nil {
		avg := *cached.AvgResponseMS
		out.AvgResponseMS = &avg
	}
	out.Transitions = append([]models.Transition(nil), cached.Transitions...)
	return &out, nil
}

func (s *Summarizer) summarize(serverID string, start, end time.Time) (*models.HistorySummary, error) {
	observations, err := s.store.ObservationsByServer(serverID, start, end, 0)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	summary := &models.HistorySummary{
		ServerID:    serverID,
		WindowStart: start,
		WindowEnd:   end,
		SampleCount: len(observations),
	}
	if len(observations) == 0 {
		return summary, nil
	}

	// Sweep the ordered event sequence. Every observation timestamp is a
	// boundary: the reporting source's latest state is updated and the
	// merged status re-evaluated under the unanimity rule.
	latest := make(map[string]models.Status)
	merged := models.StatusUnknown
	var upSince time.Time
	var upTotal time.Duration

	var latencySum float64
	latencyCount := 0

	for _, obs := range observations {
		if obs.ResponseMS != nil {
			latencySum += float64(*obs.ResponseMS)
			latencyCount++
		}

		latest[obs.SourceID] = obs.Status
		next := mergeStates(latest)
		if next == merged {
			continue
		}

		summary.Transitions = append(summary.Transitions, models.Transition{
			At:   obs.ObservedAt,
			From: merged,
			To:   next,
		})
		if merged == models.StatusUp {
			upTotal += obs.ObservedAt.Sub(upSince)
		}
		if next == models.StatusUp {
			upSince = obs.ObservedAt
		}
		merged = next
	}
	if merged == models.StatusUp {
		upTotal += end.Sub(upSince)
	}

	pct := float64(upTotal) / float64(end.Sub(start)) * 100
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	summary.UptimePct = &pct

	if latencyCount > 0 {
		avg := latencySum / float64(latencyCount)
		summary.AvgResponseMS = &avg
	}

	if len(summary.Transitions) > MaxTransitions {
		summary.Transitions = summary.Transitions[len(summary.Transitions)-MaxTransitions:]
		summary.Truncated = true
	}
	return summary, nil
}

func mergeStates(latest map[string]models.Status) models.Status {
	statuses := make([]models.Status, 0, len(latest))
	for _, st := range latest {
		statuses = append(statuses, st)
	}
	return aggregate.Decide(statuses)
}
