package monitor

import (
	"sync"
	"time"

	"github.com/Ekipoure/radar-sub001/app/internal/aggregate"
	"github.com/Ekipoure/radar-sub001/app/internal/alerts"
	"github.com/Ekipoure/radar-sub001/app/internal/checker"
	"github.com/Ekipoure/radar-sub001/app/internal/config"
	"github.com/Ekipoure/radar-sub001/app/internal/database"
	"github.com/Ekipoure/radar-sub001/app/internal/ingest"
	"github.com/Ekipoure/radar-sub001/app/internal/models"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

const purgeInterval = 24 * time.Hour

// Engine runs the central prober: it checks every active server on a
// fixed interval, feeds the results through the ingestion gateway like
// any remote agent, raises alerts on aggregated status transitions, and
// purges observations past the retention window. Constructed once at
// process start with explicit Start/Stop lifecycle.
type Engine struct {
	cfg     *config.Config
	store   *database.Store
	gateway *ingest.Gateway
	agg     *aggregate.Aggregator
	alerts  *alerts.Notifier
	tracker *FailureTracker
	clock   clockwork.Clock
	log     *logrus.Entry

	mu         sync.Mutex
	lastStatus map[string]models.Status

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewEngine creates an engine.
func NewEngine(cfg *config.Config, store *database.Store, gateway *ingest.Gateway, agg *aggregate.Aggregator, notifier *alerts.Notifier, clock clockwork.Clock, log *logrus.Entry) *Engine {
	return &Engine{
		cfg:        cfg,
		store:      store,
		gateway:    gateway,
		agg:        agg,
		alerts:     notifier,
		tracker:    NewFailureTracker(),
		clock:      clock,
		log:        log,
		lastStatus: make(map[string]models.Status),
		stop:       make(chan struct{}),
	}
}

// Start launches the probe and retention loops.
func (e *Engine) Start() {
	e.wg.Add(2)
	go e.probeLoop()
	go e.purgeLoop()
	e.log.WithField("interval", e.cfg.PollInterval).Info("probe scheduler started")
}

// Stop terminates the loops and waits for in-flight rounds to finish.
func (e *Engine) Stop() {
	close(e.stop)
	e.wg.Wait()
}

func (e *Engine) probeLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.ProbeRound()
		case <-e.stop:
			return
		}
	}
}

func (e *Engine) purgeLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.PurgeExpired()
		case <-e.stop:
			return
		}
	}
}

// ProbeRound checks every active server once and ingests the results.
// Exported so tests and operators can trigger a round directly.
func (e *Engine) ProbeRound() {
	servers, err := e.store.ListServers(true)
	if err != nil {
		e.log.WithError(err).Error("failed to load servers for probe round")
		return
	}

	valid := make(map[string]struct{}, len(servers))
	for _, srv := range servers {
		valid[srv.ID] = struct{}{}

		res := checker.Check(srv, e.cfg.CheckTimeout)
		err := e.gateway.Ingest(ingest.Request{
			ServerID:     srv.ID,
			SourceID:     e.cfg.ProbeSource,
			Status:       string(res.Status),
			ResponseMS:   res.ResponseMS,
			ErrorMessage: res.ErrorMessage,
		})
		if err != nil {
			e.log.WithError(err).WithField("server", srv.ID).Error("failed to ingest probe result")
			continue
		}

		failures := e.tracker.Update(srv.ID, res.Status == models.StatusUp)
		if res.ErrorMessage != "" {
			e.log.WithFields(logrus.Fields{
				"server":   srv.ID,
				"status":   res.Status,
				"failures": failures,
			}).Warn(res.ErrorMessage)
		}

		e.notifyTransition(srv, failures)
	}

	e.tracker.Prune(valid)
}

// notifyTransition compares the server's aggregated status against the
// last round and fires the webhook on change. Down transitions wait for
// the configured consecutive-failure count to suppress flapping noise.
// The baseline is never written while suppressed, so a server that is
// already down on the first round still alerts once the failure streak
// crosses the threshold.
func (e *Engine) notifyTransition(srv models.Server, failures int) {
	agg, err := e.agg.ComputeStatus(srv.ID, 0)
	if err != nil {
		e.log.WithError(err).WithField("server", srv.ID).Error("failed to aggregate status")
		return
	}

	if agg.Status == models.StatusDown && failures < e.cfg.AlertAfterFailures {
		return
	}

	e.mu.Lock()
	prev, seen := e.lastStatus[srv.ID]
	e.lastStatus[srv.ID] = agg.Status
	e.mu.Unlock()

	if seen && prev == agg.Status {
		return
	}
	if !seen {
		// First recorded state. A healthy start is not news; an outage
		// that survived the failure threshold is.
		if agg.Status != models.StatusDown {
			return
		}
		prev = models.StatusUnknown
	}
	e.alerts.StatusChanged(srv, prev, agg.Status)
}

// PurgeExpired deletes observations older than the retention window.
func (e *Engine) PurgeExpired() {
	if e.cfg.RetentionDays <= 0 {
		return
	}
	cutoff := e.clock.Now().UTC().Add(-time.Duration(e.cfg.RetentionDays) * 24 * time.Hour)
	n, err := e.store.PurgeObservationsBefore(cutoff)
	if err != nil {
		e.log.WithError(err).Error("retention purge failed")
		return
	}
	if n > 0 {
		e.log.WithFields(logrus.Fields{"rows": n, "cutoff": cutoff}).Info("purged expired observations")
	}
}
