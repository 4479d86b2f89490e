package monitor

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Ekipoure/radar-sub001/app/internal/aggregate"
	"github.com/Ekipoure/radar-sub001/app/internal/alerts"
	"github.com/Ekipoure/radar-sub001/app/internal/cache"
	"github.com/Ekipoure/radar-sub001/app/internal/config"
	"github.com/Ekipoure/radar-sub001/app/internal/database"
	"github.com/Ekipoure/radar-sub001/app/internal/ingest"
	"github.com/Ekipoure/radar-sub001/app/internal/models"
	"github.com/Ekipoure/radar-sub001/app/internal/registry"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

var testEpoch = time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

type engineFixture struct {
	engine *Engine
	store  *database.Store
	clock  clockwork.FakeClock
	cfg    *config.Config

	target     *httptest.Server
	targetCode atomic.Int32

	hookMu sync.Mutex
	events []alerts.Event
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{clock: clockwork.NewFakeClockAt(testEpoch)}
	f.targetCode.Store(http.StatusOK)

	f.target = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(f.targetCode.Load()))
	}))
	t.Cleanup(f.target.Close)

	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev alerts.Event
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &ev); err != nil {
			t.Errorf("bad webhook payload: %v", err)
			return
		}
		f.hookMu.Lock()
		f.events = append(f.events, ev)
		f.hookMu.Unlock()
	}))
	t.Cleanup(hook.Close)

	store, err := database.Open(":memory:", f.clock)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	f.store = store

	if err := store.UpsertServer(models.Server{
		ID: "web-1", Name: "web-1", Address: f.target.URL, CheckType: "http", Active: true,
	}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	log := logrus.NewEntry(logger)

	c := cache.New(time.Minute, false)
	t.Cleanup(c.Stop)

	reg := registry.New(store)
	gateway := ingest.New(store, reg, c, log)
	agg := aggregate.New(store, reg, c, f.clock, 0)
	notifier := alerts.NewNotifier(hook.URL, "", log)

	f.cfg = &config.Config{
		PollInterval:       time.Minute,
		CheckTimeout:       2 * time.Second,
		ProbeSource:        "central-test",
		AlertAfterFailures: 2,
		RetentionDays:      30,
	}
	f.engine = NewEngine(f.cfg, store, gateway, agg, notifier, f.clock, log)
	return f
}

func (f *engineFixture) eventLog() []alerts.Event {
	f.hookMu.Lock()
	defer f.hookMu.Unlock()
	out := make([]alerts.Event, len(f.events))
	copy(out, f.events)
	return out
}

// --------------- ProbeRound ---------------

func TestProbeRound_IngestsObservation(t *testing.T) {
	f := newEngineFixture(t)

	f.engine.ProbeRound()

	rows, err := f.store.ObservationsByServer("web-1", testEpoch.Add(-time.Hour), testEpoch.Add(time.Hour), 0)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one probe observation, got %d", len(rows))
	}
	if rows[0].SourceID != "central-test" {
		t.Errorf("probe must report under the configured source, got %s", rows[0].SourceID)
	}
	if rows[0].Status != models.StatusUp {
		t.Errorf("expected up, got %s", rows[0].Status)
	}
}

func TestProbeRound_SkipsInactiveServers(t *testing.T) {
	f := newEngineFixture(t)
	f.store.UpsertServer(models.Server{ID: "off-1", Name: "off-1", Address: f.target.URL, CheckType: "http", Active: false})

	f.engine.ProbeRound()

	rows, _ := f.store.ObservationsBySource("central-test", testEpoch.Add(-time.Hour), testEpoch.Add(time.Hour), 0)
	for _, obs := range rows {
		if obs.ServerID == "off-1" {
			t.Fatal("disabled servers must produce no observation at all")
		}
	}
}

// --------------- Alert escalation ---------------

func TestProbeRound_AlertAfterConsecutiveFailures(t *testing.T) {
	f := newEngineFixture(t)

	// Establish a healthy baseline.
	f.engine.ProbeRound()
	if n := len(f.eventLog()); n != 0 {
		t.Fatalf("baseline round must not alert, got %d events", n)
	}

	f.targetCode.Store(http.StatusInternalServerError)

	// First failing round is below the threshold: suppressed.
	f.engine.ProbeRound()
	if n := len(f.eventLog()); n != 0 {
		t.Fatalf("single failure must not alert, got %d events", n)
	}

	// Second consecutive failure crosses the threshold.
	f.engine.ProbeRound()
	events := f.eventLog()
	if len(events) != 1 {
		t.Fatalf("expected exactly one alert, got %d", len(events))
	}
	if events[0].From != models.StatusUp || events[0].To != models.StatusDown {
		t.Errorf("unexpected alert: %+v", events[0])
	}

	// Staying down must not re-alert.
	f.engine.ProbeRound()
	if n := len(f.eventLog()); n != 1 {
		t.Errorf("no repeat alert while status is unchanged, got %d events", n)
	}
}

func TestProbeRound_InitialOutageAlerts(t *testing.T) {
	f := newEngineFixture(t)
	f.targetCode.Store(http.StatusInternalServerError)

	// A server that is down from the very first round has no healthy
	// baseline, but must still page once the streak crosses the
	// threshold.
	f.engine.ProbeRound()
	if n := len(f.eventLog()); n != 0 {
		t.Fatalf("first failing round is below the threshold, got %d events", n)
	}

	f.engine.ProbeRound()
	events := f.eventLog()
	if len(events) != 1 {
		t.Fatalf("expected the initial outage to alert, got %d events", len(events))
	}
	if events[0].From != models.StatusUnknown || events[0].To != models.StatusDown {
		t.Errorf("unexpected alert: %+v", events[0])
	}

	f.engine.ProbeRound()
	if n := len(f.eventLog()); n != 1 {
		t.Errorf("no repeat alert while status is unchanged, got %d events", n)
	}
}

func TestProbeRound_RecoveryAlertsImmediately(t *testing.T) {
	f := newEngineFixture(t)

	f.engine.ProbeRound()
	f.targetCode.Store(http.StatusInternalServerError)
	f.engine.ProbeRound()
	f.engine.ProbeRound()

	f.targetCode.Store(http.StatusOK)
	f.engine.ProbeRound()

	events := f.eventLog()
	if len(events) != 2 {
		t.Fatalf("expected down then up alerts, got %d", len(events))
	}
	last := events[len(events)-1]
	if last.From != models.StatusDown || last.To != models.StatusUp {
		t.Errorf("unexpected recovery alert: %+v", last)
	}
}

// --------------- Retention ---------------

func TestPurgeExpired(t *testing.T) {
	f := newEngineFixture(t)

	f.engine.ProbeRound()
	f.clock.Advance(40 * 24 * time.Hour)
	f.engine.ProbeRound()

	f.engine.PurgeExpired()

	rows, err := f.store.ObservationsByServer("web-1", testEpoch.Add(-time.Hour), f.clock.Now().Add(time.Hour), 0)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("expected only the recent observation to survive, got %d", len(rows))
	}
}

func TestPurgeExpired_DisabledRetention(t *testing.T) {
	f := newEngineFixture(t)
	f.cfg.RetentionDays = 0

	f.engine.ProbeRound()
	f.clock.Advance(365 * 24 * time.Hour)
	f.engine.PurgeExpired()

	rows, _ := f.store.ObservationsByServer("web-1", testEpoch.Add(-time.Hour), f.clock.Now(), 0)
	if len(rows) != 1 {
		t.Errorf("retention 0 must never purge, got %d rows", len(rows))
	}
}
