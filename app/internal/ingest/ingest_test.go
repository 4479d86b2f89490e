package ingest

import (
	"io"
	"testing"
	"time"

	"github.com/Ekipoure/radar-sub001/app/internal/cache"
	"github.com/Ekipoure/radar-sub001/app/internal/database"
	"github.com/Ekipoure/radar-sub001/app/internal/models"
	"github.com/Ekipoure/radar-sub001/app/internal/registry"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

var testEpoch = time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

type fixture struct {
	gw    *Gateway
	store *database.Store
	reg   *registry.Registry
	cache *cache.Cache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testEpoch)
	store, err := database.Open(":memory:", clock)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	c := cache.New(time.Minute, true)
	t.Cleanup(c.Stop)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	reg := registry.New(store)
	f := &fixture{
		gw:    New(store, reg, c, logger.WithField("test", t.Name())),
		store: store,
		reg:   reg,
		cache: c,
	}
	if err := store.UpsertServer(models.Server{ID: "web-1", Name: "web-1", Address: "http://x", CheckType: "http", Active: true}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	return f
}

func (f *fixture) rowCount(t *testing.T) int {
	t.Helper()
	rows, err := f.store.ObservationsByServer("web-1", testEpoch.Add(-time.Hour), testEpoch.Add(time.Hour), 0)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	return len(rows)
}

// --------------- Happy path ---------------

func TestIngest(t *testing.T) {
	f := newFixture(t)

	ms := 87
	err := f.gw.Ingest(Request{ServerID: "web-1", SourceID: "agent-eu", Status: "up", ResponseMS: &ms})
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if f.rowCount(t) != 1 {
		t.Error("expected one stored observation")
	}

	// The source became known in the same call.
	seen, err := f.reg.LastSeen("agent-eu")
	if err != nil {
		t.Fatalf("source not recorded: %v", err)
	}
	if seen.IsZero() {
		t.Error("expected a last-seen timestamp")
	}
}

func TestIngest_InvalidatesCachedViews(t *testing.T) {
	f := newFixture(t)

	f.cache.GetOrCompute(cache.Key("status", "web-1"), "web-1", 0, func() (interface{}, error) { return "stale", nil })
	f.cache.GetOrCompute(cache.Key("status", "web-2"), "web-2", 0, func() (interface{}, error) { return "other", nil })

	if err := f.gw.Ingest(Request{ServerID: "web-1", SourceID: "agent-eu", Status: "down"}); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if f.cache.Len() != 1 {
		t.Errorf("expected only the other server's entry to survive, have %d", f.cache.Len())
	}
}

// --------------- Validation ---------------

func TestIngest_UnrecognizedStatusRejected(t *testing.T) {
	f := newFixture(t)

	f.cache.GetOrCompute(cache.Key("status", "web-1"), "web-1", 0, func() (interface{}, error) { return "cached", nil })

	err := f.gw.Ingest(Request{ServerID: "web-1", SourceID: "agent-eu", Status: "paused"})
	if !trace.IsBadParameter(err) {
		t.Fatalf("expected BadParameter, got %v", err)
	}
	if f.rowCount(t) != 0 {
		t.Error("rejected request must not write a row")
	}
	if f.cache.Len() != 1 {
		t.Error("rejected request must not invalidate the cache")
	}
	if _, err := f.reg.LastSeen("agent-eu"); !trace.IsNotFound(err) {
		t.Error("rejected request must not record the source")
	}
}

func TestIngest_DerivedStatusRejected(t *testing.T) {
	f := newFixture(t)

	err := f.gw.Ingest(Request{ServerID: "web-1", SourceID: "agent-eu", Status: "unknown"})
	if !trace.IsBadParameter(err) {
		t.Fatalf("expected BadParameter, got %v", err)
	}
}

func TestIngest_MissingSource(t *testing.T) {
	f := newFixture(t)

	err := f.gw.Ingest(Request{ServerID: "web-1", Status: "up"})
	if !trace.IsBadParameter(err) {
		t.Fatalf("expected BadParameter, got %v", err)
	}
}

func TestIngest_NegativeLatency(t *testing.T) {
	f := newFixture(t)

	ms := -5
	err := f.gw.Ingest(Request{ServerID: "web-1", SourceID: "agent-eu", Status: "up", ResponseMS: &ms})
	if !trace.IsBadParameter(err) {
		t.Fatalf("expected BadParameter, got %v", err)
	}
}

func TestIngest_MalformedIdempotencyKey(t *testing.T) {
	f := newFixture(t)

	err := f.gw.Ingest(Request{ServerID: "web-1", SourceID: "agent-eu", Status: "up", IdempotencyKey: "not-a-uuid"})
	if !trace.IsBadParameter(err) {
		t.Fatalf("expected BadParameter, got %v", err)
	}
}

func TestIngest_UnknownServer(t *testing.T) {
	f := newFixture(t)

	err := f.gw.Ingest(Request{ServerID: "ghost", SourceID: "agent-eu", Status: "up"})
	if !trace.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestIngest_InactiveServer(t *testing.T) {
	f := newFixture(t)
	f.store.UpsertServer(models.Server{ID: "web-2", Name: "web-2", Address: "http://x", CheckType: "http", Active: false})

	err := f.gw.Ingest(Request{ServerID: "web-2", SourceID: "agent-eu", Status: "up"})
	if !trace.IsNotFound(err) {
		t.Fatalf("expected NotFound for inactive server, got %v", err)
	}
}

// --------------- Idempotent delivery ---------------

func TestIngest_DuplicateDeliveryIsNoop(t *testing.T) {
	f := newFixture(t)

	req := Request{
		ServerID:       "web-1",
		SourceID:       "agent-eu",
		Status:         "down",
		IdempotencyKey: "3f1b9df2-1f0c-4f61-9f06-4a4ab6b5f001",
	}
	if err := f.gw.Ingest(req); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	if err := f.gw.Ingest(req); err != nil {
		t.Fatalf("retried delivery failed: %v", err)
	}
	if f.rowCount(t) != 1 {
		t.Errorf("duplicates must collapse to one row, got %d", f.rowCount(t))
	}
}
