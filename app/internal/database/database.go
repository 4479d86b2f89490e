package database

import (
	"database/sql"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"
)

// Store wraps the sqlite database holding the append-only observation
// ledger plus the server and source reference tables. It is the only
// shared mutable resource in the system and is safe for concurrent use.
type Store struct {
	db    *sql.DB
	clock clockwork.Clock

	// Guards monotonic observed_at assignment.
	mu           sync.Mutex
	lastAssigned time.Time
}

// Open opens the database at path and ensures the schema exists.
// Use ":memory:" for tests.
func Open(path string, clock clockwork.Clock) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, trace.ConnectionProblem(err, "failed to open database at %s", path)
	}
	// sqlite serializes writers; a single connection avoids SQLITE_BUSY
	// under concurrent appends.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, clock: clock}
	if err := s.EnsureSchema(); err != nil {
		db.Close()
		return nil, trace.Wrap(err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates all tables and indexes. Idempotent.
func (s *Store) EnsureSchema() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS servers (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  address TEXT NOT NULL,
  check_type TEXT NOT NULL DEFAULT 'http',
  active INTEGER NOT NULL DEFAULT 1,
  updated_at TEXT
);

CREATE TABLE IF NOT EXISTS observations (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  server_id TEXT NOT NULL,
  source_id TEXT NOT NULL,
  status TEXT NOT NULL,
  response_ms INTEGER,
  error TEXT,
  observed_at TEXT NOT NULL,
  idempotency_key TEXT
);
CREATE INDEX IF NOT EXISTS idx_observations_server ON observations(server_id, observed_at);
CREATE INDEX IF NOT EXISTS idx_observations_source ON observations(source_id, observed_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_observations_idem ON observations(idempotency_key)
  WHERE idempotency_key IS NOT NULL;

CREATE TABLE IF NOT EXISTS sources (
  id TEXT PRIMARY KEY,
  first_seen TEXT NOT NULL,
  last_seen TEXT NOT NULL
);
`)
	if err != nil {
		return trace.ConnectionProblem(err, "failed to create schema")
	}
	return nil
}

// nextObservedAt assigns a server-side timestamp that never moves
// backwards, so a single source's observations read back in append order
// regardless of client clock skew.
func (s *Store) nextObservedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now().UTC()
	if !now.After(s.lastAssigned) {
		now = s.lastAssigned.Add(time.Microsecond)
	}
	s.lastAssigned = now
	return now
}
