package database

import (
	"database/sql"
	"time"

	"github.com/gravitational/trace"
)

// RecordSourceSeen upserts a source's last-seen timestamp. Sources are
// created implicitly on first observation and never deleted.
func (s *Store) RecordSourceSeen(sourceID string, at time.Time) error {
	if sourceID == "" {
		return trace.BadParameter("source id is required")
	}
	ts := at.UTC().Format(timeFormat)
	_, err := s.db.Exec(`INSERT INTO sources (id, first_seen, last_seen) VALUES (?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			last_seen = CASE WHEN excluded.last_seen > sources.last_seen
				THEN excluded.last_seen ELSE sources.last_seen END`,
		sourceID, ts, ts)
	if err != nil {
		return trace.ConnectionProblem(err, "failed to record source %s", sourceID)
	}
	return nil
}

// SourceLastSeen returns the last-seen timestamp for a source.
func (s *Store) SourceLastSeen(sourceID string) (time.Time, error) {
	var raw string
	err := s.db.QueryRow(`SELECT last_seen FROM sources WHERE id = ?`, sourceID).Scan(&raw)
	if err == sql.ErrNoRows {
		return time.Time{}, trace.NotFound("source %q not found", sourceID)
	}
	if err != nil {
		return time.Time{}, trace.ConnectionProblem(err, "failed to load source %s", sourceID)
	}
	// Corruption of stored data is a backend fault, never a caller error.
	t, err := time.Parse(timeFormat, raw)
	if err != nil {
		return time.Time{}, trace.ConnectionProblem(err, "corrupt last_seen for source %s", sourceID)
	}
	return t, nil
}

// SourcesForServer returns the distinct sources that produced at least one
// observation for the server within [from, to].
func (s *Store) SourcesForServer(serverID string, from, to time.Time) ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT source_id FROM observations
		WHERE server_id = ? AND observed_at >= ? AND observed_at <= ?
		ORDER BY source_id ASC`,
		serverID, from.UTC().Format(timeFormat), to.UTC().Format(timeFormat))
	if err != nil {
		return nil, trace.ConnectionProblem(err, "failed to list sources for server %s", serverID)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, trace.ConnectionProblem(err, "failed to scan source id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, trace.ConnectionProblem(err, "failed to list sources for server %s", serverID)
	}
	return ids, nil
}
