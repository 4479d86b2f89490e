package database

import (
	"database/sql"
	"time"

	"github.com/Ekipoure/radar-sub001/app/internal/models"
	"github.com/gravitational/trace"
)

// timeFormat pads nanoseconds to a fixed width so stored timestamps
// compare correctly as text in SQL.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// AppendObservation validates and appends one observation to the ledger,
// assigning observed_at server-side. When idempotencyKey is non-empty and
// a row with the same key already exists, the existing row is returned
// and inserted is false; retried at-least-once deliveries are no-ops.
func (s *Store) AppendObservation(serverID, sourceID string, status models.Status, responseMS *int, errMsg, idempotencyKey string) (obs models.Observation, inserted bool, err error) {
	if _, err := models.ParseStatus(string(status)); err != nil {
		return obs, false, trace.Wrap(err)
	}
	if responseMS != nil && *responseMS < 0 {
		return obs, false, trace.BadParameter("response_ms must be non-negative, got %d", *responseMS)
	}
	if sourceID == "" {
		return obs, false, trace.BadParameter("source_id is required")
	}

	exists, err := s.serverExists(serverID)
	if err != nil {
		return obs, false, trace.Wrap(err)
	}
	if !exists {
		return obs, false, trace.NotFound("server %q not found", serverID)
	}

	observedAt := s.nextObservedAt()

	var msVal any
	if responseMS != nil {
		msVal = *responseMS
	}
	var idemVal any
	if idempotencyKey != "" {
		idemVal = idempotencyKey
	}

	res, err := s.db.Exec(`INSERT OR IGNORE INTO observations
		(server_id, source_id, status, response_ms, error, observed_at, idempotency_key)
		VALUES (?,?,?,?,?,?,?)`,
		serverID, sourceID, string(status), msVal, errMsg, observedAt.Format(timeFormat), idemVal)
	if err != nil {
		return obs, false, trace.ConnectionProblem(err, "failed to append observation")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return obs, false, trace.ConnectionProblem(err, "failed to append observation")
	}
	if n == 0 {
		// Duplicate idempotency key: return the already-stored row.
		existing, err := s.observationByIdempotencyKey(idempotencyKey)
		if err != nil {
			return obs, false, trace.Wrap(err)
		}
		return existing, false, nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return obs, false, trace.ConnectionProblem(err, "failed to append observation")
	}

	return models.Observation{
		ID:           id,
		ServerID:     serverID,
		SourceID:     sourceID,
		Status:       status,
		ResponseMS:   responseMS,
		ErrorMessage: errMsg,
		ObservedAt:   observedAt,
	}, true, nil
}

func (s *Store) observationByIdempotencyKey(key string) (models.Observation, error) {
	row := s.db.QueryRow(`SELECT id, server_id, source_id, status, response_ms, error, observed_at
		FROM observations WHERE idempotency_key = ?`, key)
	obs, err := scanObservation(row)
	if err == sql.ErrNoRows {
		return obs, trace.NotFound("no observation with idempotency key %q", key)
	}
	if err != nil {
		return obs, trace.ConnectionProblem(err, "failed to read observation")
	}
	return obs, nil
}

// ObservationsByServer returns observations for a server within
// [from, to], ordered by observed_at ascending. limit bounds the result
// size; 0 means the default cap.
func (s *Store) ObservationsByServer(serverID string, from, to time.Time, limit int) ([]models.Observation, error) {
	return s.queryObservations(`SELECT id, server_id, source_id, status, response_ms, error, observed_at
		FROM observations
		WHERE server_id = ? AND observed_at >= ? AND observed_at <= ?
		ORDER BY observed_at ASC, id ASC LIMIT ?`,
		serverID, from.UTC().Format(timeFormat), to.UTC().Format(timeFormat), effectiveLimit(limit))
}

// ObservationsBySource returns one vantage point's observations across all
// servers within [from, to], ordered by observed_at ascending.
func (s *Store) ObservationsBySource(sourceID string, from, to time.Time, limit int) ([]models.Observation, error) {
	return s.queryObservations(`SELECT id, server_id, source_id, status, response_ms, error, observed_at
		FROM observations
		WHERE source_id = ? AND observed_at >= ? AND observed_at <= ?
		ORDER BY observed_at ASC, id ASC LIMIT ?`,
		sourceID, from.UTC().Format(timeFormat), to.UTC().Format(timeFormat), effectiveLimit(limit))
}

// LatestBySource returns, for each source that reported on the server
// since the given time, that source's single most recent observation.
func (s *Store) LatestBySource(serverID string, since time.Time) ([]models.Observation, error) {
	return s.queryObservations(`SELECT o.id, o.server_id, o.source_id, o.status, o.response_ms, o.error, o.observed_at
		FROM observations o
		JOIN (SELECT source_id, MAX(id) AS last_id
			  FROM observations
			  WHERE server_id = ? AND observed_at >= ?
			  GROUP BY source_id) last
		ON o.id = last.last_id
		ORDER BY o.source_id ASC`,
		serverID, since.UTC().Format(timeFormat))
}

// PurgeObservationsBefore bulk-deletes observations older than cutoff and
// returns the number of rows removed. The only mutation of the ledger
// besides append.
func (s *Store) PurgeObservationsBefore(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM observations WHERE observed_at < ?`,
		cutoff.UTC().Format(timeFormat))
	if err != nil {
		return 0, trace.ConnectionProblem(err, "failed to purge observations")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, trace.ConnectionProblem(err, "failed to purge observations")
	}
	return n, nil
}

// MaxQueryRows caps any single observation query so one pathological
// window cannot exhaust memory.
const MaxQueryRows = 10000

func effectiveLimit(limit int) int {
	if limit <= 0 || limit > MaxQueryRows {
		return MaxQueryRows
	}
	return limit
}

func (s *Store) queryObservations(query string, args ...any) ([]models.Observation, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, trace.ConnectionProblem(err, "observation query failed")
	}
	defer rows.Close()

	var result []models.Observation
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			return nil, trace.ConnectionProblem(err, "failed to scan observation")
		}
		result = append(result, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, trace.ConnectionProblem(err, "observation query failed")
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanObservation(row rowScanner) (models.Observation, error) {
	var obs models.Observation
	var ms sql.NullInt64
	var errMsg sql.NullString
	var observedAt string

	if err := row.Scan(&obs.ID, &obs.ServerID, &obs.SourceID, &obs.Status, &ms, &errMsg, &observedAt); err != nil {
		return obs, err
	}
	if ms.Valid {
		v := int(ms.Int64)
		obs.ResponseMS = &v
	}
	obs.ErrorMessage = errMsg.String
	t, err := time.Parse(timeFormat, observedAt)
	if err != nil {
		return obs, err
	}
	obs.ObservedAt = t
	return obs, nil
}
