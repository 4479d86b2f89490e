package database

import (
	"database/sql"

	"github.com/Ekipoure/radar-sub001/app/internal/models"
	"github.com/gravitational/trace"
)

// UpsertServer creates or updates a server definition. Called from boot
// when syncing the servers file; the core otherwise treats servers as
// read-only references.
func (s *Store) UpsertServer(srv models.Server) error {
	if srv.ID == "" {
		return trace.BadParameter("server id is required")
	}
	activeInt := 0
	if srv.Active {
		activeInt = 1
	}
	_, err := s.db.Exec(`INSERT INTO servers (id, name, address, check_type, active, updated_at)
		VALUES (?,?,?,?,?, datetime('now'))
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, address=excluded.address,
			check_type=excluded.check_type, active=excluded.active,
			updated_at=datetime('now')`,
		srv.ID, srv.Name, srv.Address, srv.CheckType, activeInt)
	if err != nil {
		return trace.ConnectionProblem(err, "failed to upsert server %s", srv.ID)
	}
	return nil
}

// GetServer loads one server by id.
func (s *Store) GetServer(id string) (*models.Server, error) {
	var srv models.Server
	var active int
	err := s.db.QueryRow(`SELECT id, name, address, check_type, active
		FROM servers WHERE id = ?`, id).
		Scan(&srv.ID, &srv.Name, &srv.Address, &srv.CheckType, &active)
	if err == sql.ErrNoRows {
		return nil, trace.NotFound("server %q not found", id)
	}
	if err != nil {
		return nil, trace.ConnectionProblem(err, "failed to load server %s", id)
	}
	srv.Active = active != 0
	return &srv, nil
}

// ListServers returns all servers, optionally only active ones, ordered
// by id for deterministic batch output.
func (s *Store) ListServers(activeOnly bool) ([]models.Server, error) {
	query := `SELECT id, name, address, check_type, active FROM servers ORDER BY id ASC`
	if activeOnly {
		query = `SELECT id, name, address, check_type, active FROM servers WHERE active = 1 ORDER BY id ASC`
	}
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, trace.ConnectionProblem(err, "failed to list servers")
	}
	defer rows.Close()

	var servers []models.Server
	for rows.Next() {
		var srv models.Server
		var active int
		if err := rows.Scan(&srv.ID, &srv.Name, &srv.Address, &srv.CheckType, &active); err != nil {
			return nil, trace.ConnectionProblem(err, "failed to scan server")
		}
		srv.Active = active != 0
		servers = append(servers, srv)
	}
	if err := rows.Err(); err != nil {
		return nil, trace.ConnectionProblem(err, "failed to list servers")
	}
	return servers, nil
}

func (s *Store) serverExists(id string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM servers WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, trace.ConnectionProblem(err, "failed to check server %s", id)
	}
	return true, nil
}
