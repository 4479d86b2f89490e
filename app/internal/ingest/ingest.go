package ingest

import (
	"github.com/Ekipoure/radar-sub001/app/internal/cache"
	"github.com/Ekipoure/radar-sub001/app/internal/database"
	"github.com/Ekipoure/radar-sub001/app/internal/models"
	"github.com/Ekipoure/radar-sub001/app/internal/registry"
	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"
)

// Request is one raw check result delivered by an agent or the central
// prober. IdempotencyKey is optional; agents delivering at-least-once
// reuse the same key on retries so duplicates collapse to one row.
type Request struct {
	ServerID       string `json:"server_id"`
	SourceID       string `json:"source_id"`
	Status         string `json:"status"`
	ResponseMS     *int   `json:"response_ms,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// Gateway validates and stores incoming observations. On success it
// appends to the ledger, records the source as seen, then invalidates
// cached views of the server, in that order.
type Gateway struct {
	store *database.Store
	reg   *registry.Registry
	cache *cache.Cache
	log   *logrus.Entry
}

// New creates a gateway.
func New(store *database.Store, reg *registry.Registry, c *cache.Cache, log *logrus.Entry) *Gateway {
	return &Gateway{store: store, reg: reg, cache: c, log: log}
}

// Ingest validates the request and persists it. Validation failures
// reject the whole request before anything is written: no row, no
// source update, no cache invalidation. Failures are reported to the
// caller so the agent can retry; the gateway never retries on its
// behalf.
func (g *Gateway) Ingest(req Request) error {
	status, err := models.ParseStatus(req.Status)
	if err != nil {
		return trace.Wrap(err)
	}
	if req.SourceID == "" {
		return trace.BadParameter("source_id is required")
	}
	if req.ResponseMS != nil && *req.ResponseMS < 0 {
		return trace.BadParameter("response_ms must be non-negative, got %d", *req.ResponseMS)
	}
	if req.IdempotencyKey != "" {
		if _, err := uuid.Parse(req.IdempotencyKey); err != nil {
			return trace.BadParameter("idempotency_key must be a UUID: %v", err)
		}
	}

	srv, err := g.store.GetServer(req.ServerID)
	if err != nil {
		return trace.Wrap(err)
	}
	if !srv.Active {
		return trace.NotFound("server %q is not active", req.ServerID)
	}

	obs, inserted, err := g.store.AppendObservation(
		req.ServerID, req.SourceID, status, req.ResponseMS, req.ErrorMessage, req.IdempotencyKey)
	if err != nil {
		return trace.Wrap(err)
	}
	if !inserted {
		g.log.WithFields(logrus.Fields{
			"server": req.ServerID,
			"source": req.SourceID,
			"key":    req.IdempotencyKey,
		}).Debug("duplicate delivery ignored")
		return nil
	}

	if err := g.reg.RecordSeen(req.SourceID, obs.ObservedAt); err != nil {
		return trace.Wrap(err)
	}

	// Best-effort: stale cache entries expire by TTL anyway.
	g.cache.InvalidateServer(req.ServerID)
	return nil
}
