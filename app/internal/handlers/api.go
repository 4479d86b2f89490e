package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Ekipoure/radar-sub001/app/internal/aggregate"
	"github.com/Ekipoure/radar-sub001/app/internal/config"
	"github.com/Ekipoure/radar-sub001/app/internal/database"
	"github.com/Ekipoure/radar-sub001/app/internal/history"
	"github.com/Ekipoure/radar-sub001/app/internal/ingest"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// API is the thin JSON adapter over the core: decode, call, map the
// error class to an HTTP code. No aggregation logic lives here.
type API struct {
	cfg        *config.Config
	store      *database.Store
	gateway    *ingest.Gateway
	aggregator *aggregate.Aggregator
	summarizer *history.Summarizer
	clock      clockwork.Clock
	log        *logrus.Entry
}

// NewAPI creates the handler set.
func NewAPI(cfg *config.Config, store *database.Store, gateway *ingest.Gateway, agg *aggregate.Aggregator, sum *history.Summarizer, clock clockwork.Clock, log *logrus.Entry) *API {
	return &API{
		cfg:        cfg,
		store:      store,
		gateway:    gateway,
		aggregator: agg,
		summarizer: sum,
		clock:      clock,
		log:        log,
	}
}

// HandleIngest accepts one observation from an agent.
// POST /api/ingest
func (a *API) HandleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !a.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req ingest.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, trace.BadParameter("invalid request body: %v", err))
		return
	}

	if err := a.gateway.Ingest(req); err != nil {
		a.log.WithError(err).WithField("server", req.ServerID).Warn("ingest rejected")
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"result": "ok"})
}

// HandleStatusAll returns the aggregated status of every active server.
// GET /api/status
func (a *API) HandleStatusAll(w http.ResponseWriter, r *http.Request) {
	statuses, err := a.aggregator.ComputeAll()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, statuses)
}

// HandleStatus returns the aggregated status of one server.
// GET /api/status/{server}
func (a *API) HandleStatus(w http.ResponseWriter, r *http.Request) {
	serverID := strings.TrimPrefix(r.URL.Path, "/api/status/")
	if serverID == "" {
		writeError(w, trace.BadParameter("server id is required"))
		return
	}

	status, err := a.aggregator.ComputeStatus(serverID, 0)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, status)
}

// HandleHistory returns the summary of one server over the last N hours.
// GET /api/history/{server}?hours=24
func (a *API) HandleHistory(w http.ResponseWriter, r *http.Request) {
	serverID := strings.TrimPrefix(r.URL.Path, "/api/history/")
	if serverID == "" {
		writeError(w, trace.BadParameter("server id is required"))
		return
	}

	hours := queryHours(r, 24)
	end := a.clock.Now().UTC()
	start := end.Add(-time.Duration(hours) * time.Hour)

	summary, err := a.summarizer.Summarize(serverID, start, end)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, summary)
}

// HandleSource returns one vantage point's raw observations, for
// diagnosing a single prober.
// GET /api/source/{source}?hours=24
func (a *API) HandleSource(w http.ResponseWriter, r *http.Request) {
	sourceID := strings.TrimPrefix(r.URL.Path, "/api/source/")
	if sourceID == "" {
		writeError(w, trace.BadParameter("source id is required"))
		return
	}

	hours := queryHours(r, 24)
	end := a.clock.Now().UTC()
	start := end.Add(-time.Duration(hours) * time.Hour)

	observations, err := a.store.ObservationsBySource(sourceID, start, end, 0)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, observations)
}

// HandleHealthz reports process liveness.
func (a *API) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (a *API) authorized(r *http.Request) bool {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	return a.cfg.VerifyAgentToken(token)
}

func queryHours(r *http.Request, def int) int {
	if q := r.URL.Query().Get("hours"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n >= 1 && n <= 24*365 {
			return n
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the trace error class to the HTTP status the external
// contract promises: validation 400, unknown entity 404, backend
// failure 503, exceeded bounds 504.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case trace.IsBadParameter(err):
		code = http.StatusBadRequest
	case trace.IsNotFound(err):
		code = http.StatusNotFound
	case trace.IsConnectionProblem(err):
		code = http.StatusServiceUnavailable
	case trace.IsLimitExceeded(err):
		code = http.StatusGatewayTimeout
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": trace.UserMessage(err)})
}
