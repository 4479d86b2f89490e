package models

import (
	"time"

	"github.com/gravitational/trace"
)

// Status is the closed set of states a check observation or an aggregated
// server can be in. Only the five check kinds are accepted at ingestion;
// StatusUnknown is derived, never stored.
type Status string

const (
	StatusUp      Status = "up"
	StatusDown    Status = "down"
	StatusTimeout Status = "timeout"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
	StatusUnknown Status = "unknown"
)

// ParseStatus validates a client-supplied status string against the five
// ingestable kinds.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusUp, StatusDown, StatusTimeout, StatusError, StatusSkipped:
		return Status(s), nil
	}
	return "", trace.BadParameter("unrecognized status %q", s)
}

// Failing reports whether the status counts as a failure for the
// unanimity rule. Skipped is neither up nor failing.
func (s Status) Failing() bool {
	return s == StatusDown || s == StatusTimeout || s == StatusError
}

// Server is a monitored target. Owned by configuration; the core only
// reads it by identifier.
type Server struct {
	ID        string `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	Address   string `json:"address" yaml:"address"`
	CheckType string `json:"check_type" yaml:"check_type"` // http, https, tcp, ping
	Active    bool   `json:"active" yaml:"active"`
}

// Observation is one immutable recorded check result. ObservedAt is
// assigned by the store at ingestion time, never by the client.
type Observation struct {
	ID           int64     `json:"id"`
	ServerID     string    `json:"server_id"`
	SourceID     string    `json:"source_id"`
	Status       Status    `json:"status"`
	ResponseMS   *int      `json:"response_ms,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	ObservedAt   time.Time `json:"observed_at"`
}

// SourceStatus is one vantage point's contribution to an aggregated status.
type SourceStatus struct {
	SourceID   string    `json:"source_id"`
	Status     Status    `json:"status"`
	ObservedAt time.Time `json:"observed_at"`
}

// AggregatedStatus is the derived authoritative status of a server. It is
// recomputed from observations on demand and never persisted.
type AggregatedStatus struct {
	ServerID   string         `json:"server_id"`
	Status     Status         `json:"status"`
	Sources    []SourceStatus `json:"contributing_sources"`
	ComputedAt time.Time      `json:"computed_at"`
}

// Transition records one change of merged status inside a summary window.
type Transition struct {
	At   time.Time `json:"at"`
	From Status    `json:"from_status"`
	To   Status    `json:"to_status"`
}

// HistorySummary is the derived view of a server over a time window.
// UptimePct and AvgResponseMS are nil when the window holds no usable
// data, which is distinct from 0 or 100.
type HistorySummary struct {
	ServerID      string       `json:"server_id"`
	WindowStart   time.Time    `json:"window_start"`
	WindowEnd     time.Time    `json:"window_end"`
	UptimePct     *float64     `json:"uptime_pct"`
	AvgResponseMS *float64     `json:"avg_response_ms"`
	SampleCount   int          `json:"sample_count"`
	Transitions   []Transition `json:"transitions"`
	Truncated     bool         `json:"truncated"`
}
