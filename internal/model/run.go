package model

import "time"

// RunStatus represents the state of a reconciliation run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one entry of the reconciliation run log.
type Run struct {
	ID          string      `json:"id"`
	Table       string      `json:"table"`
	Status      RunStatus   `json:"status"`
	Actor       string      `json:"actor"`
	RunAt       time.Time   `json:"run_at"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Summary     *RunSummary `json:"summary,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// RunSummary counts the outcome of a reconciliation.
type RunSummary struct {
	Incoming   int `json:"incoming"`
	Duplicates int `json:"duplicates"`
	New        int `json:"new"`
	Updated    int `json:"updated"`
	Unchanged  int `json:"unchanged"`
	Missing    int `json:"missing"`
	Total      int `json:"total"`
}

// Changed reports whether the run inserted or updated any record.
func (s RunSummary) Changed() bool {
	return s.New > 0 || s.Updated > 0
}
