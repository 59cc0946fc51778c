// Package monitoring watches the reconciliation run log and raises alerts
// when runs fail, stall, or flag an unusual share of records as missing.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outlier-sync/internal/model"
	"github.com/sells-group/outlier-sync/internal/store"
)

// RunLister is the part of store.Store the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// RunDigest is the per-run detail alert rules look at.
type RunDigest struct {
	ID      string          `json:"id"`
	Table   string          `json:"table"`
	Status  model.RunStatus `json:"status"`
	Age     time.Duration   `json:"age"`
	Missing int             `json:"missing,omitempty"`
	Total   int             `json:"total,omitempty"`
}

// MissingRate is the share of the table flagged missing by the run.
func (d RunDigest) MissingRate() float64 {
	if d.Total == 0 {
		return 0
	}
	return float64(d.Missing) / float64(d.Total)
}

// MetricsSnapshot holds a point-in-time view of reconciliation health.
type MetricsSnapshot struct {
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsRunning  int     `json:"runs_running"`
	FailRate     float64 `json:"fail_rate"`

	RecordsNew     int `json:"records_new"`
	RecordsUpdated int `json:"records_updated"`
	RecordsMissing int `json:"records_missing"`

	Runs []RunDigest `json:"runs,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the run log.
type Collector struct {
	runs RunLister
	now  func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs, now: time.Now}
}

// Collect gathers a snapshot of the runs started within the lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.runs.ListRuns(ctx, store.RunFilter{Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	for _, r := range runs {
		if r.StartedAt.Before(cutoff) {
			continue
		}
		snap.RunsTotal++
		d := RunDigest{ID: r.ID, Table: r.Table, Status: r.Status, Age: now.Sub(r.StartedAt)}
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusRunning:
			snap.RunsRunning++
		}
		if r.Summary != nil {
			snap.RecordsNew += r.Summary.New
			snap.RecordsUpdated += r.Summary.Updated
			snap.RecordsMissing += r.Summary.Missing
			d.Missing, d.Total = r.Summary.Missing, r.Summary.Total
		}
		snap.Runs = append(snap.Runs, d)
	}

	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}
	return snap, nil
}
