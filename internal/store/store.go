// Package store persists outlier tables and the reconciliation run log.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/sells-group/outlier-sync/internal/model"
)

// ErrRunNotFound is returned when a run log entry does not exist.
var ErrRunNotFound = errors.New("store: run not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Table  string          `json:"table,omitempty"`
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// ApplyFunc computes the next state of a table from its stored state. The
// baseline is empty when the table has never been saved.
type ApplyFunc func(baseline *model.Table) (*model.Table, error)

// Store defines the persistence interface for outlier tables.
type Store interface {
	// Tables
	LoadTable(ctx context.Context, name string) (*model.Table, error)
	SaveTable(ctx context.Context, name string, t *model.Table) error
	// Apply loads, transforms and saves a table as one unit while holding an
	// exclusive lock on it. Nothing is written when fn fails.
	Apply(ctx context.Context, name string, fn ApplyFunc) error
	ListTables(ctx context.Context) ([]string, error)

	// Runs
	StartRun(ctx context.Context, table, actor string, runAt time.Time) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, summary model.RunSummary) error
	FailRun(ctx context.Context, runID string, cause error) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultRunLimit = 100

func runLimit(n int) int {
	if n <= 0 {
		return defaultRunLimit
	}
	return n
}

// orderFields rebuilds rec with its fields in column order. Stores that keep
// rows as JSON objects lose member order, so the table's column list is the
// reference.
func orderFields(rec *model.Record, columns []string) *model.Record {
	out := model.NewRecord()
	for _, c := range columns {
		if v, ok := rec.Get(c); ok {
			out.Set(c, v)
		}
	}
	for _, n := range rec.Names() {
		if !out.Has(n) {
			out.Set(n, rec.Value(n))
		}
	}
	return out
}

// assemble builds a table from its stored column list and rows.
func assemble(columns []string, rows []*model.Record) *model.Table {
	t := model.NewTable(columns...)
	for _, r := range rows {
		t.Append(orderFields(r, columns))
	}
	return t
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
