package reconcile

import (
	"sort"
	"time"

	"github.com/sells-group/outlier-sync/internal/model"
)

// Change describes one inserted or updated record.
type Change struct {
	Key    string                   `json:"key"`
	Row    int                      `json:"row"`
	Status model.RevalidationStatus `json:"status"`
	Fields map[string]model.Value   `json:"fields,omitempty"`
}

// FieldNames returns the changed field names in sorted order.
func (c Change) FieldNames() []string {
	names := make([]string, 0, len(c.Fields))
	for n := range c.Fields {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Result is the outcome of a reconciliation.
type Result struct {
	Table   *model.Table     `json:"table"`
	Summary model.RunSummary `json:"summary"`
	Changes []Change         `json:"changes,omitempty"`
	At      time.Time        `json:"run_at"`
	Actor   string           `json:"actor"`
}

// Updated returns the changes for updated records.
func (r *Result) Updated() []Change {
	var out []Change
	for _, c := range r.Changes {
		if c.Status == model.StatusUpdated {
			out = append(out, c)
		}
	}
	return out
}
