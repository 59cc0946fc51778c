package reconcile

import "github.com/sells-group/outlier-sync/internal/model"

// Dedupe returns a table with at most one record per Match Key. When keys
// repeat, the last record in input order wins and takes the position of its
// last occurrence. dropped counts the discarded records.
func Dedupe(t *model.Table, schema model.Schema) (out *model.Table, dropped int) {
	last := make(map[string]int, t.Len())
	for i, rec := range t.Records() {
		last[MatchKey(rec, schema)] = i
	}

	out = model.NewTable(t.Columns()...)
	for i, rec := range t.Records() {
		if last[MatchKey(rec, schema)] != i {
			dropped++
			continue
		}
		out.Append(rec)
	}
	return out, dropped
}
