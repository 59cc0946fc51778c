package reconcile

import (
	"time"

	"github.com/sells-group/outlier-sync/internal/model"
)

var runAt = time.Date(2025, 7, 30, 6, 15, 0, 0, time.UTC)

// outlier builds a detector row for the given key parts and metric value.
func outlier(cob, l2, lob, nodeID, node, metric string, value any) *model.Record {
	return model.RecordOf(
		"COB_DATE", cob,
		"LEVEL2_NAME", l2,
		"LOB", lob,
		"NODE_ID", nodeID,
		"NODE_NAME", node,
		"METRIC_NAME", metric,
		"metric_value", value,
	)
}

// reviewed adds analyst bookkeeping fields to a detector row.
func reviewed(rec *model.Record, review, by string, history any) *model.Record {
	rec.Set("REVIEW_STATUS", model.String(review))
	rec.Set("OUTLIER_STATUS", model.String(""))
	rec.Set("COMMENT", model.String(""))
	rec.Set("UPDATED_DATE", model.String("2025-07-29 12:00:00"))
	rec.Set("UPDATED_BY", model.String(by))
	rec.Set("AUDIT_HISTORY", model.ValueOf(history))
	rec.Set("REVALIDATION_STATUS", model.String(""))
	return rec
}

func k1(v any) *model.Record {
	return outlier("2025-07-29", "L2A", "LOB1", "NID1", "Desk1", "MetricX", v)
}
func k2(v any) *model.Record {
	return outlier("2025-07-28", "L2B", "LOB2", "NID2", "Desk2", "MetricY", v)
}
func k3(v any) *model.Record {
	return outlier("2025-07-30", "L2C", "LOB3", "NID3", "Desk3", "MetricZ", v)
}

// byKey indexes a result table by Match Key.
func byKey(t *model.Table) map[string]*model.Record {
	s := model.DefaultSchema()
	out := make(map[string]*model.Record, t.Len())
	for _, r := range t.Records() {
		out[MatchKey(r, s)] = r
	}
	return out
}

func str(v model.Value) string {
	s, _ := v.Str()
	return s
}

func num(v model.Value) float64 {
	f, _ := v.Num()
	return f
}

func hist(v model.Value) model.History {
	h, _ := v.History()
	return h
}
