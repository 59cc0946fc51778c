package reconcile

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outlier-sync/internal/model"
)

func TestReconcile_UpdateMissingNew(t *testing.T) {
	baseline := model.TableOf(
		reviewed(k1(100.0), "Closed", "Analyst", "[]"),
		reviewed(k2(5.0), "Open", "System", "[]"),
	)
	incoming := model.TableOf(k1(150.0), k3(300.0))

	res, err := New().Reconcile(baseline, incoming, Params{At: runAt})
	require.NoError(t, err)

	rows := byKey(res.Table)
	require.Len(t, rows, 3)
	s := model.DefaultSchema()

	r1 := rows[MatchKey(k1(nil), s)]
	assert.InDelta(t, 150.0, num(r1.Value("metric_value")), 1e-9)
	assert.Equal(t, "updated", str(r1.Value("REVALIDATION_STATUS")))
	assert.Equal(t, "Closed", str(r1.Value("REVIEW_STATUS")))
	assert.Equal(t, "System", str(r1.Value("UPDATED_BY")))
	assert.Equal(t, "2025-07-30 06:15:00", str(r1.Value("UPDATED_DATE")))
	h := hist(r1.Value("AUDIT_HISTORY"))
	require.Len(t, h, 1)
	assert.InDelta(t, 100.0, num(h[0].Value("metric_value")), 1e-9)
	assert.False(t, h[0].Has("REVIEW_STATUS"), "snapshot must not carry client fields")
	assert.Equal(t, "NID1", str(h[0].Value("NODE_ID")))

	r2 := rows[MatchKey(k2(nil), s)]
	assert.Equal(t, "missing", str(r2.Value("REVALIDATION_STATUS")))
	assert.InDelta(t, 5.0, num(r2.Value("metric_value")), 1e-9)
	assert.Equal(t, "Open", str(r2.Value("REVIEW_STATUS")))

	r3 := rows[MatchKey(k3(nil), s)]
	assert.Equal(t, "new", str(r3.Value("REVALIDATION_STATUS")))
	assert.Equal(t, "Open", str(r3.Value("REVIEW_STATUS")))
	assert.Equal(t, "System", str(r3.Value("UPDATED_BY")))
	assert.Empty(t, hist(r3.Value("AUDIT_HISTORY")))

	assert.Equal(t, model.RunSummary{Incoming: 2, New: 1, Updated: 1, Missing: 1, Total: 3}, res.Summary)
	require.Len(t, res.Updated(), 1)
	assert.Equal(t, []string{"metric_value"}, res.Updated()[0].FieldNames())
}

func TestReconcile_DuplicateIncomingLastWins(t *testing.T) {
	baseline := model.TableOf(reviewed(k1(100.0), "Closed", "Analyst", "[]"))
	incoming := model.TableOf(k1(110.0), k1(120.0))

	res, err := New().Reconcile(baseline, incoming, Params{At: runAt})
	require.NoError(t, err)

	require.Equal(t, 1, res.Table.Len())
	assert.InDelta(t, 120.0, num(res.Table.At(0).Value("metric_value")), 1e-9)
	assert.Equal(t, 1, res.Summary.Duplicates)
}

func TestReconcile_WithinToleranceIsUnchanged(t *testing.T) {
	base := reviewed(k1(1.000000), "Closed", "Analyst", "[]")
	base.Set("REVALIDATION_STATUS", model.String("updated"))
	baseline := model.TableOf(base)
	incoming := model.TableOf(k1(1.0000009))

	res, err := New().Reconcile(baseline, incoming, Params{At: runAt})
	require.NoError(t, err)

	rec := res.Table.At(0)
	assert.Equal(t, "", str(rec.Value("REVALIDATION_STATUS")))
	assert.Equal(t, model.KindString, rec.Value("REVALIDATION_STATUS").Kind())
	assert.InDelta(t, 1.0, num(rec.Value("metric_value")), 1e-12)
	assert.Equal(t, "Analyst", str(rec.Value("UPDATED_BY")))
	assert.Empty(t, hist(rec.Value("AUDIT_HISTORY")))
	assert.Equal(t, 1, res.Summary.Unchanged)
}

func TestReconcile_RerunIsIdempotent(t *testing.T) {
	baseline := model.TableOf(
		reviewed(k1(100.0), "Closed", "Analyst", "[]"),
		reviewed(k2(5.0), "Open", "System", "[]"),
	)
	incoming := model.TableOf(k1(150.0), k3(300.0))
	rec := New()

	first, err := rec.Reconcile(baseline, incoming, Params{At: runAt})
	require.NoError(t, err)
	second, err := rec.Reconcile(first.Table, incoming, Params{At: runAt.Add(24 * time.Hour)})
	require.NoError(t, err)

	s := model.DefaultSchema()
	rows := byKey(second.Table)
	for _, key := range []string{MatchKey(k1(nil), s), MatchKey(k3(nil), s)} {
		assert.Equal(t, "", str(rows[key].Value("REVALIDATION_STATUS")), key)
	}
	assert.Len(t, hist(rows[MatchKey(k1(nil), s)].Value("AUDIT_HISTORY")), 1)
	assert.Empty(t, hist(rows[MatchKey(k3(nil), s)].Value("AUDIT_HISTORY")))
	assert.Equal(t, "2025-07-30 06:15:00", str(rows[MatchKey(k1(nil), s)].Value("UPDATED_DATE")))
	assert.Equal(t, 0, second.Summary.New+second.Summary.Updated)
}

func TestReconcile_AuditGrowsByOnePerRun(t *testing.T) {
	table := model.TableOf(reviewed(k1(1.0), "Closed", "Analyst", nil))
	rec := New()

	for i := 2; i <= 5; i++ {
		res, err := rec.Reconcile(table, model.TableOf(k1(float64(i))), Params{At: runAt})
		require.NoError(t, err)
		table = res.Table
		h := hist(table.At(0).Value("AUDIT_HISTORY"))
		require.Len(t, h, i-1)
		assert.InDelta(t, float64(i-1), num(h[i-2].Value("metric_value")), 1e-9)
	}
}

func TestReconcile_PreservesClientFields(t *testing.T) {
	base := reviewed(k1(100.0), "Closed", "Analyst", "[]")
	base.Set("OUTLIER_STATUS", model.String("Confirmed"))
	base.Set("COMMENT", model.String("booked late"))
	incoming := k1(200.0)
	incoming.Set("COMMENT", model.String("detector note"))
	incoming.Set("REVIEW_STATUS", model.String("Ignored"))

	res, err := New().Reconcile(model.TableOf(base), model.TableOf(incoming), Params{At: runAt})
	require.NoError(t, err)

	got := res.Table.At(0)
	assert.Equal(t, "Closed", str(got.Value("REVIEW_STATUS")))
	assert.Equal(t, "Confirmed", str(got.Value("OUTLIER_STATUS")))
	assert.Equal(t, "booked late", str(got.Value("COMMENT")))
	assert.Equal(t, "updated", str(got.Value("REVALIDATION_STATUS")))
}

func TestReconcile_MalformedHistoryDegradesToEmpty(t *testing.T) {
	for _, raw := range []any{"not a list", "[{'a': [1, 2]}]", 42.0, true} {
		base := reviewed(k1(1.0), "Closed", "Analyst", raw)
		res, err := New().Reconcile(model.TableOf(base), model.TableOf(k1(2.0)), Params{At: runAt})
		require.NoError(t, err)
		h := hist(res.Table.At(0).Value("AUDIT_HISTORY"))
		require.Len(t, h, 1, "raw=%v", raw)
	}
}

func TestReconcile_LiteralHistoryIsExtended(t *testing.T) {
	raw := "[{'COB_DATE': '2025-07-29', 'metric_value': 80.0, 'flag': None}]"
	base := reviewed(k1(100.0), "Closed", "Analyst", raw)

	res, err := New().Reconcile(model.TableOf(base), model.TableOf(k1(150.0)), Params{At: runAt})
	require.NoError(t, err)

	h := hist(res.Table.At(0).Value("AUDIT_HISTORY"))
	require.Len(t, h, 2)
	assert.InDelta(t, 80.0, num(h[0].Value("metric_value")), 1e-9)
	assert.Equal(t, model.KindNull, h[0].Value("flag").Kind())
	assert.InDelta(t, 100.0, num(h[1].Value("metric_value")), 1e-9)
}

func TestReconcile_EscapedLiteralHistoryIsKept(t *testing.T) {
	raw := `[{'NODE_NAME': 'Desk\'s "main"', 'NOTE': 'C:\\tmp\nnext', 'metric_value': 80.0}]`
	base := reviewed(k1(100.0), "Closed", "Analyst", raw)

	res, err := New().Reconcile(model.TableOf(base), model.TableOf(k1(150.0)), Params{At: runAt})
	require.NoError(t, err)

	h := hist(res.Table.At(0).Value("AUDIT_HISTORY"))
	require.Len(t, h, 2)
	assert.Equal(t, `Desk's "main"`, str(h[0].Value("NODE_NAME")))
	assert.Equal(t, "C:\\tmp\nnext", str(h[0].Value("NOTE")))
	assert.InDelta(t, 100.0, num(h[1].Value("metric_value")), 1e-9)
}

func TestReconcile_TypeMismatchIsUpdate(t *testing.T) {
	base := reviewed(k1("100"), "Closed", "Analyst", "[]")
	res, err := New().Reconcile(model.TableOf(base), model.TableOf(k1(100.0)), Params{At: runAt})
	require.NoError(t, err)
	assert.Equal(t, "updated", str(res.Table.At(0).Value("REVALIDATION_STATUS")))
}

func TestReconcile_NaNEqualsNaN(t *testing.T) {
	base := reviewed(k1(math.NaN()), "Closed", "Analyst", "[]")
	res, err := New().Reconcile(model.TableOf(base), model.TableOf(k1(math.NaN())), Params{At: runAt})
	require.NoError(t, err)
	assert.Equal(t, "", str(res.Table.At(0).Value("REVALIDATION_STATUS")))
}

func TestReconcile_NullMatchesMissing(t *testing.T) {
	base := reviewed(k1(nil), "Closed", "Analyst", "[]")
	cur := k1(1.0)
	cur.Delete("metric_value")

	res, err := New().Reconcile(model.TableOf(base), model.TableOf(cur), Params{At: runAt})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Summary.Unchanged)
}

func TestReconcile_NewSystemColumnIsAdded(t *testing.T) {
	base := reviewed(k1(100.0), "Closed", "Analyst", "[]")
	cur := k1(100.0)
	cur.Set("z_score", model.Number(3.2))

	res, err := New().Reconcile(model.TableOf(base), model.TableOf(cur), Params{At: runAt})
	require.NoError(t, err)

	assert.True(t, res.Table.HasColumn("z_score"))
	got := res.Table.At(0)
	assert.Equal(t, "updated", str(got.Value("REVALIDATION_STATUS")))
	assert.InDelta(t, 3.2, num(got.Value("z_score")), 1e-9)
	h := hist(got.Value("AUDIT_HISTORY"))
	require.Len(t, h, 1)
	assert.False(t, h[0].Has("z_score"))
}

func TestReconcile_DoesNotMutateInputs(t *testing.T) {
	base := reviewed(k1(100.0), "Closed", "Analyst", "[]")
	baseline := model.TableOf(base)
	incoming := model.TableOf(k1(150.0), k3(1.0))

	_, err := New().Reconcile(baseline, incoming, Params{At: runAt})
	require.NoError(t, err)

	assert.Equal(t, 1, baseline.Len())
	assert.InDelta(t, 100.0, num(base.Value("metric_value")), 1e-9)
	assert.Equal(t, "[]", str(base.Value("AUDIT_HISTORY")))
	assert.Equal(t, "", str(base.Value("REVALIDATION_STATUS")))
	assert.False(t, incoming.At(1).Has("REVIEW_STATUS"))
}

func TestReconcile_DuplicateBaselineRejected(t *testing.T) {
	baseline := model.TableOf(
		reviewed(k1(1.0), "Closed", "Analyst", "[]"),
		reviewed(k1(2.0), "Open", "System", "[]"),
	)
	_, err := New().Reconcile(baseline, model.TableOf(k1(3.0)), Params{At: runAt})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateKey))

	var dup *DuplicateKeyError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, []int{0, 1}, dup.Rows)
}

func TestReconcile_DuplicateBaselineLastWins(t *testing.T) {
	baseline := model.TableOf(
		reviewed(k1(1.0), "Closed", "Analyst", "[]"),
		reviewed(k1(2.0), "Open", "System", "[]"),
	)
	r := New(WithDuplicatePolicy(DuplicateLastWins))
	res, err := r.Reconcile(baseline, model.TableOf(k1(2.0)), Params{At: runAt})
	require.NoError(t, err)

	assert.Equal(t, "missing", str(res.Table.At(0).Value("REVALIDATION_STATUS")))
	assert.Equal(t, "", str(res.Table.At(1).Value("REVALIDATION_STATUS")))
	assert.InDelta(t, 1.0, num(res.Table.At(0).Value("metric_value")), 1e-9)
}

func TestReconcile_MissingKeyFieldIsFatal(t *testing.T) {
	bad := k3(1.0)
	bad.Delete("NODE_ID")

	_, err := New().Reconcile(model.TableOf(reviewed(k1(1.0), "Closed", "Analyst", "[]")), model.TableOf(k1(2.0), bad), Params{At: runAt})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingKeyField))

	var se *StructureError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "incoming", se.Table)
	assert.Equal(t, 1, se.Row)
	assert.Equal(t, "NODE_ID", se.Field)
}

func TestReconcile_NilInputs(t *testing.T) {
	_, err := New().Reconcile(model.NewTable(), nil, Params{})
	require.Error(t, err)

	res, err := New(WithClock(func() time.Time { return runAt })).Reconcile(nil, model.TableOf(k1(1.0)), Params{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Summary.New)
	assert.Equal(t, runAt, res.At)
}

func TestReconcile_ActorAndClockOverrides(t *testing.T) {
	clock := func() time.Time { return time.Date(2025, 8, 1, 0, 0, 0, 0, time.FixedZone("EST", -5*3600)) }
	r := New(WithActor("detector"), WithClock(clock), WithTimestampFormat(time.RFC3339))

	res, err := r.Reconcile(nil, model.TableOf(k1(1.0)), Params{})
	require.NoError(t, err)
	rec := res.Table.At(0)
	assert.Equal(t, "detector", str(rec.Value("UPDATED_BY")))
	assert.Equal(t, "2025-08-01T05:00:00Z", str(rec.Value("UPDATED_DATE")))

	res, err = r.Reconcile(nil, model.TableOf(k1(1.0)), Params{Actor: "backfill", At: runAt})
	require.NoError(t, err)
	assert.Equal(t, "backfill", str(res.Table.At(0).Value("UPDATED_BY")))
	assert.Equal(t, "2025-07-30T06:15:00Z", str(res.Table.At(0).Value("UPDATED_DATE")))
}

func TestReconcile_ClassificationIsComplete(t *testing.T) {
	baseline := model.TableOf(
		reviewed(k1(1.0), "Closed", "Analyst", "[]"),
		reviewed(k2(2.0), "Open", "System", "[]"),
	)
	incoming := model.TableOf(k1(1.0), k3(3.0), k3(4.0))

	res, err := New().Reconcile(baseline, incoming, Params{At: runAt})
	require.NoError(t, err)

	allowed := map[string]bool{"new": true, "updated": true, "missing": true, "": true}
	for _, rec := range res.Table.Records() {
		v, ok := rec.Get("REVALIDATION_STATUS")
		require.True(t, ok)
		assert.True(t, allowed[str(v)])
	}
	s := res.Summary
	assert.Equal(t, s.Total, s.New+s.Updated+s.Unchanged+s.Missing)
}
