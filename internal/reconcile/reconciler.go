// Package reconcile merges a freshly detected outlier table into the persisted
// baseline table. Identity is the Match Key built from the business key fields;
// only system fields are compared and overwritten, client-owned review fields
// are preserved, and every update appends a snapshot of the replaced record to
// the record's audit history.
//
// A Reconciler holds no state between calls. Callers must serialize runs
// against the same baseline table and commit the returned table atomically.
package reconcile

import (
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outlier-sync/internal/model"
)

// Reconciler applies the insert/update/missing policy to two tables.
type Reconciler struct {
	schema     model.Schema
	tol        Tolerance
	actor      string
	now        func() time.Time
	duplicates DuplicatePolicy
	timeLayout string
	log        *zap.Logger
}

// New creates a Reconciler with the outlier schema, default tolerance, the
// "System" actor and the UTC wall clock.
func New(opts ...Option) *Reconciler {
	r := &Reconciler{
		schema:     model.DefaultSchema().WithDefaults(),
		tol:        DefaultTolerance(),
		actor:      model.DefaultActor,
		now:        time.Now,
		duplicates: DuplicateReject,
		timeLayout: DefaultTimestampFormat,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Schema returns the field layout used by r.
func (r *Reconciler) Schema() model.Schema { return r.schema }

// Params are the per-run inputs. A zero At falls back to the configured
// clock; an empty Actor falls back to the configured actor.
type Params struct {
	At    time.Time
	Actor string
}

// Resolve fills a zero At from the clock and an empty Actor from the
// configured actor. At is returned in UTC.
func (r *Reconciler) Resolve(p Params) Params {
	if p.At.IsZero() {
		p.At = r.now()
	}
	p.At = p.At.UTC()
	if p.Actor == "" {
		p.Actor = r.actor
	}
	return p
}

// Reconcile merges incoming into a copy of baseline. Neither input is
// modified. A nil baseline is treated as empty. Structural problems (missing
// key values, duplicate baseline keys under DuplicateReject) are reported
// before any record is touched.
func (r *Reconciler) Reconcile(baseline, incoming *model.Table, p Params) (*Result, error) {
	if incoming == nil {
		return nil, eris.New("reconcile: incoming table is nil")
	}
	if baseline == nil {
		baseline = model.NewTable()
	}
	if err := r.validate(baseline, "baseline"); err != nil {
		return nil, err
	}
	if err := r.validate(incoming, "incoming"); err != nil {
		return nil, err
	}

	p = r.Resolve(p)
	at, actor := p.At, p.Actor
	run := runState{
		stamp:  model.String(at.Format(r.timeLayout)),
		actor:  model.String(actor),
		client: r.schema.ClientSet(),
	}

	out := baseline.Clone()
	baseIdx, err := NewIndex(out, r.schema, r.duplicates)
	if err != nil {
		return nil, eris.Wrap(err, "reconcile: index baseline")
	}
	r.normalizeHistory(out)

	deduped, dropped := Dedupe(incoming, r.schema)
	incIdx, err := NewIndex(deduped, r.schema, DuplicateReject)
	if err != nil {
		return nil, eris.Wrap(err, "reconcile: index incoming")
	}
	if dropped > 0 {
		r.log.Debug("reconcile: dropped duplicate incoming records", zap.Int("dropped", dropped))
	}

	res := &Result{
		Summary: model.RunSummary{Incoming: incoming.Len(), Duplicates: dropped},
		At:      at,
		Actor:   actor,
	}
	baseLen := out.Len()
	compare := r.compareFields(deduped)

	for _, key := range incIdx.Keys() {
		cur, _ := incIdx.Lookup(key)
		row, matched := baseIdx.Row(key)
		if !matched {
			rec := r.insert(cur, run)
			out.Append(rec)
			res.Summary.New++
			res.Changes = append(res.Changes, Change{Key: key, Row: out.Len() - 1, Status: model.StatusNew})
			r.log.Debug("reconcile: new record", zap.String("key", key))
			continue
		}

		old := out.At(row)
		diffs := Diff(old, cur, compare, r.tol)
		if len(diffs) == 0 {
			old.Set(r.schema.RevalidationStatus, model.String(string(model.StatusUnchanged)))
			res.Summary.Unchanged++
			continue
		}

		r.update(old, cur, compare, run)
		res.Summary.Updated++
		res.Changes = append(res.Changes, Change{Key: key, Row: row, Status: model.StatusUpdated, Fields: diffs})
		r.log.Debug("reconcile: updated record", zap.String("key", key), zap.Int("fields", len(diffs)))
	}

	for i := 0; i < baseLen; i++ {
		rec := out.At(i)
		if !baseIdx.Shadowed(i) && incIdx.Has(MatchKey(rec, r.schema)) {
			continue
		}
		if baseIdx.Shadowed(i) {
			r.log.Warn("reconcile: baseline row shadowed by a later duplicate", zap.Int("row", i))
		}
		rec.Set(r.schema.RevalidationStatus, model.String(string(model.StatusMissing)))
		res.Summary.Missing++
	}

	out.SyncColumns()
	res.Table = out
	res.Summary.Total = out.Len()
	return res, nil
}

type runState struct {
	stamp  model.Value
	actor  model.Value
	client map[string]bool
}

// insert builds the record for a key not present in the baseline.
func (r *Reconciler) insert(cur *model.Record, run runState) *model.Record {
	rec := cur.Clone()
	rec.Set(r.schema.ReviewStatus, model.String(model.ReviewStatusOpen))
	rec.Set(r.schema.UpdatedBy, run.actor)
	rec.Set(r.schema.UpdatedDate, run.stamp)
	rec.Set(r.schema.AuditHistory, model.HistoryValue(model.History{}))
	rec.Set(r.schema.RevalidationStatus, model.String(string(model.StatusNew)))
	return rec
}

// update snapshots old into its audit history and overwrites the system
// fields with the incoming values. Review status, outlier status and comment
// are left as they are.
func (r *Reconciler) update(old, cur *model.Record, fields []string, run runState) {
	snapshot := old.Without(run.client)

	hist, _ := model.DecodeHistory(old.Value(r.schema.AuditHistory))
	next := make(model.History, len(hist), len(hist)+1)
	copy(next, hist)
	next = append(next, snapshot)

	for _, f := range fields {
		v := cur.Value(f)
		if v.Kind() == model.KindMissing {
			v = model.Null()
		}
		old.Set(f, v.Clone())
	}
	old.Set(r.schema.AuditHistory, model.HistoryValue(next))
	old.Set(r.schema.UpdatedBy, run.actor)
	old.Set(r.schema.UpdatedDate, run.stamp)
	old.Set(r.schema.RevalidationStatus, model.String(string(model.StatusUpdated)))
}

// normalizeHistory replaces stored audit history text with structured lists.
// Unreadable history becomes an empty list.
func (r *Reconciler) normalizeHistory(t *model.Table) {
	for i, rec := range t.Records() {
		v, ok := rec.Get(r.schema.AuditHistory)
		if !ok || v.Kind() == model.KindHistory {
			continue
		}
		hist, ok := model.DecodeHistory(v)
		if !ok {
			r.log.Warn("reconcile: unreadable audit history reset to empty",
				zap.Int("row", i),
				zap.String("key", MatchKey(rec, r.schema)),
			)
		}
		rec.Set(r.schema.AuditHistory, model.HistoryValue(hist))
	}
}

// compareFields lists the incoming columns that are not client-owned.
func (r *Reconciler) compareFields(incoming *model.Table) []string {
	client := r.schema.ClientSet()
	var fields []string
	for _, c := range incoming.Columns() {
		if !client[c] {
			fields = append(fields, c)
		}
	}
	return fields
}

// validate checks that every record carries a non-null value for every key
// field.
func (r *Reconciler) validate(t *model.Table, name string) error {
	for i, rec := range t.Records() {
		for _, f := range r.schema.KeyFields {
			if rec.Value(f).IsNull() {
				return &StructureError{Table: name, Row: i, Field: f}
			}
		}
	}
	return nil
}
