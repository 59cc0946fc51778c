// Package runner reconciles an incoming table against a stored baseline and
// records each attempt in the run log.
package runner

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outlier-sync/internal/model"
	"github.com/sells-group/outlier-sync/internal/reconcile"
	"github.com/sells-group/outlier-sync/internal/store"
)

// Runner ties a Reconciler to a Store.
type Runner struct {
	store store.Store
	rec   *reconcile.Reconciler
}

// New creates a Runner.
func New(st store.Store, rec *reconcile.Reconciler) *Runner {
	return &Runner{store: st, rec: rec}
}

// Outcome is the result of one run.
type Outcome struct {
	RunID  string            `json:"run_id,omitempty"`
	DryRun bool              `json:"dry_run,omitempty"`
	Result *reconcile.Result `json:"-"`
}

// Run reconciles incoming into the stored table under the store's per-table
// lock and saves the merged table. The run log entry is completed with the
// summary or failed with the error; a failed run leaves the table untouched.
func (r *Runner) Run(ctx context.Context, table string, incoming *model.Table, p reconcile.Params) (*Outcome, error) {
	p = r.rec.Resolve(p)
	log := zap.L().With(zap.String("table", table), zap.String("actor", p.Actor))
	log.Info("runner: starting reconciliation", zap.Int("incoming", lenOf(incoming)))

	run, err := r.store.StartRun(ctx, table, p.Actor, p.At)
	if err != nil {
		return nil, eris.Wrap(err, "runner: start run")
	}
	log = log.With(zap.String("run_id", run.ID))

	var res *reconcile.Result
	err = r.store.Apply(ctx, table, func(baseline *model.Table) (*model.Table, error) {
		out, err := r.rec.Reconcile(baseline, incoming, p)
		if err != nil {
			return nil, err
		}
		res = out
		return out.Table, nil
	})
	if err != nil {
		if failErr := r.store.FailRun(ctx, run.ID, err); failErr != nil {
			log.Warn("runner: failed to record run failure", zap.Error(failErr))
		}
		log.Error("runner: reconciliation failed", zap.Error(err))
		return nil, eris.Wrapf(err, "runner: reconcile %s", table)
	}

	if err := r.store.CompleteRun(ctx, run.ID, res.Summary); err != nil {
		log.Warn("runner: failed to complete run", zap.Error(err))
	}

	log.Info("runner: reconciliation complete",
		zap.Int("new", res.Summary.New),
		zap.Int("updated", res.Summary.Updated),
		zap.Int("unchanged", res.Summary.Unchanged),
		zap.Int("missing", res.Summary.Missing),
		zap.Int("total", res.Summary.Total),
	)
	return &Outcome{RunID: run.ID, Result: res}, nil
}

// Preview reconciles incoming against the stored table without saving
// anything or writing to the run log.
func (r *Runner) Preview(ctx context.Context, table string, incoming *model.Table, p reconcile.Params) (*Outcome, error) {
	baseline, err := r.store.LoadTable(ctx, table)
	if err != nil {
		return nil, eris.Wrapf(err, "runner: load %s", table)
	}
	res, err := r.rec.Reconcile(baseline, incoming, p)
	if err != nil {
		return nil, eris.Wrapf(err, "runner: preview %s", table)
	}
	return &Outcome{DryRun: true, Result: res}, nil
}

func lenOf(t *model.Table) int {
	if t == nil {
		return 0
	}
	return t.Len()
}
