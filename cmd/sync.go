package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/outlier-sync/internal/model"
	"github.com/sells-group/outlier-sync/internal/reconcile"
	"github.com/sells-group/outlier-sync/internal/runner"
	"github.com/sells-group/outlier-sync/internal/tableio"
)

var (
	syncBaseline string
	syncIncoming string
	syncOutput   string
	syncTable    string
	syncRunAt    string
	syncActor    string
	syncDryRun   bool
	syncReport   bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile an incoming outlier table into the baseline",
	Long: "Reconciles --incoming against either a baseline file (--baseline, written back to --output) " +
		"or a stored table (--table). Client review fields are preserved and every update is recorded " +
		"in the record's audit history.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		params, err := runParams(syncRunAt, syncActor)
		if err != nil {
			return err
		}

		var res *reconcile.Result
		if syncTable != "" {
			if err := cfg.Validate("store"); err != nil {
				return err
			}
			res, err = syncStored(ctx, syncTable, syncIncoming, params, syncDryRun)
		} else {
			if syncBaseline == "" {
				return eris.New("either --baseline or --table is required")
			}
			if err := cfg.Validate("sync"); err != nil {
				return err
			}
			res, err = syncFiles(ctx, newReconciler(), inputOptions(), syncFileOptions{
				Baseline: syncBaseline,
				Incoming: syncIncoming,
				Output:   syncOutput,
				DryRun:   syncDryRun,
			}, params)
		}
		if err != nil {
			return err
		}

		formatSummary(os.Stdout, res)
		if syncReport {
			formatChanges(os.Stdout, res)
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().StringVar(&syncBaseline, "baseline", "", "baseline table file (created if absent)")
	syncCmd.Flags().StringVar(&syncIncoming, "incoming", "", "incoming outlier table file (required)")
	syncCmd.Flags().StringVar(&syncOutput, "output", "", "output file (default: overwrite --baseline)")
	syncCmd.Flags().StringVar(&syncTable, "table", "", "stored table name (store mode)")
	syncCmd.Flags().StringVar(&syncRunAt, "run-at", "", "run timestamp, RFC 3339 or 2006-01-02 15:04:05 (default now)")
	syncCmd.Flags().StringVar(&syncActor, "actor", "", "Updated-By label (default from config)")
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "reconcile without writing anything")
	syncCmd.Flags().BoolVar(&syncReport, "report", false, "print every new and updated record")
	_ = syncCmd.MarkFlagRequired("incoming")
	syncCmd.MarkFlagsMutuallyExclusive("baseline", "table")
	rootCmd.AddCommand(syncCmd)
}

type syncFileOptions struct {
	Baseline string
	Incoming string
	Output   string
	DryRun   bool
}

// syncFiles reconciles two table files and writes the merged table. A missing
// baseline file is a first run.
func syncFiles(ctx context.Context, rec *reconcile.Reconciler, in tableio.Options, o syncFileOptions, p reconcile.Params) (*reconcile.Result, error) {
	log := zap.L().With(zap.String("baseline", o.Baseline), zap.String("incoming", o.Incoming))

	var baseline, incoming *model.Table
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if _, err := os.Stat(o.Baseline); errors.Is(err, fs.ErrNotExist) {
			log.Info("baseline file not found, starting a new table")
			baseline = model.NewTable()
			return nil
		}
		t, err := tableio.ReadFile(gctx, o.Baseline, in)
		if err != nil {
			return eris.Wrap(err, "load baseline")
		}
		baseline = t
		return nil
	})
	g.Go(func() error {
		t, err := tableio.ReadFile(gctx, o.Incoming, in)
		if err != nil {
			return eris.Wrap(err, "load incoming")
		}
		incoming = t
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res, err := rec.Reconcile(baseline, incoming, p)
	if err != nil {
		return nil, eris.Wrap(err, "reconcile")
	}

	if o.DryRun {
		log.Info("dry run, nothing written")
		return res, nil
	}

	out := o.Output
	if out == "" {
		out = o.Baseline
	}
	if err := writeAtomic(out, res.Table); err != nil {
		return nil, err
	}
	log.Info("sync complete", zap.String("output", out), zap.Int("total", res.Summary.Total))
	return res, nil
}

// syncStored reconciles an incoming file into a stored table.
func syncStored(ctx context.Context, table, incomingPath string, p reconcile.Params, dryRun bool) (*reconcile.Result, error) {
	incoming, err := tableio.ReadFile(ctx, incomingPath, inputOptions())
	if err != nil {
		return nil, eris.Wrap(err, "load incoming")
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	defer st.Close() //nolint:errcheck

	r := runner.New(st, newReconciler())
	run := r.Run
	if dryRun {
		run = r.Preview
	}
	out, err := run(ctx, table, incoming, p)
	if err != nil {
		return nil, err
	}
	return out.Result, nil
}

// writeAtomic writes t next to path and renames it into place, so readers
// never see a partially written table.
func writeAtomic(path string, t *model.Table) error {
	ext := filepath.Ext(path)
	tmp := filepath.Join(filepath.Dir(path), "."+strings.TrimSuffix(filepath.Base(path), ext)+".partial"+ext)
	if err := tableio.WriteFile(tmp, t); err != nil {
		_ = os.Remove(tmp)
		return eris.Wrapf(err, "write %s", path)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return eris.Wrapf(err, "replace %s", path)
	}
	return nil
}
