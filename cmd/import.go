package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outlier-sync/internal/reconcile"
	"github.com/sells-group/outlier-sync/internal/tableio"
)

var (
	importTable string
	importFile  string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load a table file into the store as-is",
	Long: "Replaces a stored table with the contents of a file, without reconciliation. " +
		"Used to seed the store from an existing reviewed outlier table.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
			return err
		}

		t, err := tableio.ReadFile(ctx, importFile, inputOptions())
		if err != nil {
			return eris.Wrap(err, "import")
		}
		if _, err := reconcile.NewIndex(t, cfg.Reconcile.Schema, reconcile.DuplicateReject); err != nil {
			zap.L().Warn("import: table has duplicate match keys", zap.Error(err))
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.SaveTable(ctx, importTable, t); err != nil {
			return eris.Wrap(err, "import")
		}

		zap.L().Info("import complete",
			zap.String("table", importTable),
			zap.String("file", importFile),
			zap.Int("rows", t.Len()),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importTable, "table", "", "stored table name (required)")
	importCmd.Flags().StringVar(&importFile, "file", "", "path to .xlsx, .csv, .tsv or .json file (required)")
	_ = importCmd.MarkFlagRequired("table")
	_ = importCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(importCmd)
}
