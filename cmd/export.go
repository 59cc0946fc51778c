package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	exportTable  string
	exportOutput string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a stored table to a file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		t, err := st.LoadTable(ctx, exportTable)
		if err != nil {
			return eris.Wrap(err, "export")
		}
		if err := writeAtomic(exportOutput, t); err != nil {
			return err
		}

		zap.L().Info("export complete",
			zap.String("table", exportTable),
			zap.String("output", exportOutput),
			zap.Int("rows", t.Len()),
		)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportTable, "table", "", "stored table name (required)")
	exportCmd.Flags().StringVar(&exportOutput, "output", "", "output file; format from extension (required)")
	_ = exportCmd.MarkFlagRequired("table")
	_ = exportCmd.MarkFlagRequired("output")
	rootCmd.AddCommand(exportCmd)
}
