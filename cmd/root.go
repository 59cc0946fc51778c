package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outlier-sync/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "outlier-sync",
	Short: "Reconcile detected outliers into the reviewed outlier table",
	Long: "Merges each freshly detected outlier table into the persisted table analysts review, " +
		"preserving review fields, appending audit history and flagging new, updated and missing records.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
