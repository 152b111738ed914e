package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/filing-acquirer/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "filing-acquirer",
	Short: "Multi-market financial filing acquisition pipeline",
	Long:  "Discovers and downloads regulatory filings from SEC EDGAR, UK Companies House, and the ESEF/XBRL aggregator, resolving and fetching the XBRL taxonomy libraries each filing depends on.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if v, _ := cmd.Flags().GetString("database-url"); v != "" {
			cfg.Store.DatabaseURL = v
		}
		if v, _ := cmd.Flags().GetString("driver"); v != "" {
			cfg.Store.Driver = v
		}

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().String("database-url", "", "override store.database_url")
	rootCmd.PersistentFlags().String("driver", "", "override store.driver (postgres|sqlite)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
