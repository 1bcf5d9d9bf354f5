package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/econfeed/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "econfeed",
	Short: "Economic data acquisition with health monitoring and auto-remediation",
	Long:  "Fetches economic price series from external providers, validates and normalizes them, scores series confidence, and keeps failing connectors under circuit-breaker control with automatic remediation.",
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
