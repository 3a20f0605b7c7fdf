package main

import (
	"github.com/spf13/cobra"

	"github.com/openshelf/circulation-go/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "circulationd",
	Short: "circulationd serves the library circulation API",
	Long: `circulationd runs the circulation engine behind an HTTP API.

It keeps the catalogue, the member registry and the loan ledger in the
configured storage backend (in-memory, SQLite or PostgreSQL), sweeps
overdue loans on an interval and exposes Prometheus metrics.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		return runServer(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"path to the config file (default: circulationd.yaml in the working directory)")
}
