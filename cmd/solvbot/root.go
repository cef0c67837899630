package main

import (
	"github.com/spf13/cobra"
)

var configPath string

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "solvbot",
		Short:         "SOL rotation trading engine",
		Long:          "solvbot trades SOL support rotations driven by memecoin volume outflow.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config")
	cmd.AddCommand(runCmd(), checkCmd(), backfillCmd())
	return cmd
}
