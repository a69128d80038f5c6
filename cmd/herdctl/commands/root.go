// Package commands implements herdctl's CLI subcommands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd builds the root command with every subcommand registered
// (spec §6.4 "CLI / env").
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "herdctl",
		Short: "herdctl - fleet supervisor for long-lived LLM agents",
		Long: `herdctl runs and coordinates a population of long-lived agents on a
single host: scheduling their triggers, enforcing concurrency limits, and
persisting job history.

Examples:
  herdctl serve --config fleet.yaml
  herdctl status
  herdctl trigger researcher --schedule nightly
  herdctl cancel job-2026-07-30-ab12cd34
  herdctl logs job-2026-07-30-ab12cd34`,
		Version: version,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "fleet.yaml", "path to the fleet configuration file")
	rootCmd.PersistentFlags().String("state-dir", "./state", "path to the state directory")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug|info|warn|error); overrides HERDCTL_LOG_LEVEL/DEBUG")

	rootCmd.AddCommand(
		newServeCmd(),
		newStatusCmd(),
		newTriggerCmd(),
		newCancelCmd(),
		newForkCmd(),
		newSchedulesCmd(),
		newLogsCmd(),
	)

	return rootCmd
}
