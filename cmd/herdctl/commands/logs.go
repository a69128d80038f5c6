package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newLogsCmd creates `herdctl logs`: replays a job's persisted output and,
// if the job is still running in this process, tails it live (spec §4.1
// `streamJobOutput`). Across separate CLI invocations only the replay
// portion is available, since herdctl's in-memory event bus does not cross
// process boundaries (out of scope per spec §1 "CLI glue").
func newLogsCmd() *cobra.Command {
	var historyLimit int

	cmd := &cobra.Command{
		Use:   "logs <job-id>",
		Short: "Show a job's output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newInitializedManager(cmd)
			if err != nil {
				return err
			}
			defer m.Close()

			stream, err := m.StreamJobOutput(args[0], historyLimit)
			if err != nil {
				return err
			}
			for entry := range stream {
				fmt.Printf("[%s] %s\n", entry.Timestamp.Format("15:04:05"), entry.Message)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&historyLimit, "history-limit", 1000, "maximum number of persisted output records to replay")
	return cmd
}
