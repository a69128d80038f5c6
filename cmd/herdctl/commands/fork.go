package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/herdctl/herdctl/internal/fleet"
)

// newForkCmd creates `herdctl fork`: continues a prior job's session in a
// new job (spec §4.1 `forkJob`).
func newForkCmd() *cobra.Command {
	var schedule, prompt string

	cmd := &cobra.Command{
		Use:   "fork <job-id>",
		Short: "Fork a new job from a prior job's session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := args[0]
			return withRunningManager(cmd, func(m *fleet.Manager) error {
				result, err := m.ForkJob(jobID, fleet.ForkOptions{Prompt: prompt, Schedule: schedule})
				if err != nil {
					return err
				}
				fmt.Printf("job:         %s\n", result.JobID)
				fmt.Printf("forked_from: %s\n", jobID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&schedule, "schedule", "", "schedule whose prompt/settings to use")
	cmd.Flags().StringVar(&prompt, "prompt", "", "prompt override")
	return cmd
}
