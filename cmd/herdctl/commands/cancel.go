package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/herdctl/herdctl/internal/fleet"
)

// newCancelCmd creates `herdctl cancel`: requests termination of a running
// job (spec §4.1 `cancelJob`).
func newCancelCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := args[0]
			return withRunningManager(cmd, func(m *fleet.Manager) error {
				outcome, err := m.CancelJob(jobID, timeout)
				if err != nil {
					return err
				}
				fmt.Printf("job:              %s\n", outcome.JobID)
				fmt.Printf("termination_type: %s\n", outcome.TerminationType)
				if outcome.Duration > 0 {
					fmt.Printf("duration:         %s\n", outcome.Duration)
				}
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "grace period before escalating to forced termination")
	return cmd
}
