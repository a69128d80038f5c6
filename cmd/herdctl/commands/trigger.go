package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/herdctl/herdctl/internal/fleet"
)

// newTriggerCmd creates `herdctl trigger`: admits a manual run (spec §4.1
// `trigger`).
func newTriggerCmd() *cobra.Command {
	var schedule, prompt string
	var priority int
	var bypass bool

	cmd := &cobra.Command{
		Use:   "trigger <agent>",
		Short: "Trigger a manual run of an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agent := args[0]
			return withRunningManager(cmd, func(m *fleet.Manager) error {
				result, err := m.Trigger(agent, schedule, fleet.TriggerOptions{
					Prompt:                 prompt,
					Priority:               priority,
					BypassConcurrencyLimit: bypass,
				})
				if err != nil {
					return err
				}
				fmt.Printf("job:   %s\n", result.JobID)
				fmt.Printf("agent: %s\n", result.AgentName)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&schedule, "schedule", "", "schedule whose prompt/settings to use")
	cmd.Flags().StringVar(&prompt, "prompt", "", "prompt override (highest precedence)")
	cmd.Flags().IntVar(&priority, "priority", 5, "priority, 1 (highest) to 10 (lowest); manual triggers are admitted or rejected immediately, so it does not affect ordering")
	cmd.Flags().BoolVar(&bypass, "bypass-concurrency-limit", false, "admit even if the agent is at capacity")
	return cmd
}
