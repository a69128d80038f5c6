package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newStatusCmd creates `herdctl status`: a read-only snapshot of the fleet
// and, optionally, one agent (spec §4.1 "Status queries").
func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [agent]",
		Short: "Show fleet or agent status",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newInitializedManager(cmd)
			if err != nil {
				return err
			}
			defer m.Close()

			if len(args) == 1 {
				info, err := m.GetAgentInfo(args[0])
				if err != nil {
					return err
				}
				fmt.Printf("agent: %s\n", info.Agent.Name)
				fmt.Printf("  status:       %s\n", info.State.Status)
				fmt.Printf("  current_job:  %v\n", derefString(info.State.CurrentJob))
				fmt.Printf("  last_job:     %v\n", derefString(info.State.LastJob))
				if info.State.ErrorMessage != "" {
					fmt.Printf("  error:        %s\n", info.State.ErrorMessage)
				}
				if len(info.RecentJobs) > 0 {
					fmt.Printf("  recent jobs:\n")
					for _, row := range info.RecentJobs {
						fmt.Printf("    %-28s %-10s %s\n", row.ID, row.Status, row.StartedAt.Format("2006-01-02T15:04:05Z"))
					}
				}
				return nil
			}

			status, err := m.GetFleetStatus()
			if err != nil {
				return err
			}
			fmt.Printf("state:   %s\n", status.State)
			fmt.Printf("agents:  %d\n", status.AgentCount)
			fmt.Printf("jobs:    %d running, %d failed\n", status.RunningJobs, status.FailedJobs)
			for name, as := range status.Agents {
				fmt.Printf("  %-20s %s\n", name, as.Status)
			}
			return nil
		},
	}
	return cmd
}

func derefString(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
