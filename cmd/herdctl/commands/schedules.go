package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/herdctl/herdctl/internal/fleet"
)

// newSchedulesCmd creates `herdctl schedules`, grouping list/enable/disable
// (spec §4.1 `enableSchedule`/`disableSchedule`, status queries).
func newSchedulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedules",
		Short: "Inspect or toggle an agent's schedules",
	}
	cmd.AddCommand(newSchedulesListCmd(), newSchedulesEnableCmd(), newSchedulesDisableCmd())
	return cmd
}

func newSchedulesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <agent>",
		Short: "List an agent's schedules and their state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newInitializedManager(cmd)
			if err != nil {
				return err
			}
			defer m.Close()

			schedules, err := m.GetSchedules(args[0])
			if err != nil {
				return err
			}
			for name, info := range schedules {
				fmt.Printf("%-20s kind=%-8s status=%-8s last_error=%s\n",
					name, info.Schedule.Kind, info.State.Status, info.State.LastError)
			}
			return nil
		},
	}
}

func newSchedulesEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable <agent> <schedule>",
		Short: "Re-enable a disabled schedule",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunningManager(cmd, func(m *fleet.Manager) error {
				return m.EnableSchedule(args[0], args[1])
			})
		},
	}
}

func newSchedulesDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <agent> <schedule>",
		Short: "Disable a schedule until re-enabled",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunningManager(cmd, func(m *fleet.Manager) error {
				return m.DisableSchedule(args[0], args[1])
			})
		},
	}
}
