package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/herdctl/herdctl/internal/fleet"
)

// newServeCmd creates the `herdctl serve` command: initializes the Fleet
// Manager, starts it, and blocks until a termination signal triggers a
// graceful stop (spec §4.1 lifecycle).
func newServeCmd() *cobra.Command {
	var waitForJobs bool
	var stopTimeout time.Duration
	var cancelOnTimeout bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the fleet supervisor and block until stopped",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger(cmd)
			m := fleet.New(fleetOptions(cmd, logger))

			if err := m.Initialize(); err != nil {
				return fmt.Errorf("initialize: %w", err)
			}
			if err := m.Start(); err != nil {
				return fmt.Errorf("start: %w", err)
			}
			logger.Info("herdctl serving", "state", m.State())

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()

			logger.Info("shutdown signal received, stopping")
			if err := m.Stop(fleet.StopOptions{WaitForJobs: waitForJobs, Timeout: stopTimeout, CancelOnTimeout: cancelOnTimeout}); err != nil {
				return fmt.Errorf("stop: %w", err)
			}
			logger.Info("herdctl stopped")
			return nil
		},
	}

	cmd.Flags().BoolVar(&waitForJobs, "wait-for-jobs", true, "wait for in-flight jobs to finish before stopping")
	cmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 30*time.Second, "how long to wait for in-flight jobs before cancelling")
	cmd.Flags().BoolVar(&cancelOnTimeout, "cancel-on-timeout", true, "cancel in-flight jobs when stop-timeout expires instead of raising a shutdown error")
	return cmd
}
