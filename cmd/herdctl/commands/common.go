package commands

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/herdctl/herdctl/internal/fleet"
)

// resolveLogLevel honours --log-level, then HERDCTL_LOG_LEVEL, then
// DEBUG=1|true, defaulting to info (spec §6.4 "CLI / env").
func resolveLogLevel(cmd *cobra.Command) slog.Level {
	if explicit, _ := cmd.Root().PersistentFlags().GetString("log-level"); explicit != "" {
		return parseLevel(explicit)
	}
	if env := os.Getenv("HERDCTL_LOG_LEVEL"); env != "" {
		return parseLevel(env)
	}
	if debug := strings.ToLower(os.Getenv("DEBUG")); debug == "1" || debug == "true" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	level := resolveLogLevel(cmd)
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

// fleetOptions builds fleet.Options from the root persistent flags shared
// by every subcommand.
func fleetOptions(cmd *cobra.Command, logger *slog.Logger) fleet.Options {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	stateDir, _ := cmd.Root().PersistentFlags().GetString("state-dir")
	return fleet.Options{
		ConfigPath: configPath,
		StateDir:   stateDir,
		Logger:     logger,
	}
}

// newInitializedManager constructs and initializes a Manager without
// starting the scheduler loop — the shape read-only commands (status,
// schedules list) need. Callers must call Close when done.
func newInitializedManager(cmd *cobra.Command) (*fleet.Manager, error) {
	logger := newLogger(cmd)
	m := fleet.New(fleetOptions(cmd, logger))
	if err := m.Initialize(); err != nil {
		return nil, err
	}
	return m, nil
}

// withRunningManager initializes, starts, runs fn, then stops the
// Manager — the shape one-shot mutating commands (trigger, cancel, fork,
// schedules enable/disable) need since those operations require the
// StateRunning lifecycle state. Each invocation is its own short-lived
// fleet process against the shared state directory (spec §3 "Ownership":
// only one live Fleet Manager should hold a state directory at a time;
// this is the caller's responsibility, same as any other process
// operating on a job queue's on-disk state).
func withRunningManager(cmd *cobra.Command, fn func(*fleet.Manager) error) error {
	logger := newLogger(cmd)
	m := fleet.New(fleetOptions(cmd, logger))
	if err := m.Initialize(); err != nil {
		return err
	}
	if err := m.Start(); err != nil {
		return err
	}

	fnErr := fn(m)

	stopErr := m.Stop(fleet.StopOptions{WaitForJobs: true, Timeout: 10 * time.Second, CancelOnTimeout: true})
	if fnErr != nil {
		return fnErr
	}
	return stopErr
}
