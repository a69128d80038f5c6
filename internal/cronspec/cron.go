// Package cronspec implements herdctl's cron semantics (spec §4.2) on top of
// robfig/cron/v3's parser — the same dependency the teacher repo already
// uses for cron (pkg/devclaw/scheduler/scheduler.go configures
// cron.NewParser with the standard five fields plus the @-descriptor
// shorthands). herdctl does not run robfig's own goroutine scheduler
// (cron.Cron); it only borrows the Parser/Schedule types so the core's own
// tick loop can compute "next instant strictly after now" itself, which is
// what spec §4.2 requires (no catch-up, schedule state persisted by us).
// herdctl's own cron schedules never use "@every" — that shorthand is
// reserved for the separate "interval" schedule kind (spec §3) so the
// scheduler, not the cron library, always owns next-run bookkeeping.
package cronspec

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/herdctl/herdctl/internal/herderr"
)

// parser accepts the standard five cron fields (minute hour dom month dow)
// plus the @yearly/@monthly/@weekly/@daily/@hourly descriptor shorthands
// named in spec §4.2. The parser also understands "@every"; herdctl's own
// schedules simply never author one, since fixed-period firing is modeled
// through the separate "interval" schedule kind instead (spec §3), keeping
// next_run_at bookkeeping entirely in the scheduler's tick loop.
var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Interval schedules (spec §3) use ParseInterval below rather than cron's
// own "@every" descriptor, so the scheduler's tick loop stays the single
// place that advances next_run_at and persists it (spec §4.2).

const exampleExpr = "0 9 * * 1-5"

// Validate parses expr and returns a CronParseError (spec §7) if it is
// invalid, without computing anything. Used at config load (fail fast,
// spec §4.2).
func Validate(expr string) error {
	_, err := parser.Parse(expr)
	if err != nil {
		return &herderr.CronParseError{Expression: expr, Cause: err, Example: exampleExpr}
	}
	return nil
}

// Next returns the first instant strictly after `after` that matches expr,
// in the system local timezone (spec §4.2
// "calculateNextCronTrigger(expr, after)"). Deterministic and monotonic:
// Next(e, t1) <= Next(e, t2) for t1 <= t2, and Next(e, t) is always > t
// (spec §8 "Cron purity").
func Next(expr string, after time.Time) (time.Time, error) {
	schedule, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, &herderr.CronParseError{Expression: expr, Cause: err, Example: exampleExpr}
	}
	return schedule.Next(after.In(time.Local)), nil
}

// ParseInterval parses a duration string using the suffixes spec §6.2
// documents (s, m, h, d); time.ParseDuration already understands s/m/h, so
// this only adds the "d" (day) suffix on top of it.
func ParseInterval(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty interval")
	}
	if s[len(s)-1] == 'd' {
		var days float64
		if _, err := fmt.Sscanf(s, "%g", &days); err != nil {
			return 0, fmt.Errorf("invalid interval %q: %w", s, err)
		}
		return time.Duration(days * 24 * float64(time.Hour)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q: %w", s, err)
	}
	return d, nil
}
