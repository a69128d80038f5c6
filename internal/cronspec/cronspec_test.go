package cronspec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/herdctl/herdctl/internal/herderr"
)

func TestValidateRejectsGarbage(t *testing.T) {
	require.NoError(t, Validate("0 9 * * 1-5"))
	require.NoError(t, Validate("@daily"))
	require.NoError(t, Validate("@hourly"))

	err := Validate("not a cron expression")
	require.Error(t, err)
	var parseErr *herderr.CronParseError
	require.ErrorAs(t, err, &parseErr)
	require.Equal(t, "not a cron expression", parseErr.Expression)
}

func TestNextHourlyFiresOnTheHour(t *testing.T) {
	after := time.Date(2026, 7, 30, 14, 17, 0, 0, time.UTC)
	next, err := Next("@hourly", after)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 7, 30, 15, 0, 0, 0, time.UTC), next.UTC())
}

func TestNextHourlyAtExactBoundary(t *testing.T) {
	// Landing exactly on an hour boundary must still return the next one,
	// never the instant itself (spec §4.2 "Never perform catch-up").
	after := time.Date(2026, 7, 30, 15, 0, 0, 0, time.UTC)
	next, err := Next("@hourly", after)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 7, 30, 16, 0, 0, 0, time.UTC), next.UTC())
}

func TestNextDailyFiresAtMidnight(t *testing.T) {
	// Mirrors seed scenario S2: an @daily schedule evaluated at 23:59:30
	// fires once, at midnight, with no catch-up.
	after := time.Date(2026, 7, 30, 23, 59, 30, 0, time.UTC)
	next, err := Next("@daily", after)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC), next.UTC())
}

func TestNextDailyAtExactMidnightBoundary(t *testing.T) {
	after := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	next, err := Next("@daily", after)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), next.UTC())
}

func TestNextIsAlwaysAfterInput(t *testing.T) {
	exprs := []string{"@hourly", "@daily", "0 9 * * 1-5", "*/15 * * * *"}
	base := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	for _, expr := range exprs {
		for i := 0; i < 50; i++ {
			after := base.Add(time.Duration(i) * 37 * time.Minute)
			next, err := Next(expr, after)
			require.NoError(t, err)
			require.True(t, next.After(after), "Next(%q, %v) = %v, want strictly after", expr, after, next)
		}
	}
}

func TestNextIsMonotonic(t *testing.T) {
	// Next(e, t1) <= Next(e, t2) for t1 <= t2 (spec §8 "Cron purity").
	expr := "0 9 * * 1-5"
	t1 := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(3 * time.Hour)

	next1, err := Next(expr, t1)
	require.NoError(t, err)
	next2, err := Next(expr, t2)
	require.NoError(t, err)
	require.False(t, next2.Before(next1))
}

func TestParseIntervalSuffixes(t *testing.T) {
	cases := map[string]time.Duration{
		"30s":  30 * time.Second,
		"5m":   5 * time.Minute,
		"2h":   2 * time.Hour,
		"1.5d": 36 * time.Hour,
		"2d":   48 * time.Hour,
	}
	for in, want := range cases {
		got, err := ParseInterval(in)
		require.NoError(t, err)
		require.Equal(t, want, got, "ParseInterval(%q)", in)
	}
}

func TestParseIntervalRejectsEmptyAndGarbage(t *testing.T) {
	_, err := ParseInterval("")
	require.Error(t, err)

	_, err = ParseInterval("banana")
	require.Error(t, err)
}
