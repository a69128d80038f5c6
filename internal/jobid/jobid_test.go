package jobid

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var idPattern = regexp.MustCompile(`^job-\d{4}-\d{2}-\d{2}-[0-9A-Za-z]{8}$`)

func TestNewMatchesExpectedShape(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	id := New(now)
	require.Regexp(t, idPattern, id)
	require.Contains(t, id, "job-2026-07-30-")
}

func TestNewUsesUTCDate(t *testing.T) {
	// 23:30 local at UTC-5 is already July 31st in UTC.
	loc := time.FixedZone("test", -5*60*60)
	local := time.Date(2026, 7, 30, 23, 30, 0, 0, loc)
	id := New(local)
	require.Contains(t, id, "job-2026-07-31-")
}

func TestNewProducesUniqueIDs(t *testing.T) {
	now := time.Now()
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New(now)
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}
