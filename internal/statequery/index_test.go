package statequery

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/herdctl/herdctl/internal/domain"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestUpsertAndRecentByAgent(t *testing.T) {
	idx := newTestIndex(t)
	now := time.Now().UTC().Truncate(time.Second)

	older := domain.Job{ID: "job-2026-07-29-aaaaaaaa", Agent: "scout", TriggerType: domain.TriggerManual, Status: domain.JobCompleted, StartedAt: now.Add(-time.Hour), ExitReason: domain.ExitSuccess}
	newer := domain.Job{ID: "job-2026-07-30-bbbbbbbb", Agent: "scout", TriggerType: domain.TriggerSchedule, Schedule: "heartbeat", Status: domain.JobRunning, StartedAt: now}

	require.NoError(t, idx.Upsert(older))
	require.NoError(t, idx.Upsert(newer))

	rows, err := idx.RecentByAgent("scout", 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, newer.ID, rows[0].ID)
	require.Equal(t, older.ID, rows[1].ID)
}

func TestUpsertReplacesExistingRow(t *testing.T) {
	idx := newTestIndex(t)
	job := domain.Job{ID: "job-2026-07-30-cccccccc", Agent: "scout", TriggerType: domain.TriggerManual, Status: domain.JobRunning, StartedAt: time.Now()}
	require.NoError(t, idx.Upsert(job))

	finished := time.Now()
	job.Status = domain.JobCompleted
	job.FinishedAt = &finished
	job.ExitReason = domain.ExitSuccess
	require.NoError(t, idx.Upsert(job))

	rows, err := idx.RecentByAgent("scout", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, domain.JobCompleted, rows[0].Status)
	require.NotNil(t, rows[0].FinishedAt)
}

func TestCountByStatus(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.Upsert(domain.Job{ID: "job-2026-07-30-dddddddd", Agent: "scout", TriggerType: domain.TriggerManual, Status: domain.JobCompleted, StartedAt: time.Now()}))
	require.NoError(t, idx.Upsert(domain.Job{ID: "job-2026-07-30-eeeeeeee", Agent: "planner", TriggerType: domain.TriggerManual, Status: domain.JobFailed, StartedAt: time.Now()}))

	count, err := idx.CountByStatus("", domain.JobCompleted)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	count, err = idx.CountByStatus("planner", domain.JobFailed)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	count, err = idx.CountByStatus("scout", domain.JobFailed)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestRebuildReplacesContents(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.Upsert(domain.Job{ID: "job-2026-07-30-ffffffff", Agent: "stale", TriggerType: domain.TriggerManual, Status: domain.JobRunning, StartedAt: time.Now()}))

	fresh := []domain.Job{
		{ID: "job-2026-07-30-11111111", Agent: "scout", TriggerType: domain.TriggerManual, Status: domain.JobCompleted, StartedAt: time.Now()},
	}
	require.NoError(t, idx.Rebuild(fresh))

	rows, err := idx.RecentByAgent("stale", 10)
	require.NoError(t, err)
	require.Empty(t, rows)

	rows, err = idx.RecentByAgent("scout", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}
