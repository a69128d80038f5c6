package statefile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/herdctl/herdctl/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.EnsureLayout())
	return s
}

func TestEnsureLayoutIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	before, err := s.ReadFleetState()
	require.NoError(t, err)

	require.NoError(t, s.EnsureLayout())

	after, err := s.ReadFleetState()
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestFleetStateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)
	fs := domain.FleetState{
		StartedAt: &now,
		Agents: map[string]domain.AgentState{
			"scout": {Status: domain.AgentIdle, Schedules: map[string]domain.ScheduleState{
				"heartbeat": {Status: domain.ScheduleIdle},
			}},
		},
	}
	require.NoError(t, s.WriteFleetState(fs))

	got, err := s.ReadFleetState()
	require.NoError(t, err)
	require.Equal(t, fs.StartedAt.Unix(), got.StartedAt.Unix())
	require.Equal(t, domain.AgentIdle, got.Agents["scout"].Status)
	require.Equal(t, domain.ScheduleIdle, got.Agents["scout"].Schedules["heartbeat"].Status)
}

func TestJobMetadataRoundTrip(t *testing.T) {
	s := newTestStore(t)
	job := domain.Job{
		ID:          "job-2026-07-30-abcd1234",
		Agent:       "scout",
		TriggerType: domain.TriggerManual,
		StartedAt:   time.Now().UTC().Truncate(time.Second),
		Status:      domain.JobRunning,
	}
	require.NoError(t, s.WriteJobMetadata(job))

	got, err := s.ReadJobMetadata(job.ID)
	require.NoError(t, err)
	require.Equal(t, job.ID, got.ID)
	require.Equal(t, job.Status, got.Status)

	ids, err := s.ListJobIDs()
	require.NoError(t, err)
	require.Contains(t, ids, job.ID)
}

func TestReadJobMetadataNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ReadJobMetadata("job-2026-07-30-aaaaaaaa")
	require.Error(t, err)
}

func TestOutputRecordsSkipMalformedLines(t *testing.T) {
	s := newTestStore(t)
	job := domain.Job{ID: "job-2026-07-30-zzzz9999", Agent: "scout", TriggerType: domain.TriggerManual, StartedAt: time.Now(), Status: domain.JobRunning}
	require.NoError(t, s.WriteJobMetadata(job))

	require.NoError(t, s.AppendOutputRecord(job.ID, domain.OutputRecord{Type: domain.OutputAssistant, Content: "hello"}))
	require.NoError(t, s.AppendOutputRecord(job.ID, domain.OutputRecord{Type: domain.OutputTool, Content: "ls"}))

	path, err := s.JobOutputPath(job.ID)
	require.NoError(t, err)
	require.NoError(t, appendLine(path, []byte("not json")))

	records, err := s.ReadOutputRecords(job.ID, nil)
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestSessionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.ReadSession("scout")
	require.NoError(t, err)
	require.False(t, ok)

	sess := domain.Session{SessionID: "s1", Mode: domain.SessionAutonomous, CreatedAt: time.Now().UTC().Truncate(time.Second)}
	require.NoError(t, s.WriteSession("scout", sess))

	got, ok, err := s.ReadSession("scout")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, sess.SessionID, got.SessionID)
}

func TestPathSafetyRejectsEscape(t *testing.T) {
	s := newTestStore(t)
	_, err := s.safeJoin("..", "..", "etc", "passwd")
	require.Error(t, err)
}

func TestJobDirRejectsInvalidID(t *testing.T) {
	s := newTestStore(t)
	_, err := s.JobDir("../../etc/passwd")
	require.Error(t, err)
}

func TestSessionPathRejectsInvalidAgentName(t *testing.T) {
	s := newTestStore(t)
	_, err := s.SessionPath("../escape")
	require.Error(t, err)
}
