package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/herdctl/herdctl/internal/domain"
	"github.com/herdctl/herdctl/internal/events"
	"github.com/herdctl/herdctl/internal/queue"
	"github.com/herdctl/herdctl/internal/statefile"
)

type fixedLimits map[string]int

func (f fixedLimits) MaxConcurrent(agent string) int {
	if n, ok := f[agent]; ok {
		return n
	}
	return 1
}

type stubCreator struct {
	mu    sync.Mutex
	count int
}

func (c *stubCreator) CreateScheduledJob(jobID string, agent domain.Agent, name string, sched domain.Schedule) (domain.Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	return domain.Job{
		ID:          jobID,
		Agent:       agent.Name,
		Schedule:    name,
		TriggerType: domain.TriggerSchedule,
		Status:      domain.JobRunning,
		StartedAt:   time.Now(),
	}, nil
}

func newTestStore(t *testing.T) *statefile.Store {
	t.Helper()
	s, err := statefile.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.EnsureLayout())
	return s
}

func TestTickTriggersDueIntervalSchedule(t *testing.T) {
	store := newTestStore(t)
	bus := events.New()
	var triggered bool
	bus.SubscribeKind(func(events.Event) { triggered = true }, events.ScheduleTriggered)

	q := queue.New(fixedLimits{"scout": 1}, 0, bus, nil)
	creator := &stubCreator{}
	sched := New(store, q, bus, creator, 10*time.Millisecond, nil)
	sched.SetAgents([]domain.Agent{
		{Name: "scout", Schedules: map[string]domain.Schedule{
			"heartbeat": {Kind: domain.ScheduleInterval, Interval: "1ms"},
		}},
	})

	// First tick only establishes next_run_at (no catch-up on first sight).
	sched.tick(time.Now())
	// Second tick, slightly later, should find it due.
	sched.tick(time.Now().Add(5 * time.Millisecond))

	require.True(t, triggered)
	require.Equal(t, 1, creator.count)
}

func TestTickSkipsDisabledSchedule(t *testing.T) {
	store := newTestStore(t)
	bus := events.New()
	q := queue.New(fixedLimits{"scout": 1}, 0, bus, nil)
	creator := &stubCreator{}
	sched := New(store, q, bus, creator, time.Second, nil)
	sched.SetAgents([]domain.Agent{
		{Name: "scout", Schedules: map[string]domain.Schedule{
			"heartbeat": {Kind: domain.ScheduleInterval, Interval: "1ms"},
		}},
	})

	require.NoError(t, store.MutateFleetState(func(fs *domain.FleetState) {
		fs.Agents["scout"] = domain.AgentState{Schedules: map[string]domain.ScheduleState{
			"heartbeat": {Status: domain.ScheduleDisabled},
		}}
	}))

	sched.tick(time.Now())
	sched.tick(time.Now().Add(5 * time.Millisecond))
	require.Equal(t, 0, creator.count)
}

func TestTickSkipsAtCapacityAndRollsNextForward(t *testing.T) {
	store := newTestStore(t)
	bus := events.New()
	var skippedReason string
	bus.SubscribeKind(func(e events.Event) {
		data := e.Data.(map[string]any)
		skippedReason = data["reason"].(string)
	}, events.ScheduleSkipped)

	q := queue.New(fixedLimits{"scout": 1}, 0, bus, nil)
	q.Enqueue(queue.EnqueueRequest{JobID: "job-2026-07-30-zzzzzzzz", Agent: "scout"}) // occupy the only slot

	creator := &stubCreator{}
	sched := New(store, q, bus, creator, time.Second, nil)
	sched.SetAgents([]domain.Agent{
		{Name: "scout", Schedules: map[string]domain.Schedule{
			"heartbeat": {Kind: domain.ScheduleInterval, Interval: "1ms"},
		}},
	})

	sched.tick(time.Now())
	sched.tick(time.Now().Add(5 * time.Millisecond))

	require.Equal(t, "agent_at_capacity", skippedReason)
	require.Equal(t, 0, creator.count)

	fs, err := store.ReadFleetState()
	require.NoError(t, err)
	require.NotNil(t, fs.Agents["scout"].Schedules["heartbeat"].NextRunAt)
}

// TestTickCronDailyFiresOnceAtMidnightNoCatchUp mirrors seed scenario S2:
// an @daily schedule observed at 23:59:30 must fire exactly once, at
// midnight, with no catch-up firing for the instant it was first seen.
func TestTickCronDailyFiresOnceAtMidnightNoCatchUp(t *testing.T) {
	store := newTestStore(t)
	bus := events.New()
	q := queue.New(fixedLimits{"scout": 1}, 0, bus, nil)
	creator := &stubCreator{}
	sched := New(store, q, bus, creator, time.Second, nil)
	sched.SetAgents([]domain.Agent{
		{Name: "scout", Schedules: map[string]domain.Schedule{
			"midnight-report": {Kind: domain.ScheduleCron, Expression: "@daily"},
		}},
	})

	day := time.Date(2026, 7, 30, 0, 0, 0, 0, time.Local)
	beforeMidnight := day.Add(23*time.Hour + 59*time.Minute + 30*time.Second)

	// First sight only establishes next_run_at at the following midnight;
	// it must not fire immediately even though a naive catch-up scan would
	// consider "today" due.
	sched.tick(beforeMidnight)
	require.Equal(t, 0, creator.count)

	fs, err := store.ReadFleetState()
	require.NoError(t, err)
	state := fs.Agents["scout"].Schedules["midnight-report"]
	require.NotNil(t, state.NextRunAt)
	require.Equal(t, day.AddDate(0, 0, 1), state.NextRunAt.Local())

	// Still before midnight: not due.
	sched.tick(beforeMidnight.Add(20 * time.Second))
	require.Equal(t, 0, creator.count)

	// Just after midnight: fires exactly once.
	afterMidnight := day.AddDate(0, 0, 1).Add(1 * time.Second)
	sched.tick(afterMidnight)
	require.Equal(t, 1, creator.count)

	// A later tick the same minute must not fire again (next_run_at has
	// already rolled forward to the following midnight).
	sched.tick(afterMidnight.Add(2 * time.Second))
	require.Equal(t, 1, creator.count)
}

func TestStartStop(t *testing.T) {
	store := newTestStore(t)
	bus := events.New()
	q := queue.New(fixedLimits{"scout": 1}, 0, bus, nil)
	creator := &stubCreator{}
	sched := New(store, q, bus, creator, 5*time.Millisecond, nil)
	sched.SetAgents(nil)

	ctx := context.Background()
	sched.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	sched.Stop()
}
