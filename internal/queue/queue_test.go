package queue

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/herdctl/herdctl/internal/events"
)

type fixedLimits map[string]int

func (f fixedLimits) MaxConcurrent(agent string) int {
	if n, ok := f[agent]; ok {
		return n
	}
	return 1
}

var testJobSeq int64

func nextJobID() string {
	n := atomic.AddInt64(&testJobSeq, 1)
	return fmt.Sprintf("job-2026-07-30-%08d", n)
}

func TestEnqueueAdmitsImmediatelyWhenCapacityFree(t *testing.T) {
	c := New(fixedLimits{"scout": 2}, 0, events.New(), nil)
	res := c.Enqueue(EnqueueRequest{JobID: nextJobID(), Agent: "scout"})
	require.NotNil(t, res)
	require.False(t, res.Queued)
	require.NotEmpty(t, res.JobID)
	require.Equal(t, 1, c.RunningCount("scout"))
}

func TestEnqueueQueuesManualTriggerAtCapacity(t *testing.T) {
	c := New(fixedLimits{"scout": 1}, 0, events.New(), nil)
	first := c.Enqueue(EnqueueRequest{JobID: nextJobID(), Agent: "scout"})
	require.False(t, first.Queued)

	second := c.Enqueue(EnqueueRequest{JobID: nextJobID(), Agent: "scout", Priority: 5})
	require.True(t, second.Queued)
	require.Equal(t, 1, second.Position)
	require.Equal(t, 1, c.QueueLength("scout"))
}

func TestEnqueueSkipsScheduledTriggerAtCapacity(t *testing.T) {
	bus := events.New()
	var skipped bool
	bus.SubscribeKind(func(events.Event) { skipped = true }, events.ScheduleSkipped)

	c := New(fixedLimits{"scout": 1}, 0, bus, nil)
	c.Enqueue(EnqueueRequest{JobID: nextJobID(), Agent: "scout"})

	res := c.Enqueue(EnqueueRequest{Agent: "scout", IsScheduled: true})
	require.True(t, res.Skipped)
	require.Empty(t, res.JobID)
	require.Equal(t, 0, c.QueueLength("scout"))
	require.True(t, skipped)
}

func TestEnqueuePriorityOrdering(t *testing.T) {
	c := New(fixedLimits{"scout": 1}, 0, events.New(), nil)
	c.Enqueue(EnqueueRequest{JobID: nextJobID(), Agent: "scout"}) // occupies the one slot

	low := c.Enqueue(EnqueueRequest{JobID: nextJobID(), Agent: "scout", Priority: 8})
	high := c.Enqueue(EnqueueRequest{JobID: nextJobID(), Agent: "scout", Priority: 1})
	mid := c.Enqueue(EnqueueRequest{JobID: nextJobID(), Agent: "scout", Priority: 5})

	// Position is reported at enqueue time: low was alone in the backlog
	// when it arrived, so it reported 1 even though high and mid overtook it.
	require.Equal(t, 1, low.Position)
	require.Equal(t, 1, high.Position)
	require.True(t, mid.Position > high.Position)

	dispatched := c.MarkCompleted("scout")
	require.NotNil(t, dispatched)
	require.Equal(t, high.JobID, dispatched.JobID)

	dispatched = c.MarkCompleted("scout")
	require.NotNil(t, dispatched)
	require.Equal(t, mid.JobID, dispatched.JobID)

	dispatched = c.MarkCompleted("scout")
	require.NotNil(t, dispatched)
	require.Equal(t, low.JobID, dispatched.JobID)
}

func TestEnqueueEqualPriorityPreservesArrivalOrder(t *testing.T) {
	c := New(fixedLimits{"scout": 1}, 0, events.New(), nil)
	c.Enqueue(EnqueueRequest{JobID: nextJobID(), Agent: "scout"})

	firstIn := c.Enqueue(EnqueueRequest{JobID: nextJobID(), Agent: "scout", Priority: 5})
	secondIn := c.Enqueue(EnqueueRequest{JobID: nextJobID(), Agent: "scout", Priority: 5})

	dispatched := c.MarkCompleted("scout")
	require.Equal(t, firstIn.JobID, dispatched.JobID)

	dispatched2 := c.MarkCompleted("scout")
	require.Equal(t, secondIn.JobID, dispatched2.JobID)
}

func TestMarkCompletedEmitsCapacityAvailable(t *testing.T) {
	bus := events.New()
	var freed int
	bus.SubscribeKind(func(e events.Event) {
		data := e.Data.(map[string]any)
		freed = data["slots_free"].(int)
	}, events.CapacityAvailable)

	c := New(fixedLimits{"scout": 2}, 0, bus, nil)
	c.Enqueue(EnqueueRequest{JobID: nextJobID(), Agent: "scout"})
	c.MarkCompleted("scout")
	require.Equal(t, 2, freed)
}

func TestFleetCapacityDeniesAcrossAgents(t *testing.T) {
	c := New(fixedLimits{"scout": 5, "planner": 5}, 1, events.New(), nil)
	first := c.Enqueue(EnqueueRequest{JobID: nextJobID(), Agent: "scout"})
	require.False(t, first.Queued)

	second := c.Enqueue(EnqueueRequest{JobID: nextJobID(), Agent: "planner"})
	require.True(t, second.Queued)

	check := c.CheckCapacity("planner")
	require.False(t, check.CanRun)
	require.Equal(t, "fleet_at_capacity", check.Reason)
}

func TestTotalRunningInvariant(t *testing.T) {
	c := New(fixedLimits{"scout": 3, "planner": 3}, 0, events.New(), nil)
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.Enqueue(EnqueueRequest{JobID: nextJobID(), Agent: "scout"})
		}()
		go func() {
			defer wg.Done()
			c.Enqueue(EnqueueRequest{JobID: nextJobID(), Agent: "planner"})
		}()
	}
	wg.Wait()
	require.Equal(t, c.RunningCount("scout")+c.RunningCount("planner"), c.TotalRunning())
	require.LessOrEqual(t, c.RunningCount("scout"), 3)
	require.LessOrEqual(t, c.RunningCount("planner"), 3)
}
