// Package scheduler implements herdctl's tick loop (spec §4.2): on a fixed
// interval it decides which schedules are due and dispatches triggers to
// the job queue, rolling cron/interval state forward regardless of
// whether the trigger was admitted.
//
// Grounded on pkg/devclaw/scheduler/scheduler.go (panic recovery per job,
// spin-loop guard, structured before/after logging) and
// pkg/goclaw/scheduler/scheduler.go (simpler map-of-jobs bookkeeping).
// Cron math itself is delegated to internal/cronspec, which wraps
// robfig/cron/v3 the same way the teacher does, rather than reimplementing
// a parser.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/herdctl/herdctl/internal/cronspec"
	"github.com/herdctl/herdctl/internal/domain"
	"github.com/herdctl/herdctl/internal/events"
	"github.com/herdctl/herdctl/internal/jobid"
	"github.com/herdctl/herdctl/internal/queue"
	"github.com/herdctl/herdctl/internal/statefile"
)

// defaultCheckInterval is the tick period spec §4.2 defaults to.
const defaultCheckInterval = 1 * time.Second

// minRedispatchInterval guards against firing the same schedule twice
// within the same tick window, mirroring the teacher's spin-loop guard
// (pkg/devclaw/scheduler/scheduler.go's minJobInterval) for the case where
// next_run_at lands on or before `now` more than once in quick succession.
const minRedispatchInterval = 500 * time.Millisecond

// JobCreator is implemented by the Fleet Manager: given a job id already
// admitted by the queue, it writes the job record and hands the job off
// to the executor. The scheduler mints the id itself (internal/jobid) so
// the same value is used for queue admission, the persisted job record,
// and emitted events.
type JobCreator interface {
	CreateScheduledJob(jobID string, agent domain.Agent, scheduleName string, sched domain.Schedule) (domain.Job, error)
}

// Scheduler runs the tick loop described in spec §4.2.
type Scheduler struct {
	mu            sync.Mutex
	agents        []domain.Agent
	checkInterval time.Duration

	store   *statefile.Store
	queue   *queue.Controller
	bus     *events.Bus
	creator JobCreator
	logger  *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Scheduler. checkInterval of 0 uses the spec default
// (1s).
func New(store *statefile.Store, q *queue.Controller, bus *events.Bus, creator JobCreator, checkInterval time.Duration, logger *slog.Logger) *Scheduler {
	if checkInterval <= 0 {
		checkInterval = defaultCheckInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		checkInterval: checkInterval,
		store:         store,
		queue:         q,
		bus:           bus,
		creator:       creator,
		logger:        logger.With("component", "scheduler"),
	}
}

// SetAgents atomically replaces the resolved agent set the scheduler acts
// on (spec §4.1 "Reload contract": the next tick observes the new set;
// schedules that vanished simply stop being considered, per the documented
// lossy-trigger edge case).
func (s *Scheduler) SetAgents(agents []domain.Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents = agents
}

func (s *Scheduler) snapshotAgents() []domain.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Agent, len(s.agents))
	copy(out, s.agents)
	return out
}

// Start begins the tick loop in a background goroutine. Stop (or
// cancelling ctx) ends it.
func (s *Scheduler) Start(ctx context.Context) {
	tickCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.checkInterval)
		defer ticker.Stop()
		for {
			select {
			case <-tickCtx.Done():
				return
			case <-ticker.C:
				s.tick(time.Now())
			}
		}
	}()
}

// Stop ends the tick loop and waits for the in-flight tick to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

// tick evaluates every agent/schedule pair once. A panic or error
// evaluating one schedule is logged and does not stop the others (spec
// §4.2 "Failure policy").
func (s *Scheduler) tick(now time.Time) {
	for _, agent := range s.snapshotAgents() {
		for name, sched := range agent.Schedules {
			s.evaluateSchedule(agent, name, sched, now)
		}
	}
}

func (s *Scheduler) evaluateSchedule(agent domain.Agent, name string, sched domain.Schedule, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("schedule evaluation panicked", "agent", agent.Name, "schedule", name, "panic", r)
		}
	}()

	if sched.Kind != domain.ScheduleCron && sched.Kind != domain.ScheduleInterval {
		return // webhook/chat schedules are triggered externally, not by the tick loop
	}

	var due bool
	var state domain.ScheduleState
	err := s.store.MutateFleetState(func(fs *domain.FleetState) {
		as, ok := fs.Agents[agent.Name]
		if !ok {
			as = domain.AgentState{Status: domain.AgentIdle, Schedules: map[string]domain.ScheduleState{}}
		}
		if as.Schedules == nil {
			as.Schedules = map[string]domain.ScheduleState{}
		}
		state = as.Schedules[name]
		if state.Status == domain.ScheduleDisabled {
			due = false
			return
		}
		if state.NextRunAt == nil {
			next, nerr := s.computeNext(sched, now)
			if nerr != nil {
				s.logger.Error("invalid schedule, cannot compute next run", "agent", agent.Name, "schedule", name, "error", nerr)
				due = false
				return
			}
			state.NextRunAt = &next
			state.Status = domain.ScheduleIdle
			as.Schedules[name] = state
			as.RecomputeNextTrigger()
			fs.Agents[agent.Name] = as
			due = false
			return
		}
		if now.Before(*state.NextRunAt) {
			due = false
			return
		}
		if state.LastRunAt != nil && now.Sub(*state.LastRunAt) < minRedispatchInterval {
			due = false
			return
		}
		due = true
	})
	if err != nil {
		s.logger.Error("failed to read schedule state", "agent", agent.Name, "schedule", name, "error", err)
		return
	}
	if !due {
		return
	}

	s.dispatch(agent, name, sched, now)
}

// computeNext computes the next fire instant strictly after `after` (spec
// §4.2 "Never perform catch-up").
func (s *Scheduler) computeNext(sched domain.Schedule, after time.Time) (time.Time, error) {
	switch sched.Kind {
	case domain.ScheduleCron:
		return cronspec.Next(sched.Expression, after)
	case domain.ScheduleInterval:
		d, err := cronspec.ParseInterval(sched.Interval)
		if err != nil {
			return time.Time{}, err
		}
		return after.Add(d), nil
	default:
		return time.Time{}, fmt.Errorf("schedule kind %q is not tick-driven", sched.Kind)
	}
}

// dispatch asks the queue for admission as a scheduled trigger and rolls
// schedule state forward regardless of the outcome (spec §4.2 "Dispatch").
func (s *Scheduler) dispatch(agent domain.Agent, name string, sched domain.Schedule, now time.Time) {
	id := jobid.New(now)
	result := s.queue.Enqueue(queue.EnqueueRequest{
		JobID:       id,
		Agent:       agent.Name,
		Schedule:    name,
		Prompt:      sched.Prompt,
		IsScheduled: true,
	})

	next, nerr := s.computeNext(sched, now)

	if result.Skipped {
		_ = s.store.MutateFleetState(func(fs *domain.FleetState) {
			as := fs.Agents[agent.Name]
			if as.Schedules == nil {
				as.Schedules = map[string]domain.ScheduleState{}
			}
			state := as.Schedules[name]
			if nerr == nil {
				state.NextRunAt = &next
			}
			as.Schedules[name] = state
			as.RecomputeNextTrigger()
			fs.Agents[agent.Name] = as
		})
		return
	}

	job, err := s.creator.CreateScheduledJob(id, agent, name, sched)
	if err != nil {
		s.logger.Error("failed to create scheduled job", "agent", agent.Name, "schedule", name, "error", err)
		return
	}

	_ = s.store.MutateFleetState(func(fs *domain.FleetState) {
		as := fs.Agents[agent.Name]
		if as.Schedules == nil {
			as.Schedules = map[string]domain.ScheduleState{}
		}
		state := as.Schedules[name]
		state.Status = domain.ScheduleRunning
		state.LastRunAt = &now
		if nerr == nil {
			state.NextRunAt = &next
		}
		state.LastError = ""
		as.Schedules[name] = state
		as.RecomputeNextTrigger()
		as.Status = domain.AgentRunning
		current := job.ID
		as.CurrentJob = &current
		fs.Agents[agent.Name] = as
	})

	s.bus.Emit(events.ScheduleTriggered, map[string]any{
		"agent":    agent.Name,
		"schedule": name,
		"job_id":   job.ID,
	})
	// Legacy alias kept alongside the modern event for backward
	// compatibility with the source system's event names (spec §4.1).
	s.bus.Emit(events.LegacyScheduleTrigger, map[string]any{
		"agent":    agent.Name,
		"schedule": name,
		"job_id":   job.ID,
	})
	s.logger.Info("schedule triggered", "agent", agent.Name, "schedule", name, "job_id", job.ID)
}
