// Package queue implements the Job Queue & Concurrency Controller (spec
// §4.3): per-agent/fleet-wide capacity gating, priority-then-FIFO queueing
// of manual/fork triggers, and capacity-available dequeuing on job
// completion.
//
// Grounded on pkg/goclaw/scheduler/scheduler.go's mutex-guarded map plus
// structured-logging shape, generalized from "one map of jobs" to
// "per-agent running counters and waiter lists".
package queue

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/herdctl/herdctl/internal/events"
)

// CapacityCheck is the result of checkCapacity (spec §4.3).
type CapacityCheck struct {
	CanRun         bool
	Reason         string // "agent_at_capacity" | "fleet_at_capacity", empty if CanRun
	CurrentRunning int
	Limit          int
}

// EnqueueRequest is the input to Enqueue (spec §4.3). JobID is minted by
// the caller (internal/jobid) before admission is requested, so the id
// returned in job:queued/job:created events and the one written to
// jobs/<id>/metadata.yaml are always the same value.
type EnqueueRequest struct {
	JobID       string
	Agent       string
	Schedule    string
	Priority    int // 1..10, lower = higher priority; 0 defaults to 5
	Prompt      string
	IsScheduled bool
}

// EnqueueResult mirrors the spec's `{queued:false, jobId}` / null-on-skip
// / queued-with-position shapes as one struct; Queued distinguishes the
// three outcomes together with Skipped.
type EnqueueResult struct {
	JobID    string
	Queued   bool
	Skipped  bool // true only when isScheduled and capacity was unavailable
	Position int  // 1-based, valid only when Queued
}

// AgentLimits resolves the max-concurrent cap for an agent; the queue
// itself is agent-definition-agnostic so config reloads don't require
// rebuilding it.
type AgentLimits interface {
	MaxConcurrent(agent string) int
}

// Controller is the Job Queue & Concurrency Controller (spec §4.3). Zero
// value is not usable; construct with New.
type Controller struct {
	mu       sync.Mutex
	limits   AgentLimits
	fleetCap int // 0 = unbounded
	bus      *events.Bus
	logger   *slog.Logger

	running map[string]int // agent -> count of currently running jobs
	waiters map[string][]waiter
}

type waiter struct {
	jobID       string
	agent       string
	schedule    string
	priority    int
	prompt      string
	queuedAt    time.Time
	isScheduled bool
}

// New constructs a Controller. fleetCap of 0 means no fleet-wide cap
// (spec §4.3 "when configured").
func New(limits AgentLimits, fleetCap int, bus *events.Bus, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		limits:   limits,
		fleetCap: fleetCap,
		bus:      bus,
		logger:   logger.With("component", "queue"),
		running:  make(map[string]int),
		waiters:  make(map[string][]waiter),
	}
}

func (c *Controller) totalRunning() int {
	total := 0
	for _, n := range c.running {
		total += n
	}
	return total
}

// checkCapacityLocked reports whether agent has a free slot, without mutating
// any state (spec §4.3 "Capacity check"). Caller must hold c.mu.
func (c *Controller) checkCapacityLocked(agent string) CapacityCheck {
	limit := c.limits.MaxConcurrent(agent)
	running := c.running[agent]
	if running >= limit {
		return CapacityCheck{CanRun: false, Reason: "agent_at_capacity", CurrentRunning: running, Limit: limit}
	}
	if c.fleetCap > 0 && c.totalRunning() >= c.fleetCap {
		return CapacityCheck{CanRun: false, Reason: "fleet_at_capacity", CurrentRunning: running, Limit: limit}
	}
	return CapacityCheck{CanRun: true, CurrentRunning: running, Limit: limit}
}

// CheckCapacity is the public, read-only form of checkCapacityLocked.
func (c *Controller) CheckCapacity(agent string) CapacityCheck {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checkCapacityLocked(agent)
}

// Enqueue implements the spec §4.3 "Enqueue semantics". A non-empty
// JobID is always returned except on the schedule-skip path, which returns
// no JobID even when the request carried one.
func (c *Controller) Enqueue(req EnqueueRequest) *EnqueueResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	check := c.checkCapacityLocked(req.Agent)
	if check.CanRun {
		c.running[req.Agent]++
		c.logger.Debug("admitted immediately", "agent", req.Agent, "job_id", req.JobID)
		return &EnqueueResult{JobID: req.JobID, Queued: false}
	}

	if req.IsScheduled {
		c.bus.Emit(events.ScheduleSkipped, map[string]any{
			"agent":    req.Agent,
			"schedule": req.Schedule,
			"reason":   check.Reason,
		})
		c.logger.Info("schedule skipped, agent at capacity", "agent", req.Agent, "schedule", req.Schedule, "reason", check.Reason)
		return &EnqueueResult{Skipped: true}
	}

	priority := req.Priority
	if priority <= 0 {
		priority = 5
	}
	jobID := req.JobID
	w := waiter{
		jobID:       jobID,
		agent:       req.Agent,
		schedule:    req.Schedule,
		priority:    priority,
		prompt:      req.Prompt,
		queuedAt:    time.Now(),
		isScheduled: false,
	}
	c.waiters[req.Agent] = insertSorted(c.waiters[req.Agent], w)
	position := indexOf(c.waiters[req.Agent], jobID) + 1

	c.bus.Emit(events.JobQueued, map[string]any{
		"agent":    req.Agent,
		"job_id":   jobID,
		"position": position,
	})
	c.logger.Info("job queued", "agent", req.Agent, "job_id", jobID, "position", position, "priority", priority)
	return &EnqueueResult{JobID: jobID, Queued: true, Position: position}
}

// insertSorted inserts w into the agent's waiter list keeping it sorted
// by priority ascending (1 highest), then by queuedAt ascending within a
// priority band (spec §4.3 invariants).
func insertSorted(list []waiter, w waiter) []waiter {
	idx := sort.Search(len(list), func(i int) bool {
		if list[i].priority != w.priority {
			return list[i].priority > w.priority
		}
		return list[i].queuedAt.After(w.queuedAt)
	})
	list = append(list, waiter{})
	copy(list[idx+1:], list[idx:])
	list[idx] = w
	return list
}

func indexOf(list []waiter, jobID string) int {
	for i, w := range list {
		if w.jobID == jobID {
			return i
		}
	}
	return -1
}

// TryAdmit checks capacity and, if free, immediately reserves a running
// slot for agent — used by the Fleet Manager's `trigger` operation, which
// rejects with ConcurrencyLimitError rather than queueing a manual run
// that cannot start immediately (spec §4.1, §8 S3).
func (c *Controller) TryAdmit(agent string) (bool, CapacityCheck) {
	c.mu.Lock()
	defer c.mu.Unlock()
	check := c.checkCapacityLocked(agent)
	if check.CanRun {
		c.running[agent]++
	}
	return check.CanRun, check
}

// ForceAdmit reserves a running slot for agent unconditionally, bypassing
// the capacity check (spec §4.1 `opts.bypassConcurrencyLimit`). The slot
// still needs to be released by a later MarkCompleted, so the running
// counter stays balanced.
func (c *Controller) ForceAdmit(agent string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running[agent]++
}

// Dispatched is the waiter selected for admission by MarkCompleted.
type Dispatched struct {
	JobID    string
	Agent    string
	Schedule string
	Prompt   string
}

// MarkCompleted decrements agent's running counter, emits
// capacity:available, and dequeues the highest-priority waiter for that
// agent if fleet capacity permits (spec §4.3 "Dequeue & capacity-
// available"). Returns the dispatched waiter, or nil if none was
// admitted.
func (c *Controller) MarkCompleted(agent string) *Dispatched {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running[agent] > 0 {
		c.running[agent]--
	}
	slotsFree := c.limits.MaxConcurrent(agent) - c.running[agent]
	c.bus.Emit(events.CapacityAvailable, map[string]any{
		"agent":      agent,
		"slots_free": slotsFree,
	})

	list := c.waiters[agent]
	if len(list) == 0 {
		return nil
	}
	check := c.checkCapacityLocked(agent)
	if !check.CanRun {
		return nil
	}

	next := list[0]
	c.waiters[agent] = list[1:]
	c.running[agent]++

	c.logger.Debug("dequeued waiter", "agent", agent, "job_id", next.jobID)
	return &Dispatched{JobID: next.jobID, Agent: next.agent, Schedule: next.schedule, Prompt: next.prompt}
}

// RunningCount returns how many jobs are currently running for agent
// (test/inspection helper, also used by fleet status queries).
func (c *Controller) RunningCount(agent string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running[agent]
}

// QueueLength returns how many jobs are waiting for agent.
func (c *Controller) QueueLength(agent string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters[agent])
}

// TotalRunning returns the fleet-wide running count (spec §4.3 invariant
// `totalRunning = Σ running[agent]`).
func (c *Controller) TotalRunning() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalRunning()
}
