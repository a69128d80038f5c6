package fleet

import (
	"fmt"
	"time"

	"github.com/herdctl/herdctl/internal/domain"
	"github.com/herdctl/herdctl/internal/events"
	"github.com/herdctl/herdctl/internal/herderr"
	"github.com/herdctl/herdctl/internal/jobid"
)

// TriggerOptions mirrors spec §4.1 `trigger(agent, schedule?, opts?)`'s
// optional fields.
type TriggerOptions struct {
	Prompt                 string
	Priority               int
	BypassConcurrencyLimit bool
}

// TriggerResult is the contract `trigger` returns on success.
type TriggerResult struct {
	JobID        string
	AgentName    string
	ScheduleName string
	StartedAt    time.Time
	Prompt       string
}

// Trigger admits a manual run (spec §4.1 `trigger`). Prompt precedence is
// opts.Prompt > schedule.Prompt > agent.SystemPrompt.
func (m *Manager) Trigger(agentName, scheduleName string, opts TriggerOptions) (TriggerResult, error) {
	if err := m.requireState("trigger", StateRunning); err != nil {
		return TriggerResult{}, err
	}

	agent, ok := m.agentByName(agentName)
	if !ok {
		return TriggerResult{}, herderr.New("trigger", herderr.KindJob, fmt.Sprintf("agent %q not found", agentName), nil)
	}

	var sched domain.Schedule
	if scheduleName != "" {
		sched, ok = agent.Schedules[scheduleName]
		if !ok {
			return TriggerResult{}, herderr.New("trigger", herderr.KindScheduling, fmt.Sprintf("agent %q has no schedule %q", agentName, scheduleName), nil)
		}
	}

	prompt := opts.Prompt
	if prompt == "" {
		prompt = sched.Prompt
	}
	if prompt == "" {
		prompt = agent.SystemPrompt
	}

	// trigger() rejects immediately rather than queueing a manual run that
	// cannot start right away (spec §4.1 "rejects with ConcurrencyLimitError
	// otherwise", confirmed by §8 S3: the third back-to-back trigger on a
	// saturated agent raises, it does not queue). The Queue's own
	// priority-then-FIFO backlog (spec §4.3) still exists, but neither
	// trigger() nor the scheduler (whose scheduled Enqueue calls are skipped
	// at capacity, never backlogged) reaches it.
	if !opts.BypassConcurrencyLimit {
		ok, check := m.queue.TryAdmit(agentName)
		if !ok {
			return TriggerResult{}, &herderr.ConcurrencyLimitError{
				Agent: agentName, Current: check.CurrentRunning, Max: check.Limit, Reason: check.Reason,
			}
		}
	} else {
		m.queue.ForceAdmit(agentName)
	}

	id := jobid.New(time.Now())
	job, err := m.createAndRun(id, agent, domain.TriggerManual, scheduleName, prompt, "")
	if err != nil {
		return TriggerResult{}, err
	}
	return TriggerResult{JobID: job.ID, AgentName: agent.Name, ScheduleName: scheduleName, StartedAt: job.StartedAt, Prompt: prompt}, nil
}

// CancelJob requests termination of a running job (spec §4.1 `cancelJob`).
func (m *Manager) CancelJob(jobID string, timeout time.Duration) (CancelOutcome, error) {
	if err := m.requireState("cancelJob", StateRunning); err != nil {
		return CancelOutcome{}, err
	}

	job, err := m.store.ReadJobMetadata(jobID)
	if err != nil {
		return CancelOutcome{}, err
	}
	if job.Status.IsTerminal() {
		return CancelOutcome{JobID: jobID, TerminationType: "already_stopped"}, nil
	}

	if timeout <= 0 {
		timeout = m.opts.CancelTimeout
	}

	start := time.Now()
	result, err := m.exec.CancelJob(jobID, timeout)
	if err != nil {
		return CancelOutcome{}, err
	}

	m.bus.Emit(events.JobCancelled, map[string]any{
		"job_id":           jobID,
		"termination_type": result.TerminationType,
		"duration_ms":      time.Since(start).Milliseconds(),
	})
	return CancelOutcome{JobID: jobID, TerminationType: result.TerminationType, Duration: result.Duration}, nil
}

// CancelOutcome is the contract `cancelJob` returns.
type CancelOutcome struct {
	JobID           string
	TerminationType string // "graceful" | "forced" | "already_stopped"
	Duration        time.Duration
}

// ForkOptions mirrors spec §4.1 `forkJob(jobId, {prompt?, schedule?})`.
type ForkOptions struct {
	Prompt   string
	Schedule string
}

// ForkJob creates a new job continuing a prior one's session (spec §4.1
// `forkJob`, §8 S5).
func (m *Manager) ForkJob(jobID string, opts ForkOptions) (TriggerResult, error) {
	if err := m.requireState("forkJob", StateRunning); err != nil {
		return TriggerResult{}, err
	}

	original, err := m.store.ReadJobMetadata(jobID)
	if err != nil {
		return TriggerResult{}, &herderr.JobForkError{JobID: jobID, Reason: herderr.ForkReasonJobNotFound}
	}
	if original.SessionID == "" {
		return TriggerResult{}, &herderr.JobForkError{JobID: jobID, Reason: herderr.ForkReasonNoSession}
	}
	agent, ok := m.agentByName(original.Agent)
	if !ok {
		return TriggerResult{}, &herderr.JobForkError{JobID: jobID, Reason: herderr.ForkReasonAgentNotFound}
	}

	scheduleName := opts.Schedule
	prompt := opts.Prompt
	if prompt == "" {
		if scheduleName != "" {
			prompt = agent.Schedules[scheduleName].Prompt
		}
	}
	if prompt == "" {
		prompt = original.Prompt
	}

	// Counts against the same per-agent/fleet capacity as a manual trigger
	// (spec §4.3 groups "manual/fork" together); forkJob's contract doesn't
	// document a bypass option, so it always respects the limit.
	if ok, check := m.queue.TryAdmit(agent.Name); !ok {
		return TriggerResult{}, &herderr.ConcurrencyLimitError{
			Agent: agent.Name, Current: check.CurrentRunning, Max: check.Limit, Reason: check.Reason,
		}
	}

	id := jobid.New(time.Now())
	newJob, err := m.createAndRun(id, agent, domain.TriggerFork, scheduleName, prompt, jobID)
	if err != nil {
		return TriggerResult{}, err
	}

	m.bus.Emit(events.JobForked, map[string]any{"job_id": newJob.ID, "forked_from": jobID})
	return TriggerResult{JobID: newJob.ID, AgentName: agent.Name, ScheduleName: scheduleName, StartedAt: newJob.StartedAt, Prompt: prompt}, nil
}

// EnableSchedule flips a schedule's persisted status back to idle so the
// scheduler tick loop resumes considering it (spec §4.1
// `enableSchedule/disableSchedule`).
func (m *Manager) EnableSchedule(agentName, scheduleName string) error {
	return m.setScheduleDisabled(agentName, scheduleName, false)
}

// DisableSchedule flips a schedule's persisted status to disabled.
func (m *Manager) DisableSchedule(agentName, scheduleName string) error {
	return m.setScheduleDisabled(agentName, scheduleName, true)
}

func (m *Manager) setScheduleDisabled(agentName, scheduleName string, disabled bool) error {
	if err := m.requireState("setSchedule", StateInitialized, StateRunning, StateStarting); err != nil {
		return err
	}
	agent, ok := m.agentByName(agentName)
	if !ok {
		return herderr.New("setSchedule", herderr.KindScheduling, fmt.Sprintf("agent %q not found", agentName), nil)
	}
	if _, ok := agent.Schedules[scheduleName]; !ok {
		return herderr.New("setSchedule", herderr.KindScheduling, fmt.Sprintf("agent %q has no schedule %q", agentName, scheduleName), nil)
	}

	return m.store.MutateFleetState(func(fs *domain.FleetState) {
		as := fs.Agents[agentName]
		if as.Schedules == nil {
			as.Schedules = map[string]domain.ScheduleState{}
		}
		state := as.Schedules[scheduleName]
		if disabled {
			state.Status = domain.ScheduleDisabled
		} else if state.Status == domain.ScheduleDisabled {
			state.Status = domain.ScheduleIdle
		}
		as.Schedules[scheduleName] = state
		as.RecomputeNextTrigger()
		fs.Agents[agentName] = as
	})
}
