package fleet

import (
	"time"

	"github.com/google/uuid"

	"github.com/herdctl/herdctl/internal/domain"
	"github.com/herdctl/herdctl/internal/events"
	"github.com/herdctl/herdctl/internal/queue"
)

// CreateScheduledJob implements scheduler.JobCreator: the scheduler has
// already minted jobID and gotten admission from the queue by the time
// this is called, so this only has to build the job record, persist it,
// and hand it to the executor.
func (m *Manager) CreateScheduledJob(jobID string, agent domain.Agent, scheduleName string, sched domain.Schedule) (domain.Job, error) {
	prompt := sched.Prompt
	if prompt == "" {
		prompt = agent.SystemPrompt
	}
	return m.createAndRun(jobID, agent, domain.TriggerSchedule, scheduleName, prompt, "")
}

// createAndRun builds and persists a new Job record, registers it as
// in-flight against the agent snapshot it was created with (spec §4.1
// reload contract), emits job:created, and starts the executor in a
// tracked goroutine. It returns as soon as the job record exists — callers
// do not block on completion.
func (m *Manager) createAndRun(id string, agent domain.Agent, trigger domain.TriggerType, scheduleName, prompt, forkedFrom string) (domain.Job, error) {
	sessionID := m.resumeSessionID(agent.Name, forkedFrom)

	job := domain.Job{
		ID:          id,
		Agent:       agent.Name,
		TriggerType: trigger,
		Schedule:    scheduleName,
		Prompt:      prompt,
		ForkedFrom:  forkedFrom,
		SessionID:   sessionID,
		StartedAt:   time.Now(),
		Status:      domain.JobRunning,
	}

	if err := m.store.WriteJobMetadata(job); err != nil {
		return domain.Job{}, err
	}
	if err := m.index.Upsert(job); err != nil {
		m.logger.Warn("failed to index new job", "job_id", job.ID, "error", err)
	}

	m.mu.Lock()
	m.jobAgents[job.ID] = agent
	m.mu.Unlock()

	_ = m.store.MutateFleetState(func(fs *domain.FleetState) {
		as := fs.Agents[agent.Name]
		as.Status = domain.AgentRunning
		current := job.ID
		as.CurrentJob = &current
		fs.Agents[agent.Name] = as
	})

	m.bus.Emit(events.JobCreated, map[string]any{
		"job_id":   job.ID,
		"agent":    agent.Name,
		"schedule": scheduleName,
		"trigger":  string(trigger),
	})
	m.bus.Emit(events.AgentStarted, map[string]any{"agent": agent.Name, "job_id": job.ID})

	m.jobsWG.Add(1)
	go func() {
		defer m.jobsWG.Done()
		final := m.exec.Run(m.ctx, job, agent, prompt, agent.WorkingDirectory)
		m.onJobFinished(final, agent)
	}()

	return job, nil
}

// onJobFinished reconciles fleet state after a job reaches a terminal
// status: clears current_job, records last_job, rolls the owning schedule
// back to idle (unless it was disabled mid-flight), and updates the
// agent's session record.
func (m *Manager) onJobFinished(job domain.Job, agent domain.Agent) {
	if err := m.index.Upsert(job); err != nil {
		m.logger.Warn("failed to index finished job", "job_id", job.ID, "error", err)
	}

	m.mu.Lock()
	delete(m.jobAgents, job.ID)
	m.mu.Unlock()

	_ = m.store.MutateFleetState(func(fs *domain.FleetState) {
		as := fs.Agents[agent.Name]
		as.CurrentJob = nil
		last := job.ID
		as.LastJob = &last
		if job.Status == domain.JobFailed {
			as.Status = domain.AgentError
			as.ErrorMessage = job.ErrorMessage
		} else {
			as.Status = domain.AgentIdle
			as.ErrorMessage = ""
		}
		if job.Schedule != "" && as.Schedules != nil {
			state := as.Schedules[job.Schedule]
			if state.Status == domain.ScheduleRunning {
				state.Status = domain.ScheduleIdle
			}
			if job.Status == domain.JobFailed {
				state.LastError = job.ErrorMessage
			}
			as.Schedules[job.Schedule] = state
		}
		as.RecomputeNextTrigger()
		fs.Agents[agent.Name] = as
	})

	m.touchSession(agent, job)

	m.bus.Emit(events.AgentStopped, map[string]any{"agent": agent.Name, "job_id": job.ID})
	if job.Schedule != "" {
		// Legacy trio kept alongside the modern schedule:triggered/job:*
		// events for backward compatibility with the source system's event
		// names (spec §4.1).
		legacyKind := events.LegacyScheduleComplete
		if job.Status == domain.JobFailed {
			legacyKind = events.LegacyScheduleError
		}
		m.bus.Emit(legacyKind, map[string]any{"agent": agent.Name, "schedule": job.Schedule, "job_id": job.ID})
	}

	if dispatched := m.queue.MarkCompleted(agent.Name); dispatched != nil {
		m.dispatchFromQueue(*dispatched)
	}
}

// dispatchFromQueue runs a waiter the queue just admitted off its
// backlog (spec §4.3 "Dequeue & capacity-available"): it runs as a manual
// trigger under the job id it was queued with (d.JobID) and resolves the
// agent from current configuration (a queued job is
// not an in-flight job, so it is not subject to the reload-snapshot rule
// until admission).
func (m *Manager) dispatchFromQueue(d queue.Dispatched) {
	agent, ok := m.agentByName(d.Agent)
	if !ok {
		m.logger.Warn("dropping queued job for removed agent", "agent", d.Agent, "job_id", d.JobID)
		return
	}
	if _, err := m.createAndRun(d.JobID, agent, domain.TriggerManual, d.Schedule, d.Prompt, ""); err != nil {
		m.logger.Error("failed to start dequeued job", "job_id", d.JobID, "error", err)
	}
}

// resumeSessionID looks up whether forkedFrom carries a session to
// inherit (spec §4.1 forkJob "if the original has a session_id, the new
// job inherits it"); otherwise it returns the agent's existing session id,
// if any, so consecutive runs of the same agent continue one conversation
// (spec §3 "Session... enables resuming a conversation").
func (m *Manager) resumeSessionID(agent, forkedFrom string) string {
	if forkedFrom != "" {
		if job, err := m.store.ReadJobMetadata(forkedFrom); err == nil {
			return job.SessionID
		}
	}
	sess, ok, err := m.store.ReadSession(agent)
	if err != nil || !ok {
		return ""
	}
	return sess.SessionID
}

// touchSession creates or updates the agent's session record after a job
// finishes. The spec leaves session-id minting unspecified beyond "enables
// resuming a conversation"; herdctl mints a fresh id when an agent's first
// job finishes and reuses it afterward so later jobs (and forkJob) have
// something to resume. The first job itself keeps an empty SessionID.
func (m *Manager) touchSession(agent domain.Agent, job domain.Job) {
	sess, ok, err := m.store.ReadSession(agent.Name)
	if err != nil {
		m.logger.Warn("failed to read session", "agent", agent.Name, "error", err)
	}
	now := time.Now()
	if !ok {
		sess = domain.Session{
			SessionID:        job.SessionID,
			CreatedAt:        now,
			Mode:             domain.SessionAutonomous,
			WorkingDirectory: agent.WorkingDirectory,
		}
		if sess.SessionID == "" {
			sess.SessionID = uuid.NewString()
		}
	}
	sess.LastUsedAt = now
	sess.JobCount++
	if err := m.store.WriteSession(agent.Name, sess); err != nil {
		m.logger.Warn("failed to persist session", "agent", agent.Name, "error", err)
	}
}
