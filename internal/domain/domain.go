// Package domain holds the data model shared by every core package: Agent,
// Schedule, Job, and the various persisted/in-memory state records defined
// in spec §3. Keeping these in one leaf package (no dependency on
// config/statefile/scheduler/etc.) avoids import cycles between the
// packages that read and write them.
package domain

import "time"

// ScheduleKind enumerates the schedule trigger mechanisms (spec §3).
type ScheduleKind string

const (
	ScheduleInterval ScheduleKind = "interval"
	ScheduleCron     ScheduleKind = "cron"
	ScheduleWebhook  ScheduleKind = "webhook"
	ScheduleChat     ScheduleKind = "chat"
)

// Schedule is the static, configuration-defined rule describing when an
// agent should fire (spec §3 "Schedule").
type Schedule struct {
	Name       string       `yaml:"-" json:"name"`
	Kind       ScheduleKind `yaml:"type" json:"type"`
	Interval   string       `yaml:"interval,omitempty" json:"interval,omitempty"`
	Expression string       `yaml:"expression,omitempty" json:"expression,omitempty"`
	Prompt     string       `yaml:"prompt,omitempty" json:"prompt,omitempty"`
}

// Agent is the static, configuration-loaded definition of one fleet member
// (spec §3 "Agent"). Agents are immutable within a reload cycle; a reload
// swaps the whole resolved set atomically.
type Agent struct {
	Name              string              `yaml:"name" json:"name"`
	Description       string              `yaml:"description,omitempty" json:"description,omitempty"`
	Model             string              `yaml:"model,omitempty" json:"model,omitempty"`
	WorkingDirectory  string              `yaml:"working_directory,omitempty" json:"working_directory,omitempty"`
	PermissionMode    string              `yaml:"permission_mode,omitempty" json:"permission_mode,omitempty"`
	MaxTurns          int                 `yaml:"max_turns,omitempty" json:"max_turns,omitempty"`
	SystemPrompt      string              `yaml:"system_prompt,omitempty" json:"system_prompt,omitempty"`
	MaxConcurrent     int                 `yaml:"max_concurrent,omitempty" json:"max_concurrent,omitempty"`
	Schedules         map[string]Schedule `yaml:"schedules,omitempty" json:"schedules,omitempty"`
}

// EffectiveMaxConcurrent returns the agent's concurrency cap, defaulting to
// 1 per spec §3.
func (a Agent) EffectiveMaxConcurrent() int {
	if a.MaxConcurrent <= 0 {
		return 1
	}
	return a.MaxConcurrent
}

// ScheduleStatus enumerates the per-schedule state machine (spec §3).
type ScheduleStatus string

const (
	ScheduleIdle     ScheduleStatus = "idle"
	ScheduleRunning  ScheduleStatus = "running"
	ScheduleDisabled ScheduleStatus = "disabled"
)

// ScheduleState is the persisted, mutable state for one agent x schedule
// pair (spec §3 "Schedule State").
type ScheduleState struct {
	Status     ScheduleStatus `yaml:"status" json:"status"`
	LastRunAt  *time.Time     `yaml:"last_run_at,omitempty" json:"last_run_at,omitempty"`
	NextRunAt  *time.Time     `yaml:"next_run_at,omitempty" json:"next_run_at,omitempty"`
	LastError  string         `yaml:"last_error,omitempty" json:"last_error,omitempty"`
}

// AgentStatus enumerates the per-agent state machine (spec §3).
type AgentStatus string

const (
	AgentIdle    AgentStatus = "idle"
	AgentRunning AgentStatus = "running"
	AgentError   AgentStatus = "error"
)

// AgentState is the persisted, mutable state for one agent (spec §3
// "Agent State", §6.1 bit-exact key list).
type AgentState struct {
	Status        AgentStatus `yaml:"status" json:"status"`
	CurrentJob    *string     `yaml:"current_job,omitempty" json:"current_job,omitempty"`
	LastJob       *string     `yaml:"last_job,omitempty" json:"last_job,omitempty"`
	NextSchedule  *string     `yaml:"next_schedule,omitempty" json:"next_schedule,omitempty"`
	NextTriggerAt *time.Time  `yaml:"next_trigger_at,omitempty" json:"next_trigger_at,omitempty"`
	// ContainerID is reserved for a container-based runtime (spec §6.1
	// "container_id?"); herdctl's executor runs subprocesses, not
	// containers (container orchestration is out of scope per spec §1), so
	// this is always nil.
	ContainerID  *string                  `yaml:"container_id,omitempty" json:"container_id,omitempty"`
	ErrorMessage string                   `yaml:"error_message,omitempty" json:"error_message,omitempty"`
	Schedules    map[string]ScheduleState `yaml:"schedules,omitempty" json:"schedules,omitempty"`
}

// RecomputeNextTrigger derives NextSchedule/NextTriggerAt as the earliest
// NextRunAt among the agent's enabled, tick-driven schedules (spec §6.1
// "next_schedule"/"next_trigger_at"). Callers invoke this after mutating
// as.Schedules, before persisting the AgentState.
func (a *AgentState) RecomputeNextTrigger() {
	a.NextSchedule = nil
	a.NextTriggerAt = nil
	for name, st := range a.Schedules {
		if st.Status == ScheduleDisabled || st.NextRunAt == nil {
			continue
		}
		if a.NextTriggerAt == nil || st.NextRunAt.Before(*a.NextTriggerAt) {
			n, t := name, *st.NextRunAt
			a.NextSchedule = &n
			a.NextTriggerAt = &t
		}
	}
}

// FleetState is the singleton, persisted fleet-wide record (spec §3
// "Fleet State").
type FleetState struct {
	StartedAt *time.Time            `yaml:"started_at,omitempty" json:"started_at,omitempty"`
	StoppedAt *time.Time            `yaml:"stopped_at,omitempty" json:"stopped_at,omitempty"`
	Agents    map[string]AgentState `yaml:"agents,omitempty" json:"agents,omitempty"`
}

// TriggerType enumerates how a job was created (spec §3 "Job").
type TriggerType string

const (
	TriggerSchedule TriggerType = "schedule"
	TriggerManual   TriggerType = "manual"
	TriggerFork     TriggerType = "fork"
	TriggerChat     TriggerType = "chat"
	TriggerWebhook  TriggerType = "webhook"
)

// JobStatus enumerates the job lifecycle (spec §3 "Job").
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether s is one of the three absorbing terminal
// states (spec §3, §8 invariant 3).
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// ExitReason enumerates why a job reached its terminal state (spec §3).
type ExitReason string

const (
	ExitSuccess   ExitReason = "success"
	ExitError     ExitReason = "error"
	ExitCancelled ExitReason = "cancelled"
	ExitTimeout   ExitReason = "timeout"
)

// Job is the durable record of one execution of an agent (spec §3 "Job").
type Job struct {
	ID           string      `yaml:"id" json:"id"`
	Agent        string      `yaml:"agent" json:"agent"`
	TriggerType  TriggerType `yaml:"trigger_type" json:"trigger_type"`
	Schedule     string      `yaml:"schedule,omitempty" json:"schedule,omitempty"`
	Prompt       string      `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	ForkedFrom   string      `yaml:"forked_from,omitempty" json:"forked_from,omitempty"`
	SessionID    string      `yaml:"session_id,omitempty" json:"session_id,omitempty"`
	StartedAt    time.Time   `yaml:"started_at" json:"started_at"`
	FinishedAt   *time.Time  `yaml:"finished_at,omitempty" json:"finished_at,omitempty"`
	Status       JobStatus   `yaml:"status" json:"status"`
	ExitReason   ExitReason  `yaml:"exit_reason,omitempty" json:"exit_reason,omitempty"`
	ErrorMessage string      `yaml:"error_message,omitempty" json:"error_message,omitempty"`
}

// OutputRecordType enumerates job output line kinds (spec §3 "Job Output
// Record").
type OutputRecordType string

const (
	OutputSystem    OutputRecordType = "system"
	OutputAssistant OutputRecordType = "assistant"
	OutputUser      OutputRecordType = "user"
	OutputTool      OutputRecordType = "tool"
	OutputError     OutputRecordType = "error"
)

// OutputRecord is one line of jobs/<id>/output.jsonl (spec §3, §6.1).
type OutputRecord struct {
	Type      OutputRecordType `json:"type"`
	Content   string           `json:"content,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// SessionMode enumerates how a Session's conversation is driven (spec §3
// "Session").
type SessionMode string

const (
	SessionAutonomous SessionMode = "autonomous"
	SessionInteractive SessionMode = "interactive"
	SessionReview      SessionMode = "review"
)

// Session is optional, per-agent conversation context enabling resume/fork
// (spec §3 "Session").
type Session struct {
	SessionID        string      `json:"session_id"`
	CreatedAt        time.Time   `json:"created_at"`
	LastUsedAt       time.Time   `json:"last_used_at"`
	JobCount         int         `json:"job_count"`
	Mode             SessionMode `json:"mode"`
	WorkingDirectory string      `json:"working_directory"`
	RuntimeType      string      `json:"runtime_type"`
	DockerEnabled    bool        `json:"docker_enabled"`
}

// QueuedJob is the in-memory-only record of a trigger awaiting admission
// (spec §3 "Queued Job").
type QueuedJob struct {
	ID          string
	Agent       string
	Schedule    string
	Priority    int // 1..10, lower = higher priority
	QueuedAt    time.Time
	Prompt      string
	IsScheduled bool
}
