package fleet

import (
	"fmt"
	"time"

	"github.com/herdctl/herdctl/internal/domain"
	"github.com/herdctl/herdctl/internal/events"
	"github.com/herdctl/herdctl/internal/statequery"
)

// recentHistoryLimit bounds GetAgentInfo's RecentJobs lookup (SPEC_FULL
// §4.6 "history lookups"); status output is a glance, not a full history
// dump — StreamJobOutput/the job tree itself is the place for that.
const recentHistoryLimit = 5

// FleetStatus is the snapshot returned by GetFleetStatus.
type FleetStatus struct {
	State        State
	StartedAt    *time.Time
	StoppedAt    *time.Time
	AgentCount   int
	Agents       map[string]domain.AgentState
	RunningJobs  int
	FailedJobs   int
}

// GetFleetStatus returns a snapshot derived from in-memory configuration
// plus a freshly read persisted fleet state, consistent within this one
// call (spec §4.1 "Status queries"). RunningJobs/FailedJobs come from the
// query index (SPEC_FULL §4.6), which exists precisely so this count
// doesn't require scanning the job tree.
func (m *Manager) GetFleetStatus() (FleetStatus, error) {
	if err := m.requireState("getFleetStatus", StateInitialized, StateStarting, StateRunning, StateStopping, StateStopped); err != nil {
		return FleetStatus{}, err
	}

	fs, err := m.store.ReadFleetState()
	if err != nil {
		return FleetStatus{}, err
	}

	m.mu.RLock()
	agentCount := len(m.cfg.Agents)
	m.mu.RUnlock()

	running, err := m.index.CountByStatus("", domain.JobRunning)
	if err != nil {
		m.logger.Warn("failed to count running jobs from query index", "error", err)
	}
	failed, err := m.index.CountByStatus("", domain.JobFailed)
	if err != nil {
		m.logger.Warn("failed to count failed jobs from query index", "error", err)
	}

	return FleetStatus{
		State:       m.State(),
		StartedAt:   fs.StartedAt,
		StoppedAt:   fs.StoppedAt,
		AgentCount:  agentCount,
		Agents:      fs.Agents,
		RunningJobs: running,
		FailedJobs:  failed,
	}, nil
}

// AgentInfo is the snapshot returned by GetAgentInfo: the static
// configuration joined with the persisted runtime state.
type AgentInfo struct {
	Agent      domain.Agent
	State      domain.AgentState
	RecentJobs []statequery.Row
}

// GetAgentInfo resolves one agent's configuration, current state, and its
// most recent jobs from the query index (SPEC_FULL §4.6: the index exists
// so this lookup doesn't have to walk the job tree).
func (m *Manager) GetAgentInfo(name string) (AgentInfo, error) {
	if err := m.requireState("getAgentInfo", StateInitialized, StateStarting, StateRunning, StateStopping, StateStopped); err != nil {
		return AgentInfo{}, err
	}

	agent, ok := m.agentByName(name)
	if !ok {
		return AgentInfo{}, fmt.Errorf("agent %q not found", name)
	}
	fs, err := m.store.ReadFleetState()
	if err != nil {
		return AgentInfo{}, err
	}
	recent, err := m.index.RecentByAgent(name, recentHistoryLimit)
	if err != nil {
		m.logger.Warn("failed to read recent jobs from query index", "agent", name, "error", err)
	}
	return AgentInfo{Agent: agent, State: fs.Agents[name], RecentJobs: recent}, nil
}

// GetSchedules returns one agent's configured schedules joined with their
// persisted per-schedule state.
func (m *Manager) GetSchedules(agentName string) (map[string]ScheduleInfo, error) {
	info, err := m.GetAgentInfo(agentName)
	if err != nil {
		return nil, err
	}
	result := make(map[string]ScheduleInfo, len(info.Agent.Schedules))
	for name, sched := range info.Agent.Schedules {
		result[name] = ScheduleInfo{Schedule: sched, State: info.State.Schedules[name]}
	}
	return result, nil
}

// ScheduleInfo joins a schedule's static definition with its persisted
// state.
type ScheduleInfo struct {
	Schedule domain.Schedule
	State    domain.ScheduleState
}

// LogLevel classifies a LogEntry for filtering (spec §4.1 streamLogs
// "Filters: minimum level").
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

var levelRank = map[LogLevel]int{LevelDebug: 0, LevelInfo: 1, LevelWarn: 2, LevelError: 3}

// LogEntry is one item of a log/output stream (spec §4.1 streamLogs).
type LogEntry struct {
	Timestamp    time.Time
	Level        LogLevel
	Source       string // event kind or "output"
	AgentName    string
	JobID        string
	ScheduleName string
	Message      string
	Data         any
}

// LogFilter narrows a stream (spec §4.1 "Filters: minimum level, agent, job").
type LogFilter struct {
	MinLevel LogLevel
	Agent    string
	JobID    string
}

func (f LogFilter) admits(e LogEntry) bool {
	if f.MinLevel != "" && levelRank[e.Level] < levelRank[f.MinLevel] {
		return false
	}
	if f.Agent != "" && e.AgentName != "" && e.AgentName != f.Agent {
		return false
	}
	if f.JobID != "" && e.JobID != "" && e.JobID != f.JobID {
		return false
	}
	return true
}

const defaultHistoryLimit = 1000

// StreamJobOutput replays a job's persisted output (capped at historyLimit,
// defaulting to 1000) and, if the job is still running, tails live
// job:output/job:completed/job:failed/job:cancelled events until it reaches
// a terminal status (spec §4.1 streamLogs family).
func (m *Manager) StreamJobOutput(jobID string, historyLimit int) (<-chan LogEntry, error) {
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}

	job, err := m.store.ReadJobMetadata(jobID)
	if err != nil {
		return nil, err
	}
	records, err := m.store.ReadOutputRecords(jobID, m.logger)
	if err != nil {
		return nil, err
	}
	if len(records) > historyLimit {
		records = records[len(records)-historyLimit:]
	}

	out := make(chan LogEntry, len(records)+1)
	for _, rec := range records {
		out <- LogEntry{
			Timestamp: rec.Timestamp,
			Level:     outputLevel(rec.Type),
			Source:    "output",
			AgentName: job.Agent,
			JobID:     jobID,
			Message:   rec.Content,
		}
	}

	if job.Status.IsTerminal() {
		close(out)
		return out, nil
	}

	unsubscribe := m.bus.SubscribeKind(func(ev events.Event) {
		data, _ := ev.Data.(map[string]any)
		if data["job_id"] != jobID {
			return
		}
		switch ev.Kind {
		case events.JobOutput:
			rec, _ := data["record"].(domain.OutputRecord)
			out <- LogEntry{Timestamp: rec.Timestamp, Level: outputLevel(rec.Type), Source: "output", AgentName: job.Agent, JobID: jobID, Message: rec.Content}
		case events.JobCompleted, events.JobFailed, events.JobCancelled:
			out <- LogEntry{Timestamp: time.Now(), Level: LevelInfo, Source: string(ev.Kind), AgentName: job.Agent, JobID: jobID, Message: string(ev.Kind)}
		}
	}, events.JobOutput, events.JobCompleted, events.JobFailed, events.JobCancelled)

	go func() {
		defer unsubscribe()
		defer close(out)
		for {
			if latest, err := m.store.ReadJobMetadata(jobID); err == nil && latest.Status.IsTerminal() {
				return
			}
			time.Sleep(terminalPollInterval)
			if m.State() == StateStopped {
				return
			}
		}
	}()
	return out, nil
}

// terminalPollInterval is how often StreamJobOutput re-reads job metadata
// to notice external terminal-status writes (e.g. cancellation from a
// different caller) between bus events.
const terminalPollInterval = 500 * time.Millisecond

func outputLevel(t domain.OutputRecordType) LogLevel {
	if t == domain.OutputError {
		return LevelError
	}
	return LevelInfo
}

// StreamAgentLogs tails fleet-wide events scoped to one agent (job
// lifecycle and schedule events), applying filter (spec §4.1 streamLogs
// family, "Filters: minimum level, agent, job").
func (m *Manager) StreamAgentLogs(filter LogFilter) <-chan LogEntry {
	out := make(chan LogEntry, 64)
	unsubscribe := m.bus.Subscribe(func(ev events.Event) {
		entry := entryFromEvent(ev)
		if !filter.admits(entry) {
			return
		}
		select {
		case out <- entry:
		default:
		}
	})
	go func() {
		<-m.ctx.Done()
		unsubscribe()
		close(out)
	}()
	return out
}

func entryFromEvent(ev events.Event) LogEntry {
	data, _ := ev.Data.(map[string]any)
	entry := LogEntry{Timestamp: ev.Timestamp, Source: string(ev.Kind), Level: LevelInfo, Data: ev.Data}
	if v, ok := data["agent"].(string); ok {
		entry.AgentName = v
	}
	if v, ok := data["job_id"].(string); ok {
		entry.JobID = v
	}
	if v, ok := data["schedule"].(string); ok {
		entry.ScheduleName = v
	}
	switch ev.Kind {
	case events.Error, events.JobFailed:
		entry.Level = LevelError
	case events.ScheduleSkipped:
		entry.Level = LevelWarn
	}
	entry.Message = string(ev.Kind)
	return entry
}
