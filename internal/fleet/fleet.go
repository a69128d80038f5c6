// Package fleet implements the Fleet Manager (spec §4.1): the public API
// surface (initialize, start, stop, reload, trigger, cancelJob, forkJob,
// schedule enable/disable, status queries, log streams) and the lifecycle
// state machine every other core component is wired behind.
//
// Grounded on pkg/devclaw/copilot/assistant.go's configMu/ApplyConfigUpdate
// (config held behind a mutex, swapped wholesale) and the ReloadCommand in
// pkg/devclaw/copilot/system_commands.go; the explicit InvalidStateError
// state machine itself has no single teacher analogue and is herdctl's own,
// built in the spirit of the teacher's guard-then-mutate method shape.
package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/herdctl/herdctl/internal/config"
	"github.com/herdctl/herdctl/internal/cronspec"
	"github.com/herdctl/herdctl/internal/domain"
	"github.com/herdctl/herdctl/internal/events"
	"github.com/herdctl/herdctl/internal/executor"
	"github.com/herdctl/herdctl/internal/herderr"
	"github.com/herdctl/herdctl/internal/queue"
	"github.com/herdctl/herdctl/internal/runtime"
	"github.com/herdctl/herdctl/internal/scheduler"
	"github.com/herdctl/herdctl/internal/statefile"
	"github.com/herdctl/herdctl/internal/statequery"
)

// State enumerates the Fleet Manager lifecycle (spec §4.1).
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitialized    State = "initialized"
	StateStarting       State = "starting"
	StateRunning        State = "running"
	StateStopping       State = "stopping"
	StateStopped        State = "stopped"
	StateError          State = "error"
)

// StopOptions controls Stop's drain behaviour (spec §5 "Cancellation &
// timeouts" `stop({timeout, waitForJobs, cancelOnTimeout})`, §8
// "stop({waitForJobs:true, timeout:0}) cancels or errors immediately").
type StopOptions struct {
	WaitForJobs bool
	Timeout     time.Duration // 0 means "expire immediately"
	// CancelOnTimeout selects what happens when WaitForJobs's deadline
	// expires: false raises ShutdownError(timedOut:true) and leaves the
	// fleet in StateStopping for the caller to retry; true cancels every
	// in-flight job in parallel and proceeds to stopped.
	CancelOnTimeout bool
}

// Options configures a new Manager.
type Options struct {
	ConfigPath    string
	StateDir      string
	CheckInterval time.Duration // scheduler tick period; 0 uses the package default
	CancelTimeout time.Duration // default cancelJob grace period; 0 uses the executor default
	Runtime       runtime.Runtime // nil constructs a default ExecRuntime
	Logger        *slog.Logger
}

// Manager is the Fleet Manager (spec §4.1). Zero value is not usable;
// construct with New.
type Manager struct {
	opts   Options
	logger *slog.Logger

	mu         sync.RWMutex
	state      State
	cfg        *config.ResolvedConfig
	lastError  error
	startedAt  *time.Time
	stoppedAt  *time.Time
	jobAgents  map[string]domain.Agent // in-flight job id -> ResolvedAgent snapshot at creation (reload contract)

	store *statefile.Store
	index *statequery.Index
	bus   *events.Bus
	queue *queue.Controller
	sched *scheduler.Scheduler
	exec  *executor.Executor
	rt    runtime.Runtime

	ctx    context.Context
	cancel context.CancelFunc
	jobsWG sync.WaitGroup
}

// New constructs a Manager in the uninitialized state. Call Initialize
// before anything else.
func New(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		opts:      opts,
		logger:    logger.With("component", "fleet"),
		state:     StateUninitialized,
		jobAgents: make(map[string]domain.Agent),
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// requireState enforces the lifecycle guard (spec §4.1 "Calling a method
// outside its permitted state raises InvalidStateError"). It reads m.state
// under its own read lock, so the caller must not already hold m.mu.
func (m *Manager) requireState(op string, permitted ...State) error {
	m.mu.RLock()
	current := m.state
	m.mu.RUnlock()
	for _, s := range permitted {
		if current == s {
			return nil
		}
	}
	names := make([]string, len(permitted))
	for i, s := range permitted {
		names[i] = string(s)
	}
	return &herderr.InvalidStateError{Op: op, Current: string(current), Permitted: names}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) setError(op string, err error) {
	m.mu.Lock()
	m.state = StateError
	m.lastError = err
	m.mu.Unlock()
	m.bus.Emit(events.Error, map[string]any{"op": op, "error": err.Error()})
	m.logger.Error("fleet entered error state", "op", op, "error", err)
}

// Initialize loads configuration, ensures the state directory, and
// constructs the Scheduler/Queue/Executor/Index (spec §4.1
// "uninitialized/stopped -initialize()-> initialized").
func (m *Manager) Initialize() error {
	if err := m.requireState("initialize", StateUninitialized, StateStopped); err != nil {
		return err
	}

	cfg, err := config.Load(m.opts.ConfigPath)
	if err != nil {
		return herderr.New("initialize", herderr.KindConfig, "failed to load configuration", err)
	}
	for _, a := range cfg.Agents {
		for name, sched := range a.Schedules {
			if sched.Kind != domain.ScheduleCron {
				continue
			}
			if verr := cronspec.Validate(sched.Expression); verr != nil {
				return herderr.New("initialize", herderr.KindScheduling,
					fmt.Sprintf("agent %q schedule %q has an invalid cron expression", a.Name, name), verr)
			}
		}
	}

	store, err := statefile.New(m.opts.StateDir)
	if err != nil {
		return herderr.New("initialize", herderr.KindState, "failed to resolve state directory", err)
	}
	if err := store.EnsureLayout(); err != nil {
		return herderr.New("initialize", herderr.KindState, "failed to prepare state directory", err)
	}

	idx, err := statequery.Open(store.IndexPath())
	if err != nil {
		return herderr.New("initialize", herderr.KindState, "failed to open query index", err)
	}
	if err := rebuildIndex(store, idx); err != nil {
		idx.Close()
		return herderr.New("initialize", herderr.KindState, "failed to rebuild query index", err)
	}

	bus := events.New()

	rt := m.opts.Runtime
	if rt == nil {
		rt = runtime.NewExecRuntime(defaultCommandTemplate, m.logger)
	}

	ex := executor.New(store, bus, rt, m.logger)

	m.mu.Lock()
	m.cfg = cfg
	m.store = store
	m.index = idx
	m.bus = bus
	m.rt = rt
	m.exec = ex
	m.queue = queue.New(&cfgLimits{m: m}, cfg.Fleet.Concurrency, bus, m.logger)
	m.sched = scheduler.New(store, m.queue, bus, m, m.opts.CheckInterval, m.logger)
	m.sched.SetAgents(cfg.Agents)
	m.state = StateInitialized
	m.mu.Unlock()

	bus.Emit(events.Initialized, map[string]any{"agents": len(cfg.Agents)})
	m.logger.Info("fleet initialized", "agents", len(cfg.Agents), "config", m.opts.ConfigPath)
	return nil
}

// rebuildIndex repopulates the query index from the job tree on disk
// (SPEC_FULL §4.6): the index is never authoritative, so every Initialize
// call starts from a known-good rebuild rather than trusting a possibly
// stale index.db left over from a prior run.
func rebuildIndex(store *statefile.Store, idx *statequery.Index) error {
	ids, err := store.ListJobIDs()
	if err != nil {
		return err
	}
	jobs := make([]domain.Job, 0, len(ids))
	for _, id := range ids {
		job, err := store.ReadJobMetadata(id)
		if err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return idx.Rebuild(jobs)
}

// Close releases resources held by a Manager that was only Initialized and
// never Started — the shape a one-shot, read-only CLI invocation needs
// (status/schedule queries don't require the scheduler tick loop or an
// executor). Started managers should use Stop instead.
func (m *Manager) Close() error {
	if m.index != nil {
		return m.index.Close()
	}
	return nil
}

// Start begins the scheduler tick loop and records startedAt (spec §4.1
// "initialized -start()-> running (via starting)").
func (m *Manager) Start() error {
	if err := m.requireState("start", StateInitialized); err != nil {
		return err
	}
	m.setState(StateStarting)

	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.ctx = ctx
	m.cancel = cancel
	now := time.Now()
	m.startedAt = &now
	m.mu.Unlock()

	if err := m.store.MutateFleetState(func(fs *domain.FleetState) {
		fs.StartedAt = &now
	}); err != nil {
		m.setError("start", err)
		return herderr.New("start", herderr.KindState, "failed to persist fleet start", err)
	}

	m.sched.Start(ctx)
	m.setState(StateRunning)
	m.bus.Emit(events.Started, map[string]any{"started_at": now})
	m.logger.Info("fleet started")
	return nil
}

// Stop ends the scheduler loop, cancels or drains in-flight jobs, and
// persists final fleet state (spec §4.1 "running/starting -stop()->
// stopped (via stopping)"). Stop is idempotent past stopping.
func (m *Manager) Stop(opts StopOptions) error {
	m.mu.RLock()
	current := m.state
	m.mu.RUnlock()
	if current == StateStopped {
		return nil
	}
	if err := m.requireState("stop", StateRunning, StateStarting, StateStopping); err != nil {
		return err
	}
	m.setState(StateStopping)

	m.sched.Stop()

	if opts.WaitForJobs {
		done := make(chan struct{})
		go func() {
			m.jobsWG.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(opts.Timeout):
			// Deadline expiry (a zero Timeout expires immediately, spec §8
			// "stop({waitForJobs:true, timeout:0}) cancels or errors
			// immediately"): either raise ShutdownError, leaving the fleet
			// in StateStopping for a retry, or cancel every in-flight job
			// and proceed to stopped, selected by CancelOnTimeout (spec §5
			// "Cancellation & timeouts").
			if !opts.CancelOnTimeout {
				return &herderr.ShutdownError{TimedOut: true}
			}
			m.cancel()
			m.jobsWG.Wait()
		}
	} else {
		m.cancel()
		m.jobsWG.Wait()
	}

	now := time.Now()
	m.mu.Lock()
	m.stoppedAt = &now
	m.mu.Unlock()

	if err := m.store.MutateFleetState(func(fs *domain.FleetState) {
		fs.StoppedAt = &now
	}); err != nil {
		m.logger.Error("failed to persist fleet stop", "error", err)
	}
	if m.index != nil {
		m.index.Close()
	}

	m.setState(StateStopped)
	m.bus.Emit(events.Stopped, map[string]any{"stopped_at": now})
	m.logger.Info("fleet stopped")
	return nil
}

// Reload loads a new configuration and, on success, atomically swaps it
// in (spec §4.1 "Reload contract"). In-flight jobs keep the ResolvedAgent
// snapshot captured when they were created (see jobAgents); only newly
// triggered jobs observe the new configuration.
func (m *Manager) Reload() (config.Diff, error) {
	if err := m.requireState("reload", StateInitialized, StateStarting, StateRunning, StateStopping); err != nil {
		return config.Diff{}, err
	}

	newCfg, err := config.Load(m.opts.ConfigPath)
	if err != nil {
		return config.Diff{}, herderr.New("reload", herderr.KindConfig, "new configuration failed to load; keeping existing configuration", err)
	}
	for _, a := range newCfg.Agents {
		for name, sched := range a.Schedules {
			if sched.Kind != domain.ScheduleCron {
				continue
			}
			if verr := cronspec.Validate(sched.Expression); verr != nil {
				return config.Diff{}, herderr.New("reload", herderr.KindScheduling,
					fmt.Sprintf("agent %q schedule %q has an invalid cron expression; keeping existing configuration", a.Name, name), verr)
			}
		}
	}

	m.mu.Lock()
	oldCfg := m.cfg
	m.cfg = newCfg
	m.mu.Unlock()

	diff := config.Compare(oldCfg, newCfg)
	m.sched.SetAgents(newCfg.Agents)

	m.bus.Emit(events.ConfigReloaded, map[string]any{
		"added":     diff.AddedAgents,
		"removed":   diff.RemovedAgents,
		"modified":  diff.ModifiedAgents,
		"schedules": diff.Schedules,
		"summary":   diff.Summary,
	})
	m.logger.Info("fleet configuration reloaded", "summary", diff.Summary)
	return diff, nil
}

// agentByName resolves an agent from the current configuration snapshot.
func (m *Manager) agentByName(name string) (domain.Agent, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cfg == nil {
		return domain.Agent{}, false
	}
	return m.cfg.AgentByName(name)
}

// cfgLimits adapts the live configuration snapshot to queue.AgentLimits so
// the queue's capacity checks always see the currently reloaded config
// without needing to be rebuilt on every reload.
type cfgLimits struct{ m *Manager }

func (c *cfgLimits) MaxConcurrent(agent string) int {
	a, ok := c.m.agentByName(agent)
	if !ok {
		return 1
	}
	return a.EffectiveMaxConcurrent()
}
