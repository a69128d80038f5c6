// Package config loads the ResolvedConfig consumed by the core (spec §6.2):
// an ordered list of ResolvedAgent plus fleet-wide options. Grounded on
// pkg/devclaw/copilot/config.go's nested, yaml-tagged config structs and
// pkg/devclaw/copilot/loader.go's env-expansion + defaults-merge loader.
package config

import (
	"fmt"
	"regexp"

	"github.com/herdctl/herdctl/internal/domain"
)

// agentNamePattern is the strict agent name pattern from spec §3.
var agentNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// WebConfig is the opaque fleet.web configuration consumed by external
// dashboards; the core never interprets it (spec §1 "out of scope",
// §6.2).
type WebConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Address string `yaml:"address,omitempty"`
}

// FleetOptions holds fleet-wide settings (spec §6.2).
type FleetOptions struct {
	Web         WebConfig `yaml:"web,omitempty"`
	Concurrency int       `yaml:"concurrency,omitempty"` // 0 = unset/unbounded
}

// ResolvedAgent is one agent after config resolution: the Agent plus the
// raw config file's per-instance override (spec §6.2 "instances.max_concurrent").
type ResolvedAgent = domain.Agent

// ResolvedConfig is the loader's output, consumed by the Fleet Manager
// (spec §6.2).
type ResolvedConfig struct {
	ConfigPath string
	Agents     []ResolvedAgent
	Fleet      FleetOptions
}

// AgentByName returns the agent with the given name, if present.
func (c *ResolvedConfig) AgentByName(name string) (ResolvedAgent, bool) {
	for _, a := range c.Agents {
		if a.Name == name {
			return a, true
		}
	}
	return ResolvedAgent{}, false
}

// Validate checks structural invariants from spec §3: unique, pattern-
// matching agent names, and schedule-kind field invariants. Cron
// expressions are not checked here; callers validate them with
// cronspec.Validate, which returns a CronParseError.
func (c *ResolvedConfig) Validate() error {
	seen := make(map[string]bool, len(c.Agents))
	for _, a := range c.Agents {
		if !agentNamePattern.MatchString(a.Name) {
			return fmt.Errorf("agent name %q does not match %s", a.Name, agentNamePattern.String())
		}
		if seen[a.Name] {
			return fmt.Errorf("duplicate agent name %q", a.Name)
		}
		seen[a.Name] = true

		for schedName, sched := range a.Schedules {
			switch sched.Kind {
			case domain.ScheduleInterval:
				if sched.Interval == "" {
					return fmt.Errorf("agent %q schedule %q: interval schedules require \"interval\"", a.Name, schedName)
				}
			case domain.ScheduleCron:
				if sched.Expression == "" {
					return fmt.Errorf("agent %q schedule %q: cron schedules require \"expression\"", a.Name, schedName)
				}
			case domain.ScheduleWebhook, domain.ScheduleChat:
				// No time field required.
			default:
				return fmt.Errorf("agent %q schedule %q: unknown schedule type %q", a.Name, schedName, sched.Kind)
			}
		}
	}
	return nil
}

// ScheduleDiff names one agent's schedule-level changes (spec §4.1 "Reload
// contract": config:reloaded lists changes "at agent and schedule
// granularity").
type ScheduleDiff struct {
	Added    []string
	Removed  []string
	Modified []string
}

// Diff describes the agent/schedule-level changes between two configs,
// used to build the config:reloaded payload (spec §4.1 "Reload contract").
// Schedules map keys on the owning agent's name; an added or removed agent
// still gets an entry there listing its full schedule set, so a consumer
// never has to special-case whole-agent churn to see which schedules came
// or went.
type Diff struct {
	AddedAgents    []string
	RemovedAgents  []string
	ModifiedAgents []string
	Schedules      map[string]ScheduleDiff
	Summary        string
}

// Compare computes the diff from old to new at both agent and schedule
// granularity.
func Compare(oldCfg, newCfg *ResolvedConfig) Diff {
	oldByName := make(map[string]ResolvedAgent)
	if oldCfg != nil {
		for _, a := range oldCfg.Agents {
			oldByName[a.Name] = a
		}
	}
	newByName := make(map[string]ResolvedAgent)
	for _, a := range newCfg.Agents {
		newByName[a.Name] = a
	}

	d := Diff{Schedules: make(map[string]ScheduleDiff)}
	for name, newAgent := range newByName {
		oldAgent, existed := oldByName[name]
		if !existed {
			d.AddedAgents = append(d.AddedAgents, name)
			if len(newAgent.Schedules) > 0 {
				d.Schedules[name] = ScheduleDiff{Added: scheduleNames(newAgent.Schedules)}
			}
			continue
		}
		if sd := scheduleDiff(oldAgent.Schedules, newAgent.Schedules); !sd.empty() {
			d.Schedules[name] = sd
		}
		if !agentsEqual(oldAgent, newAgent) {
			d.ModifiedAgents = append(d.ModifiedAgents, name)
		}
	}
	for name, oldAgent := range oldByName {
		if _, stillExists := newByName[name]; !stillExists {
			d.RemovedAgents = append(d.RemovedAgents, name)
			if len(oldAgent.Schedules) > 0 {
				d.Schedules[name] = ScheduleDiff{Removed: scheduleNames(oldAgent.Schedules)}
			}
		}
	}

	scheduleChanges := 0
	for _, sd := range d.Schedules {
		scheduleChanges += len(sd.Added) + len(sd.Removed) + len(sd.Modified)
	}
	d.Summary = fmt.Sprintf("+%d agents, -%d agents, ~%d agents modified, %d schedule changes",
		len(d.AddedAgents), len(d.RemovedAgents), len(d.ModifiedAgents), scheduleChanges)
	return d
}

func (sd ScheduleDiff) empty() bool {
	return len(sd.Added) == 0 && len(sd.Removed) == 0 && len(sd.Modified) == 0
}

func scheduleNames(schedules map[string]domain.Schedule) []string {
	names := make([]string, 0, len(schedules))
	for name := range schedules {
		names = append(names, name)
	}
	return names
}

// scheduleDiff computes one agent's added/removed/modified schedule names
// between its old and new configuration.
func scheduleDiff(oldScheds, newScheds map[string]domain.Schedule) ScheduleDiff {
	var sd ScheduleDiff
	for name, newSched := range newScheds {
		oldSched, existed := oldScheds[name]
		if !existed {
			sd.Added = append(sd.Added, name)
			continue
		}
		if oldSched != newSched {
			sd.Modified = append(sd.Modified, name)
		}
	}
	for name := range oldScheds {
		if _, stillExists := newScheds[name]; !stillExists {
			sd.Removed = append(sd.Removed, name)
		}
	}
	return sd
}

func agentsEqual(a, b ResolvedAgent) bool {
	if a.Model != b.Model || a.WorkingDirectory != b.WorkingDirectory ||
		a.PermissionMode != b.PermissionMode || a.MaxTurns != b.MaxTurns ||
		a.SystemPrompt != b.SystemPrompt || a.MaxConcurrent != b.MaxConcurrent ||
		a.Description != b.Description {
		return false
	}
	if len(a.Schedules) != len(b.Schedules) {
		return false
	}
	for name, sa := range a.Schedules {
		sb, ok := b.Schedules[name]
		if !ok || sa != sb {
			return false
		}
	}
	return true
}
