package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/herdctl/herdctl/internal/domain"
)

func TestCompareAgentGranularity(t *testing.T) {
	oldCfg := &ResolvedConfig{Agents: []ResolvedAgent{
		{Name: "herald"},
		{Name: "scout", Model: "haiku"},
	}}
	newCfg := &ResolvedConfig{Agents: []ResolvedAgent{
		{Name: "scout", Model: "sonnet"},
		{Name: "sentinel"},
	}}

	diff := Compare(oldCfg, newCfg)
	require.ElementsMatch(t, []string{"sentinel"}, diff.AddedAgents)
	require.ElementsMatch(t, []string{"herald"}, diff.RemovedAgents)
	require.ElementsMatch(t, []string{"scout"}, diff.ModifiedAgents)
}

func TestCompareScheduleGranularityOnModifiedAgent(t *testing.T) {
	oldCfg := &ResolvedConfig{Agents: []ResolvedAgent{
		{Name: "scout", Schedules: map[string]domain.Schedule{
			"heartbeat": {Kind: domain.ScheduleInterval, Interval: "1m"},
			"nightly":   {Kind: domain.ScheduleCron, Expression: "@daily"},
		}},
	}}
	newCfg := &ResolvedConfig{Agents: []ResolvedAgent{
		{Name: "scout", Schedules: map[string]domain.Schedule{
			"heartbeat": {Kind: domain.ScheduleInterval, Interval: "5m"}, // modified
			"weekly":    {Kind: domain.ScheduleCron, Expression: "@weekly"},
			// nightly removed
		}},
	}}

	diff := Compare(oldCfg, newCfg)
	require.ElementsMatch(t, []string{"scout"}, diff.ModifiedAgents)

	sd, ok := diff.Schedules["scout"]
	require.True(t, ok)
	require.ElementsMatch(t, []string{"weekly"}, sd.Added)
	require.ElementsMatch(t, []string{"nightly"}, sd.Removed)
	require.ElementsMatch(t, []string{"heartbeat"}, sd.Modified)
}

func TestCompareAddedAndRemovedAgentsListTheirSchedules(t *testing.T) {
	oldCfg := &ResolvedConfig{Agents: []ResolvedAgent{
		{Name: "herald", Schedules: map[string]domain.Schedule{
			"digest": {Kind: domain.ScheduleCron, Expression: "@daily"},
		}},
	}}
	newCfg := &ResolvedConfig{Agents: []ResolvedAgent{
		{Name: "sentinel", Schedules: map[string]domain.Schedule{
			"watch": {Kind: domain.ScheduleInterval, Interval: "30s"},
		}},
	}}

	diff := Compare(oldCfg, newCfg)

	addedSD, ok := diff.Schedules["sentinel"]
	require.True(t, ok)
	require.ElementsMatch(t, []string{"watch"}, addedSD.Added)
	require.Empty(t, addedSD.Removed)

	removedSD, ok := diff.Schedules["herald"]
	require.True(t, ok)
	require.ElementsMatch(t, []string{"digest"}, removedSD.Removed)
	require.Empty(t, removedSD.Added)
}

func TestCompareNoChangesProducesEmptyDiff(t *testing.T) {
	cfg := &ResolvedConfig{Agents: []ResolvedAgent{
		{Name: "scout", Schedules: map[string]domain.Schedule{
			"heartbeat": {Kind: domain.ScheduleInterval, Interval: "1m"},
		}},
	}}
	diff := Compare(cfg, cfg)
	require.Empty(t, diff.AddedAgents)
	require.Empty(t, diff.RemovedAgents)
	require.Empty(t, diff.ModifiedAgents)
	require.Empty(t, diff.Schedules)
}

func TestValidateRejectsBadAgentNameAndUnknownScheduleKind(t *testing.T) {
	cfg := &ResolvedConfig{Agents: []ResolvedAgent{{Name: "bad name"}}}
	require.Error(t, cfg.Validate())

	cfg = &ResolvedConfig{Agents: []ResolvedAgent{{
		Name: "scout",
		Schedules: map[string]domain.Schedule{
			"weird": {Kind: "carrier-pigeon"},
		},
	}}}
	require.Error(t, cfg.Validate())
}
