package statefile

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/herdctl/herdctl/internal/domain"
	"github.com/herdctl/herdctl/internal/herderr"
)

// stateDoc mirrors the on-disk shape of state.yaml (spec §6.1):
// {fleet: {started_at?, stopped_at?}, agents: {<name>: AgentState}}.
type stateDoc struct {
	Fleet  fleetSection             `yaml:"fleet"`
	Agents map[string]domain.AgentState `yaml:"agents"`
}

type fleetSection struct {
	StartedAt *yamlTime `yaml:"started_at,omitempty"`
	StoppedAt *yamlTime `yaml:"stopped_at,omitempty"`
}

// EnsureLayout creates the state directory tree if missing, and creates an
// empty state.yaml ({fleet:{}, agents:{}}) if absent (spec §4.4
// "Recovery"). If state.yaml exists it is parsed and validated; a malformed
// file raises StateFileError and aborts initialization.
func (s *Store) EnsureLayout() error {
	for _, dir := range []string{s.Root, filepath.Join(s.Root, "jobs"), filepath.Join(s.Root, "sessions"), filepath.Join(s.Root, "logs")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &herderr.StateFileError{Path: dir, Cause: err}
		}
	}

	path := s.StateFilePath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return s.WriteFleetState(domain.FleetState{Agents: map[string]domain.AgentState{}})
	}

	if _, err := s.ReadFleetState(); err != nil {
		return err
	}
	return nil
}

// ReadFleetState reads and parses state.yaml. A malformed file surfaces
// StateFileError (spec §4.4 "Recovery").
func (s *Store) ReadFleetState() (domain.FleetState, error) {
	path := s.StateFilePath()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.FleetState{Agents: map[string]domain.AgentState{}}, nil
		}
		return domain.FleetState{}, &herderr.StateFileError{Path: path, Cause: err}
	}

	var doc stateDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return domain.FleetState{}, &herderr.StateFileError{Path: path, Cause: err}
	}
	if doc.Agents == nil {
		doc.Agents = map[string]domain.AgentState{}
	}

	fs := domain.FleetState{Agents: doc.Agents}
	if doc.Fleet.StartedAt != nil {
		t := doc.Fleet.StartedAt.Time
		fs.StartedAt = &t
	}
	if doc.Fleet.StoppedAt != nil {
		t := doc.Fleet.StoppedAt.Time
		fs.StoppedAt = &t
	}
	return fs, nil
}

// WriteFleetState atomically replaces state.yaml (spec §4.4 "Write
// discipline").
func (s *Store) WriteFleetState(fs domain.FleetState) error {
	doc := stateDoc{Agents: fs.Agents}
	if fs.StartedAt != nil {
		doc.Fleet.StartedAt = &yamlTime{*fs.StartedAt}
	}
	if fs.StoppedAt != nil {
		doc.Fleet.StoppedAt = &yamlTime{*fs.StoppedAt}
	}
	if doc.Agents == nil {
		doc.Agents = map[string]domain.AgentState{}
	}

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return &herderr.StateFileError{Path: s.StateFilePath(), Cause: err}
	}
	if err := atomicWrite(s.StateFilePath(), data, 0o600); err != nil {
		return &herderr.StateFileError{Path: s.StateFilePath(), Cause: err}
	}
	return nil
}

// MutateFleetState reads, applies fn, and writes back the fleet state,
// serialized through a per-state-file logical lock (separate from the path
// lock atomicWrite takes for the write itself) so concurrent mutations
// (e.g. scheduler tick + job completion) interleave safely.
func (s *Store) MutateFleetState(fn func(*domain.FleetState)) error {
	mu := lockFor(s.StateFilePath() + ".logical")
	mu.Lock()
	defer mu.Unlock()

	fs, err := s.ReadFleetState()
	if err != nil {
		return err
	}
	fn(&fs)
	return s.WriteFleetState(fs)
}
