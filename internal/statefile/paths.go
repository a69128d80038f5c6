// Package statefile implements herdctl's durable state layer (spec §4.4,
// §6.1): state.yaml, jobs/<id>/{metadata.yaml,output.jsonl}, and
// sessions/<agent>.json, all under a configurable state directory, written
// with an atomic temp-file + fsync + rename discipline.
package statefile

import (
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/herdctl/herdctl/internal/herderr"
)

// agentNamePattern matches spec §3's strict agent name rule; path-building
// helpers re-validate it so a malicious or malformed agent name can never
// reach the filesystem (spec §4.4 "Path safety").
var agentNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// jobIDPattern matches spec §3's job id shape: job-YYYY-MM-DD-<8 base62>.
var jobIDPattern = regexp.MustCompile(`^job-\d{4}-\d{2}-\d{2}-[A-Za-z0-9]{8}$`)

// Store holds the resolved, validated state directory root.
type Store struct {
	Root string
}

// New validates and wraps root as a Store root. It does not create
// directories; call EnsureLayout for that (spec §4.4 "Recovery").
func New(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving state dir: %w", err)
	}
	return &Store{Root: abs}, nil
}

// safeJoin joins root with the given relative path components and verifies
// the resulting absolute path still begins with root, defeating ".."
// escapes (spec §4.4 "Path safety"). The check is lexical: symlinks are not
// resolved, so a symlink inside root that points outside it is not
// detected. Grounded on the prefix-check
// pattern in pkg/devclaw/copilot/tool_guard.go.
func (s *Store) safeJoin(elem ...string) (string, error) {
	joined := filepath.Join(append([]string{s.Root}, elem...)...)
	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}
	rootWithSep := s.Root + string(filepath.Separator)
	if abs != s.Root && !hasPrefix(abs, rootWithSep) {
		return "", &herderr.UnsafePathError{Path: abs, Base: s.Root}
	}
	return abs, nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// StateFilePath returns the path to state.yaml.
func (s *Store) StateFilePath() string {
	p, _ := s.safeJoin("state.yaml")
	return p
}

// JobDir returns the directory for job id, validating the job id shape and
// path safety first.
func (s *Store) JobDir(jobID string) (string, error) {
	if !jobIDPattern.MatchString(jobID) {
		return "", fmt.Errorf("invalid job id %q", jobID)
	}
	return s.safeJoin("jobs", jobID)
}

// JobMetadataPath returns jobs/<id>/metadata.yaml.
func (s *Store) JobMetadataPath(jobID string) (string, error) {
	dir, err := s.JobDir(jobID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "metadata.yaml"), nil
}

// JobOutputPath returns jobs/<id>/output.jsonl.
func (s *Store) JobOutputPath(jobID string) (string, error) {
	dir, err := s.JobDir(jobID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "output.jsonl"), nil
}

// SessionPath returns sessions/<agent>.json, validating the agent name.
func (s *Store) SessionPath(agent string) (string, error) {
	if !agentNamePattern.MatchString(agent) {
		return "", fmt.Errorf("invalid agent name %q", agent)
	}
	return s.safeJoin("sessions", agent+".json")
}

// IndexPath returns the path to the local SQLite query index (SPEC_FULL §4.6).
func (s *Store) IndexPath() string {
	p, _ := s.safeJoin("index.db")
	return p
}
