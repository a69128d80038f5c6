package statefile

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/herdctl/herdctl/internal/domain"
	"github.com/herdctl/herdctl/internal/herderr"
)

// WriteJobMetadata atomically writes jobs/<id>/metadata.yaml (spec §6.1).
// Terminal-state absorption (spec §8 invariant 3) is enforced by the
// caller (the executor/fleet manager never call this after a job has
// already reached a terminal status with a different outcome); this layer
// only guarantees the write itself is atomic.
func (s *Store) WriteJobMetadata(job domain.Job) error {
	path, err := s.JobMetadataPath(job.ID)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(&job)
	if err != nil {
		return &herderr.StateFileError{Path: path, Cause: err}
	}
	if err := atomicWrite(path, data, 0o600); err != nil {
		return &herderr.StateFileError{Path: path, Cause: err}
	}
	return nil
}

// ReadJobMetadata reads jobs/<id>/metadata.yaml.
func (s *Store) ReadJobMetadata(jobID string) (domain.Job, error) {
	path, err := s.JobMetadataPath(jobID)
	if err != nil {
		return domain.Job{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.Job{}, &herderr.JobNotFoundError{JobID: jobID}
		}
		return domain.Job{}, &herderr.StateFileError{Path: path, Cause: err}
	}
	var job domain.Job
	if err := yaml.Unmarshal(data, &job); err != nil {
		return domain.Job{}, &herderr.StateFileError{Path: path, Cause: err}
	}
	return job, nil
}

// ListJobIDs returns every job id with a metadata.yaml on disk, in no
// particular order; callers that need freshness-order should consult the
// query index (SPEC_FULL §4.6) instead of scanning the tree.
func (s *Store) ListJobIDs() ([]string, error) {
	jobsDir, err := s.safeJoin("jobs")
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(jobsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &herderr.StateFileError{Path: jobsDir, Cause: err}
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && jobIDPattern.MatchString(e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}
