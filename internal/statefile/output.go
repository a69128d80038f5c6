package statefile

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/herdctl/herdctl/internal/domain"
	"github.com/herdctl/herdctl/internal/herderr"
)

// AppendOutputRecord appends one JSON line to jobs/<id>/output.jsonl (spec
// §3 "Job Output Record", §4.4: "appended with a single write per record
// and not fsynced per-record").
func (s *Store) AppendOutputRecord(jobID string, rec domain.OutputRecord) error {
	path, err := s.JobOutputPath(jobID)
	if err != nil {
		return err
	}
	line, err := json.Marshal(&rec)
	if err != nil {
		return &herderr.StateFileError{Path: path, Cause: err}
	}
	if err := appendLine(path, line); err != nil {
		return &herderr.StateFileError{Path: path, Cause: err}
	}
	return nil
}

// ReadOutputRecords reads every output record for a job. Lines that fail to
// JSON-parse (e.g. a trailing partial line from a crash mid-append) are
// skipped with a warning rather than aborting the read (spec §4.4
// "Recovery").
func (s *Store) ReadOutputRecords(jobID string, logger *slog.Logger) ([]domain.OutputRecord, error) {
	if logger == nil {
		logger = slog.Default()
	}
	path, err := s.JobOutputPath(jobID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &herderr.StateFileError{Path: path, Cause: err}
	}
	defer f.Close()

	var records []domain.OutputRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec domain.OutputRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			logger.Warn("skipping malformed output record", "job_id", jobID, "error", err)
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return records, &herderr.StateFileError{Path: path, Cause: err}
	}
	return records, nil
}
