// Package statequery implements the local, rebuildable SQLite query index
// over job history (SPEC_FULL §4.6). The index is never the source of
// truth — jobs/<id>/metadata.yaml under internal/statefile is — so every
// write here is best-effort and the whole database can be deleted and
// rebuilt from the job tree at any time.
//
// Grounded on pkg/goclaw/scheduler/sqlite_storage.go: plain database/sql
// over github.com/mattn/go-sqlite3, manual RFC3339 timestamp formatting,
// INSERT OR REPLACE upserts.
package statequery

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/herdctl/herdctl/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	agent        TEXT NOT NULL,
	trigger_type TEXT NOT NULL,
	schedule     TEXT,
	status       TEXT NOT NULL,
	started_at   TEXT NOT NULL,
	finished_at  TEXT,
	exit_reason  TEXT
);
CREATE INDEX IF NOT EXISTS idx_jobs_agent ON jobs(agent);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_started_at ON jobs(started_at);
`

// Index wraps the SQLite connection backing the query index.
type Index struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite file at path and ensures
// the jobs table exists.
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening query index %q: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing query index schema: %w", err)
	}
	return &Index{db: db}, nil
}

// Close closes the underlying database handle.
func (i *Index) Close() error {
	return i.db.Close()
}

// Upsert inserts or replaces a job's row (SPEC_FULL §4.6). Called
// alongside every internal/statefile.WriteJobMetadata so the index tracks
// the durable store; if it fails the caller logs and continues, since the
// index is rebuildable and never authoritative.
func (i *Index) Upsert(job domain.Job) error {
	var finishedAt sql.NullString
	if job.FinishedAt != nil {
		finishedAt = sql.NullString{String: job.FinishedAt.UTC().Format(time.RFC3339), Valid: true}
	}
	_, err := i.db.Exec(`
		INSERT OR REPLACE INTO jobs
			(id, agent, trigger_type, schedule, status, started_at, finished_at, exit_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.Agent,
		string(job.TriggerType),
		job.Schedule,
		string(job.Status),
		job.StartedAt.UTC().Format(time.RFC3339),
		finishedAt,
		string(job.ExitReason),
	)
	if err != nil {
		return fmt.Errorf("indexing job %q: %w", job.ID, err)
	}
	return nil
}

// Row is one summarized job record returned by query helpers.
type Row struct {
	ID          string
	Agent       string
	TriggerType domain.TriggerType
	Schedule    string
	Status      domain.JobStatus
	StartedAt   time.Time
	FinishedAt  *time.Time
	ExitReason  domain.ExitReason
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	defer rows.Close()
	var out []Row
	for rows.Next() {
		var (
			r          Row
			triggerTp  string
			status     string
			exitReason string
			startedAt  string
			finishedAt sql.NullString
			schedule   sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Agent, &triggerTp, &schedule, &status, &startedAt, &finishedAt, &exitReason); err != nil {
			return nil, fmt.Errorf("scanning job row: %w", err)
		}
		r.TriggerType = domain.TriggerType(triggerTp)
		r.Status = domain.JobStatus(status)
		r.ExitReason = domain.ExitReason(exitReason)
		if schedule.Valid {
			r.Schedule = schedule.String
		}
		if t, err := time.Parse(time.RFC3339, startedAt); err == nil {
			r.StartedAt = t
		}
		if finishedAt.Valid {
			if t, err := time.Parse(time.RFC3339, finishedAt.String); err == nil {
				r.FinishedAt = &t
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecentByAgent returns an agent's most recent jobs, newest first, capped
// at limit (SPEC_FULL §4.6 "history lookups").
func (i *Index) RecentByAgent(agent string, limit int) ([]Row, error) {
	rows, err := i.db.Query(`
		SELECT id, agent, trigger_type, schedule, status, started_at, finished_at, exit_reason
		FROM jobs WHERE agent = ? ORDER BY started_at DESC LIMIT ?`, agent, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent jobs for %q: %w", agent, err)
	}
	return scanRows(rows)
}

// CountByStatus returns the count of jobs in the given status, fleet-wide
// or scoped to one agent when agent is non-empty (used by fleet status
// summaries, SPEC_FULL §4.6).
func (i *Index) CountByStatus(agent string, status domain.JobStatus) (int, error) {
	var count int
	var err error
	if agent == "" {
		err = i.db.QueryRow(`SELECT COUNT(*) FROM jobs WHERE status = ?`, string(status)).Scan(&count)
	} else {
		err = i.db.QueryRow(`SELECT COUNT(*) FROM jobs WHERE status = ? AND agent = ?`, string(status), agent).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("counting jobs by status: %w", err)
	}
	return count, nil
}

// Rebuild truncates the index and reinserts every job found by statefile's
// job tree walk (SPEC_FULL §4.6: "rebuildable from the job tree at any
// time"). jobs is supplied by the caller (typically fleet, which already
// has a statefile.Store) rather than this package reaching into the
// filesystem itself, keeping statequery free of path-safety concerns.
func (i *Index) Rebuild(jobs []domain.Job) error {
	tx, err := i.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning rebuild transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM jobs`); err != nil {
		return fmt.Errorf("clearing query index: %w", err)
	}
	for _, job := range jobs {
		var finishedAt sql.NullString
		if job.FinishedAt != nil {
			finishedAt = sql.NullString{String: job.FinishedAt.UTC().Format(time.RFC3339), Valid: true}
		}
		if _, err := tx.Exec(`
			INSERT OR REPLACE INTO jobs
				(id, agent, trigger_type, schedule, status, started_at, finished_at, exit_reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			job.ID, job.Agent, string(job.TriggerType), job.Schedule, string(job.Status),
			job.StartedAt.UTC().Format(time.RFC3339), finishedAt, string(job.ExitReason),
		); err != nil {
			return fmt.Errorf("rebuilding row for %q: %w", job.ID, err)
		}
	}
	return tx.Commit()
}
