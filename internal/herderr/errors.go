// Package herderr provides the tagged error taxonomy used across herdctl's
// core: every surfaced error carries the attempted operation, a stable kind
// for programmatic matching, a human-readable detail, and an optional cause.
package herderr

import (
	"errors"
	"fmt"
)

// Kind identifies the class of error, matching the taxonomy in the spec's
// error handling design (configuration, state, lifecycle, scheduling, queue,
// job, shutdown).
type Kind string

const (
	KindConfig     Kind = "configuration"
	KindState      Kind = "state"
	KindLifecycle  Kind = "lifecycle"
	KindScheduling Kind = "scheduling"
	KindQueue      Kind = "queue"
	KindJob        Kind = "job"
	KindShutdown   Kind = "shutdown"
)

// Error is the shared header for every herdctl-raised error.
type Error struct {
	Op     string // attempted operation, e.g. "trigger", "reload"
	Kind   Kind
	Detail string // human-readable, actionable hint
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Detail)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches on Kind: errors.Is(err, &herderr.Error{Kind: herderr.KindQueue})
// reports whether err wraps an *Error of that Kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func New(op string, kind Kind, detail string, cause error) *Error {
	return &Error{Op: op, Kind: kind, Detail: detail, Cause: cause}
}

// InvalidStateError is raised when a Fleet Manager method is invoked outside
// its permitted lifecycle state (spec §4.1, §7).
type InvalidStateError struct {
	Op        string
	Current   string
	Permitted []string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s: invalid state %q, permitted states: %v", e.Op, e.Current, e.Permitted)
}

// ConcurrencyLimitError is raised when admission is denied because an agent
// or the fleet is at capacity (spec §4.3, §4.1 trigger contract).
type ConcurrencyLimitError struct {
	Agent   string
	Current int
	Max     int
	Reason  string // "agent_at_capacity" or "fleet_at_capacity"
}

func (e *ConcurrencyLimitError) Error() string {
	return fmt.Sprintf("concurrency limit reached for agent %q (%s): %d/%d running",
		e.Agent, e.Reason, e.Current, e.Max)
}

// CronParseError is raised for an invalid cron expression, at config load and
// again at schedule execution (defence in depth, spec §4.2, §7).
type CronParseError struct {
	Field      string // empty if the whole expression is unparseable
	Expression string
	Example    string
	Cause      error
}

func (e *CronParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid cron expression %q (field %q): %v (example: %q)",
			e.Expression, e.Field, e.Cause, e.Example)
	}
	return fmt.Sprintf("invalid cron expression %q: %v (example: %q)", e.Expression, e.Cause, e.Example)
}

func (e *CronParseError) Unwrap() error { return e.Cause }

// JobNotFoundError is raised when a job id does not resolve to a record.
type JobNotFoundError struct {
	JobID string
}

func (e *JobNotFoundError) Error() string { return fmt.Sprintf("job %q not found", e.JobID) }

// JobCancelErrorReason enumerates why a cancel request could not proceed as
// asked (it may still have succeeded with a different termination type).
type JobCancelErrorReason string

const (
	CancelReasonAlreadyStopped JobCancelErrorReason = "already_stopped"
)

// JobCancelError wraps a non-fatal cancellation outcome.
type JobCancelError struct {
	JobID  string
	Reason JobCancelErrorReason
}

func (e *JobCancelError) Error() string {
	return fmt.Sprintf("cancel job %q: %s", e.JobID, e.Reason)
}

// JobForkErrorReason enumerates why forkJob could not create a new job.
type JobForkErrorReason string

const (
	ForkReasonJobNotFound   JobForkErrorReason = "job_not_found"
	ForkReasonAgentNotFound JobForkErrorReason = "agent_not_found"
	ForkReasonNoSession     JobForkErrorReason = "no_session"
)

type JobForkError struct {
	JobID  string
	Reason JobForkErrorReason
}

func (e *JobForkError) Error() string {
	return fmt.Sprintf("fork job %q: %s", e.JobID, e.Reason)
}

// ShutdownError is raised when Stop's deadline elapses without cancelling
// in-flight jobs (spec §5 "Cancellation & timeouts").
type ShutdownError struct {
	TimedOut bool
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("shutdown error: timed_out=%v", e.TimedOut)
}

// UnsafePathError is raised when a computed path escapes the state directory
// (spec §4.4 "Path safety").
type UnsafePathError struct {
	Path string
	Base string
}

func (e *UnsafePathError) Error() string {
	return fmt.Sprintf("unsafe path %q escapes state directory %q", e.Path, e.Base)
}

// StateFileError is raised when a state file is malformed or unwritable.
type StateFileError struct {
	Path  string
	Cause error
}

func (e *StateFileError) Error() string {
	return fmt.Sprintf("state file %q: %v", e.Path, e.Cause)
}

func (e *StateFileError) Unwrap() error { return e.Cause }
