package domain

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrAlreadyRunning rejects a trigger while a run is active and force is not set.
	ErrAlreadyRunning = errors.New("sync already in progress")
	// ErrExecutableNotFound means no configured candidate path exists on disk.
	ErrExecutableNotFound = errors.New("script not found")
	// ErrLaunchFailed means the process could not be started.
	ErrLaunchFailed = errors.New("spawn failed")
	// ErrStorage wraps log store read/write faults.
	ErrStorage = errors.New("log storage fault")
)

// RunRequest is the input of a trigger call.
type RunRequest struct {
	Force bool
	// Actor and RequestID only feed the audit trail.
	Actor     string
	RequestID string
}

// RunState is the process-wide single-flight state. It is never persisted.
type RunState struct {
	Active    bool
	RunID     string
	Seq       uint64
	StartedAt *time.Time
	Forced    bool
}

// RunOutcome is the terminal classification recorded in run history.
type RunOutcome string

const (
	RunOutcomeRunning      RunOutcome = "running"
	RunOutcomeSucceeded    RunOutcome = "succeeded"
	RunOutcomeFailed       RunOutcome = "failed"
	RunOutcomeLaunchFailed RunOutcome = "launch_failed"
)

// NormalizeRunOutcome maps stored status values to canonical outcomes.
func NormalizeRunOutcome(value string) RunOutcome {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(RunOutcomeRunning), "active":
		return RunOutcomeRunning
	case string(RunOutcomeSucceeded), "success":
		return RunOutcomeSucceeded
	case string(RunOutcomeFailed):
		return RunOutcomeFailed
	case string(RunOutcomeLaunchFailed), "spawn_failed":
		return RunOutcomeLaunchFailed
	default:
		return ""
	}
}

// Terminal reports whether the outcome ends a run.
func (o RunOutcome) Terminal() bool {
	switch o {
	case RunOutcomeSucceeded, RunOutcomeFailed, RunOutcomeLaunchFailed:
		return true
	default:
		return false
	}
}
