package release

import (
	"errors"
	"fmt"
)

var (
	// ErrNoActiveRun is returned by inspection/abort when the controller is idle.
	ErrNoActiveRun = errors.New("no active deployment run")

	// ErrAbortRefused is returned for abort requests at or after Swapping; the
	// run must reach Completed or Failed so the host is never left with two
	// instances routed or zero instances routed.
	ErrAbortRefused = errors.New("abort refused: run is at or past traffic swap")

	// ErrLockContention means a run was requested while another is active.
	// Callers queue on it; it is not surfaced as a failure.
	ErrLockContention = errors.New("deployment run already active")
)

// ProbeTimeoutError means the candidate never became healthy. It triggers the
// rollback path; the previously routed instance is untouched.
type ProbeTimeoutError struct {
	InstanceID string
	Attempts   int
}

func (e *ProbeTimeoutError) Error() string {
	return fmt.Sprintf("candidate %s failed health validation after %d attempts", e.InstanceID, e.Attempts)
}

// SwapError means the routing update failed. The swap was never confirmed, so
// the previous instance remains authoritative and the candidate is discarded.
type SwapError struct {
	Port int
	Err  error
}

func (e *SwapError) Error() string {
	return fmt.Sprintf("failed to swap traffic to port %d: %v", e.Port, e.Err)
}

func (e *SwapError) Unwrap() error { return e.Err }

// RetireError means the old instance failed to terminate after a successful
// swap. Traffic continuity already holds, so this is reported, not retried.
type RetireError struct {
	InstanceID string
	Err        error
}

func (e *RetireError) Error() string {
	return fmt.Sprintf("failed to retire previous instance %s: %v", e.InstanceID, e.Err)
}

func (e *RetireError) Unwrap() error { return e.Err }
