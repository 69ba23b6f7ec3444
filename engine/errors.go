package engine

import (
	"errors"

	"pathsender/engine/internal/controllerclient"
	"pathsender/engine/internal/retry"
)

// Sentinel errors returned by the coordinator's synchronous operations and
// recorded (via errors.Is-compatible wrapping) on asynchronous job failures.
var (
	// ErrInvalidInput is returned when start_job is called with malformed or
	// missing required input.
	ErrInvalidInput = errors.New("invalid input")
	// ErrBusy is returned when start_job is called while another job is
	// pending or running.
	ErrBusy = errors.New("path transmission already in progress")
	// ErrCancelled marks a job that unwound because of an explicit cancel.
	ErrCancelled = errors.New("Cancelled")
	// ErrControllerRejected marks a job that failed because the controller's
	// acknowledgement was malformed, carried an error, a non-success status,
	// or success=false.
	ErrControllerRejected = controllerclient.ErrControllerRejected
	// ErrDeadlineExceeded marks a job that failed because the send retry loop
	// exceeded its configured deadline.
	ErrDeadlineExceeded = retry.ErrDeadlineExceeded
)
