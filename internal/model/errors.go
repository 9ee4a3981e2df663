package model

import "errors"

// Sentinel errors shared by services and adapters. Callers classify with
// errors.Is; the HTTP layer maps them to status codes.
var (
	// ErrValidation marks malformed keys or request input. Rejected
	// synchronously, never recorded on a task.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks an unknown task, persona, or record.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks a duplicate consolidation request for a key that
	// already has a queued or running task.
	ErrConflict = errors.New("conflict")

	// ErrStorage marks a durable write or read failure.
	ErrStorage = errors.New("storage error")

	// ErrTransient marks a collaborator timeout or network failure. The
	// owning task fails; a re-finalize is safe.
	ErrTransient = errors.New("transient error")

	// ErrData marks malformed collaborator output (unparseable extraction).
	ErrData = errors.New("data error")
)
