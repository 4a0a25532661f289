package services

import "errors"

// Error taxonomy. Callers discriminate with errors.Is; services wrap these
// with fmt.Errorf("...: %w", ...) to add the denied field, conflicting
// task, etc.
var (
	// ErrPermissionDenied is an authorization failure. Recoverable; the
	// message names the operation/field that was refused.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidTransition is a bad status value or a disallowed entry
	// (e.g. leaving COMPLETED outside the reopen operation).
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNotFound is a missing task/series/client/user reference.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict is a concurrent-write collision on a task; the
	// caller should re-read and retry.
	ErrVersionConflict = errors.New("version conflict")

	// ErrInvalidValue is a field value that cannot be parsed or fails
	// validation (bad date, unknown status name, malformed boolean).
	ErrInvalidValue = errors.New("invalid value")

	// ErrTransport is an external mail/calendar/storage failure. Always
	// non-fatal to the mutation that triggered the call.
	ErrTransport = errors.New("transport error")

	// ErrUnauthenticated means no valid identity could be resolved from
	// the presented credential.
	ErrUnauthenticated = errors.New("unauthenticated")
)
