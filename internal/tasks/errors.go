package tasks

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a task id does not exist.
	ErrNotFound = errors.New("task not found")

	// ErrStaleTransition is returned when a status update is rejected by the
	// state machine guard, e.g. completing a task that was cancelled while it
	// ran, or a duplicate delivery racing an in-flight execution. Callers
	// treat it as a no-op, not a fault.
	ErrStaleTransition = errors.New("status transition rejected")

	// ErrNotOwner is returned when a mutating request names a user that did
	// not submit the task.
	ErrNotOwner = errors.New("task does not belong to user")
)

// ValidationError reports a missing or malformed field on task creation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid field %q: %s", e.Field, e.Reason)
}
