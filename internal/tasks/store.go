package tasks

import (
	"context"
	"encoding/json"
	"time"
)

// StatusUpdate carries the optional fields of an UpdateStatus call.
// Nil fields are left untouched.
type StatusUpdate struct {
	Progress    *int
	Result      json.RawMessage
	LastError   *string
	StartedAt   *time.Time
	CompletedAt *time.Time
	RetryCount  *int
}

// Store defines the persistence contract for tasks. Implementations must
// apply UpdateStatus atomically and enforce the lifecycle state machine:
// an update whose source status does not permit the transition returns
// ErrStaleTransition and leaves the row unchanged.
type Store interface {
	// Create validates the task, assigns its id and initial queued state,
	// and persists it. Returns a *ValidationError on missing fields.
	Create(ctx context.Context, t *Task) error

	// Get returns the task by its public id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Task, error)

	// UpdateStatus atomically moves the task to status and applies upd,
	// always refreshing UpdatedAt. Returns ErrNotFound if the task is
	// missing and ErrStaleTransition if the state machine rejects the edge.
	UpdateStatus(ctx context.Context, id string, status Status, upd StatusUpdate) error

	// ListByBrand returns the brand's tasks, newest first by creation time.
	ListByBrand(ctx context.Context, brandID string) ([]*Task, error)
}
