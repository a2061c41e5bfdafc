// Package tasks provides the durable task model, lifecycle state machine,
// and execution engine for deferred content generation.
package tasks

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind selects which generation routine a task runs.
type Kind string

const (
	KindGenerateMediaPlan   Kind = "GENERATE_MEDIA_PLAN"
	KindCreateBrandFromIdea Kind = "CREATE_BRAND_FROM_IDEA"
	KindGenerateKit         Kind = "GENERATE_KIT"
	KindGenerateIdeas       Kind = "GENERATE_IDEAS"
	KindGeneratePersonas    Kind = "GENERATE_PERSONAS"
	KindGenerateTrends      Kind = "GENERATE_TRENDS"
)

// Kinds lists every known task kind.
func Kinds() []Kind {
	return []Kind{
		KindGenerateMediaPlan,
		KindCreateBrandFromIdea,
		KindGenerateKit,
		KindGenerateIdeas,
		KindGeneratePersonas,
		KindGenerateTrends,
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}

// RequiresBrand reports whether tasks of this kind must reference a brand.
// Brand creation is the one kind that has no brand yet.
func (k Kind) RequiresBrand() bool {
	return k != KindCreateBrandFromIdea
}

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transition is permitted from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether the lifecycle edge from → to exists.
// queued → processing → {completed, failed}; queued|processing → cancelled;
// queued → failed covers dispatch failures. Terminal states are absorbing.
func CanTransition(from, to Status) bool {
	switch to {
	case StatusProcessing:
		return from == StatusQueued
	case StatusCompleted:
		return from == StatusProcessing
	case StatusFailed:
		return from == StatusQueued || from == StatusProcessing
	case StatusCancelled:
		return from == StatusQueued || from == StatusProcessing
	default:
		return false
	}
}

// transitionSources returns the statuses a task may hold immediately before
// moving to the given status. Used by the store to guard updates.
func transitionSources(to Status) []Status {
	var from []Status
	for _, s := range []Status{StatusQueued, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled} {
		if CanTransition(s, to) {
			from = append(from, s)
		}
	}
	return from
}

// Task represents one deferred content-generation request.
type Task struct {
	ID         string          `json:"taskId"`
	UserID     string          `json:"userId"`
	BrandID    string          `json:"brandId,omitempty"`
	Kind       Kind            `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Status     Status          `json:"status"`
	Progress   int             `json:"progress"` // 0-100, advisory
	Result     json.RawMessage `json:"result,omitempty"`
	LastError  string          `json:"error,omitempty"`
	RetryCount int             `json:"retryCount"`
	MaxRetries int             `json:"maxRetries"`

	QueuedAt    time.Time  `json:"queuedAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Validate checks the fields required before a task may be persisted.
func (t *Task) Validate() error {
	if t.Kind == "" {
		return &ValidationError{Field: "type", Reason: "required"}
	}
	if !t.Kind.Valid() {
		return &ValidationError{Field: "type", Reason: "unknown task type " + string(t.Kind)}
	}
	if t.UserID == "" {
		return &ValidationError{Field: "userId", Reason: "required"}
	}
	if len(t.Payload) == 0 {
		return &ValidationError{Field: "payload", Reason: "required"}
	}
	if t.BrandID == "" && t.Kind.RequiresBrand() {
		return &ValidationError{Field: "brandId", Reason: "required for " + string(t.Kind)}
	}
	return nil
}

// GenerateTaskID creates a unique task identifier. The full UUID is kept:
// ids must stay unique for the lifetime of the store, and a truncated id
// starts colliding within tens of thousands of tasks.
func GenerateTaskID() string {
	return "task_" + uuid.New().String()
}
