package events

import (
	"encoding/json"
)

// EventPayload is the interface all typed payloads implement.
type EventPayload interface {
	EventType() EventType
}

// TaskCreatedPayload is emitted when a task is admitted and persisted.
type TaskCreatedPayload struct {
	TaskID  string `json:"task_id"`
	Kind    string `json:"kind"`
	UserID  string `json:"user_id"`
	BrandID string `json:"brand_id,omitempty"`
	Channel string `json:"channel"` // "queue" or "local"
}

func (TaskCreatedPayload) EventType() EventType { return EventTaskCreated }

// TaskStartedPayload is emitted when the executor begins processing.
type TaskStartedPayload struct {
	TaskID string `json:"task_id"`
	Kind   string `json:"kind"`
}

func (TaskStartedPayload) EventType() EventType { return EventTaskStarted }

// TaskCompletedPayload is emitted on successful completion.
type TaskCompletedPayload struct {
	TaskID    string `json:"task_id"`
	Kind      string `json:"kind"`
	ModelUsed string `json:"model_used,omitempty"`
}

func (TaskCompletedPayload) EventType() EventType { return EventTaskCompleted }

// TaskFailedPayload is emitted when a task reaches the failed state.
type TaskFailedPayload struct {
	TaskID string `json:"task_id"`
	Kind   string `json:"kind"`
	Error  string `json:"error"`
}

func (TaskFailedPayload) EventType() EventType { return EventTaskFailed }

// TaskCancelledPayload is emitted on user-initiated cancellation.
type TaskCancelledPayload struct {
	TaskID string `json:"task_id"`
	UserID string `json:"user_id"`
}

func (TaskCancelledPayload) EventType() EventType { return EventTaskCancelled }

// ModelCallPhase distinguishes attempt outcomes inside the fallback engine.
type ModelCallPhase string

const (
	ModelCallSucceeded ModelCallPhase = "succeeded"
	ModelCallFailed    ModelCallPhase = "failed"
)

// ModelCallPayload is emitted for every per-candidate generation attempt.
type ModelCallPayload struct {
	Model      string         `json:"model"`
	Provider   string         `json:"provider"`
	Phase      ModelCallPhase `json:"phase"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}

func (ModelCallPayload) EventType() EventType { return EventModelCall }

// ScheduleTriggerPayload is emitted when a schedule entry fires.
type ScheduleTriggerPayload struct {
	ScheduleID string `json:"schedule_id"`
	TaskID     string `json:"task_id,omitempty"`
	Kind       string `json:"kind"`
}

func (ScheduleTriggerPayload) EventType() EventType { return EventScheduleTrigger }

// NewTypedEvent creates an event from a typed payload.
func NewTypedEvent(source EventSource, payload EventPayload) Event {
	return NewEvent(payload.EventType(), source, toMap(payload))
}

// NewTypedEventForTask creates a task-scoped event from a typed payload.
func NewTypedEventForTask(source EventSource, payload EventPayload, taskID string) Event {
	e := NewTypedEvent(source, payload)
	e.TaskID = taskID
	return e
}

// GetModelCallPayload extracts a ModelCallPayload from an event, if present.
func GetModelCallPayload(e Event) (ModelCallPayload, bool) {
	if e.Type != EventModelCall {
		return ModelCallPayload{}, false
	}
	var p ModelCallPayload
	if !fromMap(e.Payload, &p) {
		return ModelCallPayload{}, false
	}
	return p, true
}

func toMap(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{}
	}
	return m
}

func fromMap(m map[string]any, out any) bool {
	data, err := json.Marshal(m)
	if err != nil {
		return false
	}
	return json.Unmarshal(data, out) == nil
}
