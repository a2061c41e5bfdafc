package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/calliope-studio/calliope/internal/events"
)

// Handler runs the generation routine for one task kind and returns the
// result document to persist.
type Handler func(ctx context.Context, t *Task) (json.RawMessage, error)

// HandlerMap binds each task kind to its routine. Registration is explicit:
// an unknown kind at execution time is a failure, not a silent skip.
type HandlerMap map[Kind]Handler

// Executor loads a task, walks it through the lifecycle, runs the matching
// generation routine, and persists the outcome.
type Executor struct {
	store    Store
	bus      *events.Bus
	handlers HandlerMap
}

// NewExecutor creates an Executor over the given store and handler map.
func NewExecutor(store Store, bus *events.Bus, handlers HandlerMap) *Executor {
	return &Executor{store: store, bus: bus, handlers: handlers}
}

// Execute processes one task to a terminal state. It is safe against
// duplicate delivery: invoking it again for a task that already reached a
// terminal state (or that another invocation is processing) is a logged
// no-op and returns nil, so the delivery channel does not retry.
//
// Errors from the generation routine are persisted onto the task as
// status=failed before being returned, so the task record and the caller
// always agree on the outcome.
func (e *Executor) Execute(ctx context.Context, taskID string) error {
	t, err := e.store.Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", taskID, err)
	}

	if t.Status.Terminal() {
		slog.Info("task already terminal, skipping duplicate delivery",
			"task", taskID, "status", t.Status)
		return nil
	}

	handler, ok := e.handlers[t.Kind]
	if !ok {
		err := fmt.Errorf("no handler registered for task type %s", t.Kind)
		e.markFailed(ctx, t, err)
		return err
	}

	started := time.Now().UTC()
	err = e.store.UpdateStatus(ctx, taskID, StatusProcessing, StatusUpdate{StartedAt: &started})
	if errors.Is(err, ErrStaleTransition) {
		// Another delivery won the queued→processing race, or the task was
		// cancelled between the read above and this write.
		slog.Info("task not in queued state, skipping", "task", taskID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("start task %s: %w", taskID, err)
	}

	e.publish(events.NewTypedEventForTask(events.SourceExecutor, events.TaskStartedPayload{
		TaskID: taskID,
		Kind:   string(t.Kind),
	}, taskID))

	result, runErr := handler(ctx, t)
	if runErr != nil {
		e.markFailed(ctx, t, runErr)
		return fmt.Errorf("task %s: %w", taskID, runErr)
	}

	progress := 100
	completed := time.Now().UTC()
	err = e.store.UpdateStatus(ctx, taskID, StatusCompleted, StatusUpdate{
		Progress:    &progress,
		Result:      result,
		CompletedAt: &completed,
	})
	if errors.Is(err, ErrStaleTransition) {
		// The task left processing while the routine ran (cancelled). The
		// terminal status wins; the late result is dropped.
		slog.Warn("dropping stale completion for task no longer processing", "task", taskID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("complete task %s: %w", taskID, err)
	}

	e.publish(events.NewTypedEventForTask(events.SourceExecutor, events.TaskCompletedPayload{
		TaskID:    taskID,
		Kind:      string(t.Kind),
		ModelUsed: modelUsedFromResult(result),
	}, taskID))

	return nil
}

// markFailed persists the failure reason onto the task. A rejected write
// means the task reached a terminal state concurrently; the earlier status
// is kept.
func (e *Executor) markFailed(ctx context.Context, t *Task, cause error) {
	msg := cause.Error()
	err := e.store.UpdateStatus(ctx, t.ID, StatusFailed, StatusUpdate{LastError: &msg})
	if errors.Is(err, ErrStaleTransition) {
		slog.Info("task already terminal, keeping existing status", "task", t.ID)
		return
	}
	if err != nil {
		slog.Error("failed to persist task failure", "task", t.ID, "error", err)
		return
	}

	e.publish(events.NewTypedEventForTask(events.SourceExecutor, events.TaskFailedPayload{
		TaskID: t.ID,
		Kind:   string(t.Kind),
		Error:  msg,
	}, t.ID))
}

func (e *Executor) publish(ev events.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}

// modelUsedFromResult pulls the audited model name out of a result document.
func modelUsedFromResult(result json.RawMessage) string {
	if len(result) == 0 {
		return ""
	}
	var doc struct {
		ModelUsed string `json:"modelUsed"`
	}
	if err := json.Unmarshal(result, &doc); err != nil {
		return ""
	}
	return doc.ModelUsed
}
