// Package dispatch admits new tasks and routes them to an execution backend:
// the durable queue in production, the local worker pool otherwise.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/calliope-studio/calliope/internal/events"
	"github.com/calliope-studio/calliope/internal/queue"
	"github.com/calliope-studio/calliope/internal/ratelimit"
	"github.com/calliope-studio/calliope/internal/tasks"
)

// ErrScheduling reports that a task was created but could not be handed to
// any execution backend. The task is marked failed before this is returned.
var ErrScheduling = errors.New("task scheduling failed")

// RateLimitedError reports a submission rejected by the per-user cooldown.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry in %s", e.RetryAfter.Round(time.Second))
}

// Dispatcher validates, persists, and routes task submissions.
type Dispatcher struct {
	store      tasks.Store
	bus        *events.Bus
	limiter    *ratelimit.Limiter
	publisher  queue.Publisher
	pool       *Pool
	production bool
}

// Config holds dispatcher wiring.
type Config struct {
	Store   tasks.Store
	Bus     *events.Bus
	Limiter *ratelimit.Limiter
	// Publisher is the durable queue backend; nil when the queue is not
	// configured.
	Publisher queue.Publisher
	// Pool is the local fallback backend.
	Pool *Pool
	// Production selects the durable queue over the local pool.
	Production bool
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg Config) *Dispatcher {
	return &Dispatcher{
		store:      cfg.Store,
		bus:        cfg.Bus,
		limiter:    cfg.Limiter,
		publisher:  cfg.Publisher,
		pool:       cfg.Pool,
		production: cfg.Production,
	}
}

// Submit admits a new task: rate limit, persist, route. On a routing failure
// the task is marked failed so the submitter never waits on a task nothing
// will execute.
func (d *Dispatcher) Submit(ctx context.Context, t *tasks.Task) error {
	if d.limiter != nil && t.UserID != "" {
		if !d.limiter.Admit(t.UserID) {
			return &RateLimitedError{RetryAfter: d.limiter.Remaining(t.UserID)}
		}
	}

	if err := d.store.Create(ctx, t); err != nil {
		return err
	}

	channel := "local"
	if d.production && d.publisher != nil {
		channel = "queue"
	}
	d.publish(events.NewTypedEventForTask(events.SourceDispatcher, events.TaskCreatedPayload{
		TaskID:  t.ID,
		Kind:    string(t.Kind),
		UserID:  t.UserID,
		BrandID: t.BrandID,
		Channel: channel,
	}, t.ID))

	if err := d.route(ctx, t.ID); err != nil {
		d.markSchedulingFailure(ctx, t.ID, err)
		return fmt.Errorf("%w: %w", ErrScheduling, err)
	}

	return nil
}

// Redispatch routes an existing task again, used by recurring schedules and
// admin retries. It does not touch the rate limiter.
func (d *Dispatcher) Redispatch(ctx context.Context, taskID string) error {
	if err := d.route(ctx, taskID); err != nil {
		d.markSchedulingFailure(ctx, taskID, err)
		return fmt.Errorf("%w: %w", ErrScheduling, err)
	}
	return nil
}

func (d *Dispatcher) route(ctx context.Context, taskID string) error {
	if d.production && d.publisher != nil {
		if err := d.publisher.Publish(ctx, taskID); err != nil {
			return fmt.Errorf("queue publish: %w", err)
		}
		slog.Debug("task published to queue", "task_id", taskID)
		return nil
	}

	if d.pool != nil {
		if err := d.pool.Enqueue(taskID); err != nil {
			return fmt.Errorf("local pool: %w", err)
		}
		slog.Debug("task enqueued locally", "task_id", taskID)
		return nil
	}

	return errors.New("no execution backend configured")
}

func (d *Dispatcher) markSchedulingFailure(ctx context.Context, taskID string, cause error) {
	msg := "scheduling error: " + cause.Error()
	if err := d.store.UpdateStatus(ctx, taskID, tasks.StatusFailed, tasks.StatusUpdate{LastError: &msg}); err != nil {
		slog.Error("mark scheduling failure", "task_id", taskID, "error", err)
		return
	}
	d.publish(events.NewTypedEventForTask(events.SourceDispatcher, events.TaskFailedPayload{
		TaskID: taskID,
		Error:  msg,
	}, taskID))
}

func (d *Dispatcher) publish(ev events.Event) {
	if d.bus != nil {
		d.bus.Publish(ev)
	}
}
