package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/calliope-studio/calliope/internal/ratelimit"
	"github.com/calliope-studio/calliope/internal/tasks"
)

// memStore is a minimal in-memory tasks.Store for dispatcher tests.
type memStore struct {
	mu    sync.Mutex
	tasks map[string]*tasks.Task
}

func newMemStore() *memStore {
	return &memStore{tasks: make(map[string]*tasks.Task)}
}

func (s *memStore) Create(ctx context.Context, t *tasks.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = tasks.GenerateTaskID()
	}
	t.Status = tasks.StatusQueued
	t.QueuedAt = time.Now().UTC()
	cp := *t
	s.tasks[t.ID] = &cp
	return nil
}

func (s *memStore) Get(ctx context.Context, id string) (*tasks.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, tasks.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *memStore) UpdateStatus(ctx context.Context, id string, status tasks.Status, upd tasks.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return tasks.ErrNotFound
	}
	if !tasks.CanTransition(t.Status, status) {
		return tasks.ErrStaleTransition
	}
	t.Status = status
	if upd.LastError != nil {
		t.LastError = *upd.LastError
	}
	if upd.Result != nil {
		t.Result = upd.Result
	}
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memStore) ListByBrand(ctx context.Context, brandID string) ([]*tasks.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*tasks.Task
	for _, t := range s.tasks {
		if t.BrandID == brandID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

// recordingPublisher captures published task IDs.
type recordingPublisher struct {
	mu      sync.Mutex
	taskIDs []string
	err     error
}

func (p *recordingPublisher) Publish(ctx context.Context, taskID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.taskIDs = append(p.taskIDs, taskID)
	return nil
}

// sleepRunner blocks until its context is cancelled.
type sleepRunner struct{}

func (sleepRunner) Execute(ctx context.Context, taskID string) error {
	<-ctx.Done()
	return nil
}

// recordingRunner captures executed task IDs.
type recordingRunner struct {
	mu      sync.Mutex
	taskIDs []string
	done    chan string
}

func (r *recordingRunner) Execute(ctx context.Context, taskID string) error {
	r.mu.Lock()
	r.taskIDs = append(r.taskIDs, taskID)
	r.mu.Unlock()
	if r.done != nil {
		r.done <- taskID
	}
	return nil
}

func newTask() *tasks.Task {
	return &tasks.Task{
		UserID:  "user-1",
		BrandID: "brand-1",
		Kind:    tasks.KindGenerateIdeas,
		Payload: json.RawMessage(`{"preferredModel":"gpt-4o"}`),
	}
}

func TestDispatcher_ProductionPublishesToQueue(t *testing.T) {
	store := newMemStore()
	pub := &recordingPublisher{}
	d := NewDispatcher(Config{
		Store:      store,
		Publisher:  pub,
		Production: true,
	})

	task := newTask()
	if err := d.Submit(context.Background(), task); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if len(pub.taskIDs) != 1 || pub.taskIDs[0] != task.ID {
		t.Fatalf("expected queue publish of %s, got %v", task.ID, pub.taskIDs)
	}

	stored, err := store.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != tasks.StatusQueued {
		t.Fatalf("expected queued, got %s", stored.Status)
	}
}

func TestDispatcher_LocalFallsBackToPool(t *testing.T) {
	store := newMemStore()
	runner := &recordingRunner{done: make(chan string, 1)}
	pool := NewPool(runner, 1, 4)
	pool.Start()
	defer pool.Stop()

	d := NewDispatcher(Config{Store: store, Pool: pool})

	task := newTask()
	if err := d.Submit(context.Background(), task); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case got := <-runner.done:
		if got != task.ID {
			t.Fatalf("pool executed %s, want %s", got, task.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pool never executed the task")
	}
}

func TestDispatcher_SchedulingFailureMarksTaskFailed(t *testing.T) {
	store := newMemStore()
	pub := &recordingPublisher{err: errors.New("queue is down")}
	d := NewDispatcher(Config{
		Store:      store,
		Publisher:  pub,
		Production: true,
	})

	task := newTask()
	err := d.Submit(context.Background(), task)
	if !errors.Is(err, ErrScheduling) {
		t.Fatalf("expected ErrScheduling, got %v", err)
	}

	stored, getErr := store.Get(context.Background(), task.ID)
	if getErr != nil {
		t.Fatalf("Get: %v", getErr)
	}
	if stored.Status != tasks.StatusFailed {
		t.Fatalf("expected failed, got %s", stored.Status)
	}
	if !strings.Contains(stored.LastError, "scheduling error") {
		t.Fatalf("expected scheduling error message, got %q", stored.LastError)
	}
}

func TestDispatcher_RateLimited(t *testing.T) {
	store := newMemStore()
	pub := &recordingPublisher{}
	d := NewDispatcher(Config{
		Store:      store,
		Limiter:    ratelimit.New(time.Minute),
		Publisher:  pub,
		Production: true,
	})

	if err := d.Submit(context.Background(), newTask()); err != nil {
		t.Fatalf("first Submit: %v", err)
	}

	err := d.Submit(context.Background(), newTask())
	var rl *RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if rl.RetryAfter <= 0 || rl.RetryAfter > time.Minute {
		t.Fatalf("unexpected RetryAfter %s", rl.RetryAfter)
	}

	// Rejected submission must not be persisted.
	if len(store.tasks) != 1 {
		t.Fatalf("expected 1 stored task, got %d", len(store.tasks))
	}
}

func TestDispatcher_ValidationErrorNotDispatched(t *testing.T) {
	store := newMemStore()
	pub := &recordingPublisher{}
	d := NewDispatcher(Config{Store: store, Publisher: pub, Production: true})

	bad := newTask()
	bad.UserID = ""
	err := d.Submit(context.Background(), bad)
	var ve *tasks.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(pub.taskIDs) != 0 {
		t.Fatal("invalid task must not reach the queue")
	}
}

func TestPool_EnqueueWhenStoppedFails(t *testing.T) {
	pool := NewPool(&recordingRunner{}, 1, 4)
	if err := pool.Enqueue("task_x"); err == nil {
		t.Fatal("expected error enqueueing on a stopped pool")
	}
}

func TestPool_FullQueueRejects(t *testing.T) {
	pool := NewPool(sleepRunner{}, 1, 1)
	pool.Start()
	defer pool.Stop()

	// One task occupies the worker, one fills the queue; give the worker a
	// moment to drain the first slot.
	if err := pool.Enqueue("task_a"); err != nil {
		t.Fatalf("Enqueue task_a: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for {
		if err := pool.Enqueue("task_b"); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("queue slot never freed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := pool.Enqueue("task_c"); err == nil {
		t.Fatal("expected error on full queue")
	}
}
