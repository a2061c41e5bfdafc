package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Runner executes a task by ID. Satisfied by tasks.Executor.
type Runner interface {
	Execute(ctx context.Context, taskID string) error
}

// Pool is the local execution backend: a bounded queue drained by a fixed
// set of worker goroutines. It stands in for the durable queue when none is
// configured, trading delivery durability for zero infrastructure.
type Pool struct {
	runner  Runner
	queue   chan string
	workers int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// NewPool creates a worker pool. workers and queueSize fall back to sane
// minimums when non-positive.
func NewPool(runner Runner, workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 16
	}
	return &Pool{
		runner:  runner,
		queue:   make(chan string, queueSize),
		workers: workers,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	p.ctx, p.cancel = context.WithCancel(context.Background())
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(i)
	}
	slog.Info("local task pool started", "workers", p.workers, "queue_size", cap(p.queue))
}

// Stop cancels in-flight executions and waits for workers to exit. Tasks
// still queued are abandoned in status queued; they are picked up again only
// by a new submission, which is acceptable for local development.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	slog.Info("local task pool stopped")
}

// Enqueue hands a task to the pool. Returns an error when the queue is full
// or the pool is not running, so the caller can fail the task instead of
// silently losing it.
func (p *Pool) Enqueue(taskID string) error {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		return fmt.Errorf("task pool is not running")
	}

	select {
	case p.queue <- taskID:
		return nil
	default:
		return fmt.Errorf("task pool queue is full (%d pending)", cap(p.queue))
	}
}

func (p *Pool) work(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case taskID := <-p.queue:
			if err := p.runner.Execute(p.ctx, taskID); err != nil {
				slog.Error("task execution failed", "worker", id, "task_id", taskID, "error", err)
			}
		}
	}
}
