package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/calliope-studio/calliope/internal/events"
	"github.com/calliope-studio/calliope/internal/tasks"
)

// DefaultCooldown is the minimum interval between two triggers of the same
// entry. It guards against double-fires when the minute tick drifts.
const DefaultCooldown = 60 * time.Second

// TaskCreator persists new tasks. Satisfied by tasks.Store.
type TaskCreator interface {
	Create(ctx context.Context, t *tasks.Task) error
}

// TaskRouter hands an existing task to the execution channel without
// rate limiting. Satisfied by dispatch.Dispatcher.
type TaskRouter interface {
	Redispatch(ctx context.Context, taskID string) error
}

// Config holds dependencies for the scheduler.
type Config struct {
	Tasks      TaskCreator
	Dispatcher TaskRouter
	Bus        *events.Bus    // nil-safe: trigger events are dropped without a bus
	Store      *ScheduleStore // nil-safe: entries are not persisted without a store
}

// runtimeEntry is the in-memory representation of a schedule entry.
type runtimeEntry struct {
	id        string
	userID    string
	brandID   string
	kind      tasks.Kind
	payload   []byte
	cron      *CronExpr
	maxRuns   int
	runCount  int
	enabled   bool
	createdAt time.Time
	lastRun   time.Time
}

// Scheduler fires recurring generation tasks on cron cadences. Triggered
// tasks bypass the per-user rate limiter: a user's own submissions should
// not starve their standing schedules, and vice versa.
type Scheduler struct {
	tasks      TaskCreator
	dispatcher TaskRouter
	bus        *events.Bus
	store      *ScheduleStore

	mu      sync.Mutex
	entries map[string]*runtimeEntry

	done chan struct{}
}

// New creates a new Scheduler.
func New(cfg Config) *Scheduler {
	return &Scheduler{
		tasks:      cfg.Tasks,
		dispatcher: cfg.Dispatcher,
		bus:        cfg.Bus,
		store:      cfg.Store,
		entries:    make(map[string]*runtimeEntry),
		done:       make(chan struct{}),
	}
}

// Start loads persisted entries and begins the cron ticker.
func (s *Scheduler) Start() {
	s.loadPersistedEntries()

	slog.Info("scheduler started", "entries", len(s.entries))

	go s.cronLoop()
}

// Stop halts the scheduler.
func (s *Scheduler) Stop() {
	close(s.done)
	slog.Info("scheduler stopped")
}

// AddEntry registers a schedule entry at runtime and persists it.
func (s *Scheduler) AddEntry(se *ScheduleEntry) error {
	if err := se.Validate(); err != nil {
		return err
	}

	if se.ID == "" {
		se.ID = GenerateScheduleID()
	}

	expr, err := ParseCron(se.CronSpec)
	if err != nil {
		return fmt.Errorf("parse cron: %w", err)
	}

	if s.store != nil {
		if err := s.store.Create(se); err != nil {
			return fmt.Errorf("persist schedule: %w", err)
		}
	}

	re := &runtimeEntry{
		id:        se.ID,
		userID:    se.UserID,
		brandID:   se.BrandID,
		kind:      se.Kind,
		payload:   se.Payload,
		cron:      expr,
		maxRuns:   se.MaxRuns,
		runCount:  se.RunCount,
		enabled:   se.Enabled,
		createdAt: se.CreatedAt,
	}
	if se.LastRunAt != nil {
		re.lastRun = *se.LastRunAt
	}

	s.mu.Lock()
	s.entries[se.ID] = re
	s.mu.Unlock()

	slog.Info("scheduler: added entry", "id", se.ID, "type", se.Kind, "cron", se.CronSpec)
	return nil
}

// RemoveEntry removes a schedule entry by ID.
func (s *Scheduler) RemoveEntry(id string) error {
	s.mu.Lock()
	_, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("schedule entry not found: %s", id)
	}
	delete(s.entries, id)
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.Delete(id); err != nil {
			slog.Warn("scheduler: failed to delete persisted entry", "id", id, "error", err)
		}
	}

	slog.Info("scheduler: removed entry", "id", id)
	return nil
}

// GetEntry returns a schedule entry by ID.
func (s *Scheduler) GetEntry(id string) (*ScheduleEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	re, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	return runtimeToScheduleEntry(re), true
}

// ListEntries returns all schedule entries as ScheduleEntry structs.
func (s *Scheduler) ListEntries() []*ScheduleEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*ScheduleEntry, 0, len(s.entries))
	for _, re := range s.entries {
		result = append(result, runtimeToScheduleEntry(re))
	}
	return result
}

func runtimeToScheduleEntry(re *runtimeEntry) *ScheduleEntry {
	se := &ScheduleEntry{
		ID:        re.id,
		UserID:    re.userID,
		BrandID:   re.brandID,
		Kind:      re.kind,
		Payload:   re.payload,
		CronSpec:  re.cron.String(),
		MaxRuns:   re.maxRuns,
		RunCount:  re.runCount,
		Enabled:   re.enabled,
		CreatedAt: re.createdAt,
	}
	if !re.lastRun.IsZero() {
		t := re.lastRun
		se.LastRunAt = &t
	}
	return se
}

// loadPersistedEntries loads entries from the store (if available).
func (s *Scheduler) loadPersistedEntries() {
	if s.store == nil {
		return
	}

	entries, err := s.store.List()
	if err != nil {
		slog.Warn("scheduler: failed to load persisted entries", "error", err)
		return
	}

	for _, se := range entries {
		if !se.Enabled {
			continue
		}

		expr, err := ParseCron(se.CronSpec)
		if err != nil {
			slog.Warn("scheduler: invalid cron in persisted entry", "id", se.ID, "error", err)
			continue
		}

		re := &runtimeEntry{
			id:        se.ID,
			userID:    se.UserID,
			brandID:   se.BrandID,
			kind:      se.Kind,
			payload:   se.Payload,
			cron:      expr,
			maxRuns:   se.MaxRuns,
			runCount:  se.RunCount,
			enabled:   true,
			createdAt: se.CreatedAt,
		}
		if se.LastRunAt != nil {
			re.lastRun = *se.LastRunAt
		}

		s.entries[se.ID] = re
		slog.Info("scheduler: loaded persisted entry", "id", se.ID, "type", se.Kind, "cron", se.CronSpec)
	}
}

func (s *Scheduler) cronLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.checkCron(now)
		}
	}
}

func (s *Scheduler) checkCron(now time.Time) {
	// Reserve due entries under the lock, then trigger without it. Store
	// writes and task routing can be slow and must not block AddEntry or
	// the status endpoints.
	s.mu.Lock()
	var due []*runtimeEntry
	for _, entry := range s.entries {
		if !entry.enabled {
			continue
		}
		if !entry.cron.Matches(now) {
			continue
		}
		if now.Sub(entry.lastRun) < DefaultCooldown {
			continue
		}

		entry.lastRun = time.Now()
		entry.runCount++
		due = append(due, entry)
	}
	s.mu.Unlock()

	for _, entry := range due {
		s.triggerEntry(entry)
	}
}

// triggerEntry creates and routes a task for a reserved entry. The caller
// has already advanced lastRun and runCount under s.mu; the remaining
// fields read here are immutable after construction.
func (s *Scheduler) triggerEntry(re *runtimeEntry) {
	ctx := context.Background()

	task := &tasks.Task{
		UserID:  re.userID,
		BrandID: re.brandID,
		Kind:    re.kind,
		Payload: re.payload,
	}

	if err := s.tasks.Create(ctx, task); err != nil {
		slog.Error("scheduler: create task", "id", re.id, "error", err)
		s.recordRun(re.id, RunRecord{TriggeredAt: re.lastRun, Error: err.Error()})
		return
	}

	if err := s.dispatcher.Redispatch(ctx, task.ID); err != nil {
		slog.Error("scheduler: route task", "id", re.id, "task_id", task.ID, "error", err)
		s.recordRun(re.id, RunRecord{TaskID: task.ID, TriggeredAt: re.lastRun, Error: err.Error()})
		return
	}

	s.mu.Lock()
	if re.maxRuns > 0 && re.runCount >= re.maxRuns {
		re.enabled = false
		slog.Info("scheduler: entry reached max runs, disabled", "id", re.id, "runs", re.runCount)
	}
	se := runtimeToScheduleEntry(re)
	s.mu.Unlock()

	if s.store != nil {
		s.updateStoredEntry(se)
	}
	s.recordRun(re.id, RunRecord{TaskID: task.ID, TriggeredAt: re.lastRun})

	s.publish(events.NewTypedEventForTask(events.SourceScheduler, events.ScheduleTriggerPayload{
		ScheduleID: re.id,
		TaskID:     task.ID,
		Kind:       string(re.kind),
	}, task.ID))

	slog.Info("scheduler: triggered", "id", re.id, "task_id", task.ID)
}

func (s *Scheduler) publish(ev events.Event) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ev)
}

// updateStoredEntry persists runtime state back to store.
func (s *Scheduler) updateStoredEntry(se *ScheduleEntry) {
	if err := s.store.Update(se); err != nil {
		slog.Warn("scheduler: failed to update persisted entry", "id", se.ID, "error", err)
	}
}

func (s *Scheduler) recordRun(id string, run RunRecord) {
	if s.store == nil {
		return
	}
	if err := s.store.AppendRun(id, run); err != nil {
		slog.Warn("scheduler: failed to record run", "id", id, "error", err)
	}
}
