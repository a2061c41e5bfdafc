package storage

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/calliope-studio/calliope/internal/events"
)

func TestEventLogger_WriteAndReadBack(t *testing.T) {
	dir := t.TempDir()
	bus := events.NewBus(64)
	defer bus.Close()

	el := NewEventLogger(dir, bus)
	defer el.Close()

	bus.Publish(events.Event{
		ID:        "evt-1",
		Type:      events.EventTaskCreated,
		Timestamp: time.Now(),
		Source:    events.SourceDispatcher,
		Payload:   map[string]any{"kind": "GENERATE_IDEAS"},
	})

	// Give the async subscriber time to process.
	time.Sleep(100 * time.Millisecond)

	data, err := os.ReadFile(filepath.Join(dir, "_global.jsonl"))
	if err != nil {
		t.Fatalf("read JSONL: %v", err)
	}

	var got events.Event
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != "evt-1" {
		t.Errorf("got ID %q, want %q", got.ID, "evt-1")
	}
	if got.Type != events.EventTaskCreated {
		t.Errorf("got type %q, want %q", got.Type, events.EventTaskCreated)
	}
}

func TestEventLogger_TaskRouting(t *testing.T) {
	dir := t.TempDir()
	bus := events.NewBus(64)
	defer bus.Close()

	el := NewEventLogger(dir, bus)
	defer el.Close()

	bus.Publish(events.Event{
		ID:        "evt-global",
		Type:      events.EventScheduleTrigger,
		Timestamp: time.Now(),
		Source:    events.SourceScheduler,
	})
	bus.Publish(events.Event{
		ID:        "evt-task",
		TaskID:    "task_abc12345",
		Type:      events.EventTaskStarted,
		Timestamp: time.Now(),
		Source:    events.SourceExecutor,
	})

	time.Sleep(100 * time.Millisecond)

	if _, err := os.Stat(filepath.Join(dir, "_global.jsonl")); err != nil {
		t.Fatalf("_global.jsonl missing: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "task_abc12345.jsonl"))
	if err != nil {
		t.Fatalf("task file missing: %v", err)
	}
	var got events.Event
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != "evt-task" {
		t.Errorf("got ID %q, want %q", got.ID, "evt-task")
	}
}

func TestEventLogger_AppendsLifecycle(t *testing.T) {
	dir := t.TempDir()
	bus := events.NewBus(64)
	defer bus.Close()

	el := NewEventLogger(dir, bus)
	defer el.Close()

	types := []events.EventType{
		events.EventTaskCreated,
		events.EventTaskStarted,
		events.EventTaskCompleted,
	}
	for i, et := range types {
		bus.Publish(events.Event{
			ID:        string(rune('a' + i)),
			TaskID:    "task_life0001",
			Type:      et,
			Timestamp: time.Now(),
			Source:    events.SourceExecutor,
		})
	}

	time.Sleep(100 * time.Millisecond)

	f, err := os.Open(filepath.Join(dir, "task_life0001.jsonl"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var count int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e events.Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("unmarshal line %d: %v", count, err)
		}
		count++
	}
	if count != len(types) {
		t.Errorf("got %d events, want %d", count, len(types))
	}
}

func TestEventLogger_DirectoryAutoCreation(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	bus := events.NewBus(64)
	defer bus.Close()

	el := NewEventLogger(dir, bus)
	defer el.Close()

	bus.Publish(events.Event{
		ID:        "evt-auto",
		Type:      events.EventTaskCreated,
		Timestamp: time.Now(),
		Source:    events.SourceDispatcher,
	})

	time.Sleep(100 * time.Millisecond)

	if _, err := os.Stat(filepath.Join(dir, "_global.jsonl")); err != nil {
		t.Fatalf("directory not auto-created: %v", err)
	}
}
