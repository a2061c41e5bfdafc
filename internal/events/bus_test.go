package events

import (
	"sync"
	"testing"
	"time"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus(64)
	defer bus.Close()

	var mu sync.Mutex
	var received []Event

	bus.Subscribe(func(e Event) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
	}, EventTaskCreated)

	bus.Publish(NewTypedEvent("test", TaskCreatedPayload{TaskID: "task_abc", Kind: "GENERATE_IDEAS"}))
	bus.Publish(NewTypedEvent("test", TaskStartedPayload{TaskID: "task_abc"}))

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	if len(received) != 1 {
		t.Fatalf("expected 1 event, got %d", len(received))
	}
	if received[0].Type != EventTaskCreated {
		t.Errorf("expected task.created, got %s", received[0].Type)
	}
}

func TestBusSubscribeAll(t *testing.T) {
	bus := NewBus(64)
	defer bus.Close()

	var mu sync.Mutex
	count := 0

	bus.Subscribe(func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	bus.Publish(NewTypedEvent("test", TaskCreatedPayload{TaskID: "task_abc"}))
	bus.Publish(NewTypedEvent("test", TaskFailedPayload{TaskID: "task_abc", Error: "boom"}))

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	if count != 2 {
		t.Errorf("expected 2 events, got %d", count)
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus(64)
	defer bus.Close()

	var mu sync.Mutex
	count := 0

	unsub := bus.Subscribe(func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	bus.Publish(NewTypedEvent("test", TaskCreatedPayload{TaskID: "t1"}))
	time.Sleep(50 * time.Millisecond)
	unsub()
	bus.Publish(NewTypedEvent("test", TaskCreatedPayload{TaskID: "t2"}))
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	if count != 1 {
		t.Errorf("expected 1 event after unsubscribe, got %d", count)
	}
}

func TestBusPublishAfterClose(t *testing.T) {
	bus := NewBus(4)

	var mu sync.Mutex
	count := 0
	bus.Subscribe(func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	bus.Close()
	bus.Close() // idempotent

	bus.Publish(NewTypedEvent("test", TaskCreatedPayload{TaskID: "t1"}))
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Errorf("expected no events after close, got %d", count)
	}
}

func TestRingBuffer(t *testing.T) {
	rb := NewRingBuffer(3)

	for i := 0; i < 5; i++ {
		rb.Add(NewEvent(EventTaskCreated, "test", map[string]any{"i": i}))
	}

	events := rb.Get(10)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
}

func TestGetModelCallPayload(t *testing.T) {
	e := NewTypedEvent(SourceEngine, ModelCallPayload{
		Model:    "gpt-4o",
		Provider: "openai",
		Phase:    ModelCallFailed,
		Error:    "timeout",
	})

	p, ok := GetModelCallPayload(e)
	if !ok {
		t.Fatal("expected payload")
	}
	if p.Model != "gpt-4o" || p.Provider != "openai" || p.Phase != ModelCallFailed {
		t.Errorf("unexpected payload: %+v", p)
	}

	// Wrong event type
	if _, ok := GetModelCallPayload(NewTypedEvent("test", TaskCreatedPayload{})); ok {
		t.Error("expected no payload for non-model-call event")
	}
}

func TestNewTypedEventForTask(t *testing.T) {
	e := NewTypedEventForTask(SourceExecutor, TaskStartedPayload{TaskID: "task_xyz"}, "task_xyz")
	if e.TaskID != "task_xyz" {
		t.Errorf("expected task id, got %q", e.TaskID)
	}
	if e.Type != EventTaskStarted {
		t.Errorf("expected task.started, got %s", e.Type)
	}
}
