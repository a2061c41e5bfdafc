package storage

import (
	"sync"

	"github.com/calliope-studio/calliope/internal/events"
)

// ModelUsage aggregates fallback-engine attempts for one model.
type ModelUsage struct {
	Model      string `json:"model"`
	Provider   string `json:"provider"`
	Successes  int64  `json:"successes"`
	Failures   int64  `json:"failures"`
	TotalMs    int64  `json:"total_ms"`
	LastError  string `json:"last_error,omitempty"`
}

// ModelStats subscribes to model.call events and accumulates per-model
// success and failure counts. It backs the /api/stats endpoint.
type ModelStats struct {
	mu          sync.Mutex
	bus         *events.Bus
	usage       map[string]*ModelUsage
	unsubscribe func()
}

// NewModelStats creates a ModelStats listening for fallback engine events.
func NewModelStats(bus *events.Bus) *ModelStats {
	ms := &ModelStats{
		bus:   bus,
		usage: make(map[string]*ModelUsage),
	}
	ms.unsubscribe = bus.Subscribe(ms.handleEvent, events.EventModelCall)
	return ms
}

// Close unsubscribes the tracker from the event bus.
func (ms *ModelStats) Close() {
	if ms.unsubscribe != nil {
		ms.unsubscribe()
	}
}

func (ms *ModelStats) handleEvent(e events.Event) {
	payload, ok := events.GetModelCallPayload(e)
	if !ok {
		return
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	u, ok := ms.usage[payload.Model]
	if !ok {
		u = &ModelUsage{Model: payload.Model, Provider: payload.Provider}
		ms.usage[payload.Model] = u
	}

	switch payload.Phase {
	case events.ModelCallSucceeded:
		u.Successes++
	case events.ModelCallFailed:
		u.Failures++
		u.LastError = payload.Error
	}
	u.TotalMs += payload.DurationMs
}

// Snapshot returns a copy of the accumulated usage, keyed by model name.
func (ms *ModelStats) Snapshot() any {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	out := make(map[string]ModelUsage, len(ms.usage))
	for name, u := range ms.usage {
		out[name] = *u
	}
	return map[string]any{"models": out}
}
