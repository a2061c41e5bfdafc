package scheduler

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/calliope-studio/calliope/internal/tasks"
)

// ScheduleEntry describes a recurring generation task: what to generate,
// for whom, and on which cron cadence.
type ScheduleEntry struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	BrandID   string          `json:"brandId,omitempty"`
	Kind      tasks.Kind      `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CronSpec  string          `json:"cronSpec"`
	MaxRuns   int             `json:"maxRuns,omitempty"` // 0 = unlimited
	RunCount  int             `json:"runCount"`
	Enabled   bool            `json:"enabled"`
	CreatedAt time.Time       `json:"createdAt"`
	LastRunAt *time.Time      `json:"lastRunAt,omitempty"`
}

// Validate checks the fields required before an entry may be registered.
func (e *ScheduleEntry) Validate() error {
	if e.UserID == "" {
		return &tasks.ValidationError{Field: "userId", Reason: "required"}
	}
	if !e.Kind.Valid() {
		return &tasks.ValidationError{Field: "type", Reason: "unknown task type " + string(e.Kind)}
	}
	if e.BrandID == "" && e.Kind.RequiresBrand() {
		return &tasks.ValidationError{Field: "brandId", Reason: "required for " + string(e.Kind)}
	}
	if e.CronSpec == "" {
		return &tasks.ValidationError{Field: "cronSpec", Reason: "required"}
	}
	if _, err := ParseCron(e.CronSpec); err != nil {
		return &tasks.ValidationError{Field: "cronSpec", Reason: err.Error()}
	}
	return nil
}

// RunRecord is one line of a schedule's run history (runs.jsonl).
type RunRecord struct {
	TaskID      string    `json:"taskId,omitempty"`
	TriggeredAt time.Time `json:"triggeredAt"`
	Error       string    `json:"error,omitempty"`
}

// GenerateScheduleID creates a unique schedule identifier with "sched_" prefix.
func GenerateScheduleID() string {
	u := uuid.New().String()
	return "sched_" + strings.ReplaceAll(u[:8], "-", "")
}
