package tasks

import (
	"strings"
	"testing"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusQueued, StatusProcessing},
		{StatusQueued, StatusFailed},
		{StatusQueued, StatusCancelled},
		{StatusProcessing, StatusCompleted},
		{StatusProcessing, StatusFailed},
		{StatusProcessing, StatusCancelled},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}
}

func TestCanTransition_TerminalAbsorbing(t *testing.T) {
	terminals := []Status{StatusCompleted, StatusFailed, StatusCancelled}
	targets := []Status{StatusQueued, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled}

	for _, from := range terminals {
		for _, to := range targets {
			if CanTransition(from, to) {
				t.Errorf("terminal %s must not transition to %s", from, to)
			}
		}
	}
}

func TestCanTransition_NothingBackToQueued(t *testing.T) {
	for _, from := range []Status{StatusQueued, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled} {
		if CanTransition(from, StatusQueued) {
			t.Errorf("%s -> queued must not be allowed", from)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	if StatusQueued.Terminal() || StatusProcessing.Terminal() {
		t.Error("queued/processing must not be terminal")
	}
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		if !s.Terminal() {
			t.Errorf("%s must be terminal", s)
		}
	}
}

func TestValidate(t *testing.T) {
	valid := Task{
		Kind:    KindGenerateIdeas,
		UserID:  "u1",
		BrandID: "b1",
		Payload: []byte(`{"count":3}`),
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid task rejected: %v", err)
	}

	cases := []struct {
		name  string
		mut   func(*Task)
		field string
	}{
		{"missing kind", func(t *Task) { t.Kind = "" }, "type"},
		{"unknown kind", func(t *Task) { t.Kind = "MAKE_COFFEE" }, "type"},
		{"missing user", func(t *Task) { t.UserID = "" }, "userId"},
		{"missing payload", func(t *Task) { t.Payload = nil }, "payload"},
		{"missing brand", func(t *Task) { t.BrandID = "" }, "brandId"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			task := valid
			tc.mut(&task)
			err := task.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			verr, ok := err.(*ValidationError)
			if !ok {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
			if verr.Field != tc.field {
				t.Errorf("expected field %q, got %q", tc.field, verr.Field)
			}
		})
	}
}

func TestValidate_BrandCreationNeedsNoBrand(t *testing.T) {
	task := Task{
		Kind:    KindCreateBrandFromIdea,
		UserID:  "u1",
		Payload: []byte(`{"idea":"artisanal socks"}`),
	}
	if err := task.Validate(); err != nil {
		t.Fatalf("brand creation should not require brandId: %v", err)
	}
}

func TestGenerateTaskID(t *testing.T) {
	id := GenerateTaskID()
	if !strings.HasPrefix(id, "task_") {
		t.Fatalf("unexpected id format %q", id)
	}
	if len(id) != len("task_")+36 {
		t.Fatalf("expected a full uuid after the prefix, got %q", id)
	}
}

// Task ids live forever, so the generator must not collide even across a
// large lifetime population. A truncated uuid fails this within ~100k ids.
func TestGenerateTaskID_NoCollisions(t *testing.T) {
	const n = 300_000
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		id := GenerateTaskID()
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q after %d generations", id, i)
		}
		seen[id] = struct{}{}
	}
}
