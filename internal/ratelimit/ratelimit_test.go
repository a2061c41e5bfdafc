package ratelimit

import (
	"testing"
	"time"
)

func TestAdmit_CooldownWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	l := New(60 * time.Second)
	l.now = func() time.Time { return now }

	if !l.Admit("u1") {
		t.Fatal("first admission must succeed")
	}
	if l.Admit("u1") {
		t.Fatal("second admission inside the window must be rejected")
	}

	now = now.Add(59 * time.Second)
	if l.Admit("u1") {
		t.Fatal("59s later must still be rejected")
	}

	now = now.Add(1 * time.Second)
	if !l.Admit("u1") {
		t.Fatal("admission after the window must succeed")
	}
}

func TestAdmit_PerUser(t *testing.T) {
	l := New(60 * time.Second)

	if !l.Admit("u1") {
		t.Fatal("u1 first admission must succeed")
	}
	if !l.Admit("u2") {
		t.Fatal("u2 must not be affected by u1's cooldown")
	}
}

func TestAdmit_RejectionDoesNotExtendWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	l := New(60 * time.Second)
	l.now = func() time.Time { return now }

	l.Admit("u1")
	now = now.Add(30 * time.Second)
	l.Admit("u1") // rejected, must not reset the clock
	now = now.Add(30 * time.Second)
	if !l.Admit("u1") {
		t.Fatal("window must be measured from the last admitted call")
	}
}

func TestRemaining(t *testing.T) {
	now := time.Unix(1000, 0)
	l := New(60 * time.Second)
	l.now = func() time.Time { return now }

	if got := l.Remaining("u1"); got != 0 {
		t.Fatalf("unknown user remaining = %s, want 0", got)
	}

	l.Admit("u1")
	now = now.Add(20 * time.Second)
	if got := l.Remaining("u1"); got != 40*time.Second {
		t.Fatalf("remaining = %s, want 40s", got)
	}

	now = now.Add(2 * time.Minute)
	if got := l.Remaining("u1"); got != 0 {
		t.Fatalf("expired remaining = %s, want 0", got)
	}
}
