// Package ratelimit provides a per-submitter cooldown gate for task creation.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter admits at most one task submission per user within the cooldown
// window. It is process-local and advisory: with multiple instances each
// keeps its own view, which is an accepted deployment constraint.
//
// The map holds one entry per active submitter and is never evicted; it
// lives for the process's uptime.
type Limiter struct {
	mu       sync.Mutex
	cooldown time.Duration
	last     map[string]time.Time
	now      func() time.Time
}

// New creates a Limiter with the given cooldown window.
func New(cooldown time.Duration) *Limiter {
	return &Limiter{
		cooldown: cooldown,
		last:     make(map[string]time.Time),
		now:      time.Now,
	}
}

// Admit reports whether the user may submit now. A true result records the
// admission; a false result leaves the previous admission time untouched.
func (l *Limiter) Admit(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if prev, ok := l.last[userID]; ok && now.Sub(prev) < l.cooldown {
		return false
	}
	l.last[userID] = now
	return true
}

// Remaining returns how long the user must wait before the next admission.
// Zero means the user may submit immediately.
func (l *Limiter) Remaining(userID string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev, ok := l.last[userID]
	if !ok {
		return 0
	}
	rem := l.cooldown - l.now().Sub(prev)
	if rem < 0 {
		return 0
	}
	return rem
}
