package debugapi

import (
	"sync"
	"time"
)

// AdminActionLimiter sliding-window rate limits the debug API's mutating
// endpoints (/debug/trigger-capture, /debug/shutdown) so a misbehaving or
// compromised loopback client cannot hammer the capture engine or the
// orchestrator's shutdown path with repeated requests.
type AdminActionLimiter struct {
	window time.Duration
	limit  int
	now    func() time.Time

	mu      sync.Mutex
	actions []time.Time
}

// NewAdminActionLimiter constructs a limiter permitting up to limit admin
// actions per window. A non-positive window or limit disables throttling.
func NewAdminActionLimiter(window time.Duration, limit int, timeSource func() time.Time) *AdminActionLimiter {
	if window <= 0 || limit <= 0 {
		return &AdminActionLimiter{window: window, limit: limit}
	}
	if timeSource == nil {
		timeSource = time.Now
	}
	return &AdminActionLimiter{
		window: window,
		limit:  limit,
		now:    timeSource,
	}
}

// Allow reports whether the caller may perform another admin action under
// the current window, recording the attempt if so.
func (l *AdminActionLimiter) Allow() bool {
	if l == nil || l.limit <= 0 || l.window <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	kept := l.actions[:0]
	for _, ts := range l.actions {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	l.actions = kept
	if len(l.actions) >= l.limit {
		return false
	}
	l.actions = append(l.actions, now)
	return true
}
