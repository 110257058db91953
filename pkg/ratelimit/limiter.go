// Package ratelimit provides per-user, per-action request throttling using a
// fixed window counter. Bursts at window boundaries are an accepted
// imprecision of the fixed-window scheme.
package ratelimit

import (
	"sync"
	"time"

	"github.com/wpscholar/wp-mcp/internal/observability"
)

// pruneThreshold bounds how large the window map grows before stale
// entries are swept on the next Allow call.
const pruneThreshold = 1024

type window struct {
	count   int
	resetAt time.Time
}

// Limiter counts requests per (user, action) pair within fixed windows.
// The zero value is not usable; call New.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window

	// now is replaceable in tests.
	now func() time.Time
}

// New creates a Limiter.
func New() *Limiter {
	return &Limiter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow reports whether the request is within the limit, incrementing the
// counter when it is. The window starts at the first request and expires
// windowDur later; expired counters reset automatically.
func (l *Limiter) Allow(userID, action string, maxRequests int, windowDur time.Duration) bool {
	if maxRequests <= 0 || windowDur <= 0 {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if len(l.windows) > pruneThreshold {
		l.pruneLocked(now)
	}

	key := userID + "\x00" + action
	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		l.windows[key] = &window{count: 1, resetAt: now.Add(windowDur)}
		return true
	}

	if w.count >= maxRequests {
		observability.RecordRateLimited(action)
		return false
	}

	w.count++
	return true
}

// Remaining reports how many requests are left in the current window, or
// maxRequests when no window is active.
func (l *Limiter) Remaining(userID, action string, maxRequests int) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[userID+"\x00"+action]
	if !ok || !l.now().Before(w.resetAt) {
		return maxRequests
	}
	if w.count >= maxRequests {
		return 0
	}
	return maxRequests - w.count
}

func (l *Limiter) pruneLocked(now time.Time) {
	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
		}
	}
}
