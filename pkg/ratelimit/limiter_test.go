package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestLimiter(start time.Time) (*Limiter, *time.Time) {
	l := New()
	now := start
	l.now = func() time.Time { return now }
	return l, &now
}

func TestLimiter_AllowWithinLimit(t *testing.T) {
	l, _ := newTestLimiter(time.Now())

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("alice", "chat", 3, time.Minute), "request %d should be allowed", i+1)
	}
	assert.False(t, l.Allow("alice", "chat", 3, time.Minute), "fourth request should be denied")
}

func TestLimiter_WindowExpiry(t *testing.T) {
	l, now := newTestLimiter(time.Now())

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("alice", "chat", 3, time.Minute))
	}
	assert.False(t, l.Allow("alice", "chat", 3, time.Minute))

	// Just before expiry the window still holds.
	*now = now.Add(59 * time.Second)
	assert.False(t, l.Allow("alice", "chat", 3, time.Minute))

	// At expiry a fresh window opens.
	*now = now.Add(time.Second)
	assert.True(t, l.Allow("alice", "chat", 3, time.Minute))
}

func TestLimiter_IsolatesUsersAndActions(t *testing.T) {
	l, _ := newTestLimiter(time.Now())

	assert.True(t, l.Allow("alice", "chat", 1, time.Minute))
	assert.False(t, l.Allow("alice", "chat", 1, time.Minute))

	// Other users and other actions have their own counters.
	assert.True(t, l.Allow("bob", "chat", 1, time.Minute))
	assert.True(t, l.Allow("alice", "search", 1, time.Minute))
}

func TestLimiter_RejectsInvalidArguments(t *testing.T) {
	l, _ := newTestLimiter(time.Now())

	assert.False(t, l.Allow("alice", "chat", 0, time.Minute))
	assert.False(t, l.Allow("alice", "chat", -1, time.Minute))
	assert.False(t, l.Allow("alice", "chat", 3, 0))
}

func TestLimiter_Remaining(t *testing.T) {
	l, now := newTestLimiter(time.Now())

	assert.Equal(t, 3, l.Remaining("alice", "chat", 3))

	l.Allow("alice", "chat", 3, time.Minute)
	l.Allow("alice", "chat", 3, time.Minute)
	assert.Equal(t, 1, l.Remaining("alice", "chat", 3))

	l.Allow("alice", "chat", 3, time.Minute)
	assert.Equal(t, 0, l.Remaining("alice", "chat", 3))

	*now = now.Add(2 * time.Minute)
	assert.Equal(t, 3, l.Remaining("alice", "chat", 3))
}

func TestLimiter_PrunesExpiredWindows(t *testing.T) {
	l, now := newTestLimiter(time.Now())

	for i := 0; i < pruneThreshold+1; i++ {
		l.Allow(fmt.Sprintf("user-%d", i), "chat", 3, time.Minute)
	}

	*now = now.Add(2 * time.Minute)
	l.Allow("alice", "chat", 3, time.Minute)

	l.mu.Lock()
	size := len(l.windows)
	l.mu.Unlock()
	assert.Equal(t, 1, size)
}
