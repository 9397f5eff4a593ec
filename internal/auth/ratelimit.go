package auth

import (
	"fmt"
	"sync"
	"time"
)

// RateLimitedError is returned when a client identity has exhausted its
// login attempts for the current window. RetryAfter is the time until the
// window resets.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many login attempts; retry after %s", e.RetryAfter.Truncate(time.Second))
}

type limiterEntry struct {
	count       int
	windowStart time.Time
}

// LoginLimiter tracks failed-window login attempts per client identity
// (network address). The window is fixed: it only resets with time, never
// on a successful login, so an attacker cannot probe for valid attempts
// to keep the window open.
type LoginLimiter struct {
	mu          sync.Mutex
	entries     map[string]*limiterEntry
	maxAttempts int
	window      time.Duration
	nowFn       func() time.Time // injectable clock for testing
}

// NewLoginLimiter creates a limiter allowing maxAttempts per window per
// identity.
func NewLoginLimiter(maxAttempts int, window time.Duration) *LoginLimiter {
	return &LoginLimiter{
		entries:     make(map[string]*limiterEntry),
		maxAttempts: maxAttempts,
		window:      window,
		nowFn:       time.Now,
	}
}

// Attempt records a login attempt for the identity and reports whether
// passphrase verification may proceed. The check happens before the
// expensive bcrypt comparison so the limiter itself cannot be used as a
// timing oracle. The mutex is held only for the map update, never across
// any I/O.
func (l *LoginLimiter) Attempt(identity string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	e, ok := l.entries[identity]
	if !ok {
		e = &limiterEntry{windowStart: now}
		l.entries[identity] = e
	}

	if now.Sub(e.windowStart) > l.window {
		e.count = 0
		e.windowStart = now
	}

	e.count++
	if e.count > l.maxAttempts {
		return &RateLimitedError{RetryAfter: e.windowStart.Add(l.window).Sub(now)}
	}
	return nil
}

// Sweep drops entries whose window has fully expired, bounding memory use.
// Called periodically from the maintenance scheduler.
func (l *LoginLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	removed := 0
	for id, e := range l.entries {
		if now.Sub(e.windowStart) > l.window {
			delete(l.entries, id)
			removed++
		}
	}
	return removed
}
