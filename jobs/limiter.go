package jobs

import (
	"sync"
	"time"

	"github.com/qacompanion/qac/errors"
)

// RateLimiter enforces a cap on model calls per minute using a sliding
// window over recorded call times.
type RateLimiter struct {
	maxCallsPerMinute int
	window            time.Duration
	mu                sync.Mutex
	callTimes         []time.Time
	timeNow           func() time.Time // Injectable for testing
}

// NewRateLimiter creates a rate limiter with the real clock.
func NewRateLimiter(maxCallsPerMinute int) *RateLimiter {
	return NewRateLimiterWithClock(maxCallsPerMinute, time.Now)
}

// NewRateLimiterWithClock creates a rate limiter with an injectable clock.
func NewRateLimiterWithClock(maxCallsPerMinute int, timeNow func() time.Time) *RateLimiter {
	return &RateLimiter{
		maxCallsPerMinute: maxCallsPerMinute,
		window:            time.Minute,
		callTimes:         make([]time.Time, 0, maxCallsPerMinute),
		timeNow:           timeNow,
	}
}

// Allow records a call if capacity remains in the window. Returns an error
// marked ErrRateLimited when the cap is reached.
func (r *RateLimiter) Allow() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.timeNow()
	r.removeExpiredCalls(now)

	if len(r.callTimes) >= r.maxCallsPerMinute {
		err := errors.Newf("rate limit exceeded: %d calls in the last minute (limit %d)",
			len(r.callTimes), r.maxCallsPerMinute)
		return errors.Mark(err, errors.ErrRateLimited)
	}

	r.callTimes = append(r.callTimes, now)
	return nil
}

// Stats returns the calls recorded in the current window and the remaining
// capacity.
func (r *RateLimiter) Stats() (callsInWindow, remaining int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeExpiredCalls(r.timeNow())

	callsInWindow = len(r.callTimes)
	remaining = r.maxCallsPerMinute - callsInWindow
	if remaining < 0 {
		remaining = 0
	}
	return callsInWindow, remaining
}

// Reset clears all recorded calls.
func (r *RateLimiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.callTimes = r.callTimes[:0]
}

// removeExpiredCalls drops timestamps outside the sliding window. Timestamps
// are appended in order, so expired entries sit at the front. Must be called
// with the lock held.
func (r *RateLimiter) removeExpiredCalls(now time.Time) {
	cutoff := now.Add(-r.window)

	expired := 0
	for _, callTime := range r.callTimes {
		if callTime.After(cutoff) {
			break
		}
		expired++
	}
	r.callTimes = r.callTimes[expired:]
}
