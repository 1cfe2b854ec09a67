package dolist

import (
	"math/rand"
	"time"
)

// TimeOut tracks how much time must pass since it was last triggered
// before it is considered due again.
type TimeOut struct {
	interval     time.Duration
	lastTrigger  time.Time
}

// NewTimeOut creates a TimeOut due immediately (zero last-trigger time).
func NewTimeOut(interval time.Duration) TimeOut {
	return TimeOut{interval: interval}
}

// Due reports whether interval has elapsed since the last Trigger.
func (t TimeOut) Due(now time.Time) bool {
	return now.Sub(t.lastTrigger) > t.interval
}

// Triggered returns a copy of t with lastTrigger set to now.
func (t TimeOut) Triggered(now time.Time) TimeOut {
	t.lastTrigger = now
	return t
}

// Interval returns the configured interval.
func (t TimeOut) Interval() time.Duration { return t.interval }

// SetInterval returns a copy of t with a new interval.
func (t TimeOut) SetInterval(d time.Duration) TimeOut {
	t.interval = d
	return t
}

// BackoffRateLimit computes the spec's retry rate limit: a 5s base plus
// 0-1s of jitter, multiplied by the attempt count and capped at 120s —
// the exponential backoff used for persistent one-shots.
func BackoffRateLimit(attempt int) time.Duration {
	base := 5*time.Second + time.Duration(rand.Int63n(int64(time.Second)))
	d := base * time.Duration(attempt)
	if d <= 0 {
		d = base
	}
	const maxBackoff = 120 * time.Second
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}
