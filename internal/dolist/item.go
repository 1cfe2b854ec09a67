package dolist

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Item is one thing the do-list drives: a heartbeat, a retry, a
// registration attempt. Implementations embed Base and supply Execute.
type Item interface {
	// Execute runs the item's command body. Called from a worker-pool
	// goroutine, never from the scheduler's own loop.
	Execute(ctx context.Context)
	base() *Base
}

// Base holds the state DoList.h's DoListItem protects behind its own
// small mutex: timeout, rate limit, needs-info/one-shot/remove flags, and
// whether a command is currently in flight.
type Base struct {
	mu          sync.Mutex
	timeout     TimeOut
	rateLimit   TimeOut
	needInfo    bool
	oneShot     bool
	remove      bool
	running     bool
	attempts    int
	addedToList atomic.Bool
}

// NewBase constructs item state. needInfo defaults to true, matching the
// source: a freshly created item always wants to run once before settling
// into its timeout cadence.
func NewBase(timeout, rateLimit time.Duration, oneShot bool) *Base {
	return &Base{
		timeout:   NewTimeOut(timeout),
		rateLimit: NewTimeOut(rateLimit),
		needInfo:  true,
		oneShot:   oneShot,
	}
}

func (b *Base) base() *Base { return b }

// SetNeedInfo marks the item as freshly interested in running.
func (b *Base) SetNeedInfo() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.needInfo = true
}

// InfoReceived clears needInfo and resets the timeout clock — "we just
// heard back, no need to ask again for a while."
func (b *Base) InfoReceived(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.needInfo = false
	b.timeout = b.timeout.Triggered(now)
}

// MarkRemove flags the item for removal on the next list sweep.
func (b *Base) MarkRemove() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remove = true
}

func (b *Base) isOneShotDoneLocked() bool {
	return !b.needInfo && b.oneShot
}

// removeFromList reports whether this item should be dropped from the
// list: either it is a completed one-shot or it was explicitly marked for
// removal.
func (b *Base) removeFromList() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.isOneShotDoneLocked() || b.remove
}

// isAlreadyOnList is a fast atomic check used by List.AddItem to avoid
// double-adding.
func (b *Base) isAlreadyOnList() bool { return b.addedToList.Load() }

// setAddedToList returns the previous value of the flag (atomic exchange).
func (b *Base) setAddedToList(v bool) bool { return b.addedToList.Swap(v) }

// runIfNeeded evaluates whether this item should fire right now. It
// mirrors DoListItem::runIfNeeded: a command in flight blocks a new one;
// otherwise if needInfo or the timeout is due, and the rate limit has
// also elapsed, the item is due and attempts is bumped for backoff.
func (b *Base) runIfNeeded(now time.Time) (due bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return false
	}
	if b.isOneShotDoneLocked() {
		return false
	}
	if (b.needInfo || b.timeout.Due(now)) && b.rateLimit.Due(now) {
		b.attempts++
		b.rateLimit = b.rateLimit.SetInterval(BackoffRateLimit(b.attempts)).Triggered(now)
		b.running = true
		return true
	}
	return false
}

func (b *Base) markFinished() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = false
}

// Attempts returns how many times this item has fired, for tests and
// backoff inspection.
func (b *Base) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}
