// Package dolist implements the periodic task scheduler: a list of items
// each with a timeout, rate limit, and in-flight command tracking, driven
// by a coarse-cadence ticker and dispatched onto a bounded worker pool.
package dolist

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// List holds a collection of Items and runs due ones on a bounded worker
// pool. A separate "to-add" list avoids lock-ordering problems when
// handlers enqueue new items while the scheduler is mid-sweep.
type List struct {
	listMu sync.Mutex
	items  []Item

	addMu  sync.Mutex
	toAdd  []Item

	poolSize int
}

// New creates a do-list whose worker pool is bounded to poolSize
// concurrent command executions.
func New(poolSize int) *List {
	if poolSize <= 0 {
		poolSize = 10
	}
	return &List{poolSize: poolSize}
}

// AddItem enqueues item unless it is already on the list. Uses the same
// double-check-after-lock pattern as the source: a fast atomic check,
// then an atomic exchange inside the add-list mutex to close the race
// between two callers adding the same item concurrently.
func (l *List) AddItem(item Item) bool {
	if item == nil {
		return false
	}
	b := item.base()
	if b.isAlreadyOnList() {
		return false
	}
	l.addMu.Lock()
	defer l.addMu.Unlock()
	if b.setAddedToList(true) {
		// Someone else added it between our fast check and the lock.
		return false
	}
	l.toAdd = append(l.toAdd, item)
	return true
}

// drainAdds moves pending additions into the main list. Called only from
// CheckList, which owns listMu for the whole sweep.
func (l *List) drainAdds() {
	l.addMu.Lock()
	pending := l.toAdd
	l.toAdd = nil
	l.addMu.Unlock()
	l.items = append(l.items, pending...)
}

// CheckList runs one scheduler sweep: drains pending adds, removes items
// that are done, and submits due items to the worker pool. It blocks
// until every item submitted this sweep has finished executing (the pool
// itself bounds concurrency, so this is not full serialization).
func (l *List) CheckList(ctx context.Context) error {
	l.listMu.Lock()
	defer l.listMu.Unlock()

	l.drainAdds()

	kept := l.items[:0]
	for _, item := range l.items {
		if item.base().removeFromList() {
			item.base().setAddedToList(false)
			continue
		}
		kept = append(kept, item)
	}
	l.items = kept

	now := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.poolSize)
	for _, item := range l.items {
		item := item
		if !item.base().runIfNeeded(now) {
			continue
		}
		g.Go(func() error {
			defer item.base().markFinished()
			item.Execute(gctx)
			return nil
		})
	}
	return g.Wait()
}

// RunItemNow bypasses the timeout/rate-limit check and executes item
// immediately on the worker pool, mirroring DoList::runItemNow (used e.g.
// when a handler wants an item's command run right away in response to
// an event, not on the next tick).
func (l *List) RunItemNow(ctx context.Context, item Item) {
	b := item.base()
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.mu.Unlock()
	go func() {
		defer b.markFinished()
		item.Execute(ctx)
	}()
}

// Run ticks CheckList at the given cadence until ctx is cancelled — the
// do-list's periodic monitor task (default loop_sleep_time 100ms).
func (l *List) Run(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = l.CheckList(ctx)
		}
	}
}

// Len reports how many items are currently on the list (test/debug use).
func (l *List) Len() int {
	l.listMu.Lock()
	defer l.listMu.Unlock()
	return len(l.items)
}
