package dolist

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type countingItem struct {
	*Base
	runs atomic.Int32
}

func newCountingItem(oneShot bool) *countingItem {
	return &countingItem{Base: NewBase(15*time.Minute, 0, oneShot)}
}

func (c *countingItem) Execute(ctx context.Context) {
	c.runs.Add(1)
	if c.Base.oneShot {
		c.InfoReceived(time.Now())
	}
}

func TestAddItemOnlyOnce(t *testing.T) {
	l := New(4)
	item := newCountingItem(false)
	if !l.AddItem(item) {
		t.Fatal("expected first add to succeed")
	}
	if l.AddItem(item) {
		t.Fatal("expected second add of the same item to be rejected")
	}
	if l.Len() != 0 {
		t.Fatalf("item should be pending, not yet drained into the main list, got len=%d", l.Len())
	}
}

func TestCheckListRunsDueItem(t *testing.T) {
	l := New(4)
	item := newCountingItem(false)
	l.AddItem(item)

	if err := l.CheckList(context.Background()); err != nil {
		t.Fatalf("CheckList: %v", err)
	}
	if item.runs.Load() != 1 {
		t.Fatalf("expected item to run once, ran %d times", item.runs.Load())
	}
}

func TestOneShotRemovedAfterInfoReceived(t *testing.T) {
	l := New(4)
	item := newCountingItem(true)
	l.AddItem(item)

	if err := l.CheckList(context.Background()); err != nil {
		t.Fatalf("CheckList: %v", err)
	}
	if err := l.CheckList(context.Background()); err != nil {
		t.Fatalf("CheckList: %v", err)
	}
	if l.Len() != 0 {
		t.Errorf("expected one-shot to be removed after InfoReceived, list len=%d", l.Len())
	}
	if item.runs.Load() != 1 {
		t.Errorf("one-shot should run exactly once, ran %d times", item.runs.Load())
	}
}

func TestRunIfNeededSkipsWhileRunning(t *testing.T) {
	b := NewBase(15*time.Minute, 0, false)
	if !b.runIfNeeded(time.Now()) {
		t.Fatal("expected first check to be due")
	}
	if b.runIfNeeded(time.Now()) {
		t.Fatal("expected second check to be skipped while a command is in flight")
	}
	b.markFinished()
	if !b.runIfNeeded(time.Now().Add(time.Hour)) {
		t.Fatal("expected check to be due again once the timeout passed and no command is in flight")
	}
}
