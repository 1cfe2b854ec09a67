package client

import (
	"context"
	"sync"
	"time"

	"github.com/kiloop/keyindex/internal/dolist"
	"github.com/kiloop/keyindex/internal/keyspace"
)

// pendingInsert is a one-shot do-list item: it retries KEY_INSERT_REQ on
// every backoff tick until HandleKeyInsertComplete matches it and calls
// complete, at which point it stops retrying and self-removes.
type pendingInsert struct {
	*dolist.Base
	c        *Client
	key      keyspace.CompositeKey
	chunk    int32
	subchunk int32

	done      chan struct{}
	closeOnce sync.Once
	result    *insertResult
}

func newPendingInsert(c *Client, key keyspace.CompositeKey, chunk, subchunk int32) *pendingInsert {
	return &pendingInsert{
		Base:     dolist.NewBase(0, 0, true),
		c:        c,
		key:      key,
		chunk:    chunk,
		subchunk: subchunk,
		done:     make(chan struct{}),
		result:   &insertResult{},
	}
}

func (p *pendingInsert) Execute(ctx context.Context) {
	p.c.sendInsertReq(p.key, p.chunk, p.subchunk)
}

func (p *pendingInsert) complete(success bool) {
	p.result.mu.Lock()
	p.result.success = success
	p.result.mu.Unlock()
	p.closeOnce.Do(func() { close(p.done) })
	p.Base.InfoReceived(time.Now())
}

// pendingLookup is a one-shot do-list item mirroring pendingInsert for
// KEY_INFO_REQ/KEY_INFO.
type pendingLookup struct {
	*dolist.Base
	c   *Client
	key keyspace.CompositeKey

	done      chan struct{}
	closeOnce sync.Once
	result    *lookupResult
}

func newPendingLookup(c *Client, key keyspace.CompositeKey) *pendingLookup {
	return &pendingLookup{
		Base:   dolist.NewBase(0, 0, true),
		c:      c,
		key:    key,
		done:   make(chan struct{}),
		result: &lookupResult{},
	}
}

func (p *pendingLookup) Execute(ctx context.Context) {
	p.c.sendLookupReq(p.key)
}

func (p *pendingLookup) complete(found bool, chunk, subchunk int32) {
	p.result.mu.Lock()
	p.result.found = found
	p.result.chunk = chunk
	p.result.subchunk = subchunk
	p.result.mu.Unlock()
	p.closeOnce.Do(func() { close(p.done) })
	p.Base.InfoReceived(time.Now())
}
