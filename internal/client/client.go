// Package client implements the client role: deduplicated insert/lookup
// submission against the default worker, with one-shot retry-until-answered
// tracking per outstanding request.
package client

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/kiloop/keyindex/internal/dolist"
	"github.com/kiloop/keyindex/internal/errs"
	"github.com/kiloop/keyindex/internal/keyspace"
	"github.com/kiloop/keyindex/internal/netbuf"
	"github.com/kiloop/keyindex/internal/wire"
	"github.com/kiloop/keyindex/internal/wireproto"
)

// newCeiling builds a weighted semaphore enforcing the "concurrent-request
// ceiling" from spec §4.9, or nil when n <= 0 (no ceiling configured).
func newCeiling(n int) *semaphore.Weighted {
	if n <= 0 {
		return nil
	}
	return semaphore.NewWeighted(int64(n))
}

// Sender is the subset of transport.Server a client needs.
type Sender interface {
	Send(dst *net.UDPAddr, kind wire.Kind, payload string, hasPayload bool) error
}

// InsertHandle is returned by SubmitInsert; Done closes once the matching
// KEY_INSERT_COMPLETE arrives.
type InsertHandle struct {
	Done   <-chan struct{}
	result *insertResult
}

// Success reports whether the insert succeeded. Only meaningful after Done
// has closed.
func (h *InsertHandle) Success() bool {
	h.result.mu.Lock()
	defer h.result.mu.Unlock()
	return h.result.success
}

type insertResult struct {
	mu      sync.Mutex
	success bool
}

// LookupHandle is returned by SubmitLookup; Done closes once the matching
// KEY_INFO reply arrives.
type LookupHandle struct {
	Done   <-chan struct{}
	result *lookupResult
}

// Result reports the resolved value once Done has closed.
func (h *LookupHandle) Result() (chunk, subchunk int32, found bool) {
	h.result.mu.Lock()
	defer h.result.mu.Unlock()
	return h.result.chunk, h.result.subchunk, h.result.found
}

type lookupResult struct {
	mu       sync.Mutex
	chunk    int32
	subchunk int32
	found    bool
}

// Client tracks in-flight insert/lookup requests against a default worker,
// deduplicating resubmissions and retrying until a completion arrives.
type Client struct {
	Sender        Sender
	Logger        *slog.Logger
	DefaultWorker *net.UDPAddr
	Self          wireproto.NetAddress

	MaxInserts int
	MaxLookups int

	insertSem *semaphore.Weighted
	lookupSem *semaphore.Weighted

	mu      sync.Mutex
	inserts map[keyspace.CompositeKey]*pendingInsert
	lookups map[keyspace.CompositeKey]*pendingLookup
}

func New(sender Sender, logger *slog.Logger, defaultWorker *net.UDPAddr, self wireproto.NetAddress, maxInserts, maxLookups int) *Client {
	return &Client{
		Sender:        sender,
		Logger:        logger,
		DefaultWorker: defaultWorker,
		Self:          self,
		MaxInserts:    maxInserts,
		MaxLookups:    maxLookups,
		insertSem:     newCeiling(maxInserts),
		lookupSem:     newCeiling(maxLookups),
		inserts:       make(map[keyspace.CompositeKey]*pendingInsert),
		lookups:       make(map[keyspace.CompositeKey]*pendingLookup),
	}
}

func (c *Client) logWarn(msg string, err error) {
	if c.Logger == nil {
		return
	}
	if err != nil {
		c.Logger.Warn(msg, "err", err)
	} else {
		c.Logger.Warn(msg)
	}
}

// SubmitInsert installs (or reuses) a one-shot insert tracker for key. A
// matching in-flight insert for the same value is deduplicated into the
// existing handle; a mismatched value fails immediately without touching
// the wire, per spec's duplicate-insert-mismatch behavior. When the
// in-flight insert map is at MaxInserts, this blocks on the insert
// ceiling semaphore until a slot frees up or ctx is cancelled — the
// "concurrent-request ceiling" backpressure from spec §4.9.
func (c *Client) SubmitInsert(ctx context.Context, items *dolist.List, key keyspace.CompositeKey, chunk, subchunk int32) (*InsertHandle, error) {
	c.mu.Lock()
	if existing, ok := c.inserts[key]; ok {
		c.mu.Unlock()
		if existing.chunk == chunk && existing.subchunk == subchunk {
			return &InsertHandle{Done: existing.done, result: existing.result}, nil
		}
		return nil, errs.DuplicateKeyMismatch("client: in-flight insert value mismatch")
	}
	c.mu.Unlock()

	if c.insertSem != nil {
		if err := c.insertSem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	if existing, ok := c.inserts[key]; ok {
		c.mu.Unlock()
		if c.insertSem != nil {
			c.insertSem.Release(1)
		}
		if existing.chunk == chunk && existing.subchunk == subchunk {
			return &InsertHandle{Done: existing.done, result: existing.result}, nil
		}
		return nil, errs.DuplicateKeyMismatch("client: in-flight insert value mismatch")
	}

	p := newPendingInsert(c, key, chunk, subchunk)
	c.inserts[key] = p
	c.mu.Unlock()
	items.AddItem(p)
	return &InsertHandle{Done: p.done, result: p.result}, nil
}

// SubmitLookup installs (or reuses) a one-shot lookup tracker for key,
// under the same MaxLookups ceiling semaphore as SubmitInsert.
func (c *Client) SubmitLookup(ctx context.Context, items *dolist.List, key keyspace.CompositeKey) (*LookupHandle, error) {
	c.mu.Lock()
	if existing, ok := c.lookups[key]; ok {
		c.mu.Unlock()
		return &LookupHandle{Done: existing.done, result: existing.result}, nil
	}
	c.mu.Unlock()

	if c.lookupSem != nil {
		if err := c.lookupSem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	if existing, ok := c.lookups[key]; ok {
		c.mu.Unlock()
		if c.lookupSem != nil {
			c.lookupSem.Release(1)
		}
		return &LookupHandle{Done: existing.done, result: existing.result}, nil
	}

	p := newPendingLookup(c, key)
	c.lookups[key] = p
	c.mu.Unlock()
	items.AddItem(p)
	return &LookupHandle{Done: p.done, result: p.result}, nil
}

func (c *Client) sendInsertReq(key keyspace.CompositeKey, chunk, subchunk int32) {
	req := wireproto.KeyInfoInsert{
		Requester: c.Self,
		KeyInfo: wireproto.KeyInfo{
			KeyInt:   key.KInt,
			KeyStr:   key.KStr,
			Chunk:    chunk,
			Subchunk: subchunk,
		},
	}
	if err := c.Sender.Send(c.DefaultWorker, wire.KeyInsertReq, string(req.Encode(nil)), true); err != nil {
		c.logWarn("client: send insert request failed", err)
	}
}

func (c *Client) sendLookupReq(key keyspace.CompositeKey) {
	req := wireproto.KeyInfoInsert{
		Requester: c.Self,
		KeyInfo:   wireproto.KeyInfo{KeyInt: key.KInt, KeyStr: key.KStr},
	}
	if err := c.Sender.Send(c.DefaultWorker, wire.KeyInfoReq, string(req.Encode(nil)), true); err != nil {
		c.logWarn("client: send lookup request failed", err)
	}
}

// HandleKeyInsertComplete processes KEY_INSERT_COMPLETE: matches by key
// against the in-flight insert map, records success, and completes the
// one-shot.
func (c *Client) HandleKeyInsertComplete(payload string, hasPayload bool) {
	if !hasPayload {
		return
	}
	reply, err := wireproto.DecodeKeyInfoInsert(netbuf.WrapBytes([]byte(payload)))
	if err != nil {
		c.logWarn("client: decode insert completion failed", err)
		return
	}
	key := reply.KeyInfo.ToCompositeKey()

	c.mu.Lock()
	p, ok := c.inserts[key]
	if ok {
		delete(c.inserts, key)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	if c.insertSem != nil {
		c.insertSem.Release(1)
	}
	p.complete(reply.KeyInfo.Success)
}

// HandleKeyInfo processes KEY_INFO: matches by key against the in-flight
// lookup map and completes the one-shot.
func (c *Client) HandleKeyInfo(payload string, hasPayload bool) {
	if !hasPayload {
		return
	}
	reply, err := wireproto.DecodeKeyInfoInsert(netbuf.WrapBytes([]byte(payload)))
	if err != nil {
		c.logWarn("client: decode lookup reply failed", err)
		return
	}
	key := reply.KeyInfo.ToCompositeKey()

	c.mu.Lock()
	p, ok := c.lookups[key]
	if ok {
		delete(c.lookups, key)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	if c.lookupSem != nil {
		c.lookupSem.Release(1)
	}
	p.complete(reply.KeyInfo.Success, reply.KeyInfo.Chunk, reply.KeyInfo.Subchunk)
}
