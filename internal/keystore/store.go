// Package keystore implements a worker's local ordered key map guarded by
// a range, plus the recent-adds window reported to the master as load.
package keystore

import (
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/kiloop/keyindex/internal/errs"
	"github.com/kiloop/keyindex/internal/keyspace"
)

// Value is the (chunk, subchunk) location a key maps to.
type Value struct {
	Chunk    int32
	Subchunk int32
}

type entry struct {
	Key keyspace.CompositeKey
	Val Value
}

func less(a, b entry) bool { return a.Key.Less(b.Key) }

// Store owns the ordered key map, the worker's range, and its recent-adds
// window. All operations take a single mutex guarding all three; the
// mutex is held only for the duration of map mutations, never across I/O.
type Store struct {
	mu    sync.Mutex
	tree  *btree.BTreeG[entry]
	rng   keyspace.KeyRange
	adds  []time.Time
	window time.Duration

	pendingToRight   []entry // staged during a TO-RIGHT shift, for rollback
	pendingFromRight []entry // staged (shed) during a FROM-RIGHT reply, for rollback
}

// New creates an empty store. window is the recent-adds eviction horizon
// (spec default 60s).
func New(window time.Duration) *Store {
	return &Store{
		tree:   btree.NewG(32, less),
		window: window,
	}
}

// Range returns a copy of the current range.
func (s *Store) Range() keyspace.KeyRange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng
}

// SetRange replaces the range wholesale (used at handshake and shift time).
func (s *Store) SetRange(r keyspace.KeyRange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rng = r
}

// Contains reports whether key falls within the current range.
func (s *Store) Contains(key keyspace.CompositeKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Contains(key)
}

// Len returns the number of keys currently stored.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Len()
}

// InsertResult reports the outcome of an Insert call.
type InsertResult struct {
	Stored   Value
	Inserted bool // true if this call created the entry
	Conflict bool // true if key existed with a differing value
}

// Insert records (key, chunk, subchunk). The caller must have already
// verified Contains(key) — Insert does not forward. If the key already
// exists with a different value, Conflict is true and the stored value is
// left unchanged (errs.ErrDuplicateKeyMismatch semantics); identical
// resubmission is idempotent.
func (s *Store) Insert(key keyspace.CompositeKey, chunk, subchunk int32) InsertResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := Value{Chunk: chunk, Subchunk: subchunk}
	if existing, ok := s.tree.Get(entry{Key: key}); ok {
		if existing.Val == want {
			return InsertResult{Stored: existing.Val, Inserted: false}
		}
		return InsertResult{Stored: existing.Val, Inserted: false, Conflict: true}
	}
	s.tree.ReplaceOrInsert(entry{Key: key, Val: want})
	s.recordAddLocked(time.Now())
	return InsertResult{Stored: want, Inserted: true}
}

// Lookup returns the stored value for key, if present.
func (s *Store) Lookup(key keyspace.CompositeKey) (Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tree.Get(entry{Key: key})
	return e.Val, ok
}

func (s *Store) recordAddLocked(now time.Time) {
	s.adds = append(s.adds, now)
}

// RecentAddCount evicts timestamps older than the configured window and
// returns the remaining count — the "load" signal reported to the master.
func (s *Store) RecentAddCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictOldAddsLocked(time.Now())
}

func (s *Store) evictOldAddsLocked(now time.Time) int {
	cutoff := now.Add(-s.window)
	i := 0
	for i < len(s.adds) && s.adds[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		s.adds = s.adds[i:]
	}
	return len(s.adds)
}

// FirstKey returns the smallest key currently stored, if any.
func (s *Store) FirstKey() (keyspace.CompositeKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found entry
	ok := false
	s.tree.Ascend(func(e entry) bool {
		found = e
		ok = true
		return false
	})
	return found.Key, ok
}

// KeyValue is one (key, value) pair transferred during a shift.
type KeyValue struct {
	Key keyspace.CompositeKey
	Val Value
}

// LargestN removes and returns the largest n keys from the map, staging
// them in pendingToRight for rollback until the caller calls
// CommitToRightShift or RollbackToRightShift. Holds the store mutex only
// for the duration of the removal, not across socket I/O.
func (s *Store) LargestN(n int) []KeyValue {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]entry, 0, n)
	s.tree.Descend(func(e entry) bool {
		if len(out) >= n {
			return false
		}
		out = append(out, e)
		return true
	})
	for _, e := range out {
		s.tree.Delete(e)
	}
	s.pendingToRight = out
	return toKeyValues(out)
}

// SmallestN removes and returns the smallest n keys, staging them in
// pendingFromRight for rollback until the caller calls
// CommitFromRightShift or RollbackFromRightShift — the right side's half
// of a FROM-RIGHT reply.
func (s *Store) SmallestN(n int) []KeyValue {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]entry, 0, n)
	s.tree.Ascend(func(e entry) bool {
		if len(out) >= n {
			return false
		}
		out = append(out, e)
		return true
	})
	for _, e := range out {
		s.tree.Delete(e)
	}
	s.pendingFromRight = out
	return toKeyValues(out)
}

func toKeyValues(entries []entry) []KeyValue {
	result := make([]KeyValue, len(entries))
	for i, e := range entries {
		result[i] = KeyValue{Key: e.Key, Val: e.Val}
	}
	return result
}

// CommitToRightShift clears the staged TO-RIGHT batch after the remote
// side has acknowledged receipt.
func (s *Store) CommitToRightShift() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingToRight = nil
}

// RollbackToRightShift merges the staged TO-RIGHT batch back into the map
// (connection dropped before ack). Returns the smallest restored key so
// the caller can restore range.max alongside it, per the design note that
// range.max and the staged keys must roll back together.
func (s *Store) RollbackToRightShift() (keyspace.CompositeKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pendingToRight) == 0 {
		return keyspace.CompositeKey{}, false
	}
	min := s.pendingToRight[0].Key
	for _, e := range s.pendingToRight {
		s.tree.ReplaceOrInsert(e)
		if e.Key.Less(min) {
			min = e.Key
		}
	}
	s.pendingToRight = nil
	return min, true
}

// CommitFromRightShift clears the staged FROM-RIGHT batch after the left
// side has acknowledged receipt with SHIFT_FROM_RIGHT_RECEIVED.
func (s *Store) CommitFromRightShift() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingFromRight = nil
}

// RollbackFromRightShift merges the staged FROM-RIGHT batch back into the
// map (connection dropped before the left side's ack). Returns the
// smallest restored key so the caller can lower range.min back to it in
// the same step.
func (s *Store) RollbackFromRightShift() (keyspace.CompositeKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pendingFromRight) == 0 {
		return keyspace.CompositeKey{}, false
	}
	min := s.pendingFromRight[0].Key
	for _, e := range s.pendingFromRight {
		s.tree.ReplaceOrInsert(e)
		if e.Key.Less(min) {
			min = e.Key
		}
	}
	s.pendingFromRight = nil
	return min, true
}

// InsertBatch idempotently merges a received shift batch into the map.
// Keys that already exist with a diverging value are flagged as
// conflicts and left unchanged (never overwritten), matching the
// at-least-once delivery guarantee that a retransmitted TO-RIGHT cannot
// duplicate or corrupt data.
func (s *Store) InsertBatch(pairs []KeyValue) (conflicts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range pairs {
		if existing, ok := s.tree.Get(entry{Key: p.Key}); ok {
			if existing.Val != p.Val {
				conflicts++
			}
			continue
		}
		s.tree.ReplaceOrInsert(entry{Key: p.Key, Val: p.Val})
	}
	return conflicts
}

// ErrDuplicateMismatch is returned by higher layers wrapping a Conflict
// InsertResult; kept here so callers can use errors.Is against the shared
// taxonomy without importing errs directly for this one check.
var ErrDuplicateMismatch = errs.ErrDuplicateKeyMismatch
