package keystore

import (
	"testing"
	"time"

	"github.com/kiloop/keyindex/internal/keyspace"
)

func TestInsertAndLookup(t *testing.T) {
	s := New(60 * time.Second)
	s.SetRange(keyspace.AllInclusive())

	k := keyspace.FromString("asdf_1")
	res := s.Insert(k, 4001, 200001)
	if !res.Inserted || res.Conflict {
		t.Fatalf("unexpected result: %+v", res)
	}

	val, ok := s.Lookup(k)
	if !ok || val.Chunk != 4001 || val.Subchunk != 200001 {
		t.Errorf("lookup mismatch: %+v ok=%v", val, ok)
	}
}

func TestDuplicateInsertSameValueIdempotent(t *testing.T) {
	s := New(60 * time.Second)
	s.SetRange(keyspace.AllInclusive())
	k := keyspace.FromString("k")

	s.Insert(k, 1, 2)
	res := s.Insert(k, 1, 2)
	if res.Conflict {
		t.Error("identical resubmission should not conflict")
	}
	if s.Len() != 1 {
		t.Errorf("expected exactly one stored entry, got %d", s.Len())
	}
}

func TestDuplicateInsertMismatchConflicts(t *testing.T) {
	s := New(60 * time.Second)
	s.SetRange(keyspace.AllInclusive())
	k := keyspace.FromString("k")

	s.Insert(k, 1, 2)
	res := s.Insert(k, 9, 9)
	if !res.Conflict {
		t.Error("expected conflict on diverging value")
	}
	val, _ := s.Lookup(k)
	if val.Chunk != 1 || val.Subchunk != 2 {
		t.Errorf("stored value should be unchanged, got %+v", val)
	}
}

func TestLargestNAndRollback(t *testing.T) {
	s := New(60 * time.Second)
	s.SetRange(keyspace.AllInclusive())
	for i := uint64(0); i < 10; i++ {
		s.Insert(keyspace.FromInt(i), int32(i), int32(i))
	}

	shed := s.LargestN(3)
	if len(shed) != 3 {
		t.Fatalf("expected 3 shed keys, got %d", len(shed))
	}
	if s.Len() != 7 {
		t.Fatalf("expected 7 remaining, got %d", s.Len())
	}

	minKey, ok := s.RollbackToRightShift()
	if !ok {
		t.Fatal("expected rollback to report staged data")
	}
	if s.Len() != 10 {
		t.Errorf("rollback should restore all shed keys, got %d", s.Len())
	}
	if minKey.KInt != 7 {
		t.Errorf("rollback min key = %v, want KInt=7", minKey)
	}
}

func TestSmallestNAndRollback(t *testing.T) {
	s := New(60 * time.Second)
	s.SetRange(keyspace.AllInclusive())
	for i := uint64(0); i < 10; i++ {
		s.Insert(keyspace.FromInt(i), int32(i), int32(i))
	}

	shed := s.SmallestN(3)
	if len(shed) != 3 {
		t.Fatalf("expected 3 shed keys, got %d", len(shed))
	}
	if s.Len() != 7 {
		t.Fatalf("expected 7 remaining, got %d", s.Len())
	}

	minKey, ok := s.RollbackFromRightShift()
	if !ok {
		t.Fatal("expected rollback to report staged data")
	}
	if s.Len() != 10 {
		t.Errorf("rollback should restore all shed keys, got %d", s.Len())
	}
	if minKey.KInt != 0 {
		t.Errorf("rollback min key = %v, want KInt=0", minKey)
	}
}

func TestSmallestNCommitClearsStaging(t *testing.T) {
	s := New(60 * time.Second)
	s.SetRange(keyspace.AllInclusive())
	for i := uint64(0); i < 5; i++ {
		s.Insert(keyspace.FromInt(i), int32(i), int32(i))
	}
	s.SmallestN(2)
	s.CommitFromRightShift()
	if _, ok := s.RollbackFromRightShift(); ok {
		t.Error("rollback after commit should find nothing staged")
	}
	if s.Len() != 3 {
		t.Errorf("expected 3 remaining after commit, got %d", s.Len())
	}
}

func TestRecentAddCountEviction(t *testing.T) {
	s := New(10 * time.Millisecond)
	s.SetRange(keyspace.AllInclusive())
	s.Insert(keyspace.FromInt(1), 1, 1)
	if s.RecentAddCount() != 1 {
		t.Fatal("expected 1 recent add immediately after insert")
	}
	time.Sleep(20 * time.Millisecond)
	if s.RecentAddCount() != 0 {
		t.Error("expected recent adds to be evicted after window elapses")
	}
}
