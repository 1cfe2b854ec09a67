package router

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/kiloop/keyindex/internal/keyspace"
	"github.com/kiloop/keyindex/internal/keystore"
	"github.com/kiloop/keyindex/internal/wire"
	"github.com/kiloop/keyindex/internal/wireproto"
	"github.com/kiloop/keyindex/internal/workerlist"
)

type fakeSender struct {
	lastDst  *net.UDPAddr
	lastKind wire.Kind
	sends    int
	err      error
}

func (f *fakeSender) Send(dst *net.UDPAddr, kind wire.Kind, payload string, hasPayload bool) error {
	if f.err != nil {
		return f.err
	}
	f.lastDst = dst
	f.lastKind = kind
	f.sends++
	return nil
}

func newStoreWithRange(min, max uint64) *keystore.Store {
	s := keystore.New(time.Minute)
	var rng keyspace.KeyRange
	rng.SetMinMax(keyspace.FromInt(min), keyspace.FromInt(max))
	s.SetRange(rng)
	return s
}

func TestOwnsReflectsRange(t *testing.T) {
	store := newStoreWithRange(100, 200)
	r := New(1, store, workerlist.New(), &fakeSender{}, nil)

	if !r.Owns(keyspace.FromInt(150)) {
		t.Error("expected 150 to be owned by range [100,200)")
	}
	if r.Owns(keyspace.FromInt(250)) {
		t.Error("expected 250 to not be owned by range [100,200)")
	}
}

func TestForwardToKnownOwner(t *testing.T) {
	store := newStoreWithRange(0, 100)
	list := workerlist.New()
	list.ApplyDetail(2, workerlist.Address{IP: "10.0.0.2", Port: 9000}, workerlist.Address{}, mustRange(100, 200), 1, 0)

	sender := &fakeSender{}
	r := New(1, store, list, sender, nil)

	req := wireproto.KeyInfoInsert{KeyInfo: wireproto.KeyInfo{KeyInt: 150}}
	if err := r.Forward(wire.KeyInsertReq, req); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if sender.sends != 1 {
		t.Fatalf("expected one send, got %d", sender.sends)
	}
	if sender.lastDst.Port != 9000 {
		t.Errorf("expected forward to owner's UDP port 9000, got %d", sender.lastDst.Port)
	}
}

func TestForwardFallsBackToRightNeighborWhenOwnerUnknown(t *testing.T) {
	store := newStoreWithRange(0, 100)
	list := workerlist.New()
	list.ApplyDetail(3, workerlist.Address{IP: "10.0.0.3", Port: 9100}, workerlist.Address{}, keyspace.KeyRange{}, 1, 0)

	sender := &fakeSender{}
	r := New(1, store, list, sender, nil)
	r.SetNeighbors(0, 3)

	req := wireproto.KeyInfoInsert{KeyInfo: wireproto.KeyInfo{KeyInt: 500}}
	if err := r.Forward(wire.KeyInfoReq, req); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if sender.lastDst.Port != 9100 {
		t.Errorf("expected forward to right neighbor's UDP port 9100, got %d", sender.lastDst.Port)
	}
}

func TestForwardFallsBackToLeftNeighborWhenKeyBelowRange(t *testing.T) {
	store := newStoreWithRange(100, 200)
	list := workerlist.New()
	list.ApplyDetail(5, workerlist.Address{IP: "10.0.0.5", Port: 9200}, workerlist.Address{}, keyspace.KeyRange{}, 0, 1)

	sender := &fakeSender{}
	r := New(1, store, list, sender, nil)
	r.SetNeighbors(5, 0)

	req := wireproto.KeyInfoInsert{KeyInfo: wireproto.KeyInfo{KeyInt: 10}}
	if err := r.Forward(wire.KeyInsertReq, req); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if sender.lastDst.Port != 9200 {
		t.Errorf("expected forward to left neighbor's UDP port 9200, got %d", sender.lastDst.Port)
	}
}

func TestForwardDropsPastHopLimit(t *testing.T) {
	store := newStoreWithRange(0, 100)
	list := workerlist.New()
	list.ApplyDetail(2, workerlist.Address{IP: "10.0.0.2", Port: 9000}, workerlist.Address{}, mustRange(100, 200), 1, 0)

	sender := &fakeSender{}
	r := New(1, store, list, sender, nil)

	req := wireproto.KeyInfoInsert{KeyInfo: wireproto.KeyInfo{KeyInt: 150}, Hops: DefaultMaxHops}
	err := r.Forward(wire.KeyInsertReq, req)
	if err == nil {
		t.Fatal("expected hop-limit error")
	}
	if sender.sends != 0 {
		t.Errorf("expected no send once hop limit exceeded, got %d", sender.sends)
	}
}

func TestForwardNoDestinationKnown(t *testing.T) {
	store := newStoreWithRange(100, 200)
	r := New(1, store, workerlist.New(), &fakeSender{}, nil)

	req := wireproto.KeyInfoInsert{KeyInfo: wireproto.KeyInfo{KeyInt: 10}}
	if err := r.Forward(wire.KeyInsertReq, req); err == nil {
		t.Fatal("expected error when neither an owner nor a neighbor address is known")
	}
}

func TestSendCompletionGoesToRequesterNotForwardingChain(t *testing.T) {
	sender := &fakeSender{}
	r := New(1, newStoreWithRange(0, 100), workerlist.New(), sender, nil)

	req := wireproto.KeyInfoInsert{
		Requester: wireproto.NetAddress{IP: "192.168.1.5", UDPPort: 7000},
		KeyInfo:   wireproto.KeyInfo{KeyInt: 42, Success: true},
	}
	if err := r.SendCompletion(wire.KeyInsertComplete, req); err != nil {
		t.Fatalf("SendCompletion: %v", err)
	}
	if sender.lastDst.Port != 7000 || sender.lastDst.IP.String() != "192.168.1.5" {
		t.Errorf("expected completion sent to requester 192.168.1.5:7000, got %v", sender.lastDst)
	}
	if sender.lastKind != wire.KeyInsertComplete {
		t.Errorf("expected KEY_INSERT_COMPLETE kind, got %v", sender.lastKind)
	}
}

func TestSendErrorIsWrapped(t *testing.T) {
	sender := &fakeSender{err: errors.New("boom")}
	r := New(1, newStoreWithRange(0, 100), workerlist.New(), sender, nil)

	req := wireproto.KeyInfoInsert{Requester: wireproto.NetAddress{IP: "10.0.0.9", UDPPort: 1}}
	if err := r.SendCompletion(wire.KeyInfo, req); err == nil {
		t.Fatal("expected wrapped send error")
	}
}

func mustRange(min, max uint64) keyspace.KeyRange {
	var r keyspace.KeyRange
	r.SetMinMax(keyspace.FromInt(min), keyspace.FromInt(max))
	return r
}
