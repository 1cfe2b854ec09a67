package neighbor

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/kiloop/keyindex/internal/keyspace"
	"github.com/kiloop/keyindex/internal/keystore"
	"github.com/kiloop/keyindex/internal/workerlist"
)

func freeTCPAddr(t *testing.T) (string, uint16) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()
	return addr.IP.String(), uint16(addr.Port)
}

func TestHandshakePropagatesRange(t *testing.T) {
	ip, port := freeTCPAddr(t)
	addr := net.JoinHostPort(ip, strconv.Itoa(int(port)))

	rightStore := keystore.New(time.Minute)
	var rightRange keyspace.KeyRange
	rightRange.SetMinMax(keyspace.FromInt(100), keyspace.FromInt(200))
	rightStore.SetRange(rightRange)

	srv := &Server{SelfID: 2, Store: rightStore}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx, addr) }()
	time.Sleep(50 * time.Millisecond)

	leftStore := keystore.New(time.Minute)
	leftStore.SetRange(keyspace.AllInclusive())

	list := workerlist.New()
	list.ApplyDetail(2, workerlist.Address{}, workerlist.Address{IP: ip, Port: port}, keyspace.KeyRange{}, 0, 0)

	link := NewLink(1, leftStore, list, 1.10, 10000, nil)
	link.SetRightID(2)

	if err := link.Monitor(ctx); err != nil {
		t.Fatalf("Monitor: %v", err)
	}
	if !link.Established() {
		t.Fatal("expected link to be established after successful handshake")
	}
	link.Close()

	got := leftStore.Range()
	if got.Max.KInt != 100 {
		t.Errorf("expected own range.max to adopt right neighbor's range.min (100), got %v", got.Max)
	}
}

func TestShiftToRightMovesKeys(t *testing.T) {
	ip, port := freeTCPAddr(t)
	addr := net.JoinHostPort(ip, strconv.Itoa(int(port)))

	rightStore := keystore.New(time.Minute)
	var rightRange keyspace.KeyRange
	rightRange.SetMinMax(keyspace.FromInt(1000), keyspace.FromInt(2000))
	rightStore.SetRange(rightRange)

	srv := &Server{SelfID: 2, Store: rightStore}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Run(ctx, addr) }()
	time.Sleep(50 * time.Millisecond)

	leftStore := keystore.New(time.Minute)
	var leftRange keyspace.KeyRange
	leftRange.SetMinMax(keyspace.MinValue(), keyspace.FromInt(1000))
	leftStore.SetRange(leftRange)
	for i := uint64(0); i < 30; i++ {
		leftStore.Insert(keyspace.FromInt(i), int32(i), int32(i))
	}

	list := workerlist.New()
	list.ApplyDetail(2, workerlist.Address{}, workerlist.Address{IP: ip, Port: port}, keyspace.KeyRange{}, 0, 0)

	link := NewLink(1, leftStore, list, 1.10, 10000, nil)
	link.SetRightID(2)

	// The first Monitor call both performs the handshake and, once
	// established, immediately evaluates the shift condition: right side
	// reports 0 keys, left has 30, so N(30) > R(0)*1.10 triggers a
	// TO-RIGHT shift of k=min(15,10000,10)=10 keys.
	if err := link.Monitor(ctx); err != nil {
		t.Fatalf("Monitor: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if leftStore.Len() >= 30 {
		t.Errorf("expected left store to have shed keys, still has %d", leftStore.Len())
	}
	if rightStore.Len() == 0 {
		t.Errorf("expected right store to have received shifted keys")
	}
	if leftStore.Len()+rightStore.Len() != 30 {
		t.Errorf("expected no keys lost in shift: left=%d right=%d", leftStore.Len(), rightStore.Len())
	}
}
