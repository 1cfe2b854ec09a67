package worker

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiloop/keyindex/internal/dolist"
	"github.com/kiloop/keyindex/internal/keyspace"
	"github.com/kiloop/keyindex/internal/keystore"
	"github.com/kiloop/keyindex/internal/netbuf"
	"github.com/kiloop/keyindex/internal/router"
	"github.com/kiloop/keyindex/internal/wire"
	"github.com/kiloop/keyindex/internal/wireproto"
	"github.com/kiloop/keyindex/internal/workerlist"
)

type fakeSender struct {
	mu    sync.Mutex
	sends []sentMsg
}

type sentMsg struct {
	dst     *net.UDPAddr
	kind    wire.Kind
	payload string
}

func (f *fakeSender) Send(dst *net.UDPAddr, kind wire.Kind, payload string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sentMsg{dst: dst, kind: kind, payload: payload})
	return nil
}

func (f *fakeSender) last() sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sends[len(f.sends)-1]
}

func newTestWorker() (*Worker, *fakeSender, *keystore.Store) {
	store := keystore.New(time.Minute)
	list := workerlist.New()
	sender := &fakeSender{}
	rtr := router.New(0, store, list, sender, nil)
	master := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 9870}
	selfUDP := workerlist.Address{IP: "10.0.0.2", Port: 9876}
	selfTCP := workerlist.Address{IP: "10.0.0.2", Port: 9877}
	w := New(store, list, rtr, sender, master, selfUDP, selfTCP, nil)
	return w, sender, store
}

func decodeBuf(payload string) *netbuf.Buffer {
	return netbuf.WrapBytes([]byte(payload))
}

func TestHandleWorkerListSchedulesDetailItemsForNewIDs(t *testing.T) {
	w, _, _ := newTestWorker()
	items := dolist.New(1)

	body := wireproto.MastWorkerList{Workers: []wireproto.WorkerListItem{{ID: 7}, {ID: 9}}}
	w.HandleWorkerList(string(body.Encode(nil)), true, items)

	require.NoError(t, items.CheckList(context.Background()))
	assert.Equal(t, 2, items.Len())
	w.mu.Lock()
	_, ok7 := w.pendingDetail[7]
	_, ok9 := w.pendingDetail[9]
	w.mu.Unlock()
	assert.True(t, ok7)
	assert.True(t, ok9)
}

func TestHandleWorkerInfoAdoptsOwnIDOnAddressMatch(t *testing.T) {
	w, _, _ := newTestWorker()

	other := wireproto.WorkerListItem{
		ID:         3,
		HasAddress: true,
		Address:    wireproto.NetAddress{IP: "10.0.0.99", UDPPort: 1, TCPPort: 2},
	}
	w.HandleWorkerInfo(string(other.Encode(nil)), true)
	assert.Zero(t, w.ID())

	self := wireproto.WorkerListItem{
		ID:         5,
		HasAddress: true,
		Address:    wireproto.NetAddress{IP: w.SelfUDP.IP, UDPPort: w.SelfUDP.Port, TCPPort: w.SelfTCP.Port},
	}
	w.HandleWorkerInfo(string(self.Encode(nil)), true)
	assert.Equal(t, uint32(5), w.ID())
	assert.Equal(t, uint32(5), w.Router.SelfID)
}

func TestHandleWorkerInfoCompletesPendingDetailItem(t *testing.T) {
	w, _, _ := newTestWorker()
	items := dolist.New(1)
	w.HandleWorkerList(string(wireproto.MastWorkerList{Workers: []wireproto.WorkerListItem{{ID: 11}}}.Encode(nil)), true, items)

	w.mu.Lock()
	di := w.pendingDetail[11]
	w.mu.Unlock()
	require.NotNil(t, di)
	assert.True(t, di.Attempts() >= 0)

	info := wireproto.WorkerListItem{ID: 11, HasAddress: true, Address: wireproto.NetAddress{IP: "10.0.0.50", UDPPort: 1, TCPPort: 2}}
	w.HandleWorkerInfo(string(info.Encode(nil)), true)

	w.mu.Lock()
	_, stillPending := w.pendingDetail[11]
	w.mu.Unlock()
	assert.False(t, stillPending)
}

func TestHandleKeyInsertOwnedKeyRepliesWithCompletion(t *testing.T) {
	w, sender, store := newTestWorker()
	store.SetRange(keyspace.AllInclusive())

	req := wireproto.KeyInfoInsert{
		Requester: wireproto.NetAddress{IP: "10.0.0.5", UDPPort: 4000, TCPPort: 4001},
		KeyInfo:   wireproto.KeyInfo{KeyInt: 42, Chunk: 1, Subchunk: 2},
	}
	w.HandleKeyInsert(string(req.Encode(nil)), true)

	sent := sender.last()
	assert.Equal(t, wire.KeyInsertComplete, sent.kind)
	assert.Equal(t, "10.0.0.5", sent.dst.IP.String())
	assert.Equal(t, 4000, sent.dst.Port)

	reply, err := wireproto.DecodeKeyInfoInsert(decodeBuf(sent.payload))
	require.NoError(t, err)
	assert.True(t, reply.KeyInfo.Success)
	assert.Equal(t, int32(1), reply.KeyInfo.Chunk)
}

func TestHandleKeyInsertDuplicateMismatchReportsFailure(t *testing.T) {
	w, sender, store := newTestWorker()
	store.SetRange(keyspace.AllInclusive())

	first := wireproto.KeyInfoInsert{
		Requester: wireproto.NetAddress{IP: "10.0.0.5", UDPPort: 4000, TCPPort: 4001},
		KeyInfo:   wireproto.KeyInfo{KeyInt: 42, Chunk: 1, Subchunk: 2},
	}
	w.HandleKeyInsert(string(first.Encode(nil)), true)

	second := first
	second.KeyInfo.Chunk = 9
	w.HandleKeyInsert(string(second.Encode(nil)), true)

	sent := sender.last()
	reply, err := wireproto.DecodeKeyInfoInsert(decodeBuf(sent.payload))
	require.NoError(t, err)
	assert.False(t, reply.KeyInfo.Success)
	assert.Equal(t, int32(1), reply.KeyInfo.Chunk)
}

func TestHandleKeyInsertUnownedKeyWithNoRouteSendsNothing(t *testing.T) {
	w, sender, store := newTestWorker()
	store.SetRange(keyspace.KeyRange{})

	req := wireproto.KeyInfoInsert{
		Requester: wireproto.NetAddress{IP: "10.0.0.5", UDPPort: 4000, TCPPort: 4001},
		KeyInfo:   wireproto.KeyInfo{KeyInt: 42, Chunk: 1, Subchunk: 2},
	}
	w.HandleKeyInsert(string(req.Encode(nil)), true)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Empty(t, sender.sends)
}

func TestHandleKeyInfoOwnedKeyLooksUpStoredValue(t *testing.T) {
	w, sender, store := newTestWorker()
	store.SetRange(keyspace.AllInclusive())
	key := keyspace.FromInt(42)
	store.Insert(key, 3, 4)

	req := wireproto.KeyInfoInsert{
		Requester: wireproto.NetAddress{IP: "10.0.0.5", UDPPort: 4000, TCPPort: 4001},
		KeyInfo:   wireproto.KeyInfo{KeyInt: 42},
	}
	w.HandleKeyInfo(string(req.Encode(nil)), true)

	sent := sender.last()
	assert.Equal(t, wire.KeyInfo, sent.kind)
	reply, err := wireproto.DecodeKeyInfoInsert(decodeBuf(sent.payload))
	require.NoError(t, err)
	assert.True(t, reply.KeyInfo.Success)
	assert.Equal(t, int32(3), reply.KeyInfo.Chunk)
	assert.Equal(t, int32(4), reply.KeyInfo.Subchunk)
}

func TestHandleKeyInfoOwnedMissingKeyReportsNotFound(t *testing.T) {
	w, sender, store := newTestWorker()
	store.SetRange(keyspace.AllInclusive())

	req := wireproto.KeyInfoInsert{
		Requester: wireproto.NetAddress{IP: "10.0.0.5", UDPPort: 4000, TCPPort: 4001},
		KeyInfo:   wireproto.KeyInfo{KeyInt: 99},
	}
	w.HandleKeyInfo(string(req.Encode(nil)), true)

	sent := sender.last()
	reply, err := wireproto.DecodeKeyInfoInsert(decodeBuf(sent.payload))
	require.NoError(t, err)
	assert.False(t, reply.KeyInfo.Success)
}

func TestPushKeysInfoNoopBeforeRegistration(t *testing.T) {
	w, sender, _ := newTestWorker()
	w.PushKeysInfo()

	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Empty(t, sender.sends)
}

func TestPushKeysInfoSendsReportOnceRegistered(t *testing.T) {
	w, sender, store := newTestWorker()
	store.SetRange(keyspace.AllInclusive())
	w.id.Store(5)

	w.PushKeysInfo()

	sent := sender.last()
	assert.Equal(t, wire.WorkerKeysInfo, sent.kind)
	info, err := wireproto.DecodeWorkerKeysInfo(decodeBuf(sent.payload))
	require.NoError(t, err)
	assert.Equal(t, uint32(5), info.ID)
}
