// Package worker implements the worker role: registration and id
// discovery against the master, the right-neighbor TCP link, and request
// handling (local insert/lookup, or forwarding) over UDP.
package worker

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kiloop/keyindex/internal/dolist"
	"github.com/kiloop/keyindex/internal/keystore"
	"github.com/kiloop/keyindex/internal/neighbor"
	"github.com/kiloop/keyindex/internal/netbuf"
	"github.com/kiloop/keyindex/internal/router"
	"github.com/kiloop/keyindex/internal/wire"
	"github.com/kiloop/keyindex/internal/wireproto"
	"github.com/kiloop/keyindex/internal/workerlist"
)

// Sender is the subset of transport.Server a worker needs.
type Sender interface {
	Send(dst *net.UDPAddr, kind wire.Kind, payload string, hasPayload bool) error
}

// Worker holds one worker's view of the ring plus its registration and
// neighbor-link state.
type Worker struct {
	Store          *keystore.Store
	List           *workerlist.List
	Router         *router.Router
	Link           *neighbor.Link
	NeighborServer *neighbor.Server
	Sender         Sender
	Logger         *slog.Logger

	MasterAddr *net.UDPAddr
	SelfUDP    workerlist.Address
	SelfTCP    workerlist.Address

	id      atomic.Uint32
	leftID  atomic.Uint32
	rightID atomic.Uint32

	mu            sync.Mutex
	pendingDetail map[uint32]*detailItem
}

// New constructs a Worker around the given Router. The caller is
// responsible for wiring Link and NeighborServer afterwards; New leaves
// both nil.
func New(store *keystore.Store, list *workerlist.List, rtr *router.Router, sender Sender, masterAddr *net.UDPAddr, selfUDP, selfTCP workerlist.Address, logger *slog.Logger) *Worker {
	return &Worker{
		Store:         store,
		List:          list,
		Router:        rtr,
		Sender:        sender,
		Logger:        logger,
		MasterAddr:    masterAddr,
		SelfUDP:       selfUDP,
		SelfTCP:       selfTCP,
		pendingDetail: make(map[uint32]*detailItem),
	}
}

// ID returns the worker's assigned id, 0 if not yet registered.
func (w *Worker) ID() uint32 { return w.id.Load() }

func (w *Worker) logWarn(msg string, err error) {
	if w.Logger == nil {
		return
	}
	if err != nil {
		w.Logger.Warn(msg, "err", err)
	} else {
		w.Logger.Warn(msg)
	}
}

// sendRegister emits MAST_WORKER_ADD_REQ. Fire-and-forget: the master
// gives no direct ack carrying the assigned id, so the registration item
// keeps retrying until the worker-list/detail pull loop (below) discovers
// its own id by matching its address.
func (w *Worker) sendRegister() {
	addr := wireproto.NetAddress{IP: w.SelfUDP.IP, UDPPort: w.SelfUDP.Port, TCPPort: w.SelfTCP.Port}
	if err := w.Sender.Send(w.MasterAddr, wire.MastWorkerAddReq, string(addr.Encode(nil)), true); err != nil {
		w.logWarn("worker: send registration request failed", err)
	}
}

func (w *Worker) requestWorkerList() {
	if err := w.Sender.Send(w.MasterAddr, wire.MastWorkerListReq, "", false); err != nil {
		w.logWarn("worker: request worker list failed", err)
	}
}

func (w *Worker) requestWorkerInfo(id uint32) {
	ref := wireproto.NeighborRef{ID: id}
	if err := w.Sender.Send(w.MasterAddr, wire.MastWorkerInfoReq, string(ref.Encode(nil)), true); err != nil {
		w.logWarn("worker: request worker info failed", err)
	}
}

// HandleWorkerList processes MAST_WORKER_LIST: new ids are merged and a
// detail-fetch item is scheduled per id, per spec §4.5.
func (w *Worker) HandleWorkerList(payload string, hasPayload bool, list *dolist.List) {
	if !hasPayload {
		return
	}
	body, err := wireproto.DecodeMastWorkerList(netbuf.WrapBytes([]byte(payload)))
	if err != nil {
		w.logWarn("worker: decode worker list failed", err)
		return
	}
	ids := make([]uint32, len(body.Workers))
	for i, it := range body.Workers {
		ids[i] = it.ID
	}
	fresh := w.List.ReceiveIDs(ids)
	for _, id := range fresh {
		item := newDetailItem(w, id)
		w.mu.Lock()
		w.pendingDetail[id] = item
		w.mu.Unlock()
		list.AddItem(item)
	}
}

// HandleWorkerInfo processes MAST_WORKER_INFO: installs the fetched
// detail, and if this worker's own id is still unknown, adopts it when
// the address matches.
func (w *Worker) HandleWorkerInfo(payload string, hasPayload bool) {
	if !hasPayload {
		return
	}
	item, err := wireproto.DecodeWorkerListItem(netbuf.WrapBytes([]byte(payload)))
	if err != nil {
		w.logWarn("worker: decode worker info failed", err)
		return
	}
	udpAddr := workerlist.Address{IP: item.Address.IP, Port: item.Address.UDPPort}
	tcpAddr := workerlist.Address{IP: item.Address.IP, Port: item.Address.TCPPort}
	rng := wireproto.ToKeyRange(item.Range)
	w.List.ApplyDetail(item.ID, udpAddr, tcpAddr, rng, 0, 0)

	if w.ID() == 0 && item.HasAddress && udpAddr == w.SelfUDP {
		w.id.Store(item.ID)
		w.Router.SelfID = item.ID
		w.Link.SetSelfID(item.ID)
		if w.NeighborServer != nil {
			w.NeighborServer.SelfID = item.ID
		}
		if w.Logger != nil {
			w.Logger.Info("worker: discovered own id", "id", item.ID)
		}
	}

	w.mu.Lock()
	di, ok := w.pendingDetail[item.ID]
	if ok {
		delete(w.pendingDetail, item.ID)
	}
	w.mu.Unlock()
	if ok {
		di.InfoReceived(time.Now())
	}
}

// HandleLeftNeighbor processes WORKER_LEFT_NEIGHBOR from the master.
func (w *Worker) HandleLeftNeighbor(payload string, hasPayload bool) {
	if !hasPayload {
		return
	}
	ref, err := wireproto.DecodeNeighborRef(netbuf.WrapBytes([]byte(payload)))
	if err != nil {
		w.logWarn("worker: decode left neighbor assignment failed", err)
		return
	}
	w.leftID.Store(ref.ID)
	w.Router.SetNeighbors(ref.ID, w.rightID.Load())
}

// HandleRightNeighbor processes WORKER_RIGHT_NEIGHBOR from the master.
func (w *Worker) HandleRightNeighbor(payload string, hasPayload bool) {
	if !hasPayload {
		return
	}
	ref, err := wireproto.DecodeNeighborRef(netbuf.WrapBytes([]byte(payload)))
	if err != nil {
		w.logWarn("worker: decode right neighbor assignment failed", err)
		return
	}
	w.rightID.Store(ref.ID)
	w.Router.SetNeighbors(w.leftID.Load(), ref.ID)
	w.Link.SetRightID(ref.ID)
}

// HandleKeyInsert processes KEY_INSERT_REQ: local insert if owned,
// otherwise forwarded. The completion always targets the original
// requester, never the UDP peer this datagram arrived from.
func (w *Worker) HandleKeyInsert(payload string, hasPayload bool) {
	if !hasPayload {
		return
	}
	req, err := wireproto.DecodeKeyInfoInsert(netbuf.WrapBytes([]byte(payload)))
	if err != nil {
		w.logWarn("worker: decode key insert request failed", err)
		return
	}
	key := req.KeyInfo.ToCompositeKey()
	if !w.Store.Contains(key) {
		if err := w.Router.Forward(wire.KeyInsertReq, req); err != nil {
			w.logWarn("worker: forward key insert failed", err)
		}
		return
	}

	result := w.Store.Insert(key, req.KeyInfo.Chunk, req.KeyInfo.Subchunk)
	reply := req
	reply.KeyInfo.Chunk = result.Stored.Chunk
	reply.KeyInfo.Subchunk = result.Stored.Subchunk
	reply.KeyInfo.Success = !result.Conflict
	if result.Conflict {
		w.logWarn("worker: duplicate key insert with mismatched value", nil)
	}
	if err := w.Router.SendCompletion(wire.KeyInsertComplete, reply); err != nil {
		w.logWarn("worker: send key insert completion failed", err)
	}
}

// HandleKeyInfo processes KEY_INFO_REQ: local lookup if owned, otherwise
// forwarded.
func (w *Worker) HandleKeyInfo(payload string, hasPayload bool) {
	if !hasPayload {
		return
	}
	req, err := wireproto.DecodeKeyInfoInsert(netbuf.WrapBytes([]byte(payload)))
	if err != nil {
		w.logWarn("worker: decode key info request failed", err)
		return
	}
	key := req.KeyInfo.ToCompositeKey()
	if !w.Store.Contains(key) {
		if err := w.Router.Forward(wire.KeyInfoReq, req); err != nil {
			w.logWarn("worker: forward key info failed", err)
		}
		return
	}

	reply := req
	if val, ok := w.Store.Lookup(key); ok {
		reply.KeyInfo.Chunk = val.Chunk
		reply.KeyInfo.Subchunk = val.Subchunk
		reply.KeyInfo.Success = true
	} else {
		reply.KeyInfo.Success = false
	}
	if err := w.Router.SendCompletion(wire.KeyInfo, reply); err != nil {
		w.logWarn("worker: send key info reply failed", err)
	}
}

// PushKeysInfo sends an unsolicited WORKER_KEYS_INFO report to the master,
// used both by the periodic monitor tick and the neighbor handshake's
// range-change callback.
func (w *Worker) PushKeysInfo() {
	if w.ID() == 0 {
		return
	}
	info := wireproto.WorkerKeysInfo{
		ID:         w.ID(),
		MapSize:    uint32(w.Store.Len()),
		RecentAdds: uint32(w.Store.RecentAddCount()),
		Range:      wireproto.FromKeyRange(w.Store.Range()),
		Left:       wireproto.NeighborRef{ID: w.leftID.Load()},
		Right:      wireproto.NeighborRef{ID: w.rightID.Load()},
	}
	if err := w.Sender.Send(w.MasterAddr, wire.WorkerKeysInfo, string(info.Encode(nil)), true); err != nil {
		w.logWarn("worker: push keys info failed", err)
	}
}

// Monitor runs one do-list tick of the worker's core state machine (spec
// §4.9): if unregistered, do nothing (the registration item handles
// that); else reconcile the right-link and push an updated report to the
// master every tick, so key-count growth is visible to
// master.assignNeighborIfNeeded even while the range itself stays put
// (the single-worker case before any split).
func (w *Worker) Monitor(ctx context.Context) {
	if w.ID() == 0 {
		return
	}
	if err := w.Link.Monitor(ctx); err != nil {
		w.logWarn("worker: neighbor link monitor failed", err)
	}
	w.PushKeysInfo()
}
