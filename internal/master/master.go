// Package master implements the master role's message handlers: worker
// registration, load reports, and neighbor assignment as the ring grows.
package master

import (
	"log/slog"
	"net"
	"sync"

	"github.com/kiloop/keyindex/internal/errs"
	"github.com/kiloop/keyindex/internal/netbuf"
	"github.com/kiloop/keyindex/internal/wire"
	"github.com/kiloop/keyindex/internal/wireproto"
	"github.com/kiloop/keyindex/internal/workerlist"
)

// Sender is the subset of transport.Server the master needs to push
// unsolicited neighbor-assignment messages to workers.
type Sender interface {
	Send(dst *net.UDPAddr, kind wire.Kind, payload string, hasPayload bool) error
}

// Master tracks ring membership and decides when to grow the ring.
type Master struct {
	List             *workerlist.List
	Sender           Sender
	Logger           *slog.Logger
	MaxKeysPerWorker int

	// FatalCh receives an error when a topology invariant is violated
	// (more than one unlimited active worker). The role runner watches
	// this channel and terminates the process; the handler path itself
	// never blocks on it.
	FatalCh chan error

	mu             sync.Mutex
	addingWorkerID uint32
}

// New constructs a Master. maxKeysPerWorker <= 0 disables growth (an
// always-false trigger), which is only useful in tests.
func New(list *workerlist.List, sender Sender, logger *slog.Logger, maxKeysPerWorker int) *Master {
	return &Master{
		List:             list,
		Sender:           sender,
		Logger:           logger,
		MaxKeysPerWorker: maxKeysPerWorker,
		FatalCh:          make(chan error, 1),
	}
}

// HandleWorkerAddReq processes MAST_WORKER_ADD_REQ: registration is
// fire-and-forget, the worker discovers its assigned id later by pulling
// the worker list and matching its own address (see HandleWorkerListReq /
// HandleWorkerInfoReq).
func (m *Master) HandleWorkerAddReq(payload string, hasPayload bool) {
	if !hasPayload {
		return
	}
	addr, err := wireproto.DecodeNetAddress(netbuf.WrapBytes([]byte(payload)))
	if err != nil {
		m.logWarn("master: decode worker add request failed", err)
		return
	}
	if _, ok := m.List.AddWorker(addr.IP, addr.UDPPort, addr.TCPPort); !ok {
		m.logWarn("master: duplicate worker registration ignored", nil)
		return
	}
	m.assignNeighborIfNeeded()
}

// HandleWorkerKeysInfo processes WORKER_KEYS_INFO: the periodic load
// report a worker pushes to the master.
func (m *Master) HandleWorkerKeysInfo(payload string, hasPayload bool) {
	if !hasPayload {
		return
	}
	info, err := wireproto.DecodeWorkerKeysInfo(netbuf.WrapBytes([]byte(payload)))
	if err != nil {
		m.logWarn("master: decode worker keys info failed", err)
		return
	}
	rng := wireproto.ToKeyRange(info.Range)
	m.List.UpdateEntry(info.ID, workerlist.Address{}, workerlist.Address{}, rng)
	m.List.SetLoad(info.ID, info.MapSize, info.RecentAdds)
	m.assignNeighborIfNeeded()
}

// HandleWorkerListReq processes MAST_WORKER_LIST_REQ: replies with every
// known worker id; per-worker detail is fetched individually.
func (m *Master) HandleWorkerListReq() (wire.Kind, string, bool) {
	ids := m.List.IDs()
	list := wireproto.MastWorkerList{Workers: make([]wireproto.WorkerListItem, len(ids))}
	for i, id := range ids {
		list.Workers[i] = wireproto.WorkerListItem{ID: id}
	}
	return wire.MastWorkerList, string(list.Encode(nil)), true
}

// HandleWorkerInfoReq processes MAST_WORKER_INFO_REQ: the payload names a
// single worker id, the reply carries its address and range.
func (m *Master) HandleWorkerInfoReq(payload string, hasPayload bool) (wire.Kind, string, bool) {
	if !hasPayload {
		return 0, "", false
	}
	ref, err := wireproto.DecodeNeighborRef(netbuf.WrapBytes([]byte(payload)))
	if err != nil {
		m.logWarn("master: decode worker info request failed", err)
		return 0, "", false
	}
	w, ok := m.List.Get(ref.ID)
	if !ok {
		return 0, "", false
	}
	item := wireproto.WorkerListItem{
		ID:         w.ID,
		HasAddress: w.UDPAddr.Valid(),
		Address:    wireproto.NetAddress{IP: w.UDPAddr.IP, UDPPort: w.UDPAddr.Port, TCPPort: w.TCPAddr.Port},
		HasRange:   w.Range.Valid,
		Range:      wireproto.FromKeyRange(w.Range),
	}
	return wire.MastWorkerInfo, string(item.Encode(nil)), true
}

// assignNeighborIfNeeded implements the master's ring-growth decision
// (spec §4.9): at most one worker is ever being added at a time.
func (m *Master) assignNeighborIfNeeded() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.addingWorkerID != 0 {
		w, ok := m.List.Get(m.addingWorkerID)
		if ok && w.Range.Valid {
			m.List.SetActive(m.addingWorkerID)
			m.addingWorkerID = 0
		}
		return
	}

	if n := m.List.CountUnlimitedActive(); n > 1 {
		m.reportFatal(errs.FatalTopology("master: more than one unlimited active worker"))
		return
	}

	if m.MaxKeysPerWorker <= 0 {
		return
	}
	if m.List.AverageActiveKeyCount() <= float64(m.MaxKeysPerWorker) {
		return
	}

	inactive, ok := m.List.FirstInactive()
	if !ok {
		return
	}
	rightEdge, ok := m.List.RightEdge()
	if !ok {
		return
	}

	if rightAddr, ok := udpAddr(rightEdge.UDPAddr); ok {
		body := wireproto.NeighborRef{ID: inactive.ID}
		if err := m.Sender.Send(rightAddr, wire.WorkerRightNeighbor, string(body.Encode(nil)), true); err != nil {
			m.logWarn("master: send WORKER_RIGHT_NEIGHBOR failed", err)
			return
		}
	}
	if inactiveAddr, ok := udpAddr(inactive.UDPAddr); ok {
		body := wireproto.NeighborRef{ID: rightEdge.ID}
		if err := m.Sender.Send(inactiveAddr, wire.WorkerLeftNeighbor, string(body.Encode(nil)), true); err != nil {
			m.logWarn("master: send WORKER_LEFT_NEIGHBOR failed", err)
			return
		}
	}

	m.List.SetNeighbors(rightEdge.ID, rightEdge.LeftID, inactive.ID)
	m.List.SetNeighbors(inactive.ID, rightEdge.ID, 0)
	m.addingWorkerID = inactive.ID
}

func (m *Master) reportFatal(err error) {
	if m.Logger != nil {
		m.Logger.Error("master: fatal topology violation", "err", err)
	}
	select {
	case m.FatalCh <- err:
	default:
	}
}

func (m *Master) logWarn(msg string, err error) {
	if m.Logger == nil {
		return
	}
	if err != nil {
		m.Logger.Warn(msg, "err", err)
	} else {
		m.Logger.Warn(msg)
	}
}

func udpAddr(a workerlist.Address) (*net.UDPAddr, bool) {
	if !a.Valid() {
		return nil, false
	}
	ip := net.ParseIP(a.IP)
	if ip == nil {
		return nil, false
	}
	return &net.UDPAddr{IP: ip, Port: int(a.Port)}, true
}
