// Package wireproto implements the structured payload bodies carried
// inside a message's STRING element, per the external wire interface: each
// struct is a fixed sequence of wire.Elements, encoded and decoded with
// the same framed codec used for the envelope.
package wireproto

import (
	"fmt"

	"github.com/kiloop/keyindex/internal/netbuf"
	"github.com/kiloop/keyindex/internal/wire"
)

// KeyInfo carries a single key and its resolved (or tentative) location.
type KeyInfo struct {
	KeyInt   uint64
	KeyStr   string
	Chunk    int32
	Subchunk int32
	Success  bool
}

func encodeBool(buf []byte, v bool) []byte {
	var n uint16
	if v {
		n = 1
	}
	return wire.AppendTo(buf, wire.U16Elem(n))
}

func decodeBool(b *netbuf.Buffer) (bool, error) {
	el, ok, err := b.DecodeElement()
	if err != nil || !ok || el.Type != wire.U16 {
		return false, fmt.Errorf("wireproto: expected bool element: %v", err)
	}
	return el.U16v != 0, nil
}

func decodeU64(b *netbuf.Buffer) (uint64, error) {
	el, ok, err := b.DecodeElement()
	if err != nil || !ok || el.Type != wire.U64 {
		return 0, fmt.Errorf("wireproto: expected u64 element: %v", err)
	}
	return el.U64v, nil
}

func decodeU32(b *netbuf.Buffer) (uint32, error) {
	el, ok, err := b.DecodeElement()
	if err != nil || !ok || el.Type != wire.U32 {
		return 0, fmt.Errorf("wireproto: expected u32 element: %v", err)
	}
	return el.U32v, nil
}

func decodeU16(b *netbuf.Buffer) (uint16, error) {
	el, ok, err := b.DecodeElement()
	if err != nil || !ok || el.Type != wire.U16 {
		return 0, fmt.Errorf("wireproto: expected u16 element: %v", err)
	}
	return el.U16v, nil
}

func decodeStr(b *netbuf.Buffer) (string, error) {
	el, ok, err := b.DecodeElement()
	if err != nil || !ok || el.Type != wire.String {
		return "", fmt.Errorf("wireproto: expected string element: %v", err)
	}
	return el.Str, nil
}

// Encode appends ki to buf.
func (ki KeyInfo) Encode(buf []byte) []byte {
	buf = wire.AppendTo(buf, wire.U64Elem(ki.KeyInt))
	buf = wire.AppendTo(buf, wire.StringElem(ki.KeyStr))
	buf = wire.AppendTo(buf, wire.U32Elem(uint32(ki.Chunk)))
	buf = wire.AppendTo(buf, wire.U32Elem(uint32(ki.Subchunk)))
	buf = encodeBool(buf, ki.Success)
	return buf
}

// DecodeKeyInfo reads a KeyInfo from b.
func DecodeKeyInfo(b *netbuf.Buffer) (KeyInfo, error) {
	var ki KeyInfo
	var err error
	if ki.KeyInt, err = decodeU64(b); err != nil {
		return ki, err
	}
	if ki.KeyStr, err = decodeStr(b); err != nil {
		return ki, err
	}
	var chunk, sub uint32
	if chunk, err = decodeU32(b); err != nil {
		return ki, err
	}
	if sub, err = decodeU32(b); err != nil {
		return ki, err
	}
	ki.Chunk, ki.Subchunk = int32(chunk), int32(sub)
	if ki.Success, err = decodeBool(b); err != nil {
		return ki, err
	}
	return ki, nil
}

// NetAddress is an (ip, udp_port, tcp_port) triple.
type NetAddress struct {
	IP       string
	UDPPort  uint16
	TCPPort  uint16
}

func (a NetAddress) Encode(buf []byte) []byte {
	buf = wire.AppendTo(buf, wire.StringElem(a.IP))
	buf = wire.AppendTo(buf, wire.U16Elem(a.UDPPort))
	buf = wire.AppendTo(buf, wire.U16Elem(a.TCPPort))
	return buf
}

func DecodeNetAddress(b *netbuf.Buffer) (NetAddress, error) {
	var a NetAddress
	var err error
	if a.IP, err = decodeStr(b); err != nil {
		return a, err
	}
	if a.UDPPort, err = decodeU16(b); err != nil {
		return a, err
	}
	if a.TCPPort, err = decodeU16(b); err != nil {
		return a, err
	}
	return a, nil
}

// KeyInfoInsert is the body of KEY_INSERT_REQ and KEY_INFO_REQ: the
// requester's return address, the key (and tentative value for inserts),
// and the forwarding hop count.
type KeyInfoInsert struct {
	Requester NetAddress
	KeyInfo   KeyInfo
	Hops      uint32
}

func (k KeyInfoInsert) Encode(buf []byte) []byte {
	buf = k.Requester.Encode(buf)
	buf = k.KeyInfo.Encode(buf)
	buf = wire.AppendTo(buf, wire.U32Elem(k.Hops))
	return buf
}

func DecodeKeyInfoInsert(b *netbuf.Buffer) (KeyInfoInsert, error) {
	var k KeyInfoInsert
	var err error
	if k.Requester, err = DecodeNetAddress(b); err != nil {
		return k, err
	}
	if k.KeyInfo, err = DecodeKeyInfo(b); err != nil {
		return k, err
	}
	if k.Hops, err = decodeU32(b); err != nil {
		return k, err
	}
	return k, nil
}

// WorkerRange mirrors keyspace.KeyRange on the wire.
type WorkerRange struct {
	Valid        bool
	MinInt       uint64
	MinStr       string
	MaxInt       uint64
	MaxStr       string
	MaxUnlimited bool
}

func (r WorkerRange) Encode(buf []byte) []byte {
	buf = encodeBool(buf, r.Valid)
	buf = wire.AppendTo(buf, wire.U64Elem(r.MinInt))
	buf = wire.AppendTo(buf, wire.StringElem(r.MinStr))
	buf = wire.AppendTo(buf, wire.U64Elem(r.MaxInt))
	buf = wire.AppendTo(buf, wire.StringElem(r.MaxStr))
	buf = encodeBool(buf, r.MaxUnlimited)
	return buf
}

func DecodeWorkerRange(b *netbuf.Buffer) (WorkerRange, error) {
	var r WorkerRange
	var err error
	if r.Valid, err = decodeBool(b); err != nil {
		return r, err
	}
	if r.MinInt, err = decodeU64(b); err != nil {
		return r, err
	}
	if r.MinStr, err = decodeStr(b); err != nil {
		return r, err
	}
	if r.MaxInt, err = decodeU64(b); err != nil {
		return r, err
	}
	if r.MaxStr, err = decodeStr(b); err != nil {
		return r, err
	}
	if r.MaxUnlimited, err = decodeBool(b); err != nil {
		return r, err
	}
	return r, nil
}

// NeighborRef names a neighbor by worker id only (0 = none).
type NeighborRef struct {
	ID uint32
}

func (n NeighborRef) Encode(buf []byte) []byte {
	return wire.AppendTo(buf, wire.U32Elem(n.ID))
}

func DecodeNeighborRef(b *netbuf.Buffer) (NeighborRef, error) {
	id, err := decodeU32(b)
	return NeighborRef{ID: id}, err
}

// WorkerKeysInfo is the periodic key-count/range report a worker sends to
// the master and exchanges with its right neighbor at handshake time.
type WorkerKeysInfo struct {
	ID         uint32
	MapSize    uint32
	RecentAdds uint32
	Range      WorkerRange
	Left       NeighborRef
	Right      NeighborRef
}

func (w WorkerKeysInfo) Encode(buf []byte) []byte {
	buf = wire.AppendTo(buf, wire.U32Elem(w.ID))
	buf = wire.AppendTo(buf, wire.U32Elem(w.MapSize))
	buf = wire.AppendTo(buf, wire.U32Elem(w.RecentAdds))
	buf = w.Range.Encode(buf)
	buf = w.Left.Encode(buf)
	buf = w.Right.Encode(buf)
	return buf
}

func DecodeWorkerKeysInfo(b *netbuf.Buffer) (WorkerKeysInfo, error) {
	var w WorkerKeysInfo
	var err error
	if w.ID, err = decodeU32(b); err != nil {
		return w, err
	}
	if w.MapSize, err = decodeU32(b); err != nil {
		return w, err
	}
	if w.RecentAdds, err = decodeU32(b); err != nil {
		return w, err
	}
	if w.Range, err = DecodeWorkerRange(b); err != nil {
		return w, err
	}
	if w.Left, err = DecodeNeighborRef(b); err != nil {
		return w, err
	}
	if w.Right, err = DecodeNeighborRef(b); err != nil {
		return w, err
	}
	return w, nil
}

// WorkerListItem is one entry of LdrMastWorkerList: an id plus optional
// address and range (present flags precede each optional group).
type WorkerListItem struct {
	ID            uint32
	HasAddress    bool
	Address       NetAddress
	HasRange      bool
	Range         WorkerRange
}

func (it WorkerListItem) Encode(buf []byte) []byte {
	buf = wire.AppendTo(buf, wire.U32Elem(it.ID))
	buf = encodeBool(buf, it.HasAddress)
	if it.HasAddress {
		buf = it.Address.Encode(buf)
	}
	buf = encodeBool(buf, it.HasRange)
	if it.HasRange {
		buf = it.Range.Encode(buf)
	}
	return buf
}

func DecodeWorkerListItem(b *netbuf.Buffer) (WorkerListItem, error) {
	var it WorkerListItem
	var err error
	if it.ID, err = decodeU32(b); err != nil {
		return it, err
	}
	if it.HasAddress, err = decodeBool(b); err != nil {
		return it, err
	}
	if it.HasAddress {
		if it.Address, err = DecodeNetAddress(b); err != nil {
			return it, err
		}
	}
	if it.HasRange, err = decodeBool(b); err != nil {
		return it, err
	}
	if it.HasRange {
		if it.Range, err = DecodeWorkerRange(b); err != nil {
			return it, err
		}
	}
	return it, nil
}

// MastWorkerList is the body of MAST_WORKER_LIST: ids only, per-worker
// detail is fetched individually with MAST_WORKER_INFO_REQ.
type MastWorkerList struct {
	Workers []WorkerListItem
}

func (l MastWorkerList) Encode(buf []byte) []byte {
	buf = wire.AppendTo(buf, wire.U32Elem(uint32(len(l.Workers))))
	for _, w := range l.Workers {
		buf = w.Encode(buf)
	}
	return buf
}

func DecodeMastWorkerList(b *netbuf.Buffer) (MastWorkerList, error) {
	var l MastWorkerList
	n, err := decodeU32(b)
	if err != nil {
		return l, err
	}
	l.Workers = make([]WorkerListItem, 0, n)
	for i := uint32(0); i < n; i++ {
		it, err := DecodeWorkerListItem(b)
		if err != nil {
			return l, err
		}
		l.Workers = append(l.Workers, it)
	}
	return l, nil
}

// MsgReceived is the generic ack / parse-error reply body.
type MsgReceived struct {
	OriginalID   uint64
	OriginalKind uint16
	Status       uint16
	ErrMsg       string
	DataEntries  uint32
}

func (m MsgReceived) Encode(buf []byte) []byte {
	buf = wire.AppendTo(buf, wire.U64Elem(m.OriginalID))
	buf = wire.AppendTo(buf, wire.U16Elem(m.OriginalKind))
	buf = wire.AppendTo(buf, wire.U16Elem(m.Status))
	buf = wire.AppendTo(buf, wire.StringElem(m.ErrMsg))
	buf = wire.AppendTo(buf, wire.U32Elem(m.DataEntries))
	return buf
}

func DecodeMsgReceived(b *netbuf.Buffer) (MsgReceived, error) {
	var m MsgReceived
	var err error
	if m.OriginalID, err = decodeU64(b); err != nil {
		return m, err
	}
	if m.OriginalKind, err = decodeU16(b); err != nil {
		return m, err
	}
	if m.Status, err = decodeU16(b); err != nil {
		return m, err
	}
	if m.ErrMsg, err = decodeStr(b); err != nil {
		return m, err
	}
	if m.DataEntries, err = decodeU32(b); err != nil {
		return m, err
	}
	return m, nil
}

// KeyList is the batch of (key, chunk, subchunk) tuples moved during a
// shift.
type KeyList struct {
	Pairs []KeyInfo
}

func (l KeyList) Encode(buf []byte) []byte {
	buf = wire.AppendTo(buf, wire.U32Elem(uint32(len(l.Pairs))))
	for _, p := range l.Pairs {
		buf = p.Encode(buf)
	}
	return buf
}

func DecodeKeyList(b *netbuf.Buffer) (KeyList, error) {
	var l KeyList
	n, err := decodeU32(b)
	if err != nil {
		return l, err
	}
	l.Pairs = make([]KeyInfo, 0, n)
	for i := uint32(0); i < n; i++ {
		ki, err := DecodeKeyInfo(b)
		if err != nil {
			return l, err
		}
		l.Pairs = append(l.Pairs, ki)
	}
	return l, nil
}

// KeyShiftRequest names how many keys the sender wants moved in a
// FROM-RIGHT shift.
type KeyShiftRequest struct {
	KeysToShift uint32
}

func (r KeyShiftRequest) Encode(buf []byte) []byte {
	return wire.AppendTo(buf, wire.U32Elem(r.KeysToShift))
}

func DecodeKeyShiftRequest(b *netbuf.Buffer) (KeyShiftRequest, error) {
	n, err := decodeU32(b)
	return KeyShiftRequest{KeysToShift: n}, err
}
