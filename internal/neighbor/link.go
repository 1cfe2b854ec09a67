package neighbor

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/kiloop/keyindex/internal/errs"
	"github.com/kiloop/keyindex/internal/keyspace"
	"github.com/kiloop/keyindex/internal/keystore"
	"github.com/kiloop/keyindex/internal/netbuf"
	"github.com/kiloop/keyindex/internal/wire"
	"github.com/kiloop/keyindex/internal/wireproto"
	"github.com/kiloop/keyindex/internal/workerlist"
)

// Link is the active outbound connection a worker keeps to its right
// neighbor: handshake, range feedback, and shift initiation. The link
// mutex is the "right-link mutex" of the concurrency model — it
// serializes the whole TCP session and is taken only by the monitor tick,
// never by a UDP handler.
type Link struct {
	mu sync.Mutex

	selfID uint32
	store  *keystore.Store
	list   *workerlist.List
	logger *slog.Logger

	shiftThreshold float64
	maxKeysToShift uint32
	dialTimeout    time.Duration

	rightID     uint32
	conn        net.Conn
	buf         *netbuf.Buffer
	established bool
	rightInfo   wireproto.WorkerKeysInfo
}

// NewLink constructs a right-link monitor for one worker.
func NewLink(selfID uint32, store *keystore.Store, list *workerlist.List, shiftThreshold float64, maxKeysToShift uint32, logger *slog.Logger) *Link {
	return &Link{
		selfID:         selfID,
		store:          store,
		list:           list,
		logger:         logger,
		shiftThreshold: shiftThreshold,
		maxKeysToShift: maxKeysToShift,
		dialTimeout:    5 * time.Second,
	}
}

// SetSelfID records this worker's id once discovered. The handshake
// advertises it to the right neighbor, so it must be set before the link
// is first monitored.
func (l *Link) SetSelfID(id uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.selfID = id
}

// SetRightID updates which worker id this link should connect to. Setting
// it to 0 tears down any existing connection on the next tick.
func (l *Link) SetRightID(id uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id == l.rightID {
		return
	}
	l.rightID = id
	if l.established {
		l.teardownLocked()
	}
}

// Established reports whether the right connection is currently up.
func (l *Link) Established() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.established
}

// Monitor is the do-list item body: establish the connection if needed,
// then shift keys if the load imbalance crosses the configured threshold.
// Worker.Monitor calls this; it is not itself a dolist.Item so that
// role glue can compose it with other per-tick work.
func (l *Link) Monitor(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.rightID == 0 {
		l.teardownLocked()
		return nil
	}
	if !l.established {
		if err := l.connectLocked(ctx); err != nil {
			return err
		}
	}
	return l.shiftIfNeededLocked()
}

func (l *Link) connectLocked(ctx context.Context) error {
	entry, ok := l.list.Get(l.rightID)
	if !ok || !entry.TCPAddr.Valid() {
		return errs.Transport("neighbor: right neighbor address unknown", nil)
	}

	conn, err := net.DialTimeout("tcp", entry.TCPAddr.String(), l.dialTimeout)
	if err != nil {
		return errs.Transport("neighbor: dial right neighbor", err)
	}

	buf := netbuf.New(netbuf.MaxMsgSize)
	gotID, err := readBareU32(buf, conn)
	if err != nil {
		conn.Close()
		return errs.Transport("neighbor: read right neighbor id", err)
	}
	if gotID != l.rightID {
		conn.Close()
		return errs.Protocol("neighbor: right neighbor id mismatch", nil)
	}

	ownInfo := l.buildOwnInfoLocked()
	if err := sendFrame(conn, wire.ImYourLNeighbor, ownInfo.Encode(nil)); err != nil {
		conn.Close()
		return errs.Transport("neighbor: send handshake", err)
	}

	kind, payload, err := readFrame(buf, conn)
	if err != nil {
		conn.Close()
		return errs.Transport("neighbor: read handshake reply", err)
	}
	if kind != wire.WorkerKeysInfo {
		conn.Close()
		return errs.Protocol("neighbor: unexpected handshake reply kind", nil)
	}
	rightInfo, err := wireproto.DecodeWorkerKeysInfo(netbuf.WrapBytes(payload))
	if err != nil {
		conn.Close()
		return errs.Protocol("neighbor: decode handshake reply", err)
	}

	// Ranges propagate right-to-left: our max becomes their min.
	rng := l.store.Range()
	rightRange := wireproto.ToKeyRange(rightInfo.Range)
	rng.SetMax(rightRange.Min)
	l.store.SetRange(rng)

	l.conn = conn
	l.buf = buf
	l.rightInfo = rightInfo
	l.established = true
	return nil
}

func (l *Link) teardownLocked() {
	if l.conn != nil {
		_ = l.conn.Close()
	}
	l.conn = nil
	l.buf = nil
	l.established = false
	l.rightInfo = wireproto.WorkerKeysInfo{}
}

func (l *Link) buildOwnInfoLocked() wireproto.WorkerKeysInfo {
	rng := l.store.Range()
	return wireproto.WorkerKeysInfo{
		ID:         l.selfID,
		MapSize:    uint32(l.store.Len()),
		RecentAdds: uint32(l.store.RecentAddCount()),
		Range:      wireproto.FromKeyRange(rng),
		Right:      wireproto.NeighborRef{ID: l.rightID},
	}
}

// shiftIfNeededLocked compares key counts against the right neighbor's
// last-known info, which is refreshed at handshake time and adjusted
// locally after each completed shift. It can still drift from the
// right's true count between shifts (e.g. the right neighbor's own
// inserts), since nothing here re-queries it outside a shift; a periodic
// lightweight WORKER_KEYS_INFO re-query on an established link would
// close that gap. Not implemented yet.
func (l *Link) shiftIfNeededLocked() error {
	ownRange := l.store.Range()
	rightRange := wireproto.ToKeyRange(l.rightInfo.Range)
	if rightRange.Valid && rightRange.Min.Less(ownRange.Max) {
		return errs.ShiftConflict("neighbor: right neighbor range observed smaller than own")
	}

	n := uint32(l.store.Len())
	r := l.rightInfo.MapSize
	t := l.shiftThreshold

	switch {
	case float64(n) > float64(r)*t:
		k := minU32(uint32((n-r)/2), l.maxKeysToShift, n/3)
		if k == 0 {
			return nil
		}
		return l.shiftToRightLocked(k)
	case float64(r) > float64(n)*t:
		k := minU32(uint32((r-n)/2), l.maxKeysToShift, r/3)
		if k == 0 {
			return nil
		}
		return l.shiftFromRightLocked(k)
	default:
		return nil
	}
}

func (l *Link) shiftToRightLocked(n uint32) error {
	oldRange := l.store.Range()
	batch := l.store.LargestN(int(n))
	if len(batch) == 0 {
		return nil
	}
	minKey := batch[len(batch)-1].Key // LargestN returns descending order
	rng := l.store.Range()
	rng.SetMax(minKey)
	l.store.SetRange(rng)

	kl := wireproto.KeyList{Pairs: toWireKeyInfos(batch)}
	if err := sendFrame(l.conn, wire.ShiftToRight, kl.Encode(nil)); err != nil {
		l.rollbackToRightLocked(oldRange)
		return errs.Transport("neighbor: send TO-RIGHT batch", err)
	}

	kind, _, err := readFrame(l.buf, l.conn)
	if err != nil {
		l.rollbackToRightLocked(oldRange)
		return errs.Transport("neighbor: read TO-RIGHT ack", err)
	}
	if kind != wire.ShiftToRightReceived {
		l.rollbackToRightLocked(oldRange)
		return errs.Protocol("neighbor: unexpected TO-RIGHT ack kind", nil)
	}

	l.store.CommitToRightShift()
	l.rightInfo.MapSize += uint32(len(batch))
	return nil
}

func (l *Link) rollbackToRightLocked(oldRange keyspace.KeyRange) {
	_, _ = l.store.RollbackToRightShift()
	l.store.SetRange(oldRange)
	l.teardownLocked()
}

func (l *Link) shiftFromRightLocked(n uint32) error {
	req := wireproto.KeyShiftRequest{KeysToShift: n}
	if err := sendFrame(l.conn, wire.ShiftFromRight, req.Encode(nil)); err != nil {
		l.teardownLocked()
		return errs.Transport("neighbor: send FROM-RIGHT request", err)
	}

	kind, payload, err := readFrame(l.buf, l.conn)
	if err != nil {
		l.teardownLocked()
		return errs.Transport("neighbor: read FROM-RIGHT batch", err)
	}
	if kind != wire.ShiftFromRight {
		l.teardownLocked()
		return errs.Protocol("neighbor: unexpected FROM-RIGHT reply kind", nil)
	}
	kl, err := wireproto.DecodeKeyList(netbuf.WrapBytes(payload))
	if err != nil {
		l.teardownLocked()
		return errs.Protocol("neighbor: decode FROM-RIGHT batch", err)
	}

	pairs := toStoreKeyValues(kl.Pairs)
	conflicts := l.store.InsertBatch(pairs)
	if conflicts > 0 && l.logger != nil {
		l.logger.Warn("neighbor: FROM-RIGHT batch had conflicting keys", "count", conflicts)
	}
	if len(pairs) > 0 {
		maxKey := pairs[0].Key
		for _, p := range pairs[1:] {
			if maxKey.Less(p.Key) {
				maxKey = p.Key
			}
		}
		rng := l.store.Range()
		rng.SetMax(maxKey.Increment())
		l.store.SetRange(rng)
	}

	if err := sendFrame(l.conn, wire.ShiftFromRightReceived, nil); err != nil {
		l.teardownLocked()
		return errs.Transport("neighbor: send FROM-RIGHT ack", err)
	}
	if uint32(len(pairs)) <= l.rightInfo.MapSize {
		l.rightInfo.MapSize -= uint32(len(pairs))
	}
	return nil
}

// Close tears down the right connection (worker shutdown).
func (l *Link) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.teardownLocked()
}

func minU32(vals ...uint32) uint32 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func toWireKeyInfos(batch []keystore.KeyValue) []wireproto.KeyInfo {
	out := make([]wireproto.KeyInfo, len(batch))
	for i, kv := range batch {
		out[i] = wireproto.KeyInfo{
			KeyInt:   kv.Key.KInt,
			KeyStr:   kv.Key.KStr,
			Chunk:    kv.Val.Chunk,
			Subchunk: kv.Val.Subchunk,
			Success:  true,
		}
	}
	return out
}

func toStoreKeyValues(pairs []wireproto.KeyInfo) []keystore.KeyValue {
	out := make([]keystore.KeyValue, len(pairs))
	for i, p := range pairs {
		out[i] = keystore.KeyValue{
			Key: p.ToCompositeKey(),
			Val: keystore.Value{Chunk: p.Chunk, Subchunk: p.Subchunk},
		}
	}
	return out
}
