package neighbor

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/kiloop/keyindex/internal/keystore"
	"github.com/kiloop/keyindex/internal/netbuf"
	"github.com/kiloop/keyindex/internal/wire"
	"github.com/kiloop/keyindex/internal/wireproto"
)

// Server accepts at most one incoming TCP connection: the left neighbor's
// outbound right-link. A worker never fans this out across cores — the
// ring invariant that each worker has exactly one left neighbor makes a
// single listener goroutine sufficient.
type Server struct {
	SelfID uint32
	Store  *keystore.Store
	Logger *slog.Logger

	// OnRangeChange is invoked (if set) when the handshake assigns a range
	// to a worker whose range was invalid; advancing range.min on an
	// already valid range does not invoke it. Role glue uses it to push an updated
	// WORKER_KEYS_INFO to the master without this package knowing about
	// transport or the master's address.
	OnRangeChange func()

	ln net.Listener

	mu       sync.Mutex
	conn     net.Conn
	accepted bool
}

// Run accepts connections on addr until ctx is cancelled. Only one
// connection is held active at a time; a second connection attempt while
// one is already established is rejected.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !s.tryAcquire(conn) {
			_ = conn.Close()
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) tryAcquire(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accepted {
		return false
	}
	s.accepted = true
	s.conn = conn
	return true
}

func (s *Server) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accepted = false
	s.conn = nil
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.release()
	defer conn.Close()

	buf := netbuf.New(netbuf.MaxMsgSize)

	if err := sendBareU32(conn, s.SelfID); err != nil {
		s.logWarn("neighbor: send own id failed", err)
		return
	}

	kind, payload, err := readFrame(buf, conn)
	if err != nil {
		s.logWarn("neighbor: read handshake request failed", err)
		return
	}
	if kind != wire.ImYourLNeighbor {
		s.logWarn("neighbor: unexpected first frame kind", nil)
		return
	}
	leftInfo, err := wireproto.DecodeWorkerKeysInfo(netbuf.WrapBytes(payload))
	if err != nil {
		s.logWarn("neighbor: decode handshake request failed", err)
		return
	}

	s.applyHandshake(leftInfo)

	ownInfo := s.buildOwnInfo()
	if err := sendFrame(conn, wire.WorkerKeysInfo, ownInfo.Encode(nil)); err != nil {
		s.logWarn("neighbor: send handshake reply failed", err)
		return
	}

	s.shiftLoop(ctx, buf, conn)
}

// applyHandshake implements the server side of §4.7.1: adopt a fresh
// range from the left neighbor's max, or advance range.min to this
// worker's first stored key once a left neighbor is already known.
func (s *Server) applyHandshake(leftInfo wireproto.WorkerKeysInfo) {
	leftRange := wireproto.ToKeyRange(leftInfo.Range)
	rng := s.Store.Range()

	if !rng.Valid {
		rng.SetMin(leftRange.Max.Increment())
		if leftRange.Unlimited {
			rng.SetUnlimited()
		} else {
			rng.SetMax(rng.Min)
		}
		s.Store.SetRange(rng)
		s.notifyRangeChange()
		return
	}

	if first, ok := s.Store.FirstKey(); ok {
		rng.SetMin(first)
		s.Store.SetRange(rng)
	}
}

func (s *Server) notifyRangeChange() {
	if s.OnRangeChange != nil {
		s.OnRangeChange()
	}
}

func (s *Server) buildOwnInfo() wireproto.WorkerKeysInfo {
	rng := s.Store.Range()
	return wireproto.WorkerKeysInfo{
		ID:         s.SelfID,
		MapSize:    uint32(s.Store.Len()),
		RecentAdds: uint32(s.Store.RecentAddCount()),
		Range:      wireproto.FromKeyRange(rng),
	}
}

// shiftLoop serves SHIFT_TO_RIGHT / SHIFT_FROM_RIGHT requests from the
// left neighbor for the lifetime of the connection.
func (s *Server) shiftLoop(ctx context.Context, buf *netbuf.Buffer, conn net.Conn) {
	for {
		if ctx.Err() != nil {
			return
		}
		kind, payload, err := readFrame(buf, conn)
		if err != nil {
			return
		}
		switch kind {
		case wire.ShiftToRight:
			if !s.handleShiftToRight(payload, conn) {
				return
			}
		case wire.ShiftFromRight:
			if !s.handleShiftFromRight(payload, buf, conn) {
				return
			}
		default:
			s.logWarn("neighbor: unexpected frame kind in shift loop", nil)
			return
		}
	}
}

func (s *Server) handleShiftToRight(payload []byte, conn net.Conn) bool {
	kl, err := wireproto.DecodeKeyList(netbuf.WrapBytes(payload))
	if err != nil {
		s.logWarn("neighbor: decode TO-RIGHT batch failed", err)
		return false
	}
	pairs := toStoreKeyValues(kl.Pairs)
	conflicts := s.Store.InsertBatch(pairs)
	if conflicts > 0 {
		s.logWarn("neighbor: TO-RIGHT batch had conflicting keys", nil)
	}
	if len(pairs) > 0 {
		minKey := pairs[0].Key
		for _, p := range pairs[1:] {
			if p.Key.Less(minKey) {
				minKey = p.Key
			}
		}
		rng := s.Store.Range()
		rng.SetMin(minKey)
		s.Store.SetRange(rng)
	}
	if err := sendFrame(conn, wire.ShiftToRightReceived, nil); err != nil {
		s.logWarn("neighbor: send TO-RIGHT ack failed", err)
		return false
	}
	return true
}

func (s *Server) handleShiftFromRight(payload []byte, buf *netbuf.Buffer, conn net.Conn) bool {
	req, err := wireproto.DecodeKeyShiftRequest(netbuf.WrapBytes(payload))
	if err != nil {
		s.logWarn("neighbor: decode FROM-RIGHT request failed", err)
		return false
	}

	shed := s.Store.SmallestN(int(req.KeysToShift))
	if first, ok := s.Store.FirstKey(); ok {
		rng := s.Store.Range()
		rng.SetMin(first)
		s.Store.SetRange(rng)
	}

	kl := wireproto.KeyList{Pairs: toWireKeyInfos(shed)}
	if err := sendFrame(conn, wire.ShiftFromRight, kl.Encode(nil)); err != nil {
		s.logWarn("neighbor: send FROM-RIGHT batch failed", err)
		s.rollbackFromRightShift()
		return false
	}

	kind, _, err := readFrame(buf, conn)
	_ = kind
	if err != nil {
		s.logWarn("neighbor: read FROM-RIGHT ack failed", err)
		s.rollbackFromRightShift()
		return false
	}
	s.Store.CommitFromRightShift()
	return true
}

// rollbackFromRightShift merges the staged FROM-RIGHT batch back into the
// map and lowers range.min back to the restored minimum, so the batch and
// range.min roll back together (mirroring the left side's
// rollbackToRightLocked in link.go).
func (s *Server) rollbackFromRightShift() {
	min, ok := s.Store.RollbackFromRightShift()
	if !ok {
		return
	}
	rng := s.Store.Range()
	rng.SetMin(min)
	s.Store.SetRange(rng)
}

func (s *Server) logWarn(msg string, err error) {
	if s.Logger == nil {
		return
	}
	if err != nil {
		s.Logger.Warn(msg, "err", err)
	} else {
		s.Logger.Warn(msg)
	}
}

// Stop closes the listener and any active connection.
func (s *Server) Stop(timeout time.Duration) error {
	if s.ln != nil {
		_ = s.ln.Close()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	return nil
}
