// Package transport implements the UDP message server: SO_REUSEPORT
// multi-socket reception, dispatch by message kind, and a serialized send
// path back to the datagram's source.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kiloop/keyindex/internal/errs"
	"github.com/kiloop/keyindex/internal/netbuf"
	"github.com/kiloop/keyindex/internal/pool"
	"github.com/kiloop/keyindex/internal/wire"
	"github.com/kiloop/keyindex/internal/wireproto"
)

// DefaultWorkersPerSocket is the fixed worker-pool size per UDP socket.
const DefaultWorkersPerSocket = 64

var bufferPool = pool.New(func() *[]byte {
	buf := make([]byte, netbuf.MaxMsgSize)
	return &buf
})

// Handler processes one decoded message and optionally produces a reply
// of a given kind to send back to the envelope's sender (the kind need
// not be MSG_RECEIVED: MAST_WORKER_LIST, WORKER_KEYS_INFO, KEY_INFO, and
// so on are all ordinary typed replies, not acks). Handlers must be
// non-blocking; anything that may block belongs on the do-list or its own
// goroutine, never on the dispatch path.
type Handler func(ctx context.Context, env netbuf.Envelope, payload string, hasPayload bool, peer *net.UDPAddr) (replyKind wire.Kind, replyPayload string, hasReply bool)

// Server is a single logical UDP message server, implemented as one
// SO_REUSEPORT socket per CPU core, each with its own fixed worker pool.
type Server struct {
	Logger           *slog.Logger
	WorkersPerSocket int
	SelfHost         string
	SelfPort         uint16

	handlers map[wire.Kind]Handler

	conns  []*net.UDPConn
	wg     sync.WaitGroup
	sendMu sync.Mutex

	msgIDSeq uint64
	errCount atomic64
}

type atomic64 struct{ v atomic.Uint64 }

func (a *atomic64) inc() { a.v.Add(1) }

// NewServer creates a server with an empty dispatch table.
func NewServer(logger *slog.Logger, selfHost string, selfPort uint16) *Server {
	return &Server{
		Logger:           logger,
		WorkersPerSocket: DefaultWorkersPerSocket,
		SelfHost:         selfHost,
		SelfPort:         selfPort,
		handlers:         make(map[wire.Kind]Handler),
	}
}

// Handle registers a handler for kind, overwriting any previous one.
func (s *Server) Handle(kind wire.Kind, h Handler) {
	s.handlers[kind] = h
}

type packet struct {
	bufPtr *[]byte
	n      int
	peer   *net.UDPAddr
}

// Run starts one socket per CPU core and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	if s.WorkersPerSocket <= 0 {
		s.WorkersPerSocket = DefaultWorkersPerSocket
	}

	socketCount := runtime.NumCPU()
	s.conns = make([]*net.UDPConn, 0, socketCount)

	for range socketCount {
		conn, err := listenReusePort(addr)
		if err != nil {
			for _, c := range s.conns {
				_ = c.Close()
			}
			return err
		}
		s.conns = append(s.conns, conn)

		packetCh := make(chan packet, s.WorkersPerSocket*2)
		c := conn
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.recvLoop(ctx, c, packetCh)
		}()
		for range s.WorkersPerSocket {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.workerLoop(ctx, packetCh)
			}()
		}
	}

	<-ctx.Done()
	return s.Stop(5 * time.Second)
}

func (s *Server) recvLoop(ctx context.Context, conn *net.UDPConn, out chan<- packet) {
	for {
		bufPtr := bufferPool.Get()
		buf := *bufPtr

		n, peer, err := conn.ReadFromUDP(buf)
		if err != nil {
			bufferPool.Put(bufPtr)
			if ctx.Err() != nil {
				return
			}
			return
		}

		select {
		case out <- packet{bufPtr, n, peer}:
		default:
			bufferPool.Put(bufPtr)
			if s.Logger != nil {
				s.Logger.Warn("dropping datagram: worker pool saturated", "peer", peer.String())
			}
		}
	}
}

func (s *Server) workerLoop(ctx context.Context, in <-chan packet) {
	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-in:
			if !ok {
				return
			}
			s.handlePacket(ctx, pkt)
		}
	}
}

func (s *Server) handlePacket(ctx context.Context, p packet) {
	defer bufferPool.Put(p.bufPtr)

	data := (*p.bufPtr)[:p.n]
	buf := netbuf.New(len(data))
	if err := buf.Append(data); err != nil {
		if s.Logger != nil {
			s.Logger.Error("datagram exceeds max message size", "err", err, "peer", p.peer.String())
		}
		return
	}

	env, payload, hasPayload, ok, err := netbuf.DecodeMessage(buf)
	if err != nil || !ok {
		if s.Logger != nil {
			s.Logger.Warn("dropping malformed datagram", "err", err, "peer", p.peer.String())
		}
		s.errCount.inc()
		return
	}

	if env.Kind == wire.MsgReceived {
		// Never reply to an ack: this is how the protocol avoids
		// infinite bounce loops between two misbehaving peers.
		s.handleMsgReceived(payload, hasPayload, p.peer)
		return
	}

	h, known := s.handlers[env.Kind]
	if !known {
		s.replyParseError(ctx, env, p.peer, "unhandled message kind")
		return
	}

	replyKind, replyPayload, hasReply := h(ctx, env, payload, hasPayload, p.peer)
	if hasReply {
		s.sendTo(p.peer, replyKind, replyPayload, true)
	}
}

func (s *Server) handleMsgReceived(payload string, hasPayload bool, peer *net.UDPAddr) {
	if !hasPayload {
		return
	}
	body, err := wireproto.DecodeMsgReceived(netbuf.WrapBytes([]byte(payload)))
	if err != nil {
		return
	}
	if body.Status != wire.StatusOK {
		s.errCount.inc()
		if s.Logger != nil {
			s.Logger.Warn("peer reported error", "from", peer.String(), "status", body.Status, "msg", body.ErrMsg)
		}
	}
}

func (s *Server) replyParseError(ctx context.Context, env netbuf.Envelope, peer *net.UDPAddr, msg string) {
	body := wireproto.MsgReceived{
		OriginalID:   env.MsgID,
		OriginalKind: uint16(env.Kind),
		Status:       wire.StatusParseErr,
		ErrMsg:       msg,
	}
	s.sendTo(peer, wire.MsgReceived, string(body.Encode(nil)), true)
}

// Send builds and sends a message of the given kind/payload to dst.
func (s *Server) Send(dst *net.UDPAddr, kind wire.Kind, payload string, hasPayload bool) error {
	return s.sendTo(dst, kind, payload, hasPayload)
}

func (s *Server) sendTo(dst *net.UDPAddr, kind wire.Kind, payload string, hasPayload bool) error {
	if len(s.conns) == 0 {
		return errs.Transport("transport: no socket open", nil)
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.msgIDSeq++
	env := netbuf.Envelope{Kind: kind, MsgID: s.msgIDSeq, SenderHost: s.SelfHost, SenderPort: uint32(s.SelfPort)}
	raw := netbuf.EncodeMessage(env, payload, hasPayload)
	if len(raw) > netbuf.MaxMsgSize {
		return errs.Protocol("transport: outgoing message exceeds max size", nil)
	}

	_, err := s.conns[0].WriteToUDP(raw, dst)
	if err != nil {
		return errs.Transport("transport: send failed", err)
	}
	return nil
}

// Stop closes all sockets and waits up to timeout for goroutines to exit.
func (s *Server) Stop(timeout time.Duration) error {
	for _, c := range s.conns {
		_ = c.Close()
	}
	if timeout <= 0 {
		s.wg.Wait()
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("transport: timeout waiting for goroutines to exit")
	}
}

func listenReusePort(addr string) (*net.UDPConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
		},
	}
	pc, err := lc.ListenPacket(context.Background(), "udp", udpAddr.String())
	if err != nil {
		return nil, err
	}
	return pc.(*net.UDPConn), nil
}
