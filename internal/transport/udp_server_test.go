package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/kiloop/keyindex/internal/netbuf"
	"github.com/kiloop/keyindex/internal/wire"
	"github.com/kiloop/keyindex/internal/wireproto"
)

func TestHandlePacketDispatchesRegisteredKind(t *testing.T) {
	s := NewServer(nil, "127.0.0.1", 9000)
	s.conns = []*net.UDPConn{}

	called := false
	s.Handle(wire.Test, func(ctx context.Context, env netbuf.Envelope, payload string, hasPayload bool, peer *net.UDPAddr) (wire.Kind, string, bool) {
		called = true
		if env.Kind != wire.Test {
			t.Errorf("expected Test kind, got %s", env.Kind)
		}
		return wire.MsgReceived, "", false
	})

	env := netbuf.Envelope{Kind: wire.Test, MsgID: 1, SenderHost: "127.0.0.1", SenderPort: 5000}
	raw := netbuf.EncodeMessage(env, "", false)
	buf := make([]byte, len(raw))
	copy(buf, raw)

	pkt := packet{bufPtr: &buf, n: len(raw), peer: &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 5000}}
	s.handlePacket(context.Background(), pkt)

	if !called {
		t.Fatal("expected registered handler to be invoked")
	}
}

func TestHandlePacketUnknownKindNoPanic(t *testing.T) {
	s := NewServer(nil, "127.0.0.1", 9000)

	env := netbuf.Envelope{Kind: wire.MastInfoReq, MsgID: 7, SenderHost: "127.0.0.1", SenderPort: 5001}
	raw := netbuf.EncodeMessage(env, "", false)
	buf := make([]byte, len(raw))
	copy(buf, raw)
	pkt := packet{bufPtr: &buf, n: len(raw), peer: &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 5001}}

	// No socket open, so the reply send fails silently; handlePacket must
	// still return without panicking.
	s.handlePacket(context.Background(), pkt)
}

func TestHandleMsgReceivedNeverReplies(t *testing.T) {
	s := NewServer(nil, "127.0.0.1", 9000)
	body := wireproto.MsgReceived{OriginalID: 1, OriginalKind: uint16(wire.Test), Status: wire.StatusOK}
	env := netbuf.Envelope{Kind: wire.MsgReceived, MsgID: 2, SenderHost: "127.0.0.1", SenderPort: 5002}
	raw := netbuf.EncodeMessage(env, string(body.Encode(nil)), true)
	buf := make([]byte, len(raw))
	copy(buf, raw)
	pkt := packet{bufPtr: &buf, n: len(raw), peer: &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 5002}}

	s.handlePacket(context.Background(), pkt)
}

func TestSendFailsWithNoSocket(t *testing.T) {
	s := NewServer(nil, "127.0.0.1", 9000)
	err := s.Send(&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1}, wire.Test, "", false)
	if err == nil {
		t.Fatal("expected error sending with no open socket")
	}
}

func TestStopWithNoSocketsReturnsQuickly(t *testing.T) {
	s := NewServer(nil, "127.0.0.1", 9000)
	done := make(chan error, 1)
	go func() { done <- s.Stop(time.Second) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return in time")
	}
}
