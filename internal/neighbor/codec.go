// Package neighbor implements the worker-to-worker TCP handshake and
// key-shift protocol: a single active outbound connection to the right
// neighbor, and a single accepted inbound connection from the left.
package neighbor

import (
	"fmt"
	"net"
	"time"

	"github.com/kiloop/keyindex/internal/netbuf"
	"github.com/kiloop/keyindex/internal/wire"
)

const (
	frameReadTimeout  = 10 * time.Second
	frameWriteTimeout = 10 * time.Second
)

// sendBareU32 writes a single raw U32 element, used only for the first
// element of a new connection (the server announcing its id).
func sendBareU32(conn net.Conn, v uint32) error {
	_ = conn.SetWriteDeadline(time.Now().Add(frameWriteTimeout))
	buf := wire.AppendTo(nil, wire.U32Elem(v))
	_, err := conn.Write(buf)
	return err
}

// readBareU32 blocks for exactly one raw U32 element.
func readBareU32(buf *netbuf.Buffer, conn net.Conn) (uint32, error) {
	_ = conn.SetReadDeadline(time.Now().Add(frameReadTimeout))
	el, ok, err := netbuf.ReadElementFrom(conn, buf)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("neighbor: connection closed before id element")
	}
	if el.Type != wire.U32 {
		return 0, fmt.Errorf("neighbor: expected U32 id, got %s", el.Type)
	}
	return el.U32v, nil
}

// sendFrame writes a kind element followed by a length-prefixed payload
// element, so the safe-retrieve decoder on the other end never has to
// guess where the structured body ends.
func sendFrame(conn net.Conn, kind wire.Kind, payload []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(frameWriteTimeout))
	buf := wire.AppendTo(nil, wire.U16Elem(uint16(kind)))
	buf = wire.AppendTo(buf, wire.StringElem(string(payload)))
	_, err := conn.Write(buf)
	return err
}

// readFrame blocks for a kind element followed by its payload element.
func readFrame(buf *netbuf.Buffer, conn net.Conn) (wire.Kind, []byte, error) {
	_ = conn.SetReadDeadline(time.Now().Add(frameReadTimeout))
	kindEl, ok, err := netbuf.ReadElementFrom(conn, buf)
	if err != nil {
		return 0, nil, err
	}
	if !ok {
		return 0, nil, fmt.Errorf("neighbor: connection closed before frame")
	}
	if kindEl.Type != wire.U16 {
		return 0, nil, fmt.Errorf("neighbor: expected U16 kind, got %s", kindEl.Type)
	}

	_ = conn.SetReadDeadline(time.Now().Add(frameReadTimeout))
	payloadEl, ok, err := netbuf.ReadElementFrom(conn, buf)
	if err != nil {
		return 0, nil, err
	}
	if !ok {
		return 0, nil, fmt.Errorf("neighbor: connection closed mid-frame")
	}
	if payloadEl.Type != wire.String {
		return 0, nil, fmt.Errorf("neighbor: expected STRING payload, got %s", payloadEl.Type)
	}
	return wire.Kind(kindEl.U16v), []byte(payloadEl.Str), nil
}
