package netbuf

import (
	"fmt"

	"github.com/kiloop/keyindex/internal/wire"
)

// Envelope is the fixed four-element header prefixing every message:
// U16 kind, U64 msg_id, STRING sender_host, U32 sender_port.
type Envelope struct {
	Kind       wire.Kind
	MsgID      uint64
	SenderHost string
	SenderPort uint32
}

// EncodeMessage appends the envelope followed by an optional single STRING
// payload element (most message kinds carry exactly one structured payload
// string). The payload element is emitted whenever hasPayload is true, even
// for an empty payload; with hasPayload false nothing follows the envelope.
func EncodeMessage(env Envelope, payload string, hasPayload bool) []byte {
	out := make([]byte, 0, 32+len(payload))
	out = wire.AppendTo(out, wire.U16Elem(uint16(env.Kind)))
	out = wire.AppendTo(out, wire.U64Elem(env.MsgID))
	out = wire.AppendTo(out, wire.StringElem(env.SenderHost))
	out = wire.AppendTo(out, wire.U32Elem(env.SenderPort))
	if hasPayload {
		out = wire.AppendTo(out, wire.StringElem(payload))
	}
	return out
}

// DecodeMessage decodes the envelope and, if present, a trailing STRING
// payload element from b. ok is false only when the buffer holds an
// incomplete envelope (caller should wait for more bytes); a structurally
// invalid envelope (wrong element type) is reported as an error.
func DecodeMessage(b *Buffer) (env Envelope, payload string, hasPayload bool, ok bool, err error) {
	start := b.rCur

	kindEl, got, derr := b.DecodeElement()
	if derr != nil {
		return Envelope{}, "", false, false, fmt.Errorf("wire: decoding kind: %w", derr)
	}
	if !got {
		b.rCur = start
		return Envelope{}, "", false, false, nil
	}
	if kindEl.Type != wire.U16 {
		b.rCur = start
		return Envelope{}, "", false, false, fmt.Errorf("wire: expected U16 kind, got %s", kindEl.Type)
	}

	idEl, got, derr := b.DecodeElement()
	if derr != nil || !got {
		b.rCur = start
		return Envelope{}, "", false, false, derr
	}
	if idEl.Type != wire.U64 {
		b.rCur = start
		return Envelope{}, "", false, false, fmt.Errorf("wire: expected U64 msg_id, got %s", idEl.Type)
	}

	hostEl, got, derr := b.DecodeElement()
	if derr != nil || !got {
		b.rCur = start
		return Envelope{}, "", false, false, derr
	}
	if hostEl.Type != wire.String {
		b.rCur = start
		return Envelope{}, "", false, false, fmt.Errorf("wire: expected STRING sender_host, got %s", hostEl.Type)
	}

	portEl, got, derr := b.DecodeElement()
	if derr != nil || !got {
		b.rCur = start
		return Envelope{}, "", false, false, derr
	}
	if portEl.Type != wire.U32 {
		b.rCur = start
		return Envelope{}, "", false, false, fmt.Errorf("wire: expected U32 sender_port, got %s", portEl.Type)
	}

	env = Envelope{
		Kind:       wire.Kind(kindEl.U16v),
		MsgID:      idEl.U64v,
		SenderHost: hostEl.Str,
		SenderPort: portEl.U32v,
	}

	// Optional trailing payload string. Absence is not an error: some
	// kinds (TEST, bare acks) carry no body.
	payloadEl, got, derr := b.DecodeElement()
	if derr != nil {
		return env, "", false, true, nil
	}
	if !got {
		return env, "", false, true, nil
	}
	if payloadEl.Type != wire.String {
		return env, "", false, true, nil
	}
	return env, payloadEl.Str, true, true, nil
}
