package netbuf

import (
	"bytes"
	"testing"

	"github.com/kiloop/keyindex/internal/wire"
)

func TestDecodeElementRoundTrip(t *testing.T) {
	raw := wire.AppendTo(nil, wire.StringElem("owner-range"))
	raw = wire.AppendTo(raw, wire.U64Elem(9001))

	b := New(64)
	if err := b.Append(raw); err != nil {
		t.Fatalf("append: %v", err)
	}

	el, ok, err := b.DecodeElement()
	if err != nil || !ok {
		t.Fatalf("decode string: ok=%v err=%v", ok, err)
	}
	if el.Str != "owner-range" {
		t.Errorf("got %q", el.Str)
	}

	el2, ok, err := b.DecodeElement()
	if err != nil || !ok {
		t.Fatalf("decode u64: ok=%v err=%v", ok, err)
	}
	if el2.U64v != 9001 {
		t.Errorf("got %d", el2.U64v)
	}
}

func TestDecodeElementRollbackOnShortFrame(t *testing.T) {
	full := wire.AppendTo(nil, wire.StringElem("partial"))
	b := New(64)
	// Only append the tag and length prefix, not the full string body.
	if err := b.Append(full[:3]); err != nil {
		t.Fatalf("append: %v", err)
	}

	_, ok, err := b.DecodeElement()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected incomplete decode to report not-ok")
	}
	if b.rCur != 0 {
		t.Errorf("read cursor should roll back to 0, got %d", b.rCur)
	}

	// Append the rest; now it should decode cleanly from the same cursor.
	if err := b.Append(full[3:]); err != nil {
		t.Fatalf("append rest: %v", err)
	}
	el, ok, err := b.DecodeElement()
	if err != nil || !ok {
		t.Fatalf("decode after completion: ok=%v err=%v", ok, err)
	}
	if el.Str != "partial" {
		t.Errorf("got %q", el.Str)
	}
}

func TestReadElementFrom(t *testing.T) {
	raw := wire.AppendTo(nil, wire.U32Elem(777))
	r := bytes.NewReader(raw)
	b := New(64)

	el, ok, err := ReadElementFrom(r, b)
	if err != nil || !ok {
		t.Fatalf("ReadElementFrom: ok=%v err=%v", ok, err)
	}
	if el.U32v != 777 {
		t.Errorf("got %d", el.U32v)
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env := Envelope{Kind: wire.KeyInsertReq, MsgID: 42, SenderHost: "10.0.0.5", SenderPort: 9876}
	raw := EncodeMessage(env, "payload-bytes", true)

	b := New(len(raw))
	if err := b.Append(raw); err != nil {
		t.Fatalf("append: %v", err)
	}

	gotEnv, payload, hasPayload, ok, err := DecodeMessage(b)
	if err != nil || !ok {
		t.Fatalf("decode: ok=%v err=%v", ok, err)
	}
	if gotEnv != env {
		t.Errorf("envelope mismatch: got %+v want %+v", gotEnv, env)
	}
	if !hasPayload || payload != "payload-bytes" {
		t.Errorf("payload mismatch: got %q hasPayload=%v", payload, hasPayload)
	}
}

func TestEnvelopeNoPayload(t *testing.T) {
	env := Envelope{Kind: wire.Test, MsgID: 1, SenderHost: "h", SenderPort: 1}
	raw := EncodeMessage(env, "", false)
	b := New(len(raw))
	_ = b.Append(raw)

	_, _, hasPayload, ok, err := DecodeMessage(b)
	if err != nil || !ok {
		t.Fatalf("decode: ok=%v err=%v", ok, err)
	}
	if hasPayload {
		t.Error("expected no payload")
	}
}
