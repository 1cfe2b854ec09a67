// Package netbuf provides a bounded byte buffer with separate read/write
// cursors and a "safe retrieve" decode that rolls back cursors atomically
// when a frame is incomplete, so TCP reads never need to peek ahead.
package netbuf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/kiloop/keyindex/internal/wire"
)

// MaxMsgSize is the hard cap on a single datagram/message body.
const MaxMsgSize = 6000

var (
	// ErrOverflow is returned when a write would exceed the buffer's capacity.
	ErrOverflow = errors.New("netbuf: buffer overflow")
	// ErrShortRead is returned by Retrieve when fewer bytes are available
	// than requested.
	ErrShortRead = errors.New("netbuf: short read")
)

// Buffer is a fixed-capacity byte buffer with independent read and write
// cursors. It is not safe for concurrent use; callers serialize access
// (e.g. one per connection, or guarded by the key-store / right-link mutex).
type Buffer struct {
	data   []byte
	end    int // capacity
	wCur   int
	rCur   int
}

// New allocates a buffer with the given capacity.
func New(capacity int) *Buffer {
	return &Buffer{data: make([]byte, capacity), end: capacity}
}

// WrapBytes builds a read-only buffer over an already-complete byte slice,
// useful for decoding a structured payload that arrived whole inside a
// single STRING element.
func WrapBytes(data []byte) *Buffer {
	return &Buffer{data: data, end: len(data), wCur: len(data)}
}

// Len returns the number of unread bytes.
func (b *Buffer) Len() int { return b.wCur - b.rCur }

// Reset clears both cursors, discarding buffered content.
func (b *Buffer) Reset() {
	b.wCur = 0
	b.rCur = 0
}

// Compact moves any unread bytes to the front of the buffer and resets the
// cursors accordingly. Callers use this between read attempts to reclaim
// space consumed by already-decoded elements.
func (b *Buffer) Compact() {
	if b.rCur == 0 {
		return
	}
	n := copy(b.data, b.data[b.rCur:b.wCur])
	b.rCur = 0
	b.wCur = n
}

func (b *Buffer) isAppendSafe(n int) bool { return b.wCur+n <= b.end }

// Append copies p into the buffer, advancing the write cursor.
func (b *Buffer) Append(p []byte) error {
	if !b.isAppendSafe(len(p)) {
		return fmt.Errorf("%w: need %d have %d", ErrOverflow, len(p), b.end-b.wCur)
	}
	copy(b.data[b.wCur:], p)
	b.wCur += len(p)
	return nil
}

// ReadFrom pulls up to len(available space) bytes from r in a single Read
// call, advancing the write cursor by however many bytes were read.
func (b *Buffer) ReadFrom(r io.Reader) (int, error) {
	space := b.end - b.wCur
	if space <= 0 {
		return 0, ErrOverflow
	}
	n, err := r.Read(b.data[b.wCur : b.wCur+space])
	b.wCur += n
	return n, err
}

func (b *Buffer) isRetrieveSafe(n int) bool {
	return b.rCur+n <= b.end && b.rCur+n <= b.wCur
}

// Retrieve returns a copy of the next n unread bytes and advances the read cursor. It
// fails without mutating the cursor if fewer than n bytes are available.
func (b *Buffer) Retrieve(n int) ([]byte, error) {
	if !b.isRetrieveSafe(n) {
		return nil, ErrShortRead
	}
	out := make([]byte, n)
	copy(out, b.data[b.rCur:b.rCur+n])
	b.rCur += n
	return out, nil
}

// DecodeElement attempts to decode exactly one wire.Element from the unread
// region. On any failure (unknown tag, short read) the read cursor is left
// unchanged so the caller can retry once more bytes have arrived — this is
// the "safe retrieve" contract.
func (b *Buffer) DecodeElement() (wire.Element, bool, error) {
	start := b.rCur
	tagBytes, err := b.Retrieve(1)
	if err != nil {
		b.rCur = start
		return wire.Element{}, false, nil
	}
	tag := wire.ElementType(tagBytes[0])
	switch tag {
	case wire.String:
		lenBytes, err := b.Retrieve(4)
		if err != nil {
			b.rCur = start
			return wire.Element{}, false, nil
		}
		n := binary.BigEndian.Uint32(lenBytes)
		if n > MaxMsgSize {
			b.rCur = start
			return wire.Element{}, false, fmt.Errorf("wire: string element too long: %d", n)
		}
		data, err := b.Retrieve(int(n))
		if err != nil {
			b.rCur = start
			return wire.Element{}, false, nil
		}
		return wire.Element{Type: wire.String, Str: string(data)}, true, nil
	case wire.U16:
		data, err := b.Retrieve(2)
		if err != nil {
			b.rCur = start
			return wire.Element{}, false, nil
		}
		return wire.Element{Type: wire.U16, U16v: binary.BigEndian.Uint16(data)}, true, nil
	case wire.U32:
		data, err := b.Retrieve(4)
		if err != nil {
			b.rCur = start
			return wire.Element{}, false, nil
		}
		return wire.Element{Type: wire.U32, U32v: binary.BigEndian.Uint32(data)}, true, nil
	case wire.U64:
		data, err := b.Retrieve(8)
		if err != nil {
			b.rCur = start
			return wire.Element{}, false, nil
		}
		return wire.Element{Type: wire.U64, U64v: binary.BigEndian.Uint64(data)}, true, nil
	default:
		b.rCur = start
		return wire.Element{}, false, fmt.Errorf("wire: unknown element tag %d", tag)
	}
}

// ReadElementFrom repeatedly pulls bytes from r (compacting between
// attempts) until one full element decodes, EOF is reached with nothing
// decoded, or an error occurs. This is the TCP framing loop described for
// the neighbor link.
func ReadElementFrom(r io.Reader, b *Buffer) (wire.Element, bool, error) {
	for {
		el, ok, err := b.DecodeElement()
		if err != nil {
			return wire.Element{}, false, err
		}
		if ok {
			return el, true, nil
		}
		b.Compact()
		n, err := b.ReadFrom(r)
		if n == 0 {
			if err == io.EOF {
				return wire.Element{}, false, nil
			}
			if err != nil {
				return wire.Element{}, false, err
			}
		}
	}
}
