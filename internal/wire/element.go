// Package wire implements the self-describing element codec used on every
// socket in the index: a single type-tag byte followed by a big-endian
// payload. Strings carry a 4-byte length prefix; integers are fixed width.
package wire

import (
	"encoding/binary"
	"fmt"
)

// ElementType is the single-byte tag prefixing every encoded element.
type ElementType byte

const (
	Nothing ElementType = 0
	String  ElementType = 1
	U16     ElementType = 2
	U32     ElementType = 3
	U64     ElementType = 4
)

func (t ElementType) String() string {
	switch t {
	case Nothing:
		return "NOTHING"
	case String:
		return "STRING"
	case U16:
		return "U16"
	case U32:
		return "U32"
	case U64:
		return "U64"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", byte(t))
	}
}

// Element is one decoded wire element. Exactly one of the typed fields is
// meaningful, selected by Type.
type Element struct {
	Type ElementType
	Str  string
	U16v uint16
	U32v uint32
	U64v uint64
}

func StringElem(s string) Element { return Element{Type: String, Str: s} }
func U16Elem(v uint16) Element    { return Element{Type: U16, U16v: v} }
func U32Elem(v uint32) Element    { return Element{Type: U32, U32v: v} }
func U64Elem(v uint64) Element    { return Element{Type: U64, U64v: v} }

// TransmitSize returns the number of bytes this element occupies on the
// wire, including its type tag.
func (e Element) TransmitSize() int {
	switch e.Type {
	case String:
		return 1 + 4 + len(e.Str)
	case U16:
		return 1 + 2
	case U32:
		return 1 + 4
	case U64:
		return 1 + 8
	default:
		return 1
	}
}

// AppendTo appends the encoded element to dst and returns the result.
func AppendTo(dst []byte, e Element) []byte {
	dst = append(dst, byte(e.Type))
	switch e.Type {
	case String:
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(e.Str)))
		dst = append(dst, lenBuf[:]...)
		dst = append(dst, e.Str...)
	case U16:
		var buf [2]byte
		binary.BigEndian.PutUint16(buf[:], e.U16v)
		dst = append(dst, buf[:]...)
	case U32:
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], e.U32v)
		dst = append(dst, buf[:]...)
	case U64:
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], e.U64v)
		dst = append(dst, buf[:]...)
	}
	return dst
}

// Equal reports whether a and b carry the same type and value.
func Equal(a, b Element) bool {
	if a.Type != b.Type {
		return false
	}
	switch a.Type {
	case String:
		return a.Str == b.Str
	case U16:
		return a.U16v == b.U16v
	case U32:
		return a.U32v == b.U32v
	case U64:
		return a.U64v == b.U64v
	default:
		return true
	}
}
