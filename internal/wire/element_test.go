package wire

import "testing"

func TestElementEncodedTagAndLength(t *testing.T) {
	cases := []Element{
		StringElem("hello, ring"),
		StringElem(""),
		U16Elem(65535),
		U32Elem(4294967295),
		U64Elem(18446744073709551615),
	}
	for _, e := range cases {
		buf := AppendTo(nil, e)
		if got := int(buf[0]); got != int(e.Type) {
			t.Fatalf("tag byte = %d, want %d", got, e.Type)
		}
		if len(buf) != e.TransmitSize() {
			t.Errorf("encoded length = %d, want TransmitSize() = %d", len(buf), e.TransmitSize())
		}
	}
}

func TestEqual(t *testing.T) {
	if !Equal(U32Elem(5), U32Elem(5)) {
		t.Error("equal U32 elements reported unequal")
	}
	if Equal(U32Elem(5), U32Elem(6)) {
		t.Error("unequal U32 elements reported equal")
	}
	if Equal(U32Elem(5), U16Elem(5)) {
		t.Error("elements of differing type reported equal")
	}
}

func TestKindString(t *testing.T) {
	if Kind(0).String() == "" {
		t.Error("Kind.String() should never be empty")
	}
	if MsgReceived.String() != "MSG_RECEIVED" {
		t.Errorf("MsgReceived.String() = %q", MsgReceived.String())
	}
}
