package wireproto

import (
	"testing"

	"github.com/kiloop/keyindex/internal/netbuf"
)

func TestKeyInfoRoundTrip(t *testing.T) {
	ki := KeyInfo{KeyInt: 42, KeyStr: "asdf_1", Chunk: 4001, Subchunk: 200001, Success: true}
	buf := ki.Encode(nil)
	got, err := DecodeKeyInfo(netbuf.WrapBytes(buf))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != ki {
		t.Errorf("round trip mismatch: got %+v want %+v", got, ki)
	}
}

func TestWorkerKeysInfoRoundTrip(t *testing.T) {
	w := WorkerKeysInfo{
		ID:         3,
		MapSize:    10,
		RecentAdds: 2,
		Range:      WorkerRange{Valid: true, MinInt: 0, MinStr: "", MaxUnlimited: true},
		Left:       NeighborRef{ID: 2},
		Right:      NeighborRef{ID: 0},
	}
	buf := w.Encode(nil)
	got, err := DecodeWorkerKeysInfo(netbuf.WrapBytes(buf))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != w {
		t.Errorf("round trip mismatch: got %+v want %+v", got, w)
	}
}

func TestMastWorkerListRoundTrip(t *testing.T) {
	l := MastWorkerList{Workers: []WorkerListItem{
		{ID: 1, HasAddress: true, Address: NetAddress{IP: "10.0.0.1", UDPPort: 9876, TCPPort: 9877}},
		{ID: 2},
	}}
	buf := l.Encode(nil)
	got, err := DecodeMastWorkerList(netbuf.WrapBytes(buf))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Workers) != 2 || got.Workers[0].Address.IP != "10.0.0.1" {
		t.Errorf("round trip mismatch: got %+v", got)
	}
}

func TestKeyListRoundTrip(t *testing.T) {
	l := KeyList{Pairs: []KeyInfo{
		{KeyInt: 1, KeyStr: "a", Chunk: 1, Subchunk: 1},
		{KeyInt: 2, KeyStr: "b", Chunk: 2, Subchunk: 2},
	}}
	buf := l.Encode(nil)
	got, err := DecodeKeyList(netbuf.WrapBytes(buf))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Pairs) != 2 || got.Pairs[1].KeyStr != "b" {
		t.Errorf("round trip mismatch: got %+v", got)
	}
}
