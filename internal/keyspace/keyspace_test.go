package keyspace

import "testing"

func TestCompositeKeyOrdering(t *testing.T) {
	cases := []struct {
		a, b CompositeKey
		want int
	}{
		{New(1, "a"), New(2, "a"), -1},
		{New(2, "a"), New(1, "z"), 1},
		{New(1, "a"), New(1, "b"), -1},
		{New(1, "a"), New(1, "a"), 0},
	}
	for _, c := range cases {
		if got := c.a.Compare(c.b); got != c.want {
			t.Errorf("Compare(%v, %v) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestMinValue(t *testing.T) {
	if got := MinValue(); got != (CompositeKey{}) {
		t.Errorf("MinValue() = %v, want zero value", got)
	}
}

func TestIncrement(t *testing.T) {
	k := New(5, "abc")
	inc := k.Increment()
	if !k.Less(inc) {
		t.Errorf("Increment() did not produce a strictly greater key: %v -> %v", k, inc)
	}

	k2 := FromInt(7)
	inc2 := k2.Increment()
	if inc2.KInt != 8 {
		t.Errorf("Increment() on int-only key = %v, want KInt=8", inc2)
	}
}

func TestKeyRangeContains(t *testing.T) {
	r := KeyRange{}
	r.SetMinMax(New(0, ""), New(100, ""))
	if r.Contains(New(100, "")) {
		t.Error("Contains should be exclusive of Max")
	}
	if !r.Contains(New(0, "")) {
		t.Error("Contains should be inclusive of Min")
	}
	if !r.Contains(New(50, "x")) {
		t.Error("Contains should include interior keys")
	}
	if r.Contains(New(200, "")) {
		t.Error("Contains should exclude keys past Max")
	}
}

func TestKeyRangeUnlimited(t *testing.T) {
	r := KeyRange{}
	r.SetMin(New(10, ""))
	r.SetUnlimited()
	if !r.Contains(New(1_000_000, "zz")) {
		t.Error("unlimited range should contain any key >= Min")
	}
	if r.Contains(New(5, "")) {
		t.Error("unlimited range should still respect Min")
	}
}

func TestKeyRangeInvalidOrdersFirst(t *testing.T) {
	invalid := KeyRange{}
	valid := AllInclusive()
	if !invalid.Less(valid) {
		t.Error("invalid range should sort before a valid one")
	}
	if valid.Less(invalid) {
		t.Error("valid range should not sort before an invalid one")
	}
}
