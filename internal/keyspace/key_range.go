package keyspace

// KeyRange is a worker's ownership interval. Max is an exclusive upper
// bound unless Unlimited is set, in which case Max is ignored by
// containment tests.
type KeyRange struct {
	Valid     bool
	Unlimited bool
	Min       CompositeKey
	Max       CompositeKey
}

// AllInclusive returns the range owning the entire key space: the ring's
// initial state when the first worker registers.
func AllInclusive() KeyRange {
	return KeyRange{Valid: true, Unlimited: true, Min: MinValue()}
}

// SetMinMax sets Min and Max and recomputes Valid.
func (r *KeyRange) SetMinMax(min, max CompositeKey) {
	r.Min = min
	r.Max = max
	r.Unlimited = false
	r.setValid()
}

// SetMin sets Min, leaving Max and Unlimited untouched, and recomputes Valid.
func (r *KeyRange) SetMin(min CompositeKey) {
	r.Min = min
	r.setValid()
}

// SetMax sets Max, clears Unlimited, and recomputes Valid.
func (r *KeyRange) SetMax(max CompositeKey) {
	r.Max = max
	r.Unlimited = false
	r.setValid()
}

// SetUnlimited marks the range as owning everything above Min.
func (r *KeyRange) SetUnlimited() {
	r.Unlimited = true
	r.Valid = true
}

func (r *KeyRange) setValid() {
	if r.Unlimited {
		r.Valid = true
		return
	}
	r.Valid = r.Min.LessOrEqual(r.Max)
}

// Contains reports whether k falls within the range: valid, >= Min, and
// (unlimited or < Max).
func (r KeyRange) Contains(k CompositeKey) bool {
	if !r.Valid {
		return false
	}
	if k.Less(r.Min) {
		return false
	}
	if r.Unlimited {
		return true
	}
	return k.Less(r.Max)
}

// Equal reports whether two ranges describe the same interval.
func (r KeyRange) Equal(other KeyRange) bool {
	if r.Valid != other.Valid {
		return false
	}
	if !r.Valid {
		return true
	}
	if r.Unlimited != other.Unlimited {
		return false
	}
	if !r.Min.Equal(other.Min) {
		return false
	}
	if r.Unlimited {
		return true
	}
	return r.Max.Equal(other.Max)
}

// Less orders ranges for use as a by-range index key: an invalid range
// sorts before any valid one; valid ranges compare by Min.
func (r KeyRange) Less(other KeyRange) bool {
	if r.Valid != other.Valid {
		return !r.Valid
	}
	if !r.Valid {
		return false
	}
	return r.Min.Less(other.Min)
}
