package wireproto

import "github.com/kiloop/keyindex/internal/keyspace"

// FromKeyRange converts a keyspace.KeyRange to its wire representation.
func FromKeyRange(r keyspace.KeyRange) WorkerRange {
	return WorkerRange{
		Valid:        r.Valid,
		MinInt:       r.Min.KInt,
		MinStr:       r.Min.KStr,
		MaxInt:       r.Max.KInt,
		MaxStr:       r.Max.KStr,
		MaxUnlimited: r.Unlimited,
	}
}

// ToKeyRange converts a wire WorkerRange back to a keyspace.KeyRange.
func ToKeyRange(w WorkerRange) keyspace.KeyRange {
	return keyspace.KeyRange{
		Valid:     w.Valid,
		Unlimited: w.MaxUnlimited,
		Min:       keyspace.New(w.MinInt, w.MinStr),
		Max:       keyspace.New(w.MaxInt, w.MaxStr),
	}
}

// FromCompositeKey splits a CompositeKey into its wire fields for embedding
// in a KeyInfo.
func FromCompositeKey(k keyspace.CompositeKey) (kInt uint64, kStr string) {
	return k.KInt, k.KStr
}

// ToCompositeKey rebuilds a CompositeKey from KeyInfo's key fields.
func (ki KeyInfo) ToCompositeKey() keyspace.CompositeKey {
	return keyspace.New(ki.KeyInt, ki.KeyStr)
}
