package ring

import (
	"fmt"
	"github.com/cespare/xxhash/v2"
)

// --------------------------------------------------------------------------
// Tokens
// --------------------------------------------------------------------------

// Token is a position on the circular 64-bit token space [0, 2^64)
type Token uint64

// HashKey maps a key to its token
func HashKey(key string) Token {
	return Token(xxhash.Sum64String(key))
}

// HashBytes maps a serialized key to its token
func HashBytes(b []byte) Token {
	return Token(xxhash.Sum64(b))
}

// IsTokenBetween reports whether t lies in the circular interval [start, end).
// The interval wraps around zero when end < start. start == end denotes the full ring.
//
// Note: every range computation in this package uses this inclusive-start,
// exclusive-end rule.
func IsTokenBetween(t, start, end Token) bool {
	switch {
	case start == end:
		return true
	case start < end:
		return start <= t && t < end
	default:
		return t >= start || t < end
	}
}

// --------------------------------------------------------------------------
// Token Ranges
// --------------------------------------------------------------------------

// TokenRange is the half-open circular interval [Start, End) of the token space.
// A range with Start == End covers the full ring.
type TokenRange struct {
	Start Token `cbor:"s" json:"start"`
	End   Token `cbor:"e" json:"end"`
}

// FullRange returns the range covering every token
func FullRange() TokenRange {
	return TokenRange{}
}

// IsFull reports whether the range covers the full ring
func (r TokenRange) IsFull() bool {
	return r.Start == r.End
}

// Contains reports whether t lies inside the range
func (r TokenRange) Contains(t Token) bool {
	return IsTokenBetween(t, r.Start, r.End)
}

// span returns the number of tokens in the range. The result is only
// meaningful if the range is not full (a full range would need 2^64).
func (r TokenRange) span() uint64 {
	return uint64(r.End - r.Start)
}

// Covers reports whether o lies entirely inside r
func (r TokenRange) Covers(o TokenRange) bool {
	if r.IsFull() {
		return true
	}
	if o.IsFull() {
		return false
	}
	offset := uint64(o.Start - r.Start)
	return offset < r.span() && o.span() <= r.span()-offset
}

// Overlaps reports whether r and o share at least one token
func (r TokenRange) Overlaps(o TokenRange) bool {
	return r.Contains(o.Start) || o.Contains(r.Start)
}

func (r TokenRange) String() string {
	if r.IsFull() {
		return "[full ring]"
	}
	return fmt.Sprintf("[%d, %d)", uint64(r.Start), uint64(r.End))
}
