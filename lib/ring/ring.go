package ring

import (
	"fmt"
	"github.com/ValentinKolb/dRing/lib/member"
	"math/bits"
	"sort"
)

const (
	// DefaultVirtualNodes is the number of placement points per member
	DefaultVirtualNodes = 64
)

// Bucket describes one partition of the ring
type Bucket struct {
	ID    int
	Token Token // first token owned by the bucket
	Owner member.Member
}

// Options configures the construction of a ring
type Options struct {
	VirtualNodes int // Placement points per member (0 = DefaultVirtualNodes)
}

// ConsistentHashRing is an ordered sequence of bucket start tokens together
// with the owner of every bucket.
//
// A ring is immutable. A topology change produces a new ring, so readers
// holding a ring never observe a half-updated state.
type ConsistentHashRing struct {
	tokens  []Token
	owners  []member.Member
	members member.Set
}

// New creates a ring with bucketCount evenly spaced buckets (bucket i starts at
// i * 2^64 / bucketCount) and assigns every bucket to one of the members.
func New(bucketCount int, members member.Set, opts *Options) (*ConsistentHashRing, error) {
	if bucketCount < 1 {
		return nil, fmt.Errorf("bucket count must be at least 1, got %d", bucketCount)
	}
	if members.Len() == 0 {
		return nil, fmt.Errorf("a ring needs at least one member")
	}

	vnodes := DefaultVirtualNodes
	if opts != nil && opts.VirtualNodes > 0 {
		vnodes = opts.VirtualNodes
	}

	// 2^64 / n, for n == 1 the step is never used
	var step uint64
	if bucketCount > 1 {
		step, _ = bits.Div64(1, 0, uint64(bucketCount))
	}

	placement := buildPlacement(members, vnodes)

	r := &ConsistentHashRing{
		tokens:  make([]Token, bucketCount),
		owners:  make([]member.Member, bucketCount),
		members: members,
	}
	for i := 0; i < bucketCount; i++ {
		r.tokens[i] = Token(uint64(i) * step)
		r.owners[i] = ownerOf(placement, r.tokens[i])
	}
	return r, nil
}

// --------------------------------------------------------------------------
// Lookups
// --------------------------------------------------------------------------

// BucketCount returns the number of buckets
func (r *ConsistentHashRing) BucketCount() int {
	return len(r.tokens)
}

// FindBucketIDFromToken returns the index of the bucket containing t.
// This is a binary search over the sorted bucket start tokens.
func (r *ConsistentHashRing) FindBucketIDFromToken(t Token) int {
	// first bucket starting after t, the bucket before it contains t
	idx := sort.Search(len(r.tokens), func(i int) bool { return r.tokens[i] > t })
	if idx == 0 {
		// cannot happen as long as the first bucket starts at 0
		return len(r.tokens) - 1
	}
	return idx - 1
}

// FindBucketID returns the index of the bucket containing the key
func (r *ConsistentHashRing) FindBucketID(key string) int {
	return r.FindBucketIDFromToken(HashKey(key))
}

// GetBucket returns the bucket with index i
func (r *ConsistentHashRing) GetBucket(i int) Bucket {
	return Bucket{ID: i, Token: r.tokens[i], Owner: r.owners[i]}
}

// BucketRange returns the token range owned by bucket i
func (r *ConsistentHashRing) BucketRange(i int) TokenRange {
	return TokenRange{Start: r.tokens[i], End: r.tokens[(i+1)%len(r.tokens)]}
}

// Owner returns the member owning the key
func (r *ConsistentHashRing) Owner(key string) member.Member {
	return r.owners[r.FindBucketID(key)]
}

// OwnerOfToken returns the member owning the token
func (r *ConsistentHashRing) OwnerOfToken(t Token) member.Member {
	return r.owners[r.FindBucketIDFromToken(t)]
}

// OwnedBy returns the indices of all buckets owned by m
func (r *ConsistentHashRing) OwnedBy(m member.Member) []int {
	var ids []int
	for i, owner := range r.owners {
		if owner.Equal(m) {
			ids = append(ids, i)
		}
	}
	return ids
}

// Members returns the member set the ring was built from
func (r *ConsistentHashRing) Members() member.Set {
	return r.members
}

// --------------------------------------------------------------------------
// Topology changes
// --------------------------------------------------------------------------

// Move describes a bucket whose owner differs between two rings
type Move struct {
	Bucket int
	Range  TokenRange
	From   member.Member
	To     member.Member
}

// Moves returns every bucket whose owner changed from prev to next.
// Both rings must have the same bucket count.
func Moves(prev, next *ConsistentHashRing) ([]Move, error) {
	if prev.BucketCount() != next.BucketCount() {
		return nil, fmt.Errorf("bucket count changed from %d to %d", prev.BucketCount(), next.BucketCount())
	}
	var moves []Move
	for i := range next.tokens {
		if !prev.owners[i].Equal(next.owners[i]) {
			moves = append(moves, Move{
				Bucket: i,
				Range:  next.BucketRange(i),
				From:   prev.owners[i],
				To:     next.owners[i],
			})
		}
	}
	return moves, nil
}
