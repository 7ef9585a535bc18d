// Package ring implements the consistent hash ring used to partition keys
// across the members of a cluster.
//
// Keys are hashed (xxhash64) to a Token on the circular space [0, 2^64).
// The space is split into a fixed number of evenly sized buckets. Each bucket
// is assigned to a member by looking up the successor of the bucket start token
// among the virtual points of all members, which are kept in an immutable AVL
// tree. Because the placement only depends on the member set, every node computes
// the same ring for the same membership.
//
// Key Components:
//
//   - Token / TokenRange: positions and half-open circular intervals on the ring.
//     IsTokenBetween is the single interval test used by all range math.
//
//   - ConsistentHashRing: immutable bucket table with O(log n) token lookup.
//
//   - Moves: the buckets whose owner changed between two rings, used to drive
//     rebalancing after a topology change.
package ring
