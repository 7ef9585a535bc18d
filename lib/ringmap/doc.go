// Package ringmap implements the partitioned store of a node.
//
// A RingMap holds one map per bucket of the ring the local member owns. When
// the ring changes (SetRing), buckets that moved away are parked in the
// migration buffer until another node pulls them with a ChangeRingRequest, and
// buckets that moved here take over any buffered entries they cover.
//
// ChangeRing moves entries, it never copies them: every returned entry is
// removed from its bucket or from the migration buffer in the same pass.
// Each bucket has its own mutex, so a rebalance and a normal write on the same
// bucket are serialized.
//
// The package also defines the requests executed against the store on
// remote nodes (PutRequest, GetRequest, HasRequest, DeleteRequest and
// ChangeRingRequest).
package ringmap
