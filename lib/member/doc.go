// Package member defines the identity of a cluster node (Member) and an
// immutable, ID-sorted collection of members (Set).
//
// Every node sorts members the same way, so anything derived from a Set (for
// example the owner placement of the hash ring) is identical across the cluster.
package member
