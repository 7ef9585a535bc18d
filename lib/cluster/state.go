package cluster

import (
	"fmt"
	"github.com/ValentinKolb/dRing/lib/member"
	"github.com/ValentinKolb/dRing/lib/ring"
)

// State is the membership of a cluster as seen by one node
type State struct {
	Members     member.Set    `cbor:"1,keyasint" json:"members"`
	Master      member.Member `cbor:"2,keyasint" json:"master"`
	CommitIndex uint64        `cbor:"3,keyasint" json:"commit_index"`
}

// Size returns the number of members
func (s State) Size() int {
	return s.Members.Len()
}

// Equal reports whether both states describe the same membership at the same commit index
func (s State) Equal(o State) bool {
	return s.CommitIndex == o.CommitIndex && s.Master.Equal(o.Master) && s.Members.Equal(o.Members)
}

// SameCluster reports whether both states are led by the same master
func (s State) SameCluster(o State) bool {
	return s.Master.Equal(o.Master)
}

func (s State) String() string {
	return fmt.Sprintf("master=%s commit=%d members=%s", s.Master.ID, s.CommitIndex, s.Members)
}

// Yields reports whether the local cluster has to give way to the remote one
// when both merge. The smaller cluster yields. On equal size the cluster with
// the lower commit index yields, and on a full tie the cluster whose master ID
// sorts higher yields. For two distinct clusters exactly one side yields.
func Yields(local, remote State) bool {
	if local.Size() != remote.Size() {
		return local.Size() < remote.Size()
	}
	if local.CommitIndex != remote.CommitIndex {
		return local.CommitIndex < remote.CommitIndex
	}
	return local.Master.ID > remote.Master.ID
}

// Layout is the ring configuration all members of a cluster share
type Layout struct {
	BucketCount  int `json:"bucket_count"`
	VirtualNodes int `json:"virtual_nodes"`
}

// Build creates the ring of the given members
func (l Layout) Build(members member.Set) (*ring.ConsistentHashRing, error) {
	return ring.New(l.BucketCount, members, &ring.Options{VirtualNodes: l.VirtualNodes})
}

func (l Layout) String() string {
	return fmt.Sprintf("%d buckets, %d virtual nodes", l.BucketCount, l.VirtualNodes)
}
