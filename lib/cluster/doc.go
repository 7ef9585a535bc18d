/*
Package cluster implements the membership of a dRing cluster.

Every node holds a Cluster: the member set, the master and a commit index that
only moves forward. Only the master changes the member set.

# Merging

Nodes announce themselves with a DiscoveryOperation on the multicast group.
When the master of a cluster hears from a node it does not know, the Merger
runs this state machine on a dedicated goroutine:

	Idle -> VerifyMaster -> QueryRemote -> Compare -> Absorb -> ConnectNewMembers
	     -> BroadcastJoin -> ReplicateMembership -> Idle
	                                  Compare -> Defer -> Idle

The smaller cluster yields to the larger one; on equal size the lower commit
index yields (see Yields). The winning master connects to all foreign members,
sends them a JoinRequest and replicates the final member list to its existing
members with a MembersUpdateRequest. Members that cannot be reached are
dropped from the merge without failing it. A master that defers announces
itself to the winning master, which then starts the merge from its side.

# Rebalancing

After the member set changed every node builds the new ring and pulls the
buckets it gained from their previous owners with a ChangeRingRequest (see
Rebalancer).
*/
package cluster
