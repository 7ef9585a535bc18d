package cluster

import (
	"github.com/ValentinKolb/dRing/lib/member"
	"github.com/ValentinKolb/dRing/rpc/operation"
)

// Message kinds of the cluster service
const (
	KindDiscovery operation.Kind = 0x0100 + iota
	KindStatus
	KindStatusResponse
	KindJoin
	KindMembersUpdate
	KindRebalance
)

// Register adds all cluster messages to the registry
func Register(r *operation.Registry) {
	r.MustRegister(
		func() operation.Message { return &DiscoveryOperation{} },
		func() operation.Message { return &StatusRequest{} },
		func() operation.Message { return &StatusResponse{} },
		func() operation.Message { return &JoinRequest{} },
		func() operation.Message { return &MembersUpdateRequest{} },
		func() operation.Message { return &RebalanceOperation{} },
	)
}

// --------------------------------------------------------------------------
// Discovery
// --------------------------------------------------------------------------

// DiscoveryOperation is the heartbeat every node broadcasts to the discovery group
type DiscoveryOperation struct {
	Master      member.Member `cbor:"1,keyasint" json:"master"`
	CommitIndex uint64        `cbor:"2,keyasint" json:"commit_index"`
	Size        int           `cbor:"3,keyasint" json:"size"`
}

func (o *DiscoveryOperation) Kind() operation.Kind         { return KindDiscovery }
func (o *DiscoveryOperation) Service() operation.ServiceID { return operation.ServiceCluster }

func (o *DiscoveryOperation) Run(svc any, ctx operation.Context) error {
	s, err := operation.ServiceAs[*Service](svc)
	if err != nil {
		return err
	}
	if sender, ok := ctx.Sender(); ok {
		s.Discovered(sender)
	}
	return nil
}

// StatusRequest asks a node for the state of its cluster
type StatusRequest struct {
	// CallerCommitIndex is the commit index of the asking node, zero for clients
	CallerCommitIndex uint64 `cbor:"1,keyasint,omitempty" json:"caller_commit_index,omitempty"`
}

func (r *StatusRequest) Kind() operation.Kind         { return KindStatus }
func (r *StatusRequest) Service() operation.ServiceID { return operation.ServiceCluster }

func (r *StatusRequest) Serve(svc any, ctx operation.ReplyContext) error {
	s, err := operation.ServiceAs[*Service](svc)
	if err != nil {
		return err
	}
	return ctx.Reply(NewStatusResponse(s.cluster.Snapshot(), s.layout))
}

// StatusResponse is the reply to a StatusRequest
type StatusResponse struct {
	Members      member.Set    `cbor:"1,keyasint" json:"members"`
	Master       member.Member `cbor:"2,keyasint" json:"master"`
	CommitIndex  uint64        `cbor:"3,keyasint" json:"commit_index"`
	BucketCount  int           `cbor:"4,keyasint" json:"bucket_count"`
	VirtualNodes int           `cbor:"5,keyasint" json:"virtual_nodes"`
}

func NewStatusResponse(state State, layout Layout) *StatusResponse {
	return &StatusResponse{
		Members:      state.Members,
		Master:       state.Master,
		CommitIndex:  state.CommitIndex,
		BucketCount:  layout.BucketCount,
		VirtualNodes: layout.VirtualNodes,
	}
}

func (r *StatusResponse) Kind() operation.Kind         { return KindStatusResponse }
func (r *StatusResponse) Service() operation.ServiceID { return operation.ServiceNone }

// Layout returns the ring layout of the responding node
func (r *StatusResponse) Layout() Layout {
	return Layout{BucketCount: r.BucketCount, VirtualNodes: r.VirtualNodes}
}

// State returns the cluster state of the response
func (r *StatusResponse) State() State {
	return State{Members: member.NewSet(r.Members...), Master: r.Master, CommitIndex: r.CommitIndex}
}

// --------------------------------------------------------------------------
// Membership
// --------------------------------------------------------------------------

// JoinRequest is sent by a master to every member it absorbs.
// The receiver adopts the state and replies with an Ack.
type JoinRequest struct {
	State State `cbor:"1,keyasint" json:"state"`
}

func (r *JoinRequest) Kind() operation.Kind         { return KindJoin }
func (r *JoinRequest) Service() operation.ServiceID { return operation.ServiceCluster }

func (r *JoinRequest) Serve(svc any, ctx operation.ReplyContext) error {
	s, err := operation.ServiceAs[*Service](svc)
	if err != nil {
		return err
	}
	_, err = s.cluster.Adopt(r.State)
	return ctx.Reply(operation.NewAck(err))
}

// MembersUpdateRequest replicates a committed member list from the master to its members
type MembersUpdateRequest struct {
	State State `cbor:"1,keyasint" json:"state"`
}

func (r *MembersUpdateRequest) Kind() operation.Kind         { return KindMembersUpdate }
func (r *MembersUpdateRequest) Service() operation.ServiceID { return operation.ServiceCluster }

func (r *MembersUpdateRequest) Serve(svc any, ctx operation.ReplyContext) error {
	s, err := operation.ServiceAs[*Service](svc)
	if err != nil {
		return err
	}
	_, err = s.cluster.Adopt(r.State)
	return ctx.Reply(operation.NewAck(err))
}

// RebalanceOperation asks a node to pull all buckets it owns but does not hold
type RebalanceOperation struct {
	CommitIndex uint64 `cbor:"1,keyasint" json:"commit_index"`
}

func (o *RebalanceOperation) Kind() operation.Kind         { return KindRebalance }
func (o *RebalanceOperation) Service() operation.ServiceID { return operation.ServiceCluster }

func (o *RebalanceOperation) Run(svc any, ctx operation.Context) error {
	s, err := operation.ServiceAs[*Service](svc)
	if err != nil {
		return err
	}
	sender, _ := ctx.Sender()
	Logger.Infof("rebalance requested by %s at commit %d", sender, o.CommitIndex)
	s.RequestRebalance()
	return nil
}
