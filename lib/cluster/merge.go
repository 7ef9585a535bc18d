package cluster

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/dRing/lib/member"
	"github.com/ValentinKolb/dRing/rpc/operation"
	"github.com/ValentinKolb/dRing/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"sync/atomic"
	"time"
)

const (
	// DefaultMergeRetries is the number of attempts for every remote step of a merge
	DefaultMergeRetries = 3
	// DefaultMergeTimeout bounds a single remote call of a merge
	DefaultMergeTimeout = 5 * time.Second
)

// Peers is the part of the cluster transport a merge needs
type Peers interface {
	Connect(ctx context.Context, m member.Member) error
	Send(ctx context.Context, m member.Member, msg operation.Message) error
	Ask(ctx context.Context, m member.Member, req operation.Request) *transport.Future
}

// --------------------------------------------------------------------------
// Phases and Outcomes
// --------------------------------------------------------------------------

// Phase is a state of the merge state machine
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseVerifyMaster
	PhaseQueryRemote
	PhaseCompare
	PhaseAbsorb
	PhaseDefer
	PhaseConnectNewMembers
	PhaseBroadcastJoin
	PhaseReplicateMembership
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseVerifyMaster:
		return "VerifyMaster"
	case PhaseQueryRemote:
		return "QueryRemote"
	case PhaseCompare:
		return "Compare"
	case PhaseAbsorb:
		return "Absorb"
	case PhaseDefer:
		return "Defer"
	case PhaseConnectNewMembers:
		return "ConnectNewMembers"
	case PhaseBroadcastJoin:
		return "BroadcastJoin"
	case PhaseReplicateMembership:
		return "ReplicateMembership"
	default:
		return fmt.Sprintf("Phase(%d)", int32(p))
	}
}

// Outcome is how a merge attempt ended
type Outcome int

const (
	OutcomeNotMaster   Outcome = iota // local node is a follower, nothing happened
	OutcomeKnown                      // remote node already is a member
	OutcomeUnreachable                // remote cluster could not be queried or none of its members joined
	OutcomeDeferred                   // local cluster yields to the remote one
	OutcomeAbsorbed                   // remote members joined the local cluster
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNotMaster:
		return "not-master"
	case OutcomeKnown:
		return "known"
	case OutcomeUnreachable:
		return "unreachable"
	case OutcomeDeferred:
		return "deferred"
	case OutcomeAbsorbed:
		return "absorbed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// MergeResult describes a finished merge attempt
type MergeResult struct {
	Outcome Outcome
	Remote  State         // state reported by the remote cluster (zero if not queried)
	Added   member.Set    // members that joined
	Dropped member.Set    // foreign members that could not be connected or did not acknowledge
	State   State         // local state after the merge
	Took    time.Duration // duration of the merge
}

func (r MergeResult) String() string {
	return fmt.Sprintf("%s: added=%s dropped=%s state={%s} took=%s", r.Outcome, r.Added, r.Dropped, r.State, r.Took)
}

// --------------------------------------------------------------------------
// Merger
// --------------------------------------------------------------------------

// Merger runs the merge state machine of the local master. Merge blocks on
// remote calls and must only be called from a dedicated goroutine, never from
// a worker of the executor that handles inbound messages.
type Merger struct {
	cluster *Cluster
	peers   Peers
	retries int
	timeout time.Duration
	phase   atomic.Int32
}

// MergerOptions configures a Merger, zero values select the defaults
type MergerOptions struct {
	Retries int
	Timeout time.Duration
}

func NewMerger(c *Cluster, peers Peers, opts MergerOptions) *Merger {
	if opts.Retries < 1 {
		opts.Retries = DefaultMergeRetries
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultMergeTimeout
	}
	return &Merger{cluster: c, peers: peers, retries: opts.Retries, timeout: opts.Timeout}
}

// Phase returns the current phase of the state machine
func (m *Merger) Phase() Phase {
	return Phase(m.phase.Load())
}

func (m *Merger) enter(p Phase) {
	m.phase.Store(int32(p))
	Logger.Debugf("merge phase %s", p)
}

// Merge handles the discovery of a remote node that is not part of the local
// cluster. If the local cluster wins the comparison all reachable members of
// the remote cluster are absorbed.
func (m *Merger) Merge(ctx context.Context, remote member.Member) (result MergeResult) {
	start := time.Now()
	defer func() {
		m.enter(PhaseIdle)
		result.State = m.cluster.Snapshot()
		result.Took = time.Since(start)
		metrics.GetOrCreateCounter(fmt.Sprintf(`dring_merge_total{outcome=%q}`, result.Outcome)).Inc()
		metrics.GetOrCreateHistogram(`dring_merge_duration_seconds`).UpdateDuration(start)
	}()

	m.enter(PhaseVerifyMaster)
	if !m.cluster.IsMaster() {
		return MergeResult{Outcome: OutcomeNotMaster}
	}
	if m.cluster.Knows(remote) {
		return MergeResult{Outcome: OutcomeKnown}
	}

	m.enter(PhaseQueryRemote)
	status, err := m.queryRemote(ctx, remote)
	if err != nil {
		Logger.Warningf("merge with %s aborted, status query failed: %v", remote, err)
		return MergeResult{Outcome: OutcomeUnreachable}
	}
	remoteState := status.State()

	m.enter(PhaseCompare)
	local := m.cluster.Snapshot()
	if remoteState.Members.Contains(m.cluster.Self()) || remoteState.SameCluster(local) {
		return MergeResult{Outcome: OutcomeKnown, Remote: remoteState}
	}
	if Yields(local, remoteState) {
		m.enter(PhaseDefer)
		Logger.Infof("deferring to cluster of %s {%s}", remoteState.Master, remoteState)
		m.announce(ctx, remoteState.Master, local)
		return MergeResult{Outcome: OutcomeDeferred, Remote: remoteState}
	}

	m.enter(PhaseAbsorb)
	candidates := remoteState.Members.Difference(local.Members)
	Logger.Infof("absorbing %d members of cluster {%s}", candidates.Len(), remoteState)

	m.enter(PhaseConnectNewMembers)
	var dropped member.Set
	reachable := make([]member.Member, 0, candidates.Len())
	for _, c := range candidates {
		if err := m.connect(ctx, c); err != nil {
			Logger.Warningf("dropping %s from merge, connect failed: %v", c, err)
			dropped = dropped.Add(c)
			continue
		}
		reachable = append(reachable, c)
	}

	commit := max(local.CommitIndex, remoteState.CommitIndex) + 1
	joining := State{
		Members:     local.Members.Union(member.NewSet(reachable...)),
		Master:      m.cluster.Self(),
		CommitIndex: commit,
	}

	m.enter(PhaseBroadcastJoin)
	var added member.Set
	for _, c := range reachable {
		if err := m.askAck(ctx, c, &JoinRequest{State: joining}); err != nil {
			Logger.Warningf("dropping %s from merge, join failed: %v", c, err)
			dropped = dropped.Add(c)
			continue
		}
		added = added.Add(c)
	}
	if added.Len() == 0 {
		return MergeResult{Outcome: OutcomeUnreachable, Remote: remoteState, Dropped: dropped}
	}

	// members that failed to join are removed with a further commit, so the
	// members that already joined move forward as well
	final, skip := joining, added
	if added.Len() != len(reachable) {
		skip = nil
		final = State{
			Members:     local.Members.Union(added),
			Master:      m.cluster.Self(),
			CommitIndex: commit + 1,
		}
	}

	m.enter(PhaseReplicateMembership)
	if _, err := m.cluster.Adopt(final); err != nil {
		// another merge or update overtook this one
		Logger.Errorf("failed to commit merged state {%s}: %v", final, err)
		return MergeResult{Outcome: OutcomeUnreachable, Remote: remoteState, Dropped: dropped}
	}
	m.replicate(ctx, final, skip)

	return MergeResult{Outcome: OutcomeAbsorbed, Remote: remoteState, Added: added, Dropped: dropped}
}

// Replicate sends the committed state to every other member and waits for
// all of them. Failures are logged, the members stay part of the cluster.
func (m *Merger) Replicate(ctx context.Context) {
	m.replicate(ctx, m.cluster.Snapshot(), nil)
}

// replicate sends state to all members except self and skip
func (m *Merger) replicate(ctx context.Context, state State, skip member.Set) {
	self := m.cluster.Self()
	for _, peer := range state.Members {
		if peer.Equal(self) || skip.Contains(peer) {
			continue
		}
		if err := m.askAck(ctx, peer, &MembersUpdateRequest{State: state}); err != nil {
			Logger.Warningf("failed to replicate members to %s: %v", peer, err)
		}
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (m *Merger) queryRemote(ctx context.Context, remote member.Member) (*StatusResponse, error) {
	var lastErr error
	for attempt := 0; attempt < m.retries; attempt++ {
		if err := m.connect(ctx, remote); err != nil {
			lastErr = err
			continue
		}
		status, err := ask[*StatusResponse](ctx, m, remote, &StatusRequest{CallerCommitIndex: m.cluster.Snapshot().CommitIndex})
		if err == nil {
			return status, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (m *Merger) connect(ctx context.Context, c member.Member) error {
	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return m.peers.Connect(callCtx, c)
}

// announce sends a discovery heartbeat to the remote master, so a master that
// did not hear from the local cluster yet starts the merge from its side
func (m *Merger) announce(ctx context.Context, master member.Member, local State) {
	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	op := &DiscoveryOperation{Master: local.Master, CommitIndex: local.CommitIndex, Size: local.Size()}
	if err := m.peers.Send(callCtx, master, op); err != nil {
		Logger.Warningf("failed to announce to %s: %v", master, err)
	}
}

// askAck sends req with retries until an Ok Ack arrives
func (m *Merger) askAck(ctx context.Context, c member.Member, req operation.Request) error {
	var lastErr error
	for attempt := 0; attempt < m.retries; attempt++ {
		ack, err := ask[*operation.Ack](ctx, m, c, req)
		if err == nil {
			if err = ack.AsError(); err == nil {
				return nil
			}
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return lastErr
}

func ask[T operation.Message](ctx context.Context, m *Merger, c member.Member, req operation.Request) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return transport.Await[T](callCtx, m.peers.Ask(callCtx, c, req))
}
