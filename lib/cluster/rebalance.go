package cluster

import (
	"context"
	"github.com/ValentinKolb/dRing/lib/member"
	"github.com/ValentinKolb/dRing/lib/ring"
	"github.com/ValentinKolb/dRing/lib/ringmap"
	"github.com/ValentinKolb/dRing/rpc/operation"
	"github.com/ValentinKolb/dRing/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"time"
)

var (
	metricRebalanceRuns    = metrics.NewCounter(`dring_rebalance_total`)
	metricRebalancePulled  = metrics.NewCounter(`dring_rebalance_pulled_entries_total`)
	metricRebalanceSkipped = metrics.NewCounter(`dring_rebalance_skipped_buckets_total`)
	metricRebalanceHanded  = metrics.NewCounter(`dring_rebalance_handed_off_entries_total`)
)

// RebalanceResult describes a finished rebalance
type RebalanceResult struct {
	Moves     int        // buckets that changed their owner
	Pulled    int        // buckets pulled from their previous owner
	Entries   int        // entries received
	HandedOff int        // buffered entries pushed to their new owner
	Skipped   member.Set // members that could not be reached
}

// Rebalancer applies a new ring to the local store, pulls the buckets the
// local node gained from their previous owners and hands buffered entries
// over to their new owners.
//
// Pulling only reaches owners the local node knew before the change. After
// two clusters merged, each side hands its released entries to the new
// owners, so no entry stays behind in a buffer.
type Rebalancer struct {
	store   *ringmap.RingMap
	peers   Peers
	timeout time.Duration
}

func NewRebalancer(store *ringmap.RingMap, peers Peers, timeout time.Duration) *Rebalancer {
	if timeout <= 0 {
		timeout = DefaultMergeTimeout
	}
	return &Rebalancer{store: store, peers: peers, timeout: timeout}
}

// Rebalance swaps the ring of the store, pulls every gained bucket with a
// ChangeRingRequest and pushes the migration buffer with HandoffRequests.
// Unreachable members are skipped, their entries stay where they are until
// the next rebalance.
func (r *Rebalancer) Rebalance(ctx context.Context, next *ring.ConsistentHashRing, commitIndex uint64) (RebalanceResult, error) {
	metricRebalanceRuns.Inc()

	prev, err := r.store.SetRing(next)
	if err != nil {
		return RebalanceResult{}, err
	}
	var result RebalanceResult
	moves, err := ring.Moves(prev, next)
	if err != nil {
		return RebalanceResult{}, err
	}
	result.Moves = len(moves)

	self := r.store.Self()
	for _, mv := range moves {
		if !mv.To.Equal(self) || mv.From.Equal(self) {
			continue
		}
		if result.Skipped.Contains(mv.From) {
			metricRebalanceSkipped.Inc()
			continue
		}

		n, err := r.pull(ctx, mv, commitIndex)
		if err != nil {
			Logger.Warningf("skipping bucket %d, pull from %s failed: %v", mv.Bucket, mv.From, err)
			result.Skipped = result.Skipped.Add(mv.From)
			metricRebalanceSkipped.Inc()
			continue
		}
		result.Pulled++
		result.Entries += n
	}

	r.handoff(ctx, next, commitIndex, &result)

	Logger.Infof("rebalanced to commit %d: %d moves, pulled %d buckets with %d entries, handed off %d entries, skipped %s",
		commitIndex, result.Moves, result.Pulled, result.Entries, result.HandedOff, result.Skipped)
	return result, nil
}

// handoff pushes the migration buffer to the owners in next. Entries of
// unreachable owners go back into the buffer.
func (r *Rebalancer) handoff(ctx context.Context, next *ring.ConsistentHashRing, commitIndex uint64, result *RebalanceResult) {
	buffered := r.store.TakeBuffered()
	if len(buffered) == 0 {
		return
	}

	byOwner := make(map[string]ringmap.Entries)
	owners := make(map[string]member.Member)
	for key, value := range buffered {
		owner := next.Owner(key)
		if byOwner[owner.ID] == nil {
			byOwner[owner.ID] = make(ringmap.Entries)
			owners[owner.ID] = owner
		}
		byOwner[owner.ID][key] = value
	}

	for id, entries := range byOwner {
		owner := owners[id]
		if owner.Equal(r.store.Self()) || result.Skipped.Contains(owner) {
			r.store.Merge(entries)
			continue
		}
		if err := r.push(ctx, owner, entries, commitIndex); err != nil {
			Logger.Warningf("handoff of %d entries to %s failed: %v", len(entries), owner, err)
			result.Skipped = result.Skipped.Add(owner)
			r.store.Merge(entries)
			continue
		}
		result.HandedOff += len(entries)
		metricRebalanceHanded.Add(len(entries))
	}
}

func (r *Rebalancer) push(ctx context.Context, owner member.Member, entries ringmap.Entries, commitIndex uint64) error {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req := &ringmap.HandoffRequest{Entries: entries, CallerCommitIndex: commitIndex}
	ack, err := transport.Await[*operation.Ack](callCtx, r.peers.Ask(callCtx, owner, req))
	if err != nil {
		return err
	}
	return ack.AsError()
}

func (r *Rebalancer) pull(ctx context.Context, mv ring.Move, commitIndex uint64) (int, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req := &ringmap.ChangeRingRequest{
		Start:             mv.Range.Start,
		End:               mv.Range.End,
		CallerCommitIndex: commitIndex,
	}
	resp, err := transport.Await[*ringmap.EntriesResponse](callCtx, r.peers.Ask(callCtx, mv.From, req))
	if err != nil {
		return 0, err
	}
	r.store.Merge(resp.Entries)
	metricRebalancePulled.Add(len(resp.Entries))
	return len(resp.Entries), nil
}
