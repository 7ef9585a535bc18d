package cluster

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/dRing/lib/executor"
	"github.com/ValentinKolb/dRing/lib/member"
	"github.com/ValentinKolb/dRing/lib/ringmap"
	"github.com/ValentinKolb/dRing/rpc/common"
	"github.com/ValentinKolb/dRing/rpc/operation"
	"github.com/ValentinKolb/dRing/rpc/serializer"
	"github.com/ValentinKolb/dRing/rpc/transport/base"
	"github.com/ValentinKolb/dRing/rpc/transport/tcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

var testLayout = Layout{BucketCount: 16, VirtualNodes: 16}

type testNode struct {
	self       member.Member
	cluster    *Cluster
	merger     *Merger
	service    *Service
	store      *ringmap.RingMap
	rebalancer *Rebalancer
	dispatcher *operation.Dispatcher
	transport  *base.Transport
}

func newTestNode(t *testing.T, id string) *testNode {
	t.Helper()

	registry := operation.NewRegistry()
	Register(registry)
	ringmap.Register(registry)
	services := operation.NewServices()
	dispatcher := operation.NewDispatcher(services)

	exec := executor.New(4)
	config := common.TransportConfig{
		Endpoint:          "127.0.0.1:0",
		AskTimeoutSecond:  10,
		DialTimeoutSecond: 1,
		RetryCount:        1,
		SocketConf:        common.SocketConf{TCPNoDelay: true, TCPLingerSec: -1},
	}
	tr := tcp.NewTCPTransport(member.New(id, "127.0.0.1:0"), config, serializer.NewCodec(registry, nil), dispatcher, exec)
	require.NoError(t, tr.Listen())
	t.Cleanup(func() {
		_ = tr.Close()
		exec.Close()
	})

	self := tr.Self()
	r, err := testLayout.Build(member.NewSet(self))
	require.NoError(t, err)
	store := ringmap.New(self, r)

	c := New(self)
	merger := NewMerger(c, tr, MergerOptions{Retries: 2, Timeout: 3 * time.Second})
	svc := NewService(c, merger, testLayout)
	services.Register(operation.ServiceRingMap, store)
	services.Register(operation.ServiceCluster, svc)

	return &testNode{
		self:       self,
		cluster:    c,
		merger:     merger,
		service:    svc,
		store:      store,
		rebalancer: NewRebalancer(store, tr, 3*time.Second),
		dispatcher: dispatcher,
		transport:  tr,
	}
}

// formCluster makes all nodes members of one cluster led by the first node
func formCluster(t *testing.T, commit uint64, nodes ...*testNode) State {
	t.Helper()
	ms := make([]member.Member, len(nodes))
	for i, n := range nodes {
		ms[i] = n.self
	}
	s := State{Members: member.NewSet(ms...), Master: nodes[0].self, CommitIndex: commit}
	for _, n := range nodes {
		if commit > 0 {
			_, err := n.cluster.Adopt(s)
			require.NoError(t, err)
		}
	}
	return s
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestLargerClusterAbsorbsSingleNode(t *testing.T) {
	a1, a2, a3 := newTestNode(t, "a1"), newTestNode(t, "a2"), newTestNode(t, "a3")
	b := newTestNode(t, "b")
	stateA := formCluster(t, 5, a1, a2, a3)
	formCluster(t, 1, b)
	ctx := testCtx(t)

	// the smaller cluster defers and changes nothing
	result := b.merger.Merge(ctx, a2.self)
	assert.Equal(t, OutcomeDeferred, result.Outcome)
	assert.Equal(t, stateA.Members, result.Remote.Members)
	assert.Equal(t, uint64(1), b.cluster.Snapshot().CommitIndex)
	assert.True(t, b.cluster.IsMaster())

	// followers never drive a merge
	assert.Equal(t, OutcomeNotMaster, a2.merger.Merge(ctx, b.self).Outcome)

	result = a1.merger.Merge(ctx, b.self)
	require.Equal(t, OutcomeAbsorbed, result.Outcome, result.String())
	assert.Empty(t, result.Dropped)
	assert.True(t, result.Added.Equal(member.NewSet(b.self)))
	assert.Equal(t, PhaseIdle, a1.merger.Phase())

	want := stateA.Members.Union(member.NewSet(b.self))
	for _, n := range []*testNode{a1, a2, a3, b} {
		s := n.cluster.Snapshot()
		assert.True(t, s.Members.Equal(want), "%s has %s", n.self.ID, s.Members)
		assert.True(t, s.Master.Equal(a1.self), "%s has master %s", n.self.ID, s.Master)
		assert.Equal(t, uint64(6), s.CommitIndex, n.self.ID)
	}

	// the merged node is known now
	assert.Equal(t, OutcomeKnown, a1.merger.Merge(ctx, b.self).Outcome)
}

func TestEqualSizeHigherCommitSurvives(t *testing.T) {
	x1, x2 := newTestNode(t, "x1"), newTestNode(t, "x2")
	y1, y2 := newTestNode(t, "y1"), newTestNode(t, "y2")
	formCluster(t, 2, x1, x2)
	formCluster(t, 7, y1, y2)
	ctx := testCtx(t)

	assert.Equal(t, OutcomeDeferred, x1.merger.Merge(ctx, y2.self).Outcome)

	result := y1.merger.Merge(ctx, x2.self)
	require.Equal(t, OutcomeAbsorbed, result.Outcome, result.String())
	assert.Equal(t, 2, result.Added.Len())

	for _, n := range []*testNode{x1, x2, y1, y2} {
		s := n.cluster.Snapshot()
		assert.True(t, s.Master.Equal(y1.self), "%s has master %s", n.self.ID, s.Master)
		assert.Equal(t, 4, s.Size())
		assert.Equal(t, uint64(8), s.CommitIndex)
	}
	assert.False(t, x1.cluster.IsMaster())
}

func TestPartialAbsorption(t *testing.T) {
	a1, a2, a3 := newTestNode(t, "a1"), newTestNode(t, "a2"), newTestNode(t, "a3")
	b := newTestNode(t, "b")
	formCluster(t, 3, a1, a2, a3)

	// b believes an unreachable member belongs to its cluster
	ghost := member.New("ghost", "127.0.0.1:1")
	_, err := b.cluster.Adopt(State{Members: member.NewSet(b.self, ghost), Master: b.self, CommitIndex: 1})
	require.NoError(t, err)
	ctx := testCtx(t)

	result := a1.merger.Merge(ctx, b.self)
	require.Equal(t, OutcomeAbsorbed, result.Outcome, result.String())
	assert.True(t, result.Dropped.Equal(member.NewSet(ghost)))
	assert.True(t, result.Added.Equal(member.NewSet(b.self)))

	for _, n := range []*testNode{a1, a2, a3, b} {
		s := n.cluster.Snapshot()
		assert.Equal(t, 4, s.Size(), n.self.ID)
		assert.False(t, s.Members.Contains(ghost), n.self.ID)
	}
}

func TestMergeUnreachable(t *testing.T) {
	a := newTestNode(t, "a")
	ghost := member.New("ghost", "127.0.0.1:1")

	result := a.merger.Merge(testCtx(t), ghost)
	assert.Equal(t, OutcomeUnreachable, result.Outcome)
	assert.Equal(t, uint64(0), a.cluster.Snapshot().CommitIndex)
	assert.Equal(t, 1, a.cluster.Snapshot().Size())
}

func TestDiscoveryTriggersMergeDriver(t *testing.T) {
	a1, a2 := newTestNode(t, "a1"), newTestNode(t, "a2")
	b := newTestNode(t, "b")
	formCluster(t, 1, a1, a2)

	results := make(chan MergeResult, 4)
	a1.service.OnMerge(func(r MergeResult) { results <- r })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a1.service.Run(ctx)

	// heartbeats of a known member and heartbeats on followers are ignored
	require.NoError(t, a1.dispatcher.DispatchBroadcast(&DiscoveryOperation{}, a2.self))
	require.NoError(t, a2.dispatcher.DispatchBroadcast(&DiscoveryOperation{}, b.self))
	require.NoError(t, a1.dispatcher.DispatchBroadcast(&DiscoveryOperation{Master: b.self, Size: 1}, b.self))

	select {
	case r := <-results:
		require.Equal(t, OutcomeAbsorbed, r.Outcome, r.String())
	case <-time.After(15 * time.Second):
		t.Fatal("merge driver did not run")
	}
	assert.Equal(t, 3, b.cluster.Snapshot().Size())
	assert.Equal(t, 3, a2.cluster.Snapshot().Size())
}

func TestStatusRequest(t *testing.T) {
	a := newTestNode(t, "a")
	b := newTestNode(t, "b")
	ctx := testCtx(t)

	status, err := ask[*StatusResponse](ctx, b.merger, a.self, &StatusRequest{})
	require.NoError(t, err)
	assert.Equal(t, testLayout, status.Layout())
	assert.True(t, status.State().Equal(a.cluster.Snapshot()))
}

func TestRebalancePullsGainedBuckets(t *testing.T) {
	a := newTestNode(t, "a")
	b := newTestNode(t, "b")
	ctx := testCtx(t)

	// b starts without buckets
	onlyA, err := testLayout.Build(member.NewSet(a.self))
	require.NoError(t, err)
	_, err = b.store.SetRing(onlyA)
	require.NoError(t, err)

	const keys = 500
	for i := 0; i < keys; i++ {
		require.NoError(t, a.store.Set(fmt.Sprintf("key-%d", i), []byte{byte(i)}))
	}

	next, err := testLayout.Build(member.NewSet(a.self, b.self))
	require.NoError(t, err)
	require.NotEmpty(t, next.OwnedBy(b.self))

	result, err := b.rebalancer.Rebalance(ctx, next, 1)
	require.NoError(t, err)
	assert.Empty(t, result.Skipped)
	assert.Equal(t, len(next.OwnedBy(b.self)), result.Pulled)
	assert.Greater(t, result.Entries, 0)

	_, err = a.rebalancer.Rebalance(ctx, next, 1)
	require.NoError(t, err)

	// every key lives on its owner and nowhere else
	for i := 0; i < keys; i++ {
		key := fmt.Sprintf("key-%d", i)
		owner := next.Owner(key)
		onA, _ := a.store.Has(key)
		onB, _ := b.store.Has(key)
		assert.Equal(t, owner.Equal(a.self), onA, key)
		assert.Equal(t, owner.Equal(b.self), onB, key)
	}
	assert.Equal(t, keys, a.store.Stats().Entries+b.store.Stats().Entries)
	assert.Equal(t, 0, a.store.Stats().BufferedEntries+b.store.Stats().BufferedEntries)
}

func TestRebalanceSkipsUnreachableOwner(t *testing.T) {
	b := newTestNode(t, "b")
	ghost := member.New("ghost", "127.0.0.1:1")

	prev, err := testLayout.Build(member.NewSet(ghost))
	require.NoError(t, err)
	_, err = b.store.SetRing(prev)
	require.NoError(t, err)

	next, err := testLayout.Build(member.NewSet(ghost, b.self))
	require.NoError(t, err)

	result, err := b.rebalancer.Rebalance(testCtx(t), next, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Pulled)
	assert.True(t, result.Skipped.Equal(member.NewSet(ghost)))
	assert.Equal(t, next, b.store.Ring())
}

func TestRebalanceHandsOffAfterMerge(t *testing.T) {
	// a and b were separate clusters, b never owned the buckets of a's data
	a := newTestNode(t, "a")
	b := newTestNode(t, "b")
	ctx := testCtx(t)

	const keys = 300
	for i := 0; i < keys; i++ {
		require.NoError(t, a.store.Set(fmt.Sprintf("a-%d", i), []byte("a")))
		require.NoError(t, b.store.Set(fmt.Sprintf("b-%d", i), []byte("b")))
	}
	next, err := testLayout.Build(member.NewSet(a.self, b.self))
	require.NoError(t, err)
	require.NotEmpty(t, next.OwnedBy(a.self))
	require.NotEmpty(t, next.OwnedBy(b.self))

	resultB, err := b.rebalancer.Rebalance(ctx, next, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, resultB.Pulled)
	assert.Greater(t, resultB.HandedOff, 0)

	resultA, err := a.rebalancer.Rebalance(ctx, next, 1)
	require.NoError(t, err)
	assert.Greater(t, resultA.HandedOff, 0)
	assert.Empty(t, resultA.Skipped)

	for _, prefix := range []string{"a", "b"} {
		for i := 0; i < keys; i++ {
			key := fmt.Sprintf("%s-%d", prefix, i)
			holder := a
			if next.Owner(key).Equal(b.self) {
				holder = b
			}
			value, found, err := holder.store.Get(key)
			require.NoError(t, err)
			assert.True(t, found, key)
			assert.Equal(t, []byte(prefix), value, key)
		}
	}
	assert.Equal(t, 2*keys, a.store.Stats().Entries+b.store.Stats().Entries)
	assert.Equal(t, 0, a.store.Stats().BufferedEntries+b.store.Stats().BufferedEntries)
}
