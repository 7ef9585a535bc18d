package tcp

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/dRing/lib/executor"
	"github.com/ValentinKolb/dRing/lib/member"
	"github.com/ValentinKolb/dRing/lib/ring"
	"github.com/ValentinKolb/dRing/lib/ringmap"
	"github.com/ValentinKolb/dRing/rpc/common"
	"github.com/ValentinKolb/dRing/rpc/operation"
	"github.com/ValentinKolb/dRing/rpc/serializer"
	"github.com/ValentinKolb/dRing/rpc/transport"
	"github.com/ValentinKolb/dRing/rpc/transport/base"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

// silentRequest never replies, its callers can only time out
type silentRequest struct {
	Tag string `cbor:"1,keyasint" json:"tag"`
}

func (r *silentRequest) Kind() operation.Kind         { return 0x7F01 }
func (r *silentRequest) Service() operation.ServiceID { return operation.ServiceRingMap }
func (r *silentRequest) Serve(_ any, _ operation.ReplyContext) error {
	return nil
}

type testNode struct {
	self      member.Member
	transport *base.Transport
	store     *ringmap.RingMap
}

func newTestNode(t *testing.T, id string, askTimeoutSecond int) *testNode {
	t.Helper()

	registry := operation.NewRegistry()
	ringmap.Register(registry)
	registry.MustRegister(func() operation.Message { return &silentRequest{} })

	self := member.New(id, "127.0.0.1:0")
	r, err := ring.New(8, member.NewSet(self), nil)
	require.NoError(t, err)
	store := ringmap.New(self, r)

	services := operation.NewServices()
	services.Register(operation.ServiceRingMap, store)

	exec := executor.New(2)
	config := common.TransportConfig{
		Endpoint:          "127.0.0.1:0",
		AskTimeoutSecond:  askTimeoutSecond,
		DialTimeoutSecond: 1,
		RetryCount:        2,
		SocketConf:        common.SocketConf{TCPNoDelay: true, TCPLingerSec: -1},
	}
	tr := NewTCPTransport(self, config, serializer.NewCodec(registry, nil), operation.NewDispatcher(services), exec)
	require.NoError(t, tr.Listen())

	t.Cleanup(func() {
		_ = tr.Close()
		exec.Close()
	})
	return &testNode{self: tr.Self(), transport: tr, store: store}
}

func joinCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestAskReply(t *testing.T) {
	a := newTestNode(t, "a", 30)
	b := newTestNode(t, "b", 30)
	ctx := joinCtx(t)

	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("key-%d", i)
		ack, err := transport.Await[*operation.Ack](ctx, a.transport.Ask(ctx, b.self, &ringmap.PutRequest{Key: key, Value: []byte(key)}))
		require.NoError(t, err)
		require.NoError(t, ack.AsError())
	}

	resp, err := transport.Await[*ringmap.GetResponse](ctx, a.transport.Ask(ctx, b.self, &ringmap.GetRequest{Key: "key-3"}))
	require.NoError(t, err)
	assert.True(t, resp.Found)
	assert.Equal(t, []byte("key-3"), resp.Value)

	// the store of b received the writes, the store of a did not
	has, _ := b.store.Has("key-7")
	assert.True(t, has)
	has, _ = a.store.Has("key-7")
	assert.False(t, has)

	assert.Equal(t, 0, a.transport.PendingCalls().Len())
}

func TestSendOperation(t *testing.T) {
	a := newTestNode(t, "a", 30)
	b := newTestNode(t, "b", 30)
	ctx := joinCtx(t)

	// requests sent with Send run without a reply
	require.NoError(t, a.transport.Send(ctx, b.self, &ringmap.PutRequest{Key: "k", Value: []byte("v")}))

	assert.Eventually(t, func() bool {
		has, _ := b.store.Has("k")
		return has
	}, 2*time.Second, 10*time.Millisecond)
}

func TestInboundChannelIsReused(t *testing.T) {
	a := newTestNode(t, "a", 30)
	b := newTestNode(t, "b", 30)
	ctx := joinCtx(t)

	require.NoError(t, a.transport.Send(ctx, b.self, &ringmap.PutRequest{Key: "k"}))

	// b learns a from the first packet and can call back over the same connection
	assert.Eventually(t, func() bool {
		return b.transport.Connected().Contains(a.self)
	}, 2*time.Second, 10*time.Millisecond)

	_, err := transport.Await[*ringmap.GetResponse](ctx, b.transport.Ask(ctx, a.self, &ringmap.HasRequest{Key: "k"}))
	require.NoError(t, err)
	assert.Equal(t, 1, a.transport.Connected().Len())
	assert.Equal(t, 1, b.transport.Connected().Len())
}

func TestAskUnreachable(t *testing.T) {
	a := newTestNode(t, "a", 30)
	ctx := joinCtx(t)

	start := time.Now()
	_, err := a.transport.Ask(ctx, member.New("ghost", "127.0.0.1:1"), &ringmap.GetRequest{Key: "k"}).Join(ctx)
	require.ErrorIs(t, err, transport.ErrUnreachable)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestAskTimeout(t *testing.T) {
	a := newTestNode(t, "a", 1)
	b := newTestNode(t, "b", 1)
	ctx := joinCtx(t)

	start := time.Now()
	_, err := a.transport.Ask(ctx, b.self, &silentRequest{Tag: "no reply"}).Join(ctx)
	require.ErrorIs(t, err, transport.ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
	assert.Equal(t, 0, a.transport.PendingCalls().Len())
}

func TestConnectionCloseFailsCalls(t *testing.T) {
	a := newTestNode(t, "a", 60)
	b := newTestNode(t, "b", 60)
	ctx := joinCtx(t)

	future := a.transport.Ask(ctx, b.self, &silentRequest{Tag: "pending"})
	require.Eventually(t, func() bool {
		return a.transport.PendingCalls().Len() == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, b.transport.Close())

	_, err := future.Join(ctx)
	require.ErrorIs(t, err, transport.ErrConnectionClosed)
}

func TestCloseRejectsCalls(t *testing.T) {
	a := newTestNode(t, "a", 30)
	b := newTestNode(t, "b", 30)
	ctx := joinCtx(t)

	require.NoError(t, a.transport.Connect(ctx, b.self))
	require.NoError(t, a.transport.Close())

	_, err := a.transport.Ask(ctx, b.self, &ringmap.GetRequest{Key: "k"}).Join(ctx)
	require.ErrorIs(t, err, transport.ErrTransportClosed)
	assert.ErrorIs(t, a.transport.Send(ctx, b.self, &ringmap.GetRequest{Key: "k"}), transport.ErrTransportClosed)
}
