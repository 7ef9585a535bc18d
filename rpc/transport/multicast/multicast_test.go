package multicast

import (
	"encoding/binary"
	"errors"
	"github.com/ValentinKolb/dRing/lib/member"
	"github.com/ValentinKolb/dRing/rpc/common"
	"github.com/ValentinKolb/dRing/rpc/operation"
	"github.com/ValentinKolb/dRing/rpc/serializer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync"
	"testing"
	"time"
)

// pingOperation records its sender at the inbox service
type pingOperation struct {
	Text string `cbor:"1,keyasint" json:"text"`
}

func (o *pingOperation) Kind() operation.Kind         { return 0x7F10 }
func (o *pingOperation) Service() operation.ServiceID { return operation.ServiceCluster }
func (o *pingOperation) Run(svc any, ctx operation.Context) error {
	in, err := operation.ServiceAs[*inbox](svc)
	if err != nil {
		return err
	}
	sender, _ := ctx.Sender()
	in.add(sender.ID + ":" + o.Text)
	return nil
}

// pingRequest must never be executed from the group
type pingRequest struct {
	Text string `cbor:"1,keyasint" json:"text"`
}

func (r *pingRequest) Kind() operation.Kind         { return 0x7F11 }
func (r *pingRequest) Service() operation.ServiceID { return operation.ServiceCluster }
func (r *pingRequest) Serve(svc any, ctx operation.ReplyContext) error {
	in, err := operation.ServiceAs[*inbox](svc)
	if err != nil {
		return err
	}
	in.add("request:" + r.Text)
	return ctx.Reply(operation.NewAck(nil))
}

type inbox struct {
	mu       sync.Mutex
	received []string
}

func (i *inbox) add(s string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.received = append(i.received, s)
}

func (i *inbox) all() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.received...)
}

func newCodec() *serializer.Codec {
	registry := operation.NewRegistry()
	registry.MustRegister(
		func() operation.Message { return &pingOperation{} },
		func() operation.Message { return &pingRequest{} },
	)
	return serializer.NewCodec(registry, nil)
}

// newOffline creates a transport without socket, datagrams are fed by hand
func newOffline(self member.Member) (*Transport, *inbox) {
	in := &inbox{}
	services := operation.NewServices()
	services.Register(operation.ServiceCluster, in)
	t := &Transport{
		self:       self,
		codec:      newCodec(),
		dispatcher: operation.NewDispatcher(services),
	}
	t.joined.Store(true)
	return t, in
}

func TestHandleDatagram(t *testing.T) {
	a := member.New("a", "10.0.0.1:7000")
	b := member.New("b", "10.0.0.2:7000")

	sender, _ := newOffline(a)
	receiver, in := newOffline(b)

	t.Run("operation is dispatched", func(t *testing.T) {
		data, err := sender.encode(&pingOperation{Text: "hello"})
		require.NoError(t, err)
		require.NoError(t, receiver.handleDatagram(data))
		assert.Equal(t, []string{"a:hello"}, in.all())
	})

	t.Run("self originated datagram is dropped", func(t *testing.T) {
		data, err := receiver.encode(&pingOperation{Text: "echo"})
		require.NoError(t, err)
		require.NoError(t, receiver.handleDatagram(data))
		assert.Len(t, in.all(), 1)
	})

	t.Run("request is rejected", func(t *testing.T) {
		p, err := sender.codec.Encode(&pingRequest{Text: "reply?"})
		require.NoError(t, err)
		p.SetSender(a)
		packet, err := serializer.MarshalPacket(p)
		require.NoError(t, err)
		data := make([]byte, 4+len(packet))
		binary.BigEndian.PutUint32(data, uint32(len(packet)))
		copy(data[4:], packet)

		err = receiver.handleDatagram(data)
		assert.True(t, errors.Is(err, ErrNotOperation))
		assert.Len(t, in.all(), 1)
	})

	t.Run("truncated datagram", func(t *testing.T) {
		data, err := sender.encode(&pingOperation{Text: "cut"})
		require.NoError(t, err)
		assert.Error(t, receiver.handleDatagram(data[:len(data)-1]))
		assert.Error(t, receiver.handleDatagram(data[:2]))
		assert.Len(t, in.all(), 1)
	})

	t.Run("datagram after leave is dropped", func(t *testing.T) {
		data, err := sender.encode(&pingOperation{Text: "muted"})
		require.NoError(t, err)

		receiver.joined.Store(false)
		defer receiver.joined.Store(true)
		require.NoError(t, receiver.handleDatagram(data))
		assert.Len(t, in.all(), 1)
	})

	t.Run("datagram without sender", func(t *testing.T) {
		p, err := sender.codec.Encode(&pingOperation{Text: "anonymous"})
		require.NoError(t, err)
		packet, err := serializer.MarshalPacket(p)
		require.NoError(t, err)
		data := make([]byte, 4+len(packet))
		binary.BigEndian.PutUint32(data, uint32(len(packet)))
		copy(data[4:], packet)

		assert.Error(t, receiver.handleDatagram(data))
	})
}

func TestNewRejectsInvalidGroup(t *testing.T) {
	self := member.New("a", "127.0.0.1:7000")
	for _, group := range []string{"not-an-address", "127.0.0.1:9999"} {
		_, err := New(self, common.MulticastConfig{Group: group}, newCodec(), nil, nil)
		assert.Error(t, err, group)
	}
}

// TestGroupLoopback needs a network with multicast support and is skipped
// if the group cannot be joined or no datagram arrives.
func TestGroupLoopback(t *testing.T) {
	config := common.MulticastConfig{Group: "239.255.27.99:54399", Loopback: true, TTL: 1}

	newNode := func(id string) (*Transport, *inbox) {
		in := &inbox{}
		services := operation.NewServices()
		services.Register(operation.ServiceCluster, in)
		tr, err := New(member.New(id, "127.0.0.1:0"), config, newCodec(), operation.NewDispatcher(services), nil)
		if err != nil {
			t.Skipf("multicast not available: %v", err)
		}
		t.Cleanup(func() { _ = tr.Close() })
		return tr, in
	}

	a, inA := newNode("a")
	b, inB := newNode("b")

	delivered := func(text string) bool {
		for i := 0; i < 20; i++ {
			if err := a.Broadcast(&pingOperation{Text: text}); err != nil {
				t.Skipf("multicast send failed: %v", err)
			}
			time.Sleep(50 * time.Millisecond)
			for _, s := range inB.all() {
				if s == "a:"+text {
					return true
				}
			}
		}
		return false
	}

	if !delivered("first") {
		t.Skip("no multicast delivery on this host")
	}

	// a muted sender does not reach the group
	require.NoError(t, a.Leave())
	assert.False(t, a.Joined())
	before := len(inB.all())
	require.NoError(t, a.Broadcast(&pingOperation{Text: "muted"}))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, before, len(inB.all()))

	// a muted receiver ignores the group
	receivedByA := len(inA.all())
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Broadcast(&pingOperation{Text: "unheard"}))
	}
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, receivedByA, len(inA.all()))

	require.NoError(t, a.Join())
	assert.True(t, a.Joined())
	assert.True(t, delivered("second"))

	require.NoError(t, a.Close())
	assert.Error(t, a.Broadcast(&pingOperation{Text: "closed"}))
}
