package operation

import (
	"errors"
	"github.com/ValentinKolb/dRing/lib/member"
	"testing"
)

// counter is a minimal service used by the test messages
type counter struct {
	n int
}

type incOp struct{ By int }

func (o *incOp) Kind() Kind         { return 100 }
func (o *incOp) Service() ServiceID { return ServiceRingMap }
func (o *incOp) Run(svc any, ctx Context) error {
	c, err := ServiceAs[*counter](svc)
	if err != nil {
		return err
	}
	c.n += o.By
	return nil
}

type readReq struct{ twice bool }

func (r *readReq) Kind() Kind         { return 101 }
func (r *readReq) Service() ServiceID { return ServiceRingMap }
func (r *readReq) Serve(svc any, ctx ReplyContext) error {
	c, err := ServiceAs[*counter](svc)
	if err != nil {
		return err
	}
	if err := ctx.Reply(&Ack{Ok: c.n > 0}); err != nil {
		return err
	}
	if r.twice {
		return ctx.Reply(&Ack{Ok: true})
	}
	return nil
}

type panicOp struct{}

func (p *panicOp) Kind() Kind                 { return 102 }
func (p *panicOp) Service() ServiceID         { return ServiceRingMap }
func (p *panicOp) Run(_ any, _ Context) error { panic("boom") }

type orphanOp struct{}

func (o *orphanOp) Kind() Kind                 { return 103 }
func (o *orphanOp) Service() ServiceID         { return ServiceCluster }
func (o *orphanOp) Run(_ any, _ Context) error { return nil }

func newTestDispatcher() (*Dispatcher, *counter) {
	c := &counter{}
	services := NewServices()
	services.Register(ServiceRingMap, c)
	return NewDispatcher(services), c
}

// TestRegistry tests registering and creating messages by kind
func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(func() Message { return &incOp{} })

	if err := r.Register(func() Message { return &incOp{} }); err == nil {
		t.Error("Expected error for duplicate kind")
	}

	msg, err := r.New(100)
	if err != nil {
		t.Fatalf("Failed to create message: %v", err)
	}
	if _, ok := msg.(*incOp); !ok {
		t.Errorf("Expected *incOp, got %T", msg)
	}

	if _, err := r.New(KindAck); err != nil {
		t.Errorf("Ack should always be registered: %v", err)
	}

	if _, err := r.New(999); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("Expected ErrUnknownKind, got %v", err)
	}
}

// TestAddressableReplyAtMostOnce tests that only the first reply is delivered
func TestAddressableReplyAtMostOnce(t *testing.T) {
	d, c := newTestDispatcher()
	c.n = 1

	var replies []Message
	reply := func(msg Message) error {
		replies = append(replies, msg)
		return nil
	}

	err := d.DispatchAddressable(&readReq{twice: true}, member.New("a", "x"), reply)
	if !errors.Is(err, ErrAlreadyReplied) {
		t.Errorf("Expected ErrAlreadyReplied, got %v", err)
	}
	if len(replies) != 1 {
		t.Fatalf("Expected exactly one reply, got %d", len(replies))
	}
	if ack := replies[0].(*Ack); !ack.Ok {
		t.Error("Expected positive ack")
	}
}

// TestDispatchBroadcast tests that broadcasts run operations and reject requests
func TestDispatchBroadcast(t *testing.T) {
	d, c := newTestDispatcher()

	if err := d.DispatchBroadcast(&incOp{By: 3}, member.New("a", "x")); err != nil {
		t.Fatalf("Broadcast operation failed: %v", err)
	}
	if c.n != 3 {
		t.Errorf("Expected counter 3, got %d", c.n)
	}

	if err := d.DispatchBroadcast(&readReq{}, member.New("a", "x")); !errors.Is(err, ErrReplyNotSupported) {
		t.Errorf("Expected ErrReplyNotSupported, got %v", err)
	}
}

// TestDispatchErrors tests missing services and recovered panics
func TestDispatchErrors(t *testing.T) {
	d, _ := newTestDispatcher()

	tests := []struct {
		name string
		msg  Message
		want error
	}{
		{"missing service", &orphanOp{}, ErrNoService},
		{"panic", &panicOp{}, ErrHandlerPanic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := d.DispatchAddressable(tt.msg, member.Member{}, nil)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

// TestContextSender tests the sender of self-originated and remote contexts
func TestContextSender(t *testing.T) {
	if _, ok := NewBroadcastContext(member.Member{}, ServiceCluster).Sender(); ok {
		t.Error("Self-originated context should have no sender")
	}
	ctx := NewAddressableContext(member.New("a", "x"), ServiceCluster, nil)
	if m, ok := ctx.Sender(); !ok || m.ID != "a" {
		t.Errorf("Unexpected sender %v (%v)", m, ok)
	}
	if ctx.ServiceID() != ServiceCluster {
		t.Errorf("Unexpected service %v", ctx.ServiceID())
	}
}
