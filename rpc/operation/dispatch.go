package operation

import (
	"fmt"
	"github.com/ValentinKolb/dRing/lib/member"
)

// Dispatcher runs decoded messages against the local services
type Dispatcher struct {
	services *Services
}

// NewDispatcher creates a dispatcher for the given services
func NewDispatcher(services *Services) *Dispatcher {
	return &Dispatcher{services: services}
}

// Services returns the service registry of the dispatcher
func (d *Dispatcher) Services() *Services {
	return d.services
}

// DispatchBroadcast runs a message received without reply capability.
// Requests are rejected with ErrReplyNotSupported.
func (d *Dispatcher) DispatchBroadcast(msg Message, sender member.Member) error {
	op, ok := msg.(Operation)
	if !ok {
		return fmt.Errorf("%w: kind %d", ErrReplyNotSupported, msg.Kind())
	}
	svc, err := d.services.Get(msg.Service())
	if err != nil {
		return err
	}
	ctx := NewBroadcastContext(sender, msg.Service())
	return guard(msg, func() error { return op.Run(svc, ctx) })
}

// DispatchAddressable runs a message received on a point to point channel.
// Requests reply through reply, operations ignore it.
//
// An error or panic inside the handler is returned to the caller of Dispatch
// and never sent to the remote side. The remote caller only sees that no
// reply arrives.
func (d *Dispatcher) DispatchAddressable(msg Message, sender member.Member, reply ReplyFunc) error {
	svc, err := d.services.Get(msg.Service())
	if err != nil {
		return err
	}
	ctx := NewAddressableContext(sender, msg.Service(), reply)

	switch m := msg.(type) {
	case Request:
		return guard(msg, func() error { return m.Serve(svc, ctx) })
	case Operation:
		return guard(msg, func() error { return m.Run(svc, ctx) })
	default:
		return fmt.Errorf("message kind %d is not executable", msg.Kind())
	}
}

// guard runs fn once and converts a panic into an error
func guard(msg Message, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %T: %v", ErrHandlerPanic, msg, r)
		}
	}()
	if err = fn(); err != nil {
		return fmt.Errorf("%T failed: %w", msg, err)
	}
	return nil
}
