package operation

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/dRing/lib/member"
)

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

var (
	// ErrAlreadyReplied is returned by Reply if the context already replied
	ErrAlreadyReplied = errors.New("request already replied")
	// ErrNoService is returned if no local service is registered for a message
	ErrNoService = errors.New("no service registered")
	// ErrUnknownKind is returned if a message kind has no factory
	ErrUnknownKind = errors.New("unknown message kind")
	// ErrReplyNotSupported is returned if a request arrives on a path that cannot reply
	ErrReplyNotSupported = errors.New("request received on a path without reply capability")
	// ErrWrongService is returned if a message runs against a service of an unexpected type
	ErrWrongService = errors.New("message sent to wrong service")
	// ErrHandlerPanic wraps a panic recovered while running a message
	ErrHandlerPanic = errors.New("handler panicked")
)

// --------------------------------------------------------------------------
// Identifiers
// --------------------------------------------------------------------------

// Kind is the wire type tag of a message. Every concrete message type has
// exactly one Kind, registered in a Registry.
type Kind uint16

// ServiceID identifies a local service a message runs against
type ServiceID uint16

const (
	ServiceNone    ServiceID = iota // Replies and other messages that are never executed
	ServiceCluster                  // Membership and merge protocol (lib/cluster)
	ServiceRingMap                  // Partitioned store (lib/ringmap)
)

func (s ServiceID) String() string {
	switch s {
	case ServiceNone:
		return "none"
	case ServiceCluster:
		return "cluster"
	case ServiceRingMap:
		return "ringmap"
	default:
		return fmt.Sprintf("service(%d)", uint16(s))
	}
}

// --------------------------------------------------------------------------
// Messages
// --------------------------------------------------------------------------

// Message is a serializable value that can be sent between nodes
type Message interface {
	// Kind returns the wire type tag of the message
	Kind() Kind
	// Service returns the service the message runs against
	Service() ServiceID
}

// Operation is a fire-and-forget command. It is executed once against the
// local service on the receiving node.
type Operation interface {
	Message
	// Run executes the operation against the service
	Run(svc any, ctx Context) error
}

// Request is a command that expects exactly one reply. It can only be
// executed with a ReplyContext, which is never available for broadcasts.
type Request interface {
	Message
	// Serve executes the request and replies through the context.
	// Returning without a reply leaves the caller waiting until its call times out.
	Serve(svc any, ctx ReplyContext) error
}

// ServiceAs casts svc to the service type expected by a message
func ServiceAs[S any](svc any) (S, error) {
	s, ok := svc.(S)
	if !ok {
		var zero S
		return zero, fmt.Errorf("%w: expected %T, got %T", ErrWrongService, zero, svc)
	}
	return s, nil
}

// --------------------------------------------------------------------------
// Ack
// --------------------------------------------------------------------------

// KindAck is the kind of the shared acknowledgement reply
const KindAck Kind = 1

// Ack is the generic reply of requests that return no data
type Ack struct {
	Ok  bool   `cbor:"1,keyasint,omitempty" json:"ok,omitempty"`
	Err string `cbor:"2,keyasint,omitempty" json:"err,omitempty"`
}

// NewAck creates an Ack from an error (nil = success)
func NewAck(err error) *Ack {
	if err != nil {
		return &Ack{Err: err.Error()}
	}
	return &Ack{Ok: true}
}

func (a *Ack) Kind() Kind         { return KindAck }
func (a *Ack) Service() ServiceID { return ServiceNone }

// AsError returns the error carried by the ack
func (a *Ack) AsError() error {
	if a.Ok {
		return nil
	}
	if a.Err == "" {
		return errors.New("request not acknowledged")
	}
	return errors.New(a.Err)
}

// --------------------------------------------------------------------------
// Contexts
// --------------------------------------------------------------------------

// Context is created once per inbound message and describes where it came from
type Context interface {
	// Sender returns the member that sent the message. The boolean is false
	// for self-originated messages.
	Sender() (member.Member, bool)
	// ServiceID returns the service the message is executed against
	ServiceID() ServiceID
}

// ReplyContext is a Context that can reply to the caller
type ReplyContext interface {
	Context
	// Reply sends the reply to the caller. Only the first call succeeds,
	// every further call returns ErrAlreadyReplied.
	Reply(msg Message) error
}

// baseContext holds the fields shared by all contexts
type baseContext struct {
	sender  member.Member
	service ServiceID
}

func (c baseContext) Sender() (member.Member, bool) {
	return c.sender, !c.sender.IsZero()
}

func (c baseContext) ServiceID() ServiceID {
	return c.service
}
