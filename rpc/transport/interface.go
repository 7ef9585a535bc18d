package transport

import (
	"context"
	"errors"
	"github.com/ValentinKolb/dRing/lib/member"
	"github.com/ValentinKolb/dRing/rpc/operation"
)

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

var (
	// ErrTimeout fails a call whose reply did not arrive before it expired
	ErrTimeout = errors.New("call timed out")
	// ErrConnectionClosed fails all calls of a channel that was closed
	ErrConnectionClosed = errors.New("connection closed")
	// ErrTransportClosed is returned after the transport was closed
	ErrTransportClosed = errors.New("transport closed")
	// ErrUnreachable is returned if no connection to a member could be established
	ErrUnreachable = errors.New("member unreachable")
	// ErrPending is returned by Future.Result if the call is not completed yet
	ErrPending = errors.New("call still pending")
)

// --------------------------------------------------------------------------
// Cluster Transport
// --------------------------------------------------------------------------

// IClusterTransport connects the members of a cluster point to point.
// Every message sent over it is executed with an AddressableContext on the
// receiving node.
type IClusterTransport interface {
	// Self returns the member identity of the local node
	Self() member.Member
	// Connect establishes a pooled channel to m. It is a no-op if one exists.
	Connect(ctx context.Context, m member.Member) error
	// Send sends a message to m without waiting for a reply
	Send(ctx context.Context, m member.Member, msg operation.Message) error
	// Ask sends a request to m and returns a future for the reply immediately.
	// The future fails with ErrTimeout if no reply arrives before the call expires.
	Ask(ctx context.Context, m member.Member, req operation.Request) *Future
	// Disconnect closes the channel to m
	Disconnect(m member.Member)
	// Connected returns every member with an open channel
	Connected() member.Set
	// Close closes all channels and fails all pending calls
	Close() error
}

// --------------------------------------------------------------------------
// Broadcast Transport
// --------------------------------------------------------------------------

// IBroadcastTransport sends operations to every node listening on a shared
// group. Messages received from it are executed with a BroadcastContext, so
// requests can never be sent over it.
type IBroadcastTransport interface {
	// Broadcast sends an operation to the group
	Broadcast(op operation.Operation) error
	// Join starts receiving group traffic
	Join() error
	// Leave stops receiving group traffic until Join is called again
	Leave() error
	// Joined reports whether the group is currently joined
	Joined() bool
	// Close leaves the group and releases the socket
	Close() error
}
