package operation

import (
	"github.com/ValentinKolb/dRing/lib/member"
	"sync/atomic"
)

// BroadcastContext is the context of messages received over the multicast
// group. It has no Reply method, so requests can never be served with it.
type BroadcastContext struct {
	baseContext
}

// NewBroadcastContext creates the context for a broadcast message
func NewBroadcastContext(sender member.Member, service ServiceID) *BroadcastContext {
	return &BroadcastContext{baseContext{sender: sender, service: service}}
}

// ReplyFunc delivers a reply to the caller of a request
type ReplyFunc func(msg Message) error

// AddressableContext is the context of messages received over a point to
// point channel. It allows a single reply.
type AddressableContext struct {
	baseContext
	replied atomic.Bool
	reply   ReplyFunc
}

// NewAddressableContext creates the context for a message received on a channel.
// reply may be nil for messages that are not expected to reply.
func NewAddressableContext(sender member.Member, service ServiceID, reply ReplyFunc) *AddressableContext {
	return &AddressableContext{
		baseContext: baseContext{sender: sender, service: service},
		reply:       reply,
	}
}

func (c *AddressableContext) Reply(msg Message) error {
	if !c.replied.CompareAndSwap(false, true) {
		return ErrAlreadyReplied
	}
	if c.reply == nil {
		return ErrReplyNotSupported
	}
	return c.reply(msg)
}

// Replied reports whether Reply was called
func (c *AddressableContext) Replied() bool {
	return c.replied.Load()
}
