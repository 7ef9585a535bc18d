package common

import (
	"fmt"
	"github.com/ValentinKolb/dRing/lib/member"
)

// --------------------------------------------------------------------------
// Packet Structure
// --------------------------------------------------------------------------

// Flag bits of a packet
const (
	FlagReply        uint8 = 1 << 0 // Packet completes the pending call with the same sequence
	FlagHasSender    uint8 = 1 << 1 // Packet carries the sender member
	FlagExpectsReply uint8 = 1 << 2 // Sender waits for a reply with the same sequence
)

// Packet is the unit sent over every transport.
// The body holds the serialized message, Kind tells the receiver which
// concrete message type to decode it into.
type Packet struct {
	Sequence uint64
	Flags    uint8
	Kind     uint16
	Sender   member.Member // only valid if FlagHasSender is set
	Body     []byte
}

// IsReply reports whether the packet is a reply to a call
func (p *Packet) IsReply() bool {
	return p.Flags&FlagReply != 0
}

// ExpectsReply reports whether the sender waits for a reply
func (p *Packet) ExpectsReply() bool {
	return p.Flags&FlagExpectsReply != 0
}

// HasSender reports whether the packet carries the sender member
func (p *Packet) HasSender() bool {
	return p.Flags&FlagHasSender != 0
}

// SetSender sets the sender and the matching flag
func (p *Packet) SetSender(m member.Member) {
	p.Sender = m
	if m.IsZero() {
		p.Flags &^= FlagHasSender
	} else {
		p.Flags |= FlagHasSender
	}
}

func (p *Packet) String() string {
	return fmt.Sprintf("packet(seq=%d, kind=%d, flags=%08b, body=%d bytes)", p.Sequence, p.Kind, p.Flags, len(p.Body))
}
