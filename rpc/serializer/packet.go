package serializer

import (
	"encoding/binary"
	"fmt"
	"github.com/ValentinKolb/dRing/lib/member"
	"github.com/ValentinKolb/dRing/rpc/common"
)

// Packet layout (all integers big endian):
//
//	8 bytes  sequence
//	1 byte   flags
//	2 bytes  kind
//	         if common.FlagHasSender is set:
//	2 bytes  sender id length, N bytes sender id
//	2 bytes  sender addr length, N bytes sender addr
//	4 bytes  body length, N bytes body
const packetHeaderSize = 8 + 1 + 2

// MarshalPacket encodes a packet into the binary wire format
func MarshalPacket(p *common.Packet) ([]byte, error) {
	if p.HasSender() {
		if len(p.Sender.ID) > 0xFFFF || len(p.Sender.Addr) > 0xFFFF {
			return nil, fmt.Errorf("sender %s too long", p.Sender)
		}
	}

	result := make([]byte, packetSize(p))

	binary.BigEndian.PutUint64(result[0:8], p.Sequence)
	result[8] = p.Flags
	binary.BigEndian.PutUint16(result[9:11], p.Kind)
	pos := packetHeaderSize

	// Handle Sender
	if p.HasSender() {
		pos = putString(result, pos, p.Sender.ID)
		pos = putString(result, pos, p.Sender.Addr)
	}

	// Handle Body
	binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(p.Body)))
	pos += 4
	copy(result[pos:], p.Body)

	return result, nil
}

// UnmarshalPacket decodes the binary wire format into p.
// The body of p references data, it must not be modified afterwards.
func UnmarshalPacket(data []byte, p *common.Packet) error {
	// Check minimum size
	if len(data) < packetHeaderSize+4 {
		return fmt.Errorf("data too short for packet header")
	}

	p.Sequence = binary.BigEndian.Uint64(data[0:8])
	p.Flags = data[8]
	p.Kind = binary.BigEndian.Uint16(data[9:11])
	pos := packetHeaderSize

	// Read Sender if present
	p.Sender = member.Member{}
	if p.HasSender() {
		var id, addr string
		var err error
		if id, pos, err = readString(data, pos); err != nil {
			return fmt.Errorf("invalid sender id: %w", err)
		}
		if addr, pos, err = readString(data, pos); err != nil {
			return fmt.Errorf("invalid sender addr: %w", err)
		}
		p.Sender = member.New(id, addr)
	}

	// Read Body
	if pos+4 > len(data) {
		return fmt.Errorf("data too short for body length")
	}
	bodyLen := int(binary.BigEndian.Uint32(data[pos : pos+4]))
	pos += 4
	if pos+bodyLen != len(data) {
		return fmt.Errorf("body length %d does not match remaining %d bytes", bodyLen, len(data)-pos)
	}
	p.Body = data[pos : pos+bodyLen]

	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// packetSize calculates the total size needed for serialization
func packetSize(p *common.Packet) int {
	size := packetHeaderSize + 4 + len(p.Body)
	if p.HasSender() {
		size += 2 + len(p.Sender.ID) + 2 + len(p.Sender.Addr)
	}
	return size
}

func putString(buf []byte, pos int, s string) int {
	binary.BigEndian.PutUint16(buf[pos:pos+2], uint16(len(s)))
	pos += 2
	copy(buf[pos:], s)
	return pos + len(s)
}

func readString(data []byte, pos int) (string, int, error) {
	if pos+2 > len(data) {
		return "", pos, fmt.Errorf("data too short for length")
	}
	n := int(binary.BigEndian.Uint16(data[pos : pos+2]))
	pos += 2
	if pos+n > len(data) {
		return "", pos, fmt.Errorf("data too short for string of %d bytes", n)
	}
	return string(data[pos : pos+n]), pos + n, nil
}
