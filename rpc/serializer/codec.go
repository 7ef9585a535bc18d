package serializer

import (
	"fmt"
	"github.com/ValentinKolb/dRing/rpc/common"
	"github.com/ValentinKolb/dRing/rpc/operation"
)

// Codec converts messages to packets and back. The kind of the message is
// stored in the packet, the registry resolves it to the concrete type on decode.
type Codec struct {
	registry *operation.Registry
	body     IBodySerializer
}

// NewCodec creates a codec. A nil body serializer selects cbor.
func NewCodec(registry *operation.Registry, body IBodySerializer) *Codec {
	if body == nil {
		body = NewCBORSerializer()
	}
	return &Codec{registry: registry, body: body}
}

// Registry returns the message registry of the codec
func (c *Codec) Registry() *operation.Registry {
	return c.registry
}

// Encode serializes msg into a new packet. Sequence, flags and sender are left
// to the transport.
func (c *Codec) Encode(msg operation.Message) (*common.Packet, error) {
	body, err := c.body.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T with %s: %w", msg, c.body.Name(), err)
	}
	return &common.Packet{Kind: uint16(msg.Kind()), Body: body}, nil
}

// Decode deserializes the body of a packet into a message of the packet's kind
func (c *Codec) Decode(p *common.Packet) (operation.Message, error) {
	msg, err := c.registry.New(operation.Kind(p.Kind))
	if err != nil {
		return nil, err
	}
	if err := c.body.Unmarshal(p.Body, msg); err != nil {
		return nil, fmt.Errorf("failed to decode kind %d with %s: %w", p.Kind, c.body.Name(), err)
	}
	return msg, nil
}
