// Package serializer provides the wire encoding of the cluster.
//
// A message travels inside a common.Packet. The packet itself always uses a
// compact binary format (MarshalPacket / UnmarshalPacket) with flag bits for
// optional fields. The message body inside the packet is encoded by an
// IBodySerializer. The Codec ties both together with an operation.Registry, so
// the receiver can decode the body into the concrete type named by the packet's kind.
//
// Body serializers:
//
//   - cbor: canonical CBOR (fxamacker/cbor). Compact and fast, the default.
//
//   - json: useful for debugging or interoperability, larger payloads.
//
//   - gob: Go's binary gob format. Requires every message to have at least
//     one exported field.
//
// Thread Safety:
//
//	All serializers and the Codec are safe for concurrent use across
//	multiple goroutines without additional synchronization.
package serializer
