// Package rpc provides the communication layer of a dRing cluster. It moves
// operations between members, between clients and members, and between a
// node and its discovery group.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities used across the RPC system,
//     including the wire Packet, configuration structures, and logging.
//
//   - operation: The message model. Operations are fire-and-forget, Requests
//     are answered exactly once through an addressable context.
//
//   - serializer: Body serializers (cbor, json, gob) and the binary packet codec.
//
//   - transport: Point to point transports between members (tcp) and the udp
//     multicast group used for discovery.
//
//   - server: The cluster node wiring transports, services and background loops.
//
//   - client: A store client that routes every key to the member owning it.
//
//   - admin: The http admin api serving metrics, status and manual triggers.
package rpc
