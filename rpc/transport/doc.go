// Package transport defines the interfaces and abstractions for communication
// between the members of a cluster.
//
// Key Components:
//
//   - IClusterTransport: point to point channels between members. Send is
//     fire-and-forget, Ask returns a Future immediately and the reply is matched
//     by sequence number. Implemented by the base package on top of a connector
//     (see the tcp package).
//
//   - IBroadcastTransport: unaddressed group traffic used for discovery.
//     Implemented by the multicast package.
//
//   - Future: the single result of an Ask, joined with a context or Await.
package transport
