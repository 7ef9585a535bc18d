// Package common provides core data structures and utilities shared across
// the cluster. It defines the wire packet, configuration structures and the
// logger setup used by other packages.
//
// Key Components:
//
//   - Packet: the unit exchanged by every transport. It carries a sequence
//     number correlating calls and replies, flag bits, the kind of the encoded
//     message and optionally the sending member.
//
//   - ServerConfig: configuration of a cluster node, including identity, ring
//     parameters, transport and discovery settings.
//
//   - ClientConfig: configuration of the ring routed client, controlling seeds,
//     timeouts and retry behavior.
//
//   - Logger: custom implementation of the dragonboat logger.ILogger interface
//     providing consistent formatting across the application.
package common
