// Package store provides the common interface for key-value storage operations
// and the unified error type used by its implementations.
//
// Key Components:
//
//   - IStore Interface: The core abstraction defining operations for interacting with
//     a key-value store. Applications can use a node local store and a remote, ring
//     routed store through the same interface.
//
//   - Error System: A structured error reporting mechanism using typed error codes
//     and descriptive messages. This system allows applications to make informed
//     decisions based on specific error conditions (e.g. an unreachable owner)
//     rather than generic errors.
//
// Implementations:
//
//   - RingMap (lib/ringmap): the partitioned store of a single node. Keys of
//     buckets that are not owned locally are kept in a migration buffer.
//
//   - Routed Client (rpc/client): hashes every key onto the cluster ring and sends
//     the operation to the member owning the key.
package store
