// Package base implements the point to point cluster transport independent of
// the specific network protocol. It serves as a base layer that is extended with
// protocol-specific connectors (see the tcp package).
//
// The package focuses on:
//   - Symmetric channels: both sides send calls and replies over one connection
//   - A connection pool keyed by member ID
//   - Sequence-correlated futures with time-bounded expiry
//   - Robust error handling with retries and exponential backoff on connect
//
// Key Components:
//
//   - IConnector: protocol-specific listen, dial and socket tuning.
//
//   - Transport: implements transport.IClusterTransport. Owns the ConnectionPool
//     and the PendingCalls table and tears both down on Close.
//
//   - PendingCalls: calls waiting for a reply, keyed by sequence number. A call
//     is completed at most once, by its reply, by expiry (ErrTimeout) or by
//     the close of its channel (ErrConnectionClosed).
//
// Wire Format:
//
//	Every frame is a 4 byte big endian length followed by a binary packet
//	(see serializer.MarshalPacket). Packets of calls carry the sender member,
//	which lets the receiving side register an inbound channel in its pool and
//	reuse it for calls in the other direction.
//
// Thread Safety:
//
//	All public methods are thread-safe. Every channel has one reader goroutine,
//	writes are serialized per channel. Inbound messages of a channel are
//	executed on executor.Pool.Child(channelID), so they run in arrival order
//	and never on the reader goroutine.
package base
