// Package multicast implements the broadcast transport used for discovery.
//
// All nodes share one IPv4 multicast group. Every datagram is a 4 byte big
// endian length followed by a packet that carries the sending member. Received
// datagrams sent by the local member are dropped, requests are rejected, and
// operations run against the local services with a reply-less
// operation.BroadcastContext.
//
// Group membership can be toggled at runtime with Join and Leave, which allows
// to temporarily mute discovery traffic. The group membership itself is handled
// by golang.org/x/net/ipv4.
package multicast
