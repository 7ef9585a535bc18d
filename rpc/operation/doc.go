// Package operation implements the command model used for remote execution.
//
// A Message is a serializable value with a wire Kind and the ServiceID of the
// local service it runs against. Executable messages are either an Operation
// (fire-and-forget) or a Request (exactly one reply). Replies are plain Messages.
//
// Every inbound message gets its own Context. Messages from the multicast group
// get a BroadcastContext, which has no Reply method, so a Request can never be
// served on a broadcast path. Messages from a point to point channel get an
// AddressableContext, whose Reply succeeds at most once.
//
// The Registry maps kinds to factories and is used by the codec to decode a
// message into its concrete type. Services holds the local service instances and
// the Dispatcher runs a decoded message against them. A missing service is the
// only error a Dispatcher raises before running a message; failures inside a
// handler are returned to the transport, which logs them. The remote caller then
// only observes a missing reply.
package operation
