// Package executor provides the fixed-size worker pool that executes inbound
// messages.
//
// Each Worker owns a lock-free multi-producer single-consumer queue. Tasks are
// either spread round robin (Pool.Execute) or pinned with Pool.Child(id), which
// always returns worker id % size. The transport pins every connection to one
// worker, so messages of a connection are executed in the order they arrived.
//
// A panicking task never kills its worker: the panic is recovered, logged,
// counted and handed to the optional PanicHandler.
//
// Task latency and panics are recorded in a go-metrics registry (Pool.Registry,
// Pool.Stats).
package executor
