// Package cmd implements the command-line interface of dRing. It provides
// commands for running a node and for talking to a cluster as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Starts a node and configures discovery, the ring and the admin api
//   - kv: Key-value operations routed to the owner of each key, and a perf tool
//   - cluster: Cluster status and manual rebalancing
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See dring -help for a list of all commands.
package cmd
