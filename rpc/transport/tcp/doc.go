// Package tcp implements the TCP connector of the cluster transport. It provides
// the concrete implementation of the base package's connector interface.
//
// This package builds on the base package's transport functionality, inheriting
// its connection pool, pending call table and request routing. See the base
// package documentation for the underlying transport mechanisms.
//
// Every connection is tuned according to common.SocketConf: Nagle's algorithm,
// socket buffer sizes, keep-alive and linger.
package tcp
