// Package admin implements the http admin api of a dRing node.
//
// Routes:
//
//	GET  /metrics              prometheus metrics (VictoriaMetrics format)
//	GET  /status               node, cluster and store state as json
//	POST /rebalance            pull all buckets owned but not held, on every member
//	POST /discovery/join       join the multicast discovery group
//	POST /discovery/leave      leave the multicast discovery group
package admin
