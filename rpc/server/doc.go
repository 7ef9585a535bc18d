// Package server implements a dRing cluster node.
//
// A Node wires the building blocks of the engine together:
//
//   - a fixed size executor.Pool that runs every inbound message
//   - the tcp transport for calls between members
//   - the multicast transport for discovery heartbeats (optional)
//   - the cluster view with its merge driver and the local ringmap partition
//   - the http admin api (optional)
//
// Besides the merge driver a node runs two background loops. The heartbeat
// loop broadcasts a DiscoveryOperation to the discovery group and probes the
// configured seeds, so clusters also find each other in networks without
// multicast. The rebalance loop applies the ring of the current member set
// whenever the members changed (with AutoRebalance) or a rebalance was
// requested over the admin api.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  NodeID:        "node-1",
//	  BucketCount:   common.DefaultBucketCount,
//	  AutoRebalance: true,
//	  Transport:     common.TransportConfig{Endpoint: "0.0.0.0:7000"},
//	  Multicast:     common.MulticastConfig{Enabled: true, Group: common.DefaultMulticastGroup},
//	}
//
//	node, err := server.NewNode(config)
//	if err != nil {
//	  log.Fatal(err)
//	}
//	if err := node.Serve(); err != nil {
//	  log.Fatal(err)
//	}
package server
