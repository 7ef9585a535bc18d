// Package client implements a store.IStore that talks to a dRing cluster.
//
// The client asks one of its seed nodes for the cluster status, builds the
// same ring as the members from the reported member set and layout, and sends
// every key request straight to the member owning the key. If a call fails
// the status is fetched again and the call is retried once on the owner of
// the new ring.
//
// Usage Example:
//
//	c, err := client.NewClient(common.ClientConfig{
//	  Seeds:         []string{"10.0.0.1:7000", "10.0.0.2:7000"},
//	  TimeoutSecond: 5,
//	})
//	if err != nil {
//	  log.Fatal(err)
//	}
//	defer c.Close()
//
//	if err := c.Set("key", []byte("value")); err != nil {
//	  log.Fatal(err)
//	}
//
// Errors returned by the client are *store.Error values, unreachable members
// are reported with store.RetCUnreachable.
package client
