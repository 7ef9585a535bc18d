package client

import (
	"context"
	"errors"
	"github.com/ValentinKolb/dRing/lib/cluster"
	"github.com/ValentinKolb/dRing/lib/executor"
	"github.com/ValentinKolb/dRing/lib/member"
	"github.com/ValentinKolb/dRing/lib/ring"
	"github.com/ValentinKolb/dRing/lib/ringmap"
	"github.com/ValentinKolb/dRing/lib/store"
	"github.com/ValentinKolb/dRing/rpc/common"
	"github.com/ValentinKolb/dRing/rpc/operation"
	"github.com/ValentinKolb/dRing/rpc/serializer"
	"github.com/ValentinKolb/dRing/rpc/transport/base"
	"github.com/ValentinKolb/dRing/rpc/transport/tcp"
	"github.com/lni/dragonboat/v4/logger"
	"sync"
)

var Logger = logger.GetLogger("client")

// Client routes every key to the member owning it. The ring is built from
// the status of a seed node and rebuilt if a call fails.
type Client struct {
	config    common.ClientConfig
	exec      *executor.Pool
	transport *base.Transport

	mu     sync.RWMutex
	status *cluster.StatusResponse
	ring   *ring.ConsistentHashRing
}

// NewClient creates a client and fetches the cluster status from the seeds
func NewClient(config common.ClientConfig) (*Client, error) {
	if len(config.Seeds) == 0 {
		return nil, store.NewError(store.RetCInvalidOperation, "no seed nodes configured")
	}

	registry := operation.NewRegistry()
	cluster.Register(registry)
	ringmap.Register(registry)

	exec := executor.New(config.Transport.Workers)
	c := &Client{
		config: config,
		exec:   exec,
		// a client has no identity, members never call it
		transport: tcp.NewTCPTransport(member.Member{}, config.Transport, serializer.NewCodec(registry, nil),
			operation.NewDispatcher(operation.NewServices()), exec),
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout())
	defer cancel()
	if err := c.Refresh(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Refresh fetches the cluster status from the first reachable seed or
// member and rebuilds the ring
func (c *Client) Refresh(ctx context.Context) error {
	var errs []error
	for _, addr := range c.candidates() {
		status, err := cluster.Probe(ctx, c.transport, addr, c.config.Timeout())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		r, err := status.Layout().Build(status.State().Members)
		if err != nil {
			return store.Errorf(store.RetCInternalError, "invalid ring reported by %s: %v", addr, err)
		}

		c.mu.Lock()
		c.status, c.ring = status, r
		c.mu.Unlock()
		Logger.Debugf("ring refreshed from %s: %s", addr, status.State())
		return nil
	}
	return store.Errorf(store.RetCUnreachable, "no seed reachable: %v", errors.Join(errs...))
}

// Status returns the status reported by the cluster on the last refresh
func (c *Client) Status() cluster.StatusResponse {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return *c.status
}

// Ring returns the ring keys are currently routed with
func (c *Client) Ring() *ring.ConsistentHashRing {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ring
}

// Rebalance sends a RebalanceOperation to every member
func (c *Client) Rebalance(ctx context.Context) error {
	status := c.Status()
	op := &cluster.RebalanceOperation{CommitIndex: status.CommitIndex}

	var errs []error
	for _, m := range status.Members {
		if err := c.transport.Send(ctx, m, op); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return store.Errorf(store.RetCUnreachable, "rebalance not sent to all members: %v", errors.Join(errs...))
	}
	return nil
}

func (c *Client) Close() {
	_ = c.transport.Close()
	c.exec.Close()
}

// candidates returns the seeds followed by the known members
func (c *Client) candidates() []string {
	addrs := append([]string(nil), c.config.Seeds...)
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.status != nil {
		for _, m := range c.status.Members {
			addrs = append(addrs, m.Addr)
		}
	}
	return addrs
}
