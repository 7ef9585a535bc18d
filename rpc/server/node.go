package server

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dRing/lib/cluster"
	"github.com/ValentinKolb/dRing/lib/executor"
	"github.com/ValentinKolb/dRing/lib/member"
	"github.com/ValentinKolb/dRing/lib/ringmap"
	"github.com/ValentinKolb/dRing/rpc/admin"
	"github.com/ValentinKolb/dRing/rpc/common"
	"github.com/ValentinKolb/dRing/rpc/operation"
	"github.com/ValentinKolb/dRing/rpc/serializer"
	"github.com/ValentinKolb/dRing/rpc/transport/base"
	"github.com/ValentinKolb/dRing/rpc/transport/multicast"
	"github.com/ValentinKolb/dRing/rpc/transport/tcp"
	"github.com/lni/dragonboat/v4/logger"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"
)

var Logger = logger.GetLogger("rpc")

const (
	// seedProbeEvery is the number of heartbeats between two probes of unknown seeds
	seedProbeEvery = 5

	// bounds of the backoff between rebalance retries
	rebalanceRetryMin = 500 * time.Millisecond
	rebalanceRetryMax = 30 * time.Second
)

// Node is a single dRing cluster member. It owns the worker pool, both
// transports, the cluster view and the local partition of the store.
type Node struct {
	config common.ServerConfig
	layout cluster.Layout

	exec       *executor.Pool
	codec      *serializer.Codec
	services   *operation.Services
	dispatcher *operation.Dispatcher
	transport  *base.Transport
	multicast  *multicast.Transport // nil if discovery is disabled
	admin      *admin.Server        // nil if the admin api is disabled

	cluster    *cluster.Cluster
	merger     *cluster.Merger
	service    *cluster.Service
	store      *ringmap.RingMap
	rebalancer *cluster.Rebalancer

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewNode creates a node from the configuration. Nothing is started before Start.
func NewNode(config common.ServerConfig) (*Node, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	registry := operation.NewRegistry()
	cluster.Register(registry)
	ringmap.Register(registry)

	n := &Node{
		config:   config,
		layout:   cluster.Layout{BucketCount: config.BucketCount, VirtualNodes: config.VirtualNodes},
		exec:     executor.New(config.Transport.Workers),
		codec:    serializer.NewCodec(registry, nil),
		services: operation.NewServices(),
	}
	n.dispatcher = operation.NewDispatcher(n.services)
	n.exec.SetPanicHandler(func(worker int, recovered any) {
		Logger.Errorf("task on worker %d panicked: %v", worker, recovered)
	})
	n.transport = tcp.NewTCPTransport(member.New(config.NodeID, config.Address()), config.Transport, n.codec, n.dispatcher, n.exec)
	return n, nil
}

// Start binds the transports, registers the local services and starts the
// background loops. It returns once the node accepts connections.
func (n *Node) Start() error {
	if err := n.transport.Listen(); err != nil {
		return err
	}
	self := n.transport.Self()

	r, err := n.layout.Build(member.NewSet(self))
	if err != nil {
		_ = n.transport.Close()
		return err
	}
	n.store = ringmap.New(self, r)
	n.cluster = cluster.New(self)
	n.merger = cluster.NewMerger(n.cluster, n.transport, cluster.MergerOptions{Retries: n.config.MergeRetries})
	n.service = cluster.NewService(n.cluster, n.merger, n.layout)
	n.rebalancer = cluster.NewRebalancer(n.store, n.transport, n.config.Transport.AskTimeout())

	n.services.Register(operation.ServiceRingMap, n.store)
	n.services.Register(operation.ServiceCluster, n.service)
	n.cluster.OnChange(n.onClusterChange)

	if n.config.Multicast.Enabled {
		mc, err := multicast.New(self, n.config.Multicast, n.codec, n.dispatcher, n.exec)
		if err != nil {
			_ = n.transport.Close()
			return err
		}
		n.multicast = mc
	}

	if n.config.AdminEndpoint != "" {
		n.admin = admin.NewServer(n.config.AdminEndpoint, n, n.config.LogLevel == "debug")
		if err := n.admin.Start(); err != nil {
			n.closeTransports()
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel

	n.wg.Add(3)
	go func() {
		defer n.wg.Done()
		n.service.Run(ctx)
	}()
	go func() {
		defer n.wg.Done()
		n.heartbeatLoop(ctx)
	}()
	go func() {
		defer n.wg.Done()
		n.rebalanceLoop(ctx)
	}()

	Logger.Infof("node %s started with %s", self, n.layout.String())
	return nil
}

// Serve starts the node and blocks until SIGINT or SIGTERM
func (n *Node) Serve() error {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	common.InitLoggers(n.config.LogLevel)
	Logger.Infof("%s", n.config.String())
	if err := n.Start(); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	Logger.Infof("received %s, shutting down", s)
	return n.Stop()
}

// Stop shuts the node down. The loops are stopped before the transports are
// closed, pending calls fail with transport.ErrTransportClosed.
func (n *Node) Stop() error {
	var err error
	n.once.Do(func() {
		if n.cancel != nil {
			n.cancel()
		}
		if n.admin != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err = n.admin.Close(ctx)
			cancel()
		}
		n.wg.Wait()
		n.closeTransports()
		n.exec.Close()
	})
	return err
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

func (n *Node) Self() member.Member {
	return n.transport.Self()
}

func (n *Node) Cluster() *cluster.Cluster {
	return n.cluster
}

// Store returns the local partition of the store
func (n *Node) Store() *ringmap.RingMap {
	return n.store
}

func (n *Node) Transport() *base.Transport {
	return n.transport
}

// Discovered hands a member to the merge driver
func (n *Node) Discovered(m member.Member) {
	n.service.Discovered(m)
}

// --------------------------------------------------------------------------
// admin.Backend
// --------------------------------------------------------------------------

func (n *Node) Status() admin.Status {
	return admin.Status{
		Self:      n.Self(),
		Cluster:   n.cluster.Snapshot(),
		IsMaster:  n.cluster.IsMaster(),
		Layout:    n.layout,
		Store:     n.store.Stats(),
		Workers:   n.exec.Stats(),
		Discovery: n.multicast != nil && n.multicast.Joined(),
		Merge:     n.merger.Phase().String(),
	}
}

// TriggerRebalance sends a RebalanceOperation to every other member and
// rebalances the local node
func (n *Node) TriggerRebalance(ctx context.Context) error {
	state := n.cluster.Snapshot()
	op := &cluster.RebalanceOperation{CommitIndex: state.CommitIndex}

	var errs []error
	for _, m := range state.Members {
		if m.Equal(n.Self()) {
			continue
		}
		if err := n.transport.Send(ctx, m, op); err != nil {
			Logger.Warningf("failed to request rebalance from %s: %v", m, err)
			errs = append(errs, err)
		}
	}
	n.service.RequestRebalance()
	if len(errs) == state.Size()-1 && len(errs) > 0 {
		return fmt.Errorf("no member reachable: %w", errors.Join(errs...))
	}
	return nil
}

func (n *Node) JoinDiscovery() error {
	if n.multicast == nil {
		return admin.ErrDiscoveryDisabled
	}
	return n.multicast.Join()
}

func (n *Node) LeaveDiscovery() error {
	if n.multicast == nil {
		return admin.ErrDiscoveryDisabled
	}
	return n.multicast.Leave()
}

// --------------------------------------------------------------------------
// Background loops
// --------------------------------------------------------------------------

// onClusterChange runs on the goroutine that committed the change and must not block
func (n *Node) onClusterChange(prev, next cluster.State) {
	for _, gone := range prev.Members.Difference(next.Members) {
		n.transport.Disconnect(gone)
	}
	if n.config.AutoRebalance && !prev.Members.Equal(next.Members) {
		n.service.RequestRebalance()
	}
}

// heartbeatLoop announces the node to the discovery group and probes the seeds
func (n *Node) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(n.config.Multicast.Heartbeat())
	defer ticker.Stop()

	n.probeSeeds(ctx)
	for tick := 1; ; tick++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if n.multicast != nil {
			state := n.cluster.Snapshot()
			op := &cluster.DiscoveryOperation{Master: state.Master, CommitIndex: state.CommitIndex, Size: state.Size()}
			if err := n.multicast.Broadcast(op); err != nil {
				Logger.Warningf("discovery broadcast failed: %v", err)
			}
		}
		if tick%seedProbeEvery == 0 {
			n.probeSeeds(ctx)
		}
	}
}

// probeSeeds asks every seed that is not a member for the status of its
// cluster and hands the master to the merge driver
func (n *Node) probeSeeds(ctx context.Context) {
	if len(n.config.Seeds) == 0 || !n.cluster.IsMaster() {
		return
	}
	known := make(map[string]bool)
	for _, m := range n.cluster.Snapshot().Members {
		known[m.Addr] = true
	}

	for _, addr := range n.config.Seeds {
		if known[addr] || addr == n.Self().Addr {
			continue
		}
		status, err := cluster.Probe(ctx, n.transport, addr, n.config.Transport.DialTimeout())
		if err != nil {
			Logger.Debugf("seed %s not reachable: %v", addr, err)
			continue
		}
		n.service.Discovered(status.Master)
	}
}

// rebalanceLoop applies the ring of the current member set whenever a
// rebalance is requested. While entries stay in the migration buffer the
// rebalance is retried with exponential backoff.
func (n *Node) rebalanceLoop(ctx context.Context) {
	var retry <-chan time.Time
	backoff := rebalanceRetryMin

	for {
		select {
		case <-ctx.Done():
			return
		case <-n.service.RebalanceRequests():
		case <-retry:
		}
		retry = nil

		n.rebalance(ctx)
		if ctx.Err() != nil {
			return
		}

		if buffered := n.store.Stats().BufferedEntries; buffered > 0 {
			Logger.Infof("%d entries wait for their owner, retrying rebalance in %s", buffered, backoff)
			retry = time.After(backoff)
			backoff = min(2*backoff, rebalanceRetryMax)
		} else {
			backoff = rebalanceRetryMin
		}
	}
}

// rebalance moves the store to the ring of the current member set
func (n *Node) rebalance(ctx context.Context) {
	state := n.cluster.Snapshot()
	if state.Members.Equal(n.store.Ring().Members()) && n.store.Stats().BufferedEntries == 0 {
		Logger.Debugf("ring is up to date at commit %d", state.CommitIndex)
		return
	}
	next, err := n.layout.Build(state.Members)
	if err != nil {
		Logger.Errorf("failed to build ring for %s: %v", state, err)
		return
	}
	if _, err := n.rebalancer.Rebalance(ctx, next, state.CommitIndex); err != nil {
		Logger.Errorf("rebalance to commit %d failed: %v", state.CommitIndex, err)
	}
}

func (n *Node) closeTransports() {
	if n.multicast != nil {
		if err := n.multicast.Close(); err != nil {
			Logger.Warningf("failed to close multicast transport: %v", err)
		}
	}
	if err := n.transport.Close(); err != nil {
		Logger.Warningf("failed to close transport: %v", err)
	}
}
