package cluster

import (
	"context"
	"github.com/ValentinKolb/dRing/lib/member"
	"github.com/puzpuzpuz/xsync/v3"
	"sync"
)

// discoveryQueueSize bounds the number of unknown members waiting for a merge
const discoveryQueueSize = 64

// Service is the local service all cluster messages run against. It collects
// discovered members and hands them to the merge driver started with Run.
type Service struct {
	cluster *Cluster
	merger  *Merger
	layout  Layout

	discovered chan member.Member
	queued     *xsync.MapOf[string, struct{}]
	rebalance  chan struct{}

	mu      sync.Mutex
	onMerge func(MergeResult)
}

func NewService(c *Cluster, merger *Merger, layout Layout) *Service {
	return &Service{
		cluster:    c,
		merger:     merger,
		layout:     layout,
		discovered: make(chan member.Member, discoveryQueueSize),
		queued:     xsync.NewMapOf[string, struct{}](),
		rebalance:  make(chan struct{}, 1),
	}
}

func (s *Service) Cluster() *Cluster {
	return s.cluster
}

func (s *Service) Layout() Layout {
	return s.layout
}

// OnMerge registers a callback that receives the result of every merge
func (s *Service) OnMerge(fn func(MergeResult)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMerge = fn
}

// Discovered queues a merge with m. Followers and known members are ignored,
// a member that is already queued is not queued twice. Never blocks.
func (s *Service) Discovered(m member.Member) {
	if m.Equal(s.cluster.Self()) || !s.cluster.IsMaster() || s.cluster.Knows(m) {
		return
	}
	if _, loaded := s.queued.LoadOrStore(m.ID, struct{}{}); loaded {
		return
	}
	select {
	case s.discovered <- m:
		Logger.Debugf("queued merge with %s", m)
	default:
		s.queued.Delete(m.ID)
		Logger.Warningf("merge queue full, ignoring %s", m)
	}
}

// RequestRebalance signals the rebalance loop. Requests made while one is
// pending are coalesced.
func (s *Service) RequestRebalance() {
	select {
	case s.rebalance <- struct{}{}:
	default:
	}
}

// RebalanceRequests returns the channel RequestRebalance signals
func (s *Service) RebalanceRequests() <-chan struct{} {
	return s.rebalance
}

// Run is the merge driver. It merges with every discovered member one after
// another until ctx is done.
func (s *Service) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-s.discovered:
			result := s.merger.Merge(ctx, m)
			s.queued.Delete(m.ID)
			Logger.Infof("merge with %s finished: %s", m, result)

			s.mu.Lock()
			fn := s.onMerge
			s.mu.Unlock()
			if fn != nil {
				fn(result)
			}
		}
	}
}
