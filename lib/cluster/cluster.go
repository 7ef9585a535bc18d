package cluster

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/dRing/lib/member"
	"github.com/lni/dragonboat/v4/logger"
	"sync"
)

var Logger = logger.GetLogger("cluster")

var (
	// ErrNotMaster is returned if a change only the master may commit is made on a follower
	ErrNotMaster = errors.New("local node is not the master")
	// ErrStaleState is returned if a state with an older commit index is adopted
	ErrStaleState = errors.New("stale cluster state")
	// ErrConflictingState is returned if a different state with the same commit index is adopted
	ErrConflictingState = errors.New("conflicting cluster state")
	// ErrNotMember is returned if a state without the local node is adopted
	ErrNotMember = errors.New("local node is not a member")
)

// ChangeListener is called after the state changed. It must not block.
type ChangeListener func(prev, next State)

// Cluster is the membership view of the local node
type Cluster struct {
	mu        sync.RWMutex
	self      member.Member
	state     State
	listeners []ChangeListener
}

// New creates a single node cluster with self as master and commit index 0
func New(self member.Member) *Cluster {
	return &Cluster{
		self: self,
		state: State{
			Members: member.NewSet(self),
			Master:  self,
		},
	}
}

func (c *Cluster) Self() member.Member {
	return c.self
}

// Snapshot returns a copy of the current state
func (c *Cluster) Snapshot() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Cluster) IsMaster() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Master.Equal(c.self)
}

// Knows reports whether m is a member of the local cluster
func (c *Cluster) Knows(m member.Member) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Members.Contains(m)
}

// OnChange registers a listener for state changes
func (c *Cluster) OnChange(l ChangeListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Adopt replaces the local state with next, which is only accepted if it
// moves the commit index forward and contains the local node. Adopting the
// current state again is a no-op. Returns true if the state changed.
func (c *Cluster) Adopt(next State) (bool, error) {
	if !next.Members.Contains(c.self) {
		return false, fmt.Errorf("%w: %s", ErrNotMember, next)
	}

	c.mu.Lock()
	prev := c.state
	switch {
	case next.CommitIndex < prev.CommitIndex:
		c.mu.Unlock()
		return false, fmt.Errorf("%w: commit %d < %d", ErrStaleState, next.CommitIndex, prev.CommitIndex)
	case next.CommitIndex == prev.CommitIndex:
		c.mu.Unlock()
		if next.Equal(prev) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %s vs %s", ErrConflictingState, next, prev)
	}
	c.state = next
	listeners := c.listeners
	c.mu.Unlock()

	Logger.Infof("adopted %s (was %s)", next, prev)
	for _, l := range listeners {
		l(prev, next)
	}
	return true, nil
}

// Apply commits a new member set. Only the master may apply, the commit index
// is incremented by one.
func (c *Cluster) Apply(members member.Set) (State, error) {
	c.mu.RLock()
	current := c.state
	c.mu.RUnlock()

	if !current.Master.Equal(c.self) {
		return current, ErrNotMaster
	}
	next := State{
		Members:     members.Add(c.self),
		Master:      c.self,
		CommitIndex: current.CommitIndex + 1,
	}
	if _, err := c.Adopt(next); err != nil {
		return current, err
	}
	return next, nil
}
