package base

import (
	"github.com/ValentinKolb/dRing/lib/member"
	"github.com/puzpuzpuz/xsync/v3"
)

// ConnectionPool holds one channel per remote member, keyed by member ID
type ConnectionPool struct {
	channels *xsync.MapOf[string, *channel]
}

// NewConnectionPool creates an empty pool
func NewConnectionPool() *ConnectionPool {
	return &ConnectionPool{channels: xsync.NewMapOf[string, *channel]()}
}

// get returns the open channel to the member
func (p *ConnectionPool) get(id string) (*channel, bool) {
	ch, ok := p.channels.Load(id)
	if ok && ch.isClosed() {
		p.remove(id, ch)
		return nil, false
	}
	return ch, ok
}

// register adds the channel unless the member already has an open one.
// It returns the channel that is registered afterwards.
func (p *ConnectionPool) register(id string, ch *channel) *channel {
	actual, _ := p.channels.Compute(id, func(old *channel, loaded bool) (*channel, bool) {
		if loaded && !old.isClosed() {
			return old, false
		}
		return ch, false
	})
	return actual
}

// remove deletes the channel if it is still the registered one
func (p *ConnectionPool) remove(id string, ch *channel) {
	p.channels.Compute(id, func(old *channel, loaded bool) (*channel, bool) {
		if !loaded || old != ch {
			return old, !loaded
		}
		return nil, true
	})
}

// members returns every member with an open channel
func (p *ConnectionPool) members() member.Set {
	var members []member.Member
	p.channels.Range(func(_ string, ch *channel) bool {
		if !ch.isClosed() {
			members = append(members, ch.remoteMember())
		}
		return true
	})
	return member.NewSet(members...)
}

// Len returns the number of pooled channels
func (p *ConnectionPool) Len() int {
	return p.channels.Size()
}
