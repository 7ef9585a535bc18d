package base

import (
	"github.com/ValentinKolb/dRing/rpc/operation"
	"github.com/ValentinKolb/dRing/rpc/transport"
	"github.com/puzpuzpuz/xsync/v3"
	"sync/atomic"
	"time"
)

// pendingCall is an Ask waiting for its reply
type pendingCall struct {
	future  *transport.Future
	channel uint64
	started time.Time
	timer   *time.Timer
}

// PendingCalls is the time-bounded table of calls waiting for a reply.
// Every call is removed exactly once: by its reply, by expiry, by the close of
// its channel or by closing the table.
type PendingCalls struct {
	calls  *xsync.MapOf[uint64, *pendingCall]
	next   atomic.Uint64
	expiry time.Duration
	closed atomic.Bool
}

// NewPendingCalls creates a table whose calls expire after expiry
func NewPendingCalls(expiry time.Duration) *PendingCalls {
	return &PendingCalls{
		calls:  xsync.NewMapOf[uint64, *pendingCall](),
		expiry: expiry,
	}
}

// Register allocates a sequence number for a call sent over the channel and
// returns the future completed by the reply
func (p *PendingCalls) Register(channel uint64) (uint64, *transport.Future) {
	future := transport.NewFuture()
	if p.closed.Load() {
		future.Complete(nil, transport.ErrTransportClosed)
		return 0, future
	}

	seq := p.next.Add(1)
	// the call is complete before it becomes visible to Complete
	call := &pendingCall{future: future, channel: channel, started: time.Now()}
	call.timer = time.AfterFunc(p.expiry, func() {
		if c, ok := p.calls.LoadAndDelete(seq); ok {
			metricTimeouts.Inc()
			c.future.Complete(nil, transport.ErrTimeout)
		}
	})
	p.calls.Store(seq, call)
	return seq, future
}

// Complete completes the call with the given sequence. It returns false if the
// call is unknown (already completed or expired).
func (p *PendingCalls) Complete(seq uint64, msg operation.Message, err error) bool {
	call, ok := p.calls.LoadAndDelete(seq)
	if !ok {
		return false
	}
	call.timer.Stop()
	metricAskDuration.UpdateDuration(call.started)
	return call.future.Complete(msg, err)
}

// FailChannel fails every call sent over the channel and returns their number
func (p *PendingCalls) FailChannel(channel uint64, err error) int {
	failed := 0
	p.calls.Range(func(seq uint64, call *pendingCall) bool {
		if call.channel == channel && p.Complete(seq, nil, err) {
			failed++
		}
		return true
	})
	return failed
}

// Len returns the number of pending calls
func (p *PendingCalls) Len() int {
	return p.calls.Size()
}

// Close fails all pending calls and rejects new ones
func (p *PendingCalls) Close(err error) {
	p.closed.Store(true)
	p.calls.Range(func(seq uint64, _ *pendingCall) bool {
		p.Complete(seq, nil, err)
		return true
	})
}
