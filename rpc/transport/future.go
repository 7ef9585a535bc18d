package transport

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/dRing/rpc/operation"
	"sync"
)

// Future is the result of an Ask. It is completed exactly once, either with the
// reply or with an error.
type Future struct {
	done chan struct{}
	once sync.Once
	msg  operation.Message
	err  error
}

// NewFuture creates a pending future
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Failed creates a future that is already completed with err
func Failed(err error) *Future {
	f := NewFuture()
	f.Complete(nil, err)
	return f
}

// Complete sets the result. Only the first call has an effect, it returns
// false for every further call.
func (f *Future) Complete(msg operation.Message, err error) bool {
	completed := false
	f.once.Do(func() {
		f.msg, f.err = msg, err
		close(f.done)
		completed = true
	})
	return completed
}

// Done returns a channel that is closed once the future is completed
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Result returns the result without blocking. The error is ErrPending while
// the future is not completed.
func (f *Future) Result() (operation.Message, error) {
	select {
	case <-f.done:
		return f.msg, f.err
	default:
		return nil, ErrPending
	}
}

// Join waits for the result or until ctx is done. Giving up on a future does
// not cancel the call, it still expires in the pending table.
func (f *Future) Join(ctx context.Context) (operation.Message, error) {
	select {
	case <-f.done:
		return f.msg, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Await joins the future and casts the reply to T
func Await[T operation.Message](ctx context.Context, f *Future) (T, error) {
	var zero T
	msg, err := f.Join(ctx)
	if err != nil {
		return zero, err
	}
	reply, ok := msg.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected reply %T, expected %T", msg, zero)
	}
	return reply, nil
}
