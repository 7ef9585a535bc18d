package client

import (
	"context"
	"github.com/ValentinKolb/dRing/lib/store"
	"github.com/ValentinKolb/dRing/rpc/operation"
	"github.com/ValentinKolb/dRing/rpc/transport"
)

// invoke sends req to the owner of key. If the call fails the ring is
// refreshed once and the call is retried on the new owner.
func invoke[T operation.Message](c *Client, key string, req operation.Request) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout())
			err := c.Refresh(ctx)
			cancel()
			if err != nil {
				return zero, err
			}
		}

		owner := c.Ring().Owner(key)
		ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout())
		resp, err := transport.Await[T](ctx, c.transport.Ask(ctx, owner, req))
		cancel()
		if err == nil {
			return resp, nil
		}
		Logger.Debugf("%T for %q on %s failed: %v", req, key, owner, err)
		lastErr = err
	}
	return zero, store.Errorf(store.RetCUnreachable, "%T failed: %v", req, lastErr)
}

// ackError converts a failed Ack into a store error
func ackError(ack *operation.Ack) error {
	if err := ack.AsError(); err != nil {
		return store.NewError(store.RetCInternalError, err.Error())
	}
	return nil
}
