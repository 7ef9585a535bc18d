package cluster

import (
	"context"
	"github.com/ValentinKolb/dRing/lib/member"
	"github.com/ValentinKolb/dRing/rpc/transport"
	"time"
)

// Probe asks the node at addr for the status of its cluster. The node is
// contacted under a placeholder identity that is disconnected afterwards,
// so addr does not need to be a known member.
func Probe(ctx context.Context, t transport.IClusterTransport, addr string, timeout time.Duration) (*StatusResponse, error) {
	seed := member.New("seed:"+addr, addr)
	defer t.Disconnect(seed)

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return transport.Await[*StatusResponse](callCtx, t.Ask(callCtx, seed, &StatusRequest{}))
}
