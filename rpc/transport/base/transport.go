package base

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/dRing/lib/executor"
	"github.com/ValentinKolb/dRing/lib/member"
	"github.com/ValentinKolb/dRing/rpc/common"
	"github.com/ValentinKolb/dRing/rpc/operation"
	"github.com/ValentinKolb/dRing/rpc/serializer"
	"github.com/ValentinKolb/dRing/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

var Logger = logger.GetLogger("transport/rpc")

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IConnector defines the interface for transport-specific connection operations
type IConnector interface {
	// GetName returns the name of the transport type (e.g. "tcp")
	GetName() string

	// Listen creates a listener on the endpoint
	Listen(endpoint string) (net.Listener, error)

	// Dial establishes a single connection to the endpoint
	Dial(ctx context.Context, endpoint string, timeout time.Duration) (net.Conn, error)

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.SocketConf) error
}

// -----------------------------------------------------------
// Transport
// -----------------------------------------------------------

var _ transport.IClusterTransport = (*Transport)(nil)

// Transport implements transport.IClusterTransport independent of the
// specific network protocol.
//
// It owns the connection pool and the pending call table. Both are created
// with the transport and torn down by Close.
type Transport struct {
	self       member.Member
	connector  IConnector
	config     common.TransportConfig
	codec      *serializer.Codec
	dispatcher *operation.Dispatcher
	executor   *executor.Pool

	pool     *ConnectionPool
	pending  *PendingCalls
	channels *xsync.MapOf[uint64, *channel] // every open channel by id
	dialing  *xsync.MapOf[string, *sync.Mutex]

	listener      net.Listener
	nextChannelID atomic.Uint64
	closed        atomic.Bool
	wg            sync.WaitGroup
}

// NewTransport creates a new transport with the specified connector.
// self may be zero for pure clients, which never receive calls.
func NewTransport(self member.Member, connector IConnector, config common.TransportConfig, codec *serializer.Codec, dispatcher *operation.Dispatcher, exec *executor.Pool) *Transport {
	return &Transport{
		self:       self,
		connector:  connector,
		config:     config,
		codec:      codec,
		dispatcher: dispatcher,
		executor:   exec,
		pool:       NewConnectionPool(),
		pending:    NewPendingCalls(config.AskTimeout()),
		channels:   xsync.NewMapOf[uint64, *channel](),
		dialing:    xsync.NewMapOf[string, *sync.Mutex](),
	}
}

// Listen starts accepting connections on config.Endpoint and returns once the
// listener is bound. If the endpoint uses port 0 the address of self is
// updated to the bound address.
func (t *Transport) Listen() error {
	listener, err := t.connector.Listen(t.config.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	t.listener = listener

	if _, port, err := net.SplitHostPort(t.self.Addr); t.self.Addr == "" || (err == nil && port == "0") {
		t.self = member.New(t.self.ID, listener.Addr().String())
	}

	Logger.Infof("starting %s transport for %s on %s", t.connector.GetName(), t.self.ID, listener.Addr())

	t.wg.Add(1)
	go t.acceptLoop()
	return nil
}

// Addr returns the address of the listener
func (t *Transport) Addr() net.Addr {
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// PendingCalls returns the pending call table
func (t *Transport) PendingCalls() *PendingCalls {
	return t.pending
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IClusterTransport)
// --------------------------------------------------------------------------

func (t *Transport) Self() member.Member {
	return t.self
}

func (t *Transport) Connect(ctx context.Context, m member.Member) error {
	_, err := t.channelTo(ctx, m)
	return err
}

func (t *Transport) Send(ctx context.Context, m member.Member, msg operation.Message) error {
	ch, err := t.channelTo(ctx, m)
	if err != nil {
		return err
	}
	p, err := t.codec.Encode(msg)
	if err != nil {
		return err
	}
	p.SetSender(t.self)

	metricSends.Inc()
	return ch.write(p)
}

func (t *Transport) Ask(ctx context.Context, m member.Member, req operation.Request) *transport.Future {
	ch, err := t.channelTo(ctx, m)
	if err != nil {
		return transport.Failed(err)
	}
	p, err := t.codec.Encode(req)
	if err != nil {
		return transport.Failed(err)
	}

	seq, future := t.pending.Register(ch.id)
	p.Sequence = seq
	p.Flags = common.FlagExpectsReply
	p.SetSender(t.self)

	metricAsks.Inc()
	if err := ch.write(p); err != nil {
		t.pending.Complete(seq, nil, fmt.Errorf("failed to send %T to %s: %w", req, m, err))
	}
	return future
}

func (t *Transport) Disconnect(m member.Member) {
	if ch, ok := t.pool.get(m.ID); ok {
		ch.close()
	}
}

func (t *Transport) Connected() member.Set {
	return t.pool.members()
}

func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	if t.listener != nil {
		_ = t.listener.Close()
	}
	t.channels.Range(func(_ uint64, ch *channel) bool {
		ch.close()
		return true
	})
	t.pending.Close(transport.ErrTransportClosed)
	t.wg.Wait()
	Logger.Infof("%s transport of %s closed", t.connector.GetName(), t.self.ID)
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// acceptLoop accepts inbound connections until the listener is closed
func (t *Transport) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if t.closed.Load() {
				return
			}
			Logger.Errorf("accept error: %v", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if err := t.connector.UpgradeConnection(conn, t.config.SocketConf); err != nil {
			Logger.Warningf("failed to upgrade connection from %s: %v", conn.RemoteAddr(), err)
			_ = conn.Close()
			continue
		}
		t.start(newChannel(t, conn, member.Member{}, false))
	}
}

// start tracks the channel and runs its read loop
func (t *Transport) start(ch *channel) {
	t.channels.Store(ch.id, ch)
	metricOpenChannels.Inc()
	t.wg.Add(1)
	go ch.readLoop()

	// Close may have missed the channel
	if t.closed.Load() {
		ch.close()
	}
}

// channelTo returns the pooled channel to m and connects if there is none
func (t *Transport) channelTo(ctx context.Context, m member.Member) (*channel, error) {
	if t.closed.Load() {
		return nil, transport.ErrTransportClosed
	}
	if ch, ok := t.pool.get(m.ID); ok {
		return ch, nil
	}

	// only one dial per member at a time
	mu, _ := t.dialing.LoadOrStore(m.ID, &sync.Mutex{})
	mu.Lock()
	defer mu.Unlock()

	if ch, ok := t.pool.get(m.ID); ok {
		return ch, nil
	}

	conn, err := t.dial(ctx, m)
	if err != nil {
		metricConnectFailures.Inc()
		return nil, err
	}

	ch := newChannel(t, conn, m, true)
	if registered := t.pool.register(m.ID, ch); registered != ch {
		// an inbound channel from m was registered while dialing
		_ = conn.Close()
		return registered, nil
	}
	t.start(ch)
	Logger.Infof("connected to %s", m)
	return ch, nil
}

// dial connects to m with retries and exponential backoff
func (t *Transport) dial(ctx context.Context, m member.Member) (net.Conn, error) {
	var lastErr error

	// We always try at least once, and up to maxRetries times
	maxRetries := t.config.Retries()

	// Initial backoff duration in milliseconds
	backoffMs := 50

	for i := 0; i < maxRetries; i++ {
		conn, err := t.connector.Dial(ctx, m.Addr, t.config.DialTimeout())
		if err == nil {
			if err = t.connector.UpgradeConnection(conn, t.config.SocketConf); err == nil {
				return conn, nil
			}
			_ = conn.Close()
		}

		lastErr = err
		Logger.Debugf("connect attempt %d/%d to %s failed: %v", i+1, maxRetries, m, err)

		if i < maxRetries-1 {
			// Exponential backoff with a small random jitter (+-10%)
			jitter := float64(backoffMs) * (0.9 + 0.2*rand.Float64())
			select {
			case <-time.After(time.Duration(jitter) * time.Millisecond):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %s: %v", transport.ErrUnreachable, m, ctx.Err())
			}
			backoffMs *= 2
		}
	}

	return nil, fmt.Errorf("%w: %s after %d attempts: %v", transport.ErrUnreachable, m, maxRetries, lastErr)
}
