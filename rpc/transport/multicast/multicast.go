package multicast

import (
	"encoding/binary"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dRing/lib/executor"
	"github.com/ValentinKolb/dRing/lib/member"
	"github.com/ValentinKolb/dRing/rpc/common"
	"github.com/ValentinKolb/dRing/rpc/operation"
	"github.com/ValentinKolb/dRing/rpc/serializer"
	"github.com/ValentinKolb/dRing/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"golang.org/x/net/ipv4"
	"net"
	"sync"
	"sync/atomic"
)

var Logger = logger.GetLogger("transport/multicast")

// maxDatagramSize is the largest payload of a single UDP datagram
const maxDatagramSize = 65507

var (
	metricSent     = metrics.NewCounter(`dring_multicast_sent_total`)
	metricReceived = metrics.NewCounter(`dring_multicast_received_total`)
	metricSelf     = metrics.NewCounter(`dring_multicast_dropped_total{reason="self"}`)
	metricInvalid  = metrics.NewCounter(`dring_multicast_dropped_total{reason="invalid"}`)
	metricRejected = metrics.NewCounter(`dring_multicast_dropped_total{reason="request"}`)
	metricMuted    = metrics.NewCounter(`dring_multicast_dropped_total{reason="left"}`)
)

// ErrNotOperation is returned for datagrams carrying a message that is not an operation
var ErrNotOperation = errors.New("broadcast message is not an operation")

var _ transport.IBroadcastTransport = (*Transport)(nil)

// Transport implements transport.IBroadcastTransport over an IPv4 multicast group
type Transport struct {
	self       member.Member
	config     common.MulticastConfig
	codec      *serializer.Codec
	dispatcher *operation.Dispatcher
	executor   executor.Executor

	group *net.UDPAddr
	ifi   *net.Interface
	conn  *net.UDPConn
	pconn *ipv4.PacketConn

	mu     sync.Mutex // serializes Join and Leave
	joined atomic.Bool
	closed atomic.Bool
	wg     sync.WaitGroup
}

// New opens the group socket, joins the group and starts receiving.
// Received operations are dispatched on exec.
func New(self member.Member, config common.MulticastConfig, codec *serializer.Codec, dispatcher *operation.Dispatcher, exec executor.Executor) (*Transport, error) {
	group, err := net.ResolveUDPAddr("udp4", config.Group)
	if err != nil {
		return nil, fmt.Errorf("invalid multicast group %q: %w", config.Group, err)
	}
	if !group.IP.IsMulticast() {
		return nil, fmt.Errorf("%s is not a multicast address", group.IP)
	}

	var ifi *net.Interface
	if config.Interface != "" {
		if ifi, err = net.InterfaceByName(config.Interface); err != nil {
			return nil, fmt.Errorf("unknown interface %q: %w", config.Interface, err)
		}
	}

	// binds the group port with address reuse and joins the group
	conn, err := net.ListenMulticastUDP("udp4", ifi, group)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on multicast group %s: %w", group, err)
	}

	pconn := ipv4.NewPacketConn(conn)
	if err := pconn.SetMulticastLoopback(config.Loopback); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to set multicast loopback: %w", err)
	}
	if config.TTL > 0 {
		if err := pconn.SetMulticastTTL(config.TTL); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to set multicast ttl: %w", err)
		}
	}
	if ifi != nil {
		if err := pconn.SetMulticastInterface(ifi); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to set multicast interface: %w", err)
		}
	}

	t := &Transport{
		self:       self,
		config:     config,
		codec:      codec,
		dispatcher: dispatcher,
		executor:   exec,
		group:      group,
		ifi:        ifi,
		conn:       conn,
		pconn:      pconn,
	}
	t.joined.Store(true)

	t.wg.Add(1)
	go t.readLoop()

	Logger.Infof("joined multicast group %s as %s", group, self)
	return t, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IBroadcastTransport)
// --------------------------------------------------------------------------

// Broadcast sends the operation to the group. While the group is left,
// broadcasts are skipped, so Leave mutes discovery in both directions.
func (t *Transport) Broadcast(op operation.Operation) error {
	if t.closed.Load() {
		return transport.ErrTransportClosed
	}
	if !t.joined.Load() {
		Logger.Debugf("group left, skipping broadcast of %T", op)
		return nil
	}

	data, err := t.encode(op)
	if err != nil {
		return err
	}
	if _, err := t.pconn.WriteTo(data, nil, t.group); err != nil {
		return fmt.Errorf("failed to broadcast %T: %w", op, err)
	}
	metricSent.Inc()
	return nil
}

func (t *Transport) Join() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed.Load() {
		return transport.ErrTransportClosed
	}
	if t.joined.Load() {
		return nil
	}
	if err := t.pconn.JoinGroup(t.ifi, &net.UDPAddr{IP: t.group.IP}); err != nil {
		return fmt.Errorf("failed to join group %s: %w", t.group, err)
	}
	t.joined.Store(true)
	Logger.Infof("joined multicast group %s", t.group)
	return nil
}

func (t *Transport) Leave() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed.Load() {
		return transport.ErrTransportClosed
	}
	if !t.joined.Load() {
		return nil
	}
	if err := t.pconn.LeaveGroup(t.ifi, &net.UDPAddr{IP: t.group.IP}); err != nil {
		return fmt.Errorf("failed to leave group %s: %w", t.group, err)
	}
	t.joined.Store(false)
	Logger.Infof("left multicast group %s", t.group)
	return nil
}

func (t *Transport) Joined() bool {
	return t.joined.Load()
}

func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := t.conn.Close()
	t.wg.Wait()
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// encode creates a datagram: 4 byte big endian length + packet with sender
func (t *Transport) encode(op operation.Operation) ([]byte, error) {
	p, err := t.codec.Encode(op)
	if err != nil {
		return nil, err
	}
	p.SetSender(t.self)

	packet, err := serializer.MarshalPacket(p)
	if err != nil {
		return nil, err
	}
	if len(packet)+4 > maxDatagramSize {
		return nil, fmt.Errorf("%T of %d bytes does not fit into a datagram", op, len(packet))
	}

	data := make([]byte, 4+len(packet))
	binary.BigEndian.PutUint32(data[:4], uint32(len(packet)))
	copy(data[4:], packet)
	return data, nil
}

func (t *Transport) readLoop() {
	defer t.wg.Done()

	buf := make([]byte, maxDatagramSize)
	for {
		n, _, src, err := t.pconn.ReadFrom(buf)
		if err != nil {
			if t.closed.Load() {
				return
			}
			Logger.Errorf("read error: %v", err)
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		if err := t.handleDatagram(data); err != nil {
			Logger.Debugf("dropping datagram from %v: %v", src, err)
		}
	}
}

// handleDatagram decodes a datagram and dispatches the operation it carries.
// Self-originated datagrams and datagrams arriving after Leave are dropped
// without error.
func (t *Transport) handleDatagram(data []byte) error {
	metricReceived.Inc()

	// the socket may still receive group traffic after leaving, e.g. while
	// another socket on the host is a member (IP_MULTICAST_ALL on linux)
	if !t.joined.Load() {
		metricMuted.Inc()
		return nil
	}

	if len(data) < 4 || int(binary.BigEndian.Uint32(data[:4])) != len(data)-4 {
		metricInvalid.Inc()
		return fmt.Errorf("invalid length prefix")
	}

	var p common.Packet
	if err := serializer.UnmarshalPacket(data[4:], &p); err != nil {
		metricInvalid.Inc()
		return err
	}
	if !p.HasSender() {
		metricInvalid.Inc()
		return fmt.Errorf("datagram without sender")
	}
	if p.Sender.Equal(t.self) {
		metricSelf.Inc()
		return nil
	}

	msg, err := t.codec.Decode(&p)
	if err != nil {
		metricInvalid.Inc()
		return err
	}
	if _, ok := msg.(operation.Operation); !ok {
		metricRejected.Inc()
		return fmt.Errorf("%w: %T from %s", ErrNotOperation, msg, p.Sender)
	}

	sender := p.Sender
	run := func() {
		if err := t.dispatcher.DispatchBroadcast(msg, sender); err != nil {
			Logger.Errorf("handling %T from %s failed: %v", msg, sender, err)
		}
	}
	if t.executor == nil {
		run()
		return nil
	}
	if !t.executor.Execute(run) {
		return fmt.Errorf("executor closed")
	}
	return nil
}
