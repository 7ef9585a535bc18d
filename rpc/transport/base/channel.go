package base

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/dRing/lib/member"
	"github.com/ValentinKolb/dRing/rpc/common"
	"github.com/ValentinKolb/dRing/rpc/operation"
	"github.com/ValentinKolb/dRing/rpc/serializer"
	"github.com/ValentinKolb/dRing/rpc/transport"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// channel is one connection to another node. Channels are symmetric: both
// sides send calls and replies over the same connection.
type channel struct {
	id        uint64
	conn      net.Conn
	transport *Transport

	// remote is set before the channel is registered in the pool and never
	// changes afterwards. Inbound channels learn it from the first packet.
	remote   atomic.Pointer[member.Member]
	outbound bool

	writeMu sync.Mutex
	closed  atomic.Bool
	done    chan struct{}
}

func newChannel(t *Transport, conn net.Conn, remote member.Member, outbound bool) *channel {
	c := &channel{
		id:        t.nextChannelID.Add(1),
		conn:      conn,
		transport: t,
		outbound:  outbound,
		done:      make(chan struct{}),
	}
	if !remote.IsZero() {
		c.remote.Store(&remote)
	}
	return c
}

// remoteMember returns the member on the other side (zero if not known yet)
func (c *channel) remoteMember() member.Member {
	if m := c.remote.Load(); m != nil {
		return *m
	}
	return member.Member{}
}

func (c *channel) isClosed() bool {
	return c.closed.Load()
}

// write encodes and sends a single packet
func (c *channel) write(p *common.Packet) error {
	if c.isClosed() {
		return fmt.Errorf("write to %s: %w", c.describe(), transport.ErrConnectionClosed)
	}

	data, err := serializer.MarshalPacket(p)
	if err != nil {
		return err
	}

	// Lock the connection only for writing
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.transport.config.DialTimeout())); err != nil {
		return err
	}
	if err := writeFrame(c.conn, data); err != nil {
		return err
	}
	metricBytesSent.Add(len(data) + 4)
	return nil
}

// close closes the connection. The read loop cleans up afterwards.
func (c *channel) close() {
	if c.closed.CompareAndSwap(false, true) {
		_ = c.conn.Close()
	}
}

// readLoop reads frames until the connection fails and hands every packet to
// the transport. It runs on its own goroutine, one per channel.
func (c *channel) readLoop() {
	defer c.transport.wg.Done()
	defer c.cleanup()

	var buf []byte
	for {
		data, err := readFrame(c.conn, buf)
		if err != nil {
			if !errors.Is(err, io.EOF) && !c.isClosed() && !c.transport.closed.Load() {
				Logger.Warningf("channel %d to %s failed: %v", c.id, c.describe(), err)
			}
			return
		}
		metricBytesReceived.Add(len(data) + 4)

		// the packet body references data, which must stay valid until the
		// message is decoded, so the buffer is not reused
		var p common.Packet
		if err := serializer.UnmarshalPacket(data, &p); err != nil {
			Logger.Errorf("dropping malformed packet from %s: %v", c.describe(), err)
			continue
		}
		c.handle(&p)
	}
}

// handle processes one inbound packet
func (c *channel) handle(p *common.Packet) {
	t := c.transport

	// learn the remote member of an inbound channel
	if p.HasSender() && c.remote.Load() == nil {
		sender := p.Sender
		c.remote.Store(&sender)
		if registered := t.pool.register(sender.ID, c); registered == c {
			Logger.Debugf("registered inbound channel %d from %s", c.id, sender)
		}
	}

	msg, err := t.codec.Decode(p)

	if p.IsReply() {
		metricReplies.Inc()
		if !t.pending.Complete(p.Sequence, msg, err) {
			Logger.Debugf("dropping reply %d from %s: call already completed or expired", p.Sequence, c.describe())
		}
		return
	}

	if err != nil {
		Logger.Errorf("failed to decode packet from %s: %v", c.describe(), err)
		return
	}

	sender := p.Sender
	seq := p.Sequence
	var reply operation.ReplyFunc
	if p.ExpectsReply() {
		reply = func(resp operation.Message) error {
			return c.reply(seq, resp)
		}
	}

	// all messages of this channel run on the same worker, in arrival order
	if !t.executor.Child(c.id).Execute(func() {
		if err := t.dispatcher.DispatchAddressable(msg, sender, reply); err != nil {
			metricHandlerErrors.Inc()
			Logger.Errorf("handling %T from %s failed: %v", msg, c.describe(), err)
		}
	}) {
		Logger.Warningf("executor closed, dropping %T from %s", msg, c.describe())
	}
}

// reply sends a reply for the call with the given sequence
func (c *channel) reply(seq uint64, msg operation.Message) error {
	p, err := c.transport.codec.Encode(msg)
	if err != nil {
		return err
	}
	p.Sequence = seq
	p.Flags = common.FlagReply
	return c.write(p)
}

// cleanup runs once the read loop exits
func (c *channel) cleanup() {
	c.close()
	close(c.done)
	metricOpenChannels.Dec()

	t := c.transport
	t.channels.Delete(c.id)
	if remote := c.remoteMember(); !remote.IsZero() {
		t.pool.remove(remote.ID, c)
	}
	if failed := t.pending.FailChannel(c.id, transport.ErrConnectionClosed); failed > 0 {
		metricClosedCalls.Add(failed)
		Logger.Infof("channel %d to %s closed, failed %d pending calls", c.id, c.describe(), failed)
	} else {
		Logger.Debugf("channel %d to %s closed", c.id, c.describe())
	}
}

func (c *channel) describe() string {
	if remote := c.remoteMember(); !remote.IsZero() {
		return remote.String()
	}
	return c.conn.RemoteAddr().String()
}
