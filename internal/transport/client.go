package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/XL4Y3R/XL4Net-sub000/internal/config"
	"github.com/XL4Y3R/XL4Net-sub000/internal/constants"
	"github.com/XL4Y3R/XL4Net-sub000/internal/pool"
	"github.com/XL4Y3R/XL4Net-sub000/internal/protocol"
)

// ClientOption customizes client construction.
type ClientOption func(*Client)

// WithClientPools shares externally constructed pools.
func WithClientPools(packets *pool.Pool[*protocol.Packet], buffers *pool.BufferPool) ClientOption {
	return func(c *Client) {
		c.packets = packets
		c.buffers = buffers
	}
}

// WithClientConn injects a pre-dialed socket instead of letting Connect
// dial the configured server address. Tests use it to interpose loss.
func WithClientConn(conn ClientConn) ClientOption {
	return func(c *Client) {
		c.conn = conn
	}
}

// Client is the connecting side of the datagram transport: one connected
// UDP socket, one server peer.
type Client struct {
	cfg      config.ClientTransport
	handlers ClientHandlers

	conn ClientConn
	peer *Conn

	state      atomic.Int32
	connID     atomic.Uint32
	tick       atomic.Uint32
	serverTick atomic.Uint32

	// discNotice survives the teardown drain so the application learns why
	// the session died even when it polls slower than the loops shut down.
	discNotice atomic.Pointer[string]

	seqMu         sync.Mutex
	unreliableSeq uint16
	sequencedSeq  uint16

	events  chan event
	packets *pool.Pool[*protocol.Packet]
	buffers *pool.BufferPool

	hsDone    chan struct{}
	hsOnce    sync.Once
	closeCh   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	counters counters
}

// NewClient creates a client for the configured server address. Zero-valued
// cfg fields fall back to the protocol defaults.
func NewClient(cfg config.ClientTransport, handlers ClientHandlers, opts ...ClientOption) *Client {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = constants.HandshakeTimeout
	}
	if cfg.HandshakeResend <= 0 {
		cfg.HandshakeResend = constants.HandshakeResendInterval
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = constants.HeartbeatInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = constants.HeartbeatTimeout
	}
	if cfg.RetransmitInitial <= 0 {
		cfg.RetransmitInitial = constants.RetransmitInitial
	}
	if cfg.RetransmitMaxAttempts <= 0 {
		cfg.RetransmitMaxAttempts = constants.RetransmitMaxAttempts
	}
	if cfg.ProcessBatch <= 0 {
		cfg.ProcessBatch = constants.DefaultProcessBatch
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = constants.DefaultInboundQueue
	}

	c := &Client{
		cfg:      cfg,
		handlers: handlers,
		events:   make(chan event, cfg.QueueSize),
		hsDone:   make(chan struct{}),
		closeCh:  make(chan struct{}),
	}
	c.state.Store(int32(StateDisconnected))

	for _, opt := range opts {
		opt(c)
	}
	if c.packets == nil {
		c.packets = pool.New(32, 1024,
			func() *protocol.Packet { return &protocol.Packet{} },
			func(p *protocol.Packet) { p.Reset() })
	}
	if c.buffers == nil {
		c.buffers = pool.NewBufferPool(8, 256)
	}
	return c
}

// Connect dials the server, performs the token handshake and starts the
// receive and maintenance loops. It blocks until the server acknowledges,
// ctx is canceled or the handshake deadline passes; on deadline it fires
// OnError with the timeout reason and returns ErrHandshakeTimeout.
func (c *Client) Connect(ctx context.Context, token string) error {
	if c.conn == nil {
		raddr, err := net.ResolveUDPAddr("udp", c.cfg.ServerAddr)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", c.cfg.ServerAddr, err)
		}
		conn, err := net.DialUDP("udp", nil, raddr)
		if err != nil {
			return fmt.Errorf("dialing %s: %w", c.cfg.ServerAddr, err)
		}
		c.conn = conn
	}

	remote := remoteAddrPort(c.conn)
	c.peer = newConn(0, remote, time.Now(), c.packets, c.buffers)
	c.state.Store(int32(StateHandshaking))

	c.wg.Go(c.readLoop)
	c.wg.Go(c.maintenanceLoop)

	payload := encodeHandshakePayload(token)
	deadline := time.NewTimer(c.cfg.HandshakeTimeout)
	defer deadline.Stop()
	resend := time.NewTicker(c.cfg.HandshakeResend)
	defer resend.Stop()

	c.sendHandshake(payload)
	for {
		select {
		case <-c.hsDone:
			c.state.Store(int32(StateConnected))
			slog.Info("connected", "server", remote, "conn_id", c.connID.Load())
			if h := c.handlers.OnConnected; h != nil {
				h()
			}
			return nil

		case <-resend.C:
			c.sendHandshake(payload)

		case <-deadline.C:
			if h := c.handlers.OnError; h != nil {
				h(constants.ReasonHandshakeTimeout)
			}
			c.Close()
			return ErrHandshakeTimeout

		case <-ctx.Done():
			c.Close()
			return ctx.Err()
		}
	}
}

func (c *Client) sendHandshake(payload []byte) {
	pkt := protocol.Packet{
		Type:    protocol.TypeHandshake,
		Channel: protocol.ChannelUnreliable,
		Payload: payload,
	}
	if err := c.writePacket(&pkt); err != nil {
		slog.Debug("handshake send failed", "error", err)
	}
}

func (c *Client) readLoop() {
	buf := make([]byte, constants.MaxDatagramSize)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if isConnReset(err) {
				// server not reachable yet; handshake resends cover this
				slog.Debug("receive reset", "error", err)
				continue
			}
			c.enqueue(event{kind: evError, reason: fmt.Sprintf("receive: %v", err)})
			continue
		}
		c.counters.packetsReceived.Add(1)
		c.counters.bytesReceived.Add(uint64(n))
		c.handleDatagram(buf[:n])
	}
}

func (c *Client) handleDatagram(data []byte) {
	pkt := c.packets.Rent()
	if err := pkt.Decode(data); err != nil {
		slog.Warn("dropping malformed datagram", "error", err)
		c.packets.Return(pkt)
		return
	}

	now := time.Now()
	c.peer.touchRecv(now)
	c.peer.ackPending(pkt)

	switch pkt.Type {
	case protocol.TypeHandshakeAck:
		if id, tick, ok := parseHandshakeAck(pkt.Payload); ok {
			c.hsOnce.Do(func() {
				c.connID.Store(id)
				c.serverTick.Store(tick)
				close(c.hsDone)
			})
		}
		c.packets.Return(pkt)

	case protocol.TypePing:
		c.replyPong(pkt)
		c.packets.Return(pkt)

	case protocol.TypePong:
		if ts, tick, ok := parseTimestampTick(pkt.Payload); ok {
			sample := now.Sub(time.Unix(0, ts))
			c.peer.observeRTT(sample)
			c.serverTick.Store(tick)
			c.enqueue(event{kind: evServerTick, tick: tick, oneWay: sample / 2})
		}
		c.packets.Return(pkt)

	case protocol.TypeAck:
		c.packets.Return(pkt)

	case protocol.TypeDisconnect:
		reason := string(pkt.Payload)
		if reason == "" {
			reason = "Disconnected by server"
		}
		c.packets.Return(pkt)
		c.dropPeer(reason)

	case protocol.TypeData:
		c.handleData(pkt)

	default:
		slog.Warn("unhandled packet type", "type", pkt.Type)
		c.packets.Return(pkt)
	}
}

func (c *Client) handleData(pkt *protocol.Packet) {
	switch pkt.Channel {
	case protocol.ChannelReliable:
		deliver, buffered := c.peer.admitReliable(pkt)
		c.sendAck()
		for _, p := range deliver {
			c.enqueue(event{kind: evData, pkt: p})
		}
		if len(deliver) == 0 && !buffered {
			c.packets.Return(pkt)
		}

	case protocol.ChannelSequenced:
		if c.peer.admitSequenced(pkt) {
			c.enqueue(event{kind: evData, pkt: pkt})
		} else {
			c.packets.Return(pkt)
		}

	default:
		c.enqueue(event{kind: evData, pkt: pkt})
	}
}

// maintenanceLoop mirrors the server's: retransmits, liveness, pings. It
// only acts once the handshake completed.
func (c *Client) maintenanceLoop() {
	ticker := time.NewTicker(constants.RetransmitScanInterval)
	defer ticker.Stop()
	scratch := make([]byte, constants.MaxDatagramSize)

	for {
		select {
		case <-c.closeCh:
			return
		case now := <-ticker.C:
			if c.State() != StateConnected {
				continue
			}

			recvIdle, sendIdle := c.peer.idleSince(now)
			if recvIdle > c.cfg.HeartbeatTimeout {
				c.dropPeer(constants.ReasonHeartbeatTimeout)
				continue
			}

			sent, stalled := c.peer.retransmitDue(now, c.cfg.RetransmitInitial, c.cfg.RetransmitMaxAttempts, scratch, func(b []byte) error {
				_, err := c.conn.Write(b)
				if err == nil {
					c.counters.packetsSent.Add(1)
					c.counters.bytesSent.Add(uint64(len(b)))
				}
				return err
			})
			if stalled {
				c.dropPeer(constants.ReasonReliableStalled)
				continue
			}
			if sent > 0 {
				c.counters.retransmits.Add(uint64(sent))
				continue
			}

			if sendIdle >= c.cfg.HeartbeatInterval {
				c.sendPing(now)
			}
		}
	}
}

// enqueue publishes an event for ProcessIncoming without blocking the I/O
// loops; overflow drops the event and reclaims its packet.
func (c *Client) enqueue(ev event) {
	select {
	case c.events <- ev:
	default:
		c.counters.eventsDropped.Add(1)
		if ev.pkt != nil {
			c.packets.Return(ev.pkt)
		}
		slog.Warn("inbound queue full, dropping event", "kind", ev.kind)
	}
}

// ProcessIncoming drains up to max queued events, invoking handlers
// synchronously on the calling goroutine. max <= 0 uses the configured
// batch size. Once the queue is empty a pending disconnect notice is
// delivered, exactly once. Returns the number of events dispatched.
func (c *Client) ProcessIncoming(max int) int {
	if max <= 0 {
		max = c.cfg.ProcessBatch
	}
	n := 0
	for n < max {
		select {
		case ev := <-c.events:
			c.dispatch(ev)
			n++
		default:
			if r := c.discNotice.Swap(nil); r != nil {
				if h := c.handlers.OnDisconnected; h != nil {
					h(*r)
				}
				n++
			}
			return n
		}
	}
	return n
}

func (c *Client) dispatch(ev event) {
	switch ev.kind {
	case evData:
		if h := c.handlers.OnData; h != nil {
			h(ev.pkt.Channel, ev.pkt.Payload)
		}
		c.packets.Return(ev.pkt)
	case evServerTick:
		if h := c.handlers.OnServerTick; h != nil {
			h(ev.tick, ev.oneWay)
		}
	case evError:
		if h := c.handlers.OnError; h != nil {
			h(ev.reason)
		}
	}
}

// Send writes payload to the server on the given channel. Reliable payloads
// are copied for the retransmit queue; the caller keeps ownership of its
// slice on every channel.
func (c *Client) Send(channel protocol.ChannelType, payload []byte) error {
	if c.State() != StateConnected {
		return ErrNotConnected
	}
	if len(payload) > constants.MaxPayloadSize {
		return ErrPayloadTooLarge
	}

	var seq uint16
	switch channel {
	case protocol.ChannelReliable:
		seq = c.peer.nextReliableSeq()
	case protocol.ChannelSequenced:
		seq = c.nextSequencedSeq()
	case protocol.ChannelUnreliable:
		seq = c.nextUnreliableSeq()
	}

	ack, bits := c.peer.ackState()
	pkt := protocol.Packet{
		Type:     protocol.TypeData,
		Sequence: seq,
		Ack:      ack,
		AckBits:  bits,
		Channel:  channel,
		Payload:  payload,
	}
	if err := c.writePacket(&pkt); err != nil {
		return fmt.Errorf("sending: %w", err)
	}
	now := time.Now()
	c.peer.touchSent(now)

	if channel == protocol.ChannelReliable {
		cp := c.buffers.Rent(len(payload))
		copy(cp, payload)
		c.peer.trackReliable(seq, cp, now, c.cfg.RetransmitInitial)
	}
	return nil
}

func (c *Client) sendPing(now time.Time) {
	var scratch [pingPayloadSize]byte
	ack, bits := c.peer.ackState()
	pkt := protocol.Packet{
		Type:    protocol.TypePing,
		Ack:     ack,
		AckBits: bits,
		Channel: protocol.ChannelUnreliable,
		Payload: encodeTimestampTick(scratch[:], now.UnixNano(), c.tick.Load()),
	}
	if err := c.writePacket(&pkt); err != nil {
		slog.Debug("ping failed", "error", err)
		return
	}
	c.peer.touchSent(now)
}

func (c *Client) replyPong(ping *protocol.Packet) {
	ts, _, ok := parseTimestampTick(ping.Payload)
	if !ok {
		return
	}
	var scratch [pingPayloadSize]byte
	ack, bits := c.peer.ackState()
	pkt := protocol.Packet{
		Type:    protocol.TypePong,
		Ack:     ack,
		AckBits: bits,
		Channel: protocol.ChannelUnreliable,
		Payload: encodeTimestampTick(scratch[:], ts, c.tick.Load()),
	}
	if err := c.writePacket(&pkt); err != nil {
		slog.Debug("pong failed", "error", err)
		return
	}
	c.peer.touchSent(time.Now())
}

func (c *Client) sendAck() {
	ack, bits := c.peer.ackState()
	pkt := protocol.Packet{
		Type:    protocol.TypeAck,
		Ack:     ack,
		AckBits: bits,
		Channel: protocol.ChannelUnreliable,
	}
	if err := c.writePacket(&pkt); err != nil {
		slog.Debug("ack send failed", "error", err)
		return
	}
	c.peer.touchSent(time.Now())
}

// writePacket encodes p into a pooled buffer and writes it to the server.
func (c *Client) writePacket(p *protocol.Packet) error {
	buf := c.buffers.Rent(constants.HeaderSize + len(p.Payload))
	defer c.buffers.Return(buf)
	n, err := p.Encode(buf)
	if err != nil {
		return err
	}
	if _, err := c.conn.Write(buf[:n]); err != nil {
		return err
	}
	c.counters.packetsSent.Add(1)
	c.counters.bytesSent.Add(uint64(n))
	return nil
}

// dropPeer ends the session from inside an I/O loop: record the disconnect
// notice, then close.
func (c *Client) dropPeer(reason string) {
	if !c.transition(StateConnected, StateClosing) && !c.transition(StateHandshaking, StateClosing) {
		return
	}
	c.discNotice.Store(&reason)
	slog.Info("disconnected", "reason", reason)
	c.Close()
}

func (c *Client) transition(from, to ConnState) bool {
	return c.state.CompareAndSwap(int32(from), int32(to))
}

// Close tears down the session. A best-effort Disconnect notice is sent
// when the handshake had completed. Safe to call from handlers and from the
// I/O loops; pooled resources are reclaimed once the loops exit.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if c.State() == StateConnected {
			pkt := protocol.Packet{
				Type:    protocol.TypeDisconnect,
				Channel: protocol.ChannelUnreliable,
			}
			if err := c.writePacket(&pkt); err != nil {
				slog.Debug("disconnect notice failed", "error", err)
			}
		}
		c.state.Store(int32(StateDisconnected))
		close(c.closeCh)
		if c.conn != nil {
			c.conn.Close()
		}

		go func() {
			c.wg.Wait()
			if c.peer != nil {
				c.peer.teardown()
			}
			c.drainEvents()
		}()
	})
	return nil
}

func (c *Client) drainEvents() {
	for {
		select {
		case ev := <-c.events:
			if ev.pkt != nil {
				c.packets.Return(ev.pkt)
			}
		default:
			return
		}
	}
}

func (c *Client) nextUnreliableSeq() uint16 {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()
	c.unreliableSeq++
	return c.unreliableSeq
}

func (c *Client) nextSequencedSeq() uint16 {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()
	c.sequencedSeq++
	return c.sequencedSeq
}

// State returns the session lifecycle state.
func (c *Client) State() ConnState { return ConnState(c.state.Load()) }

// ConnectionID returns the server-assigned id, zero before the handshake.
func (c *Client) ConnectionID() uint32 { return c.connID.Load() }

// RTT returns the smoothed round-trip estimate.
func (c *Client) RTT() time.Duration {
	if c.peer == nil {
		return 0
	}
	return c.peer.RTT()
}

// ServerTick returns the last tick observed from the server.
func (c *Client) ServerTick() uint32 { return c.serverTick.Load() }

// SetTick publishes the local simulation tick; it rides on pings and pongs.
func (c *Client) SetTick(t uint32) { c.tick.Store(t) }

// Stats returns a snapshot of the transport counters.
func (c *Client) Stats() Stats { return c.counters.snapshot() }

// PacketPoolStats exposes packet pool accounting for leak auditing.
func (c *Client) PacketPoolStats() pool.Stats { return c.packets.Stats() }

func remoteAddrPort(conn ClientConn) netip.AddrPort {
	if ua, ok := conn.RemoteAddr().(*net.UDPAddr); ok {
		return ua.AddrPort()
	}
	return netip.AddrPort{}
}
