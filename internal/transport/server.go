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

	"golang.org/x/time/rate"

	"github.com/XL4Y3R/XL4Net-sub000/internal/config"
	"github.com/XL4Y3R/XL4Net-sub000/internal/constants"
	"github.com/XL4Y3R/XL4Net-sub000/internal/pool"
	"github.com/XL4Y3R/XL4Net-sub000/internal/protocol"
)

// ServerOption customizes server construction.
type ServerOption func(*Server)

// WithServerPools shares externally constructed pools, mainly so tests can
// audit rent/return accounting.
func WithServerPools(packets *pool.Pool[*protocol.Packet], buffers *pool.BufferPool) ServerOption {
	return func(s *Server) {
		s.packets = packets
		s.buffers = buffers
	}
}

// Server is the authoritative side of the datagram transport. One UDP socket
// serves every client; connections are synthesized by the handshake and
// addressed by a server-assigned id starting at 1000.
type Server struct {
	addr      string
	cfg       config.Transport
	validator TokenValidator
	handlers  ServerHandlers

	mu       sync.RWMutex
	conn     PacketConn
	byAddr   map[netip.AddrPort]*Conn
	byID     map[uint32]*Conn
	inflight map[netip.AddrPort]bool // handshakes being validated

	nextID atomic.Uint32
	tick   atomic.Uint32
	closed atomic.Bool

	seqMu         sync.Mutex
	unreliableSeq uint16
	sequencedSeq  uint16

	events  chan event
	packets *pool.Pool[*protocol.Packet]
	buffers *pool.BufferPool
	limiter *rate.Limiter

	counters counters
	wg       sync.WaitGroup
}

// NewServer creates a transport server bound to addr once Run or Serve is
// called. Zero-valued cfg fields fall back to the protocol defaults.
func NewServer(addr string, cfg config.Transport, validator TokenValidator, handlers ServerHandlers, opts ...ServerOption) *Server {
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = constants.DefaultMaxClients
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = constants.HeartbeatInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = constants.HeartbeatTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = constants.HandshakeTimeout
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
	if cfg.HandshakeRate <= 0 {
		cfg.HandshakeRate = float64(rate.Inf)
	}
	if cfg.HandshakeBurst <= 0 {
		cfg.HandshakeBurst = 1
	}

	s := &Server{
		addr:      addr,
		cfg:       cfg,
		validator: validator,
		handlers:  handlers,
		byAddr:    make(map[netip.AddrPort]*Conn),
		byID:      make(map[uint32]*Conn),
		inflight:  make(map[netip.AddrPort]bool),
		events:    make(chan event, cfg.QueueSize),
		limiter:   rate.NewLimiter(rate.Limit(cfg.HandshakeRate), cfg.HandshakeBurst),
	}
	s.nextID.Store(constants.FirstConnectionID - 1)

	for _, opt := range opts {
		opt(s)
	}
	if s.packets == nil {
		s.packets = pool.New(64, 4096,
			func() *protocol.Packet { return &protocol.Packet{} },
			func(p *protocol.Packet) { p.Reset() })
	}
	if s.buffers == nil {
		s.buffers = pool.NewBufferPool(16, 1024)
	}
	return s
}

// Addr returns the bound socket address, nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Run binds the UDP socket and serves until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	udpAddr, err := net.ResolveUDPAddr("udp", s.addr)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", s.addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, conn)
}

// Serve runs the receive and maintenance loops on conn, taking ownership of
// it. It blocks until ctx is canceled, then notifies peers, closes the
// socket and releases every pooled resource.
func (s *Server) Serve(ctx context.Context, conn PacketConn) error {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	slog.Info("game transport listening", "addr", conn.LocalAddr())

	go func() {
		<-ctx.Done()
		s.closed.Store(true)
		s.notifyShutdown()
		conn.Close()
	}()

	s.wg.Go(func() { s.readLoop(ctx) })
	s.wg.Go(func() { s.maintenanceLoop(ctx) })
	s.wg.Wait()

	s.finalize()
	return nil
}

// readLoop blocks on the socket and routes datagrams. It performs no
// application logic; everything observable is queued for ProcessIncoming.
func (s *Server) readLoop(ctx context.Context) {
	buf := make([]byte, constants.MaxDatagramSize)
	for {
		n, addr, err := s.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if s.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			if isConnReset(err) {
				slog.Debug("receive reset", "error", err)
				continue
			}
			s.enqueue(event{kind: evError, reason: fmt.Sprintf("receive: %v", err)})
			continue
		}
		s.counters.packetsReceived.Add(1)
		s.counters.bytesReceived.Add(uint64(n))
		addr = netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
		s.handleDatagram(ctx, buf[:n], addr)
	}
}

func (s *Server) handleDatagram(ctx context.Context, data []byte, addr netip.AddrPort) {
	pkt := s.packets.Rent()
	if err := pkt.Decode(data); err != nil {
		slog.Warn("dropping malformed datagram", "addr", addr, "error", err)
		s.packets.Return(pkt)
		return
	}
	if !pkt.Type.Valid() || !pkt.Channel.Valid() {
		slog.Warn("dropping packet with unknown discriminator",
			"addr", addr, "type", uint8(pkt.Type), "channel", uint8(pkt.Channel))
		s.packets.Return(pkt)
		return
	}

	s.mu.RLock()
	conn := s.byAddr[addr]
	s.mu.RUnlock()

	if conn == nil {
		s.handleUnknown(ctx, pkt, addr)
		return
	}
	s.handleKnown(conn, pkt)
}

// handleUnknown processes datagrams from endpoints without a connection.
// Only a well-formed handshake may open one; everything else is dropped
// without a reply to avoid amplification.
func (s *Server) handleUnknown(ctx context.Context, pkt *protocol.Packet, addr netip.AddrPort) {
	defer s.packets.Return(pkt)

	if pkt.Type != protocol.TypeHandshake {
		return
	}
	token, ok := parseHandshakePayload(pkt.Payload)
	if !ok {
		slog.Debug("handshake with bad magic", "addr", addr)
		return
	}
	if !s.limiter.Allow() {
		slog.Warn("handshake rate exceeded", "addr", addr)
		return
	}

	s.mu.Lock()
	if len(s.byAddr) >= s.cfg.MaxClients {
		s.mu.Unlock()
		slog.Warn("handshake dropped, server full", "addr", addr, "max_clients", s.cfg.MaxClients)
		return
	}
	if s.inflight[addr] {
		s.mu.Unlock()
		return
	}
	s.inflight[addr] = true
	s.mu.Unlock()

	s.wg.Go(func() { s.completeHandshake(ctx, addr, token) })
}

// completeHandshake validates the token off the receive loop, then installs
// the connection and acknowledges. Validation is bounded by the handshake
// timeout so a slow auth backend cannot pin goroutines.
func (s *Server) completeHandshake(ctx context.Context, addr netip.AddrPort, token string) {
	defer func() {
		s.mu.Lock()
		delete(s.inflight, addr)
		s.mu.Unlock()
	}()

	vctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()

	user, err := s.validator.Validate(vctx, token)
	if err != nil {
		slog.Warn("handshake token rejected", "addr", addr, "error", err)
		return
	}

	conn := newConn(s.nextID.Add(1), addr, time.Now(), s.packets, s.buffers)
	conn.user = user

	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		return
	}
	s.byAddr[addr] = conn
	s.byID[conn.id] = conn
	s.mu.Unlock()

	s.sendHandshakeAck(conn)
	s.enqueue(event{kind: evConnected, connID: conn.id})
	slog.Info("client connected", "conn_id", conn.id, "addr", addr, "username", user.Username)
}

func (s *Server) handleKnown(c *Conn, pkt *protocol.Packet) {
	now := time.Now()
	c.touchRecv(now)
	c.ackPending(pkt)

	switch pkt.Type {
	case protocol.TypeHandshake:
		// our ack was lost; repeat it
		s.sendHandshakeAck(c)
		s.packets.Return(pkt)

	case protocol.TypePing:
		s.replyPong(c, pkt)
		s.packets.Return(pkt)

	case protocol.TypePong:
		if ts, _, ok := parseTimestampTick(pkt.Payload); ok {
			c.observeRTT(now.Sub(time.Unix(0, ts)))
		}
		s.packets.Return(pkt)

	case protocol.TypeAck:
		// piggybacked state already applied above
		s.packets.Return(pkt)

	case protocol.TypeDisconnect:
		reason := string(pkt.Payload)
		if reason == "" {
			reason = "Disconnected by peer"
		}
		s.packets.Return(pkt)
		s.dropConn(c, reason, false)

	case protocol.TypeData:
		s.handleData(c, pkt)

	default:
		slog.Warn("unhandled packet type", "conn_id", c.id, "type", pkt.Type)
		s.packets.Return(pkt)
	}
}

func (s *Server) handleData(c *Conn, pkt *protocol.Packet) {
	switch pkt.Channel {
	case protocol.ChannelReliable:
		deliver, buffered := c.admitReliable(pkt)
		s.sendAck(c)
		for _, p := range deliver {
			s.enqueue(event{kind: evData, connID: c.id, pkt: p})
		}
		if len(deliver) == 0 && !buffered {
			s.packets.Return(pkt)
		}

	case protocol.ChannelSequenced:
		if c.admitSequenced(pkt) {
			s.enqueue(event{kind: evData, connID: c.id, pkt: pkt})
		} else {
			s.packets.Return(pkt)
		}

	default:
		s.enqueue(event{kind: evData, connID: c.id, pkt: pkt})
	}
}

// enqueue publishes an event for ProcessIncoming without ever blocking the
// I/O loops. On overflow the event is dropped and its packet reclaimed.
func (s *Server) enqueue(ev event) {
	select {
	case s.events <- ev:
	default:
		s.counters.eventsDropped.Add(1)
		if ev.pkt != nil {
			s.packets.Return(ev.pkt)
		}
		slog.Warn("inbound queue full, dropping event", "kind", ev.kind)
	}
}

// ProcessIncoming drains up to max queued events, invoking handlers
// synchronously on the calling goroutine. max <= 0 uses the configured
// batch size. Returns the number of events dispatched.
func (s *Server) ProcessIncoming(max int) int {
	if max <= 0 {
		max = s.cfg.ProcessBatch
	}
	n := 0
	for n < max {
		select {
		case ev := <-s.events:
			s.dispatch(ev)
			n++
		default:
			return n
		}
	}
	return n
}

func (s *Server) dispatch(ev event) {
	switch ev.kind {
	case evConnected:
		if h := s.handlers.OnClientConnected; h != nil {
			h(ev.connID)
		}
	case evDisconnected:
		if h := s.handlers.OnClientDisconnected; h != nil {
			h(ev.connID, ev.reason)
		}
	case evData:
		if h := s.handlers.OnData; h != nil {
			h(ev.connID, ev.pkt.Channel, ev.pkt.Payload)
		}
		s.packets.Return(ev.pkt)
	case evError:
		if h := s.handlers.OnError; h != nil {
			h(ev.reason)
		}
	}
}

// Send writes payload to the connection on the given channel. Reliable
// payloads are copied for the retransmit queue; the caller keeps ownership
// of its slice on every channel.
func (s *Server) Send(connID uint32, channel protocol.ChannelType, payload []byte) error {
	if len(payload) > constants.MaxPayloadSize {
		return ErrPayloadTooLarge
	}
	s.mu.RLock()
	c := s.byID[connID]
	s.mu.RUnlock()
	if c == nil {
		return ErrConnectionNotFound
	}
	return s.sendOn(c, channel, protocol.TypeData, payload)
}

func (s *Server) sendOn(c *Conn, channel protocol.ChannelType, ptype protocol.PacketType, payload []byte) error {
	var seq uint16
	switch channel {
	case protocol.ChannelReliable:
		seq = c.nextReliableSeq()
	case protocol.ChannelSequenced:
		seq = s.nextSequencedSeq()
	case protocol.ChannelUnreliable:
		seq = s.nextUnreliableSeq()
	}

	ack, bits := c.ackState()
	pkt := protocol.Packet{
		Type:     ptype,
		Sequence: seq,
		Ack:      ack,
		AckBits:  bits,
		Channel:  channel,
		Payload:  payload,
	}
	if err := s.writePacket(&pkt, c.addr); err != nil {
		return fmt.Errorf("sending to conn %d: %w", c.id, err)
	}
	now := time.Now()
	c.touchSent(now)

	if channel == protocol.ChannelReliable {
		cp := s.buffers.Rent(len(payload))
		copy(cp, payload)
		c.trackReliable(seq, cp, now, s.cfg.RetransmitInitial)
	}
	return nil
}

// Broadcast sends payload to every connection on the given channel.
func (s *Server) Broadcast(channel protocol.ChannelType, payload []byte) error {
	return s.BroadcastExcept(channel, payload, 0)
}

// BroadcastExcept sends payload to every connection except the given id
// (0 skips nobody). Unreliable and sequenced broadcasts encode the frame
// once and repeat only the socket write; a shared frame cannot carry
// per-peer ack state, so those fields are zeroed. Reliable broadcasts fall
// back to per-connection sends so retransmission tracking stays per peer.
func (s *Server) BroadcastExcept(channel protocol.ChannelType, payload []byte, except uint32) error {
	if len(payload) > constants.MaxPayloadSize {
		return ErrPayloadTooLarge
	}
	conns := s.snapshotConns()

	if channel == protocol.ChannelReliable {
		for _, c := range conns {
			if c.id == except {
				continue
			}
			if err := s.sendOn(c, channel, protocol.TypeData, payload); err != nil {
				slog.Warn("broadcast send failed", "conn_id", c.id, "error", err)
			}
		}
		return nil
	}

	var seq uint16
	if channel == protocol.ChannelSequenced {
		seq = s.nextSequencedSeq()
	} else {
		seq = s.nextUnreliableSeq()
	}
	pkt := protocol.Packet{
		Type:     protocol.TypeData,
		Sequence: seq,
		Channel:  channel,
		Payload:  payload,
	}

	buf := s.buffers.Rent(constants.HeaderSize + len(payload))
	defer s.buffers.Return(buf)
	n, err := pkt.Encode(buf)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, c := range conns {
		if c.id == except {
			continue
		}
		if _, err := s.conn.WriteToUDPAddrPort(buf[:n], c.addr); err != nil {
			slog.Warn("broadcast send failed", "conn_id", c.id, "error", err)
			continue
		}
		s.counters.packetsSent.Add(1)
		s.counters.bytesSent.Add(uint64(n))
		c.touchSent(now)
	}
	return nil
}

// Disconnect drops the connection with the given reason, notifying the peer.
func (s *Server) Disconnect(connID uint32, reason string) error {
	s.mu.RLock()
	c := s.byID[connID]
	s.mu.RUnlock()
	if c == nil {
		return ErrConnectionNotFound
	}
	s.dropConn(c, reason, true)
	return nil
}

// dropConn removes the connection from the maps, releases its pooled
// resources and queues the disconnect event exactly once.
func (s *Server) dropConn(c *Conn, reason string, notify bool) {
	s.mu.Lock()
	if _, ok := s.byID[c.id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.byAddr, c.addr)
	delete(s.byID, c.id)
	s.mu.Unlock()

	if notify {
		pkt := protocol.Packet{
			Type:    protocol.TypeDisconnect,
			Channel: protocol.ChannelUnreliable,
			Payload: []byte(reason),
		}
		if err := s.writePacket(&pkt, c.addr); err != nil {
			slog.Debug("disconnect notice failed", "conn_id", c.id, "error", err)
		}
	}

	c.teardown()
	s.enqueue(event{kind: evDisconnected, connID: c.id, reason: reason})
	slog.Info("client disconnected", "conn_id", c.id, "addr", c.addr, "reason", reason)
}

// maintenanceLoop scans connections on a short cadence: retransmits overdue
// reliable packets, declares silent peers dead and keeps idle links warm
// with pings.
func (s *Server) maintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(constants.RetransmitScanInterval)
	defer ticker.Stop()
	scratch := make([]byte, constants.MaxDatagramSize)

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.runMaintenance(now, scratch)
		}
	}
}

func (s *Server) runMaintenance(now time.Time, scratch []byte) {
	for _, c := range s.snapshotConns() {
		recvIdle, sendIdle := c.idleSince(now)
		if recvIdle > s.cfg.HeartbeatTimeout {
			s.dropConn(c, constants.ReasonHeartbeatTimeout, false)
			continue
		}

		sent, stalled := c.retransmitDue(now, s.cfg.RetransmitInitial, s.cfg.RetransmitMaxAttempts, scratch, func(b []byte) error {
			_, err := s.conn.WriteToUDPAddrPort(b, c.addr)
			if err == nil {
				s.counters.packetsSent.Add(1)
				s.counters.bytesSent.Add(uint64(len(b)))
			}
			return err
		})
		if stalled {
			s.dropConn(c, constants.ReasonReliableStalled, true)
			continue
		}
		if sent > 0 {
			s.counters.retransmits.Add(uint64(sent))
			continue
		}

		if sendIdle >= s.cfg.HeartbeatInterval {
			s.sendPing(c, now)
		}
	}
}

func (s *Server) sendHandshakeAck(c *Conn) {
	var scratch [handshakeAckSize]byte
	pkt := protocol.Packet{
		Type:    protocol.TypeHandshakeAck,
		Channel: protocol.ChannelUnreliable,
		Payload: encodeHandshakeAck(scratch[:], c.id, s.tick.Load()),
	}
	if err := s.writePacket(&pkt, c.addr); err != nil {
		slog.Warn("handshake ack failed", "conn_id", c.id, "error", err)
		return
	}
	c.touchSent(time.Now())
}

func (s *Server) sendPing(c *Conn, now time.Time) {
	var scratch [pingPayloadSize]byte
	ack, bits := c.ackState()
	pkt := protocol.Packet{
		Type:    protocol.TypePing,
		Ack:     ack,
		AckBits: bits,
		Channel: protocol.ChannelUnreliable,
		Payload: encodeTimestampTick(scratch[:], now.UnixNano(), s.tick.Load()),
	}
	if err := s.writePacket(&pkt, c.addr); err != nil {
		slog.Debug("ping failed", "conn_id", c.id, "error", err)
		return
	}
	c.touchSent(now)
}

// replyPong echoes the ping timestamp and attaches the server tick, which
// clients use for tick synchronization.
func (s *Server) replyPong(c *Conn, ping *protocol.Packet) {
	ts, _, ok := parseTimestampTick(ping.Payload)
	if !ok {
		return
	}
	var scratch [pingPayloadSize]byte
	ack, bits := c.ackState()
	pkt := protocol.Packet{
		Type:    protocol.TypePong,
		Ack:     ack,
		AckBits: bits,
		Channel: protocol.ChannelUnreliable,
		Payload: encodeTimestampTick(scratch[:], ts, s.tick.Load()),
	}
	if err := s.writePacket(&pkt, c.addr); err != nil {
		slog.Debug("pong failed", "conn_id", c.id, "error", err)
		return
	}
	c.touchSent(time.Now())
}

// sendAck flushes the receive window to the peer so its retransmit queue
// drains even when no application traffic is flowing back.
func (s *Server) sendAck(c *Conn) {
	ack, bits := c.ackState()
	pkt := protocol.Packet{
		Type:    protocol.TypeAck,
		Ack:     ack,
		AckBits: bits,
		Channel: protocol.ChannelUnreliable,
	}
	if err := s.writePacket(&pkt, c.addr); err != nil {
		slog.Debug("ack send failed", "conn_id", c.id, "error", err)
		return
	}
	c.touchSent(time.Now())
}

// writePacket encodes p into a pooled buffer and writes it to addr.
func (s *Server) writePacket(p *protocol.Packet, addr netip.AddrPort) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	buf := s.buffers.Rent(constants.HeaderSize + len(p.Payload))
	defer s.buffers.Return(buf)
	n, err := p.Encode(buf)
	if err != nil {
		return err
	}
	if _, err := conn.WriteToUDPAddrPort(buf[:n], addr); err != nil {
		return err
	}
	s.counters.packetsSent.Add(1)
	s.counters.bytesSent.Add(uint64(n))
	return nil
}

func (s *Server) nextUnreliableSeq() uint16 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	s.unreliableSeq++
	return s.unreliableSeq
}

func (s *Server) nextSequencedSeq() uint16 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	s.sequencedSeq++
	return s.sequencedSeq
}

func (s *Server) snapshotConns() []*Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conns := make([]*Conn, 0, len(s.byID))
	for _, c := range s.byID {
		conns = append(conns, c)
	}
	return conns
}

// notifyShutdown sends a best-effort Disconnect to every peer while the
// socket is still open.
func (s *Server) notifyShutdown() {
	for _, c := range s.snapshotConns() {
		pkt := protocol.Packet{
			Type:    protocol.TypeDisconnect,
			Channel: protocol.ChannelUnreliable,
			Payload: []byte(constants.ReasonServerShutdown),
		}
		if err := s.writePacket(&pkt, c.addr); err != nil {
			slog.Debug("shutdown notice failed", "conn_id", c.id, "error", err)
		}
	}
}

// finalize runs after both loops exit: every connection record is torn down
// with its disconnect handler invoked directly, and the inbound queue is
// drained with all packets returned to the pool.
func (s *Server) finalize() {
	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.byID))
	for _, c := range s.byID {
		conns = append(conns, c)
	}
	s.byAddr = make(map[netip.AddrPort]*Conn)
	s.byID = make(map[uint32]*Conn)
	s.mu.Unlock()

	for _, c := range conns {
		c.teardown()
		if h := s.handlers.OnClientDisconnected; h != nil {
			h(c.id, constants.ReasonServerShutdown)
		}
		slog.Info("client disconnected", "conn_id", c.id, "reason", constants.ReasonServerShutdown)
	}

	for {
		select {
		case ev := <-s.events:
			if ev.pkt != nil {
				s.packets.Return(ev.pkt)
			}
		default:
			return
		}
	}
}

// SetTick publishes the current simulation tick; it rides on handshake acks
// and pongs.
func (s *Server) SetTick(t uint32) { s.tick.Store(t) }

// Tick returns the last published simulation tick.
func (s *Server) Tick() uint32 { return s.tick.Load() }

// ConnectionCount returns the number of established connections.
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// ConnectionIDs returns the ids of all established connections.
func (s *Server) ConnectionIDs() []uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]uint32, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	return ids
}

// User returns the token identity bound to the connection at handshake.
func (s *Server) User(connID uint32) (TokenInfo, bool) {
	s.mu.RLock()
	c := s.byID[connID]
	s.mu.RUnlock()
	if c == nil {
		return TokenInfo{}, false
	}
	return c.User(), true
}

// RTT returns the smoothed round-trip estimate for the connection.
func (s *Server) RTT(connID uint32) (time.Duration, bool) {
	s.mu.RLock()
	c := s.byID[connID]
	s.mu.RUnlock()
	if c == nil {
		return 0, false
	}
	return c.RTT(), true
}

// Stats returns a snapshot of the transport counters.
func (s *Server) Stats() Stats { return s.counters.snapshot() }

// PacketPoolStats exposes packet pool accounting for leak auditing.
func (s *Server) PacketPoolStats() pool.Stats { return s.packets.Stats() }

// BufferPoolStats exposes buffer pool accounting for leak auditing.
func (s *Server) BufferPoolStats() pool.Stats { return s.buffers.Stats() }
