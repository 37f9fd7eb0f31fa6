package transport

import (
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/XL4Y3R/XL4Net-sub000/internal/constants"
	"github.com/XL4Y3R/XL4Net-sub000/internal/pool"
	"github.com/XL4Y3R/XL4Net-sub000/internal/protocol"
)

// ConnState is the lifecycle state of a peer association.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateHandshaking
	StateConnected
	StateClosing
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateHandshaking:
		return "Handshaking"
	case StateConnected:
		return "Connected"
	case StateClosing:
		return "Closing"
	default:
		return "Unknown"
	}
}

// pendingPacket is one unacknowledged reliable payload awaiting an ack or
// the next retransmission. The payload is a pooled copy owned by the conn.
type pendingPacket struct {
	seq       uint16
	payload   []byte
	attempts  int
	nextRetry time.Time
}

// Conn is one side's view of a peer: per-channel sequence counters, the
// reliable send queue, the receive-side ack window and ordering state, and
// liveness bookkeeping. All mutable fields are guarded by mu; the I/O loops
// and the application may touch a conn concurrently.
type Conn struct {
	id   uint32
	addr netip.AddrPort

	state atomic.Int32

	packets *pool.Pool[*protocol.Packet]
	buffers *pool.BufferPool

	mu sync.Mutex

	// send side
	reliableSeq uint16
	pending     map[uint16]*pendingPacket

	// receive side
	recvWindow  protocol.AckWindow
	expectedSeq uint16                      // next in-order reliable sequence
	recvBuffer  map[uint16]*protocol.Packet // out-of-order reliable arrivals
	seqHighest  uint16                      // sequenced channel watermark
	seqInit     bool

	// liveness
	lastRecv time.Time
	lastSent time.Time
	rtt      time.Duration

	user TokenInfo
}

func newConn(id uint32, addr netip.AddrPort, now time.Time, packets *pool.Pool[*protocol.Packet], buffers *pool.BufferPool) *Conn {
	c := &Conn{
		id:          id,
		addr:        addr,
		packets:     packets,
		buffers:     buffers,
		pending:     make(map[uint16]*pendingPacket),
		expectedSeq: 1,
		recvBuffer:  make(map[uint16]*protocol.Packet),
		lastRecv:    now,
		lastSent:    now,
	}
	c.state.Store(int32(StateConnected))
	return c
}

// ID returns the server-assigned connection id.
func (c *Conn) ID() uint32 { return c.id }

// Addr returns the peer's remote endpoint.
func (c *Conn) Addr() netip.AddrPort { return c.addr }

// State returns the current lifecycle state.
func (c *Conn) State() ConnState { return ConnState(c.state.Load()) }

func (c *Conn) setState(s ConnState) { c.state.Store(int32(s)) }

// User returns the token identity bound at handshake.
func (c *Conn) User() TokenInfo { return c.user }

// RTT returns the smoothed round-trip estimate, zero before the first pong.
func (c *Conn) RTT() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rtt
}

func (c *Conn) touchRecv(now time.Time) {
	c.mu.Lock()
	c.lastRecv = now
	c.mu.Unlock()
}

func (c *Conn) touchSent(now time.Time) {
	c.mu.Lock()
	c.lastSent = now
	c.mu.Unlock()
}

// idleSince reports how long the conn has gone without inbound and without
// outbound traffic.
func (c *Conn) idleSince(now time.Time) (recvIdle, sendIdle time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.lastRecv), now.Sub(c.lastSent)
}

// observeRTT folds one round-trip sample into the smoothed estimate.
func (c *Conn) observeRTT(sample time.Duration) {
	if sample < 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rtt == 0 {
		c.rtt = sample
		return
	}
	c.rtt = time.Duration(constants.RTTSmoothing*float64(c.rtt) + (1-constants.RTTSmoothing)*float64(sample))
}

// nextReliableSeq allocates the sequence for an outgoing reliable packet.
func (c *Conn) nextReliableSeq() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reliableSeq++
	return c.reliableSeq
}

// ackState snapshots the receive window for piggybacking on an outbound packet.
func (c *Conn) ackState() (ack uint16, bits uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recvWindow.Ack, c.recvWindow.Bits
}

// trackReliable registers an outbound reliable payload copy for
// retransmission. The conn takes ownership of the pooled payload.
func (c *Conn) trackReliable(seq uint16, payload []byte, now time.Time, initial time.Duration) {
	c.mu.Lock()
	c.pending[seq] = &pendingPacket{
		seq:       seq,
		payload:   payload,
		nextRetry: now.Add(initial),
	}
	c.mu.Unlock()
}

// ackPending drops every send-queue entry acknowledged by the packet's
// piggybacked ack state, returning the freed payload buffers to the pool.
func (c *Conn) ackPending(p *protocol.Packet) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for seq, pp := range c.pending {
		if p.IsAcked(seq) {
			c.buffers.Return(pp.payload)
			delete(c.pending, seq)
			n++
		}
	}
	return n
}

// admitReliable applies dedup and ordering to an inbound reliable packet and
// updates the ack window. It returns the packets now deliverable in order;
// p is owned by the deliver slice, by the reorder buffer when buffered is
// true, or by the caller (a duplicate to discard) otherwise.
func (c *Conn) admitReliable(p *protocol.Packet) (deliver []*protocol.Packet, buffered bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seq := p.Sequence
	c.recvWindow.MarkAcked(seq)

	switch {
	case seq == c.expectedSeq:
		deliver = append(deliver, p)
		c.expectedSeq++
		for {
			next, ok := c.recvBuffer[c.expectedSeq]
			if !ok {
				break
			}
			delete(c.recvBuffer, c.expectedSeq)
			deliver = append(deliver, next)
			c.expectedSeq++
		}
		return deliver, false

	case protocol.IsSequenceNewer(seq, c.expectedSeq):
		if _, dup := c.recvBuffer[seq]; dup {
			return nil, false
		}
		c.recvBuffer[seq] = p
		return nil, true

	default:
		// already delivered; the refreshed window re-acks it
		return nil, false
	}
}

// admitSequenced reports whether an inbound sequenced packet beats the
// watermark, advancing it. Older arrivals are dropped by the caller.
func (c *Conn) admitSequenced(p *protocol.Packet) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.seqInit || protocol.IsSequenceNewer(p.Sequence, c.seqHighest) {
		c.seqHighest = p.Sequence
		c.seqInit = true
		return true
	}
	return false
}

// retransmitDue resends every pending entry whose retry deadline passed,
// doubling its backoff. The send callback runs under the conn mutex so a
// concurrent ack cannot free a payload mid-write. stalled reports an entry
// that exhausted its attempts; the caller is expected to drop the conn.
func (c *Conn) retransmitDue(now time.Time, initial time.Duration, maxAttempts int, scratch []byte, send func([]byte) error) (sent int, stalled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, pp := range c.pending {
		if now.Before(pp.nextRetry) {
			continue
		}
		if pp.attempts >= maxAttempts {
			return sent, true
		}

		pkt := protocol.Packet{
			Type:     protocol.TypeData,
			Sequence: pp.seq,
			Ack:      c.recvWindow.Ack,
			AckBits:  c.recvWindow.Bits,
			Channel:  protocol.ChannelReliable,
			Payload:  pp.payload,
		}
		n, err := pkt.Encode(scratch)
		if err != nil {
			continue
		}
		if err := send(scratch[:n]); err != nil {
			return sent, false
		}

		pp.attempts++
		pp.nextRetry = now.Add(initial << pp.attempts)
		c.lastSent = now
		sent++
	}
	return sent, false
}

// teardown releases every pooled resource still held by the conn.
func (c *Conn) teardown() {
	c.setState(StateDisconnected)
	c.mu.Lock()
	defer c.mu.Unlock()
	for seq, pp := range c.pending {
		c.buffers.Return(pp.payload)
		delete(c.pending, seq)
	}
	for seq, p := range c.recvBuffer {
		c.packets.Return(p)
		delete(c.recvBuffer, seq)
	}
}
