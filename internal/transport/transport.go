// Package transport implements the connection-oriented datagram transport:
// reliable, unreliable and sequenced delivery over a single UDP socket per
// side, with a token-validated handshake, heartbeats and selective acks.
//
// Threading model: a receive loop blocks on the socket and never runs
// application logic; decoded packets are published to a bounded queue and
// the application drains them with ProcessIncoming once per tick. A
// maintenance loop drives retransmissions, pings and liveness checks. All
// handlers run synchronously on the goroutine calling ProcessIncoming.
package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"net/netip"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/XL4Y3R/XL4Net-sub000/internal/constants"
	"github.com/XL4Y3R/XL4Net-sub000/internal/protocol"
)

var (
	// ErrNotConnected is returned by client sends before the handshake
	// completes or after the session closed.
	ErrNotConnected = errors.New("not connected")

	// ErrConnectionNotFound is returned for sends to an unknown connection id.
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrPayloadTooLarge is returned when a payload cannot fit in one datagram.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrHandshakeTimeout is returned by Connect when the server never
	// acknowledged within the handshake deadline.
	ErrHandshakeTimeout = errors.New(constants.ReasonHandshakeTimeout)
)

// TokenInfo identifies the account behind a validated auth token.
type TokenInfo struct {
	UserID   string
	Username string
}

// TokenValidator checks the bearer token presented during handshake.
// Implementations must be safe for concurrent use.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (TokenInfo, error)
}

// ServerHandlers receives server-side transport events. All callbacks run on
// the goroutine calling ProcessIncoming; Data payloads are pooled and only
// valid for the duration of the callback. Nil entries are skipped.
type ServerHandlers struct {
	OnClientConnected    func(connID uint32)
	OnClientDisconnected func(connID uint32, reason string)
	OnData               func(connID uint32, channel protocol.ChannelType, payload []byte)
	OnError              func(msg string)
}

// ClientHandlers receives client-side transport events, with the same
// dispatch and payload-ownership rules as ServerHandlers. OnServerTick
// reports the server tick carried by a pong together with the one-way
// latency estimate.
type ClientHandlers struct {
	OnConnected    func()
	OnDisconnected func(reason string)
	OnData         func(channel protocol.ChannelType, payload []byte)
	OnServerTick   func(serverTick uint32, oneWay time.Duration)
	OnError        func(msg string)
}

// PacketConn is the subset of *net.UDPConn the server uses. It exists so
// tests can interpose loss or latency between the transport and the wire.
type PacketConn interface {
	ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error)
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
	Close() error
	LocalAddr() net.Addr
}

// ClientConn is the connected-socket counterpart of PacketConn.
type ClientConn interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	Close() error
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

// Stats is a point-in-time snapshot of transport counters.
type Stats struct {
	PacketsSent     uint64
	PacketsReceived uint64
	BytesSent       uint64
	BytesReceived   uint64
	Retransmits     uint64
	EventsDropped   uint64
}

type counters struct {
	packetsSent     atomic.Uint64
	packetsReceived atomic.Uint64
	bytesSent       atomic.Uint64
	bytesReceived   atomic.Uint64
	retransmits     atomic.Uint64
	eventsDropped   atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		PacketsSent:     c.packetsSent.Load(),
		PacketsReceived: c.packetsReceived.Load(),
		BytesSent:       c.bytesSent.Load(),
		BytesReceived:   c.bytesReceived.Load(),
		Retransmits:     c.retransmits.Load(),
		EventsDropped:   c.eventsDropped.Load(),
	}
}

type eventKind uint8

const (
	evConnected eventKind = iota
	evDisconnected
	evData
	evError
	evServerTick
)

// event is the single cross-goroutine handoff between the I/O loops and the
// application tick. Data events own their packet until dispatched.
type event struct {
	kind   eventKind
	connID uint32
	reason string
	pkt    *protocol.Packet
	tick   uint32
	oneWay time.Duration
}

// Handshake payload: 4-byte magic followed by the raw token bytes.
// HandshakeAck payload: connection id and server tick, 4 bytes each.
// Ping/Pong payload: send timestamp (unix nanos) and sender tick.
const (
	handshakeMinSize = 4
	handshakeAckSize = 8
	pingPayloadSize  = 12
)

func encodeHandshakePayload(token string) []byte {
	buf := make([]byte, handshakeMinSize+len(token))
	binary.LittleEndian.PutUint32(buf, constants.ProtocolMagic)
	copy(buf[handshakeMinSize:], token)
	return buf
}

func parseHandshakePayload(payload []byte) (token string, ok bool) {
	if len(payload) < handshakeMinSize {
		return "", false
	}
	if binary.LittleEndian.Uint32(payload) != constants.ProtocolMagic {
		return "", false
	}
	return string(payload[handshakeMinSize:]), true
}

func encodeHandshakeAck(buf []byte, connID, serverTick uint32) []byte {
	binary.LittleEndian.PutUint32(buf[0:4], connID)
	binary.LittleEndian.PutUint32(buf[4:8], serverTick)
	return buf[:handshakeAckSize]
}

func parseHandshakeAck(payload []byte) (connID, serverTick uint32, ok bool) {
	if len(payload) < handshakeAckSize {
		return 0, 0, false
	}
	return binary.LittleEndian.Uint32(payload[0:4]), binary.LittleEndian.Uint32(payload[4:8]), true
}

func encodeTimestampTick(buf []byte, ts int64, tick uint32) []byte {
	binary.LittleEndian.PutUint64(buf[0:8], uint64(ts))
	binary.LittleEndian.PutUint32(buf[8:12], tick)
	return buf[:pingPayloadSize]
}

func parseTimestampTick(payload []byte) (ts int64, tick uint32, ok bool) {
	if len(payload) < pingPayloadSize {
		return 0, 0, false
	}
	return int64(binary.LittleEndian.Uint64(payload[0:8])), binary.LittleEndian.Uint32(payload[8:12]), true
}

// isConnReset reports whether err is an ICMP-driven reset surfaced on the
// UDP socket. Harmless for a connectionless protocol: the peer may simply
// not be up yet, or went away between datagrams.
func isConnReset(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED)
}
