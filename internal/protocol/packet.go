// Package protocol implements the wire codec for the XL4Net game transport.
//
// Every datagram carries exactly one packet: a fixed 14-byte little-endian
// header followed by the payload.
//
// Header layout:
//
//	[type 1][sequence 2][ack 2][ackBits 4][channel 1][payloadSize 4]
//
// The ack and ackBits fields piggyback the sender's receive window for the
// reliable channel on every outbound packet (see ack.go).
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/XL4Y3R/XL4Net-sub000/internal/constants"
)

// ErrMalformedPacket is returned by Decode for input that cannot hold a
// well-formed packet.
var ErrMalformedPacket = errors.New("malformed packet")

// ErrBufferTooSmall is returned by Encode when the destination buffer cannot
// hold the header and payload.
var ErrBufferTooSmall = errors.New("buffer too small")

// PacketType identifies the role of a packet.
type PacketType uint8

const (
	TypeHandshake PacketType = iota
	TypeHandshakeAck
	TypePing
	TypePong
	TypeData
	TypeDisconnect
	// TypeAck is a bare header flushing the receive window to a sender when
	// no other outbound traffic is due to piggyback it.
	TypeAck

	typeCount
)

// Valid reports whether t is a known packet type.
func (t PacketType) Valid() bool { return t < typeCount }

func (t PacketType) String() string {
	switch t {
	case TypeHandshake:
		return "Handshake"
	case TypeHandshakeAck:
		return "HandshakeAck"
	case TypePing:
		return "Ping"
	case TypePong:
		return "Pong"
	case TypeData:
		return "Data"
	case TypeDisconnect:
		return "Disconnect"
	case TypeAck:
		return "Ack"
	default:
		return fmt.Sprintf("PacketType(%d)", uint8(t))
	}
}

// ChannelType selects the delivery discipline applied above the socket.
type ChannelType uint8

const (
	// ChannelReliable delivers exactly once, in order, with retransmission.
	ChannelReliable ChannelType = iota
	// ChannelUnreliable is fire-and-forget.
	ChannelUnreliable
	// ChannelSequenced drops packets older than the newest seen.
	ChannelSequenced

	channelCount
)

// Valid reports whether c is a known channel.
func (c ChannelType) Valid() bool { return c < channelCount }

func (c ChannelType) String() string {
	switch c {
	case ChannelReliable:
		return "Reliable"
	case ChannelUnreliable:
		return "Unreliable"
	case ChannelSequenced:
		return "Sequenced"
	default:
		return fmt.Sprintf("ChannelType(%d)", uint8(c))
	}
}

// Packet is a single wire frame. Payload is a borrowed slice: the packet does
// not own the backing buffer, whoever attached it is responsible for it.
type Packet struct {
	Type     PacketType
	Sequence uint16
	Ack      uint16
	AckBits  uint32
	Channel  ChannelType
	Payload  []byte
}

// Header field offsets.
const (
	offType     = 0
	offSequence = 1
	offAck      = 3
	offAckBits  = 5
	offChannel  = 9
	offSize     = 10
)

// Encode writes the packet into buf and returns the number of bytes written.
func (p *Packet) Encode(buf []byte) (int, error) {
	total := constants.HeaderSize + len(p.Payload)
	if len(buf) < total {
		return 0, fmt.Errorf("%w: need %d, have %d", ErrBufferTooSmall, total, len(buf))
	}
	buf[offType] = byte(p.Type)
	binary.LittleEndian.PutUint16(buf[offSequence:], p.Sequence)
	binary.LittleEndian.PutUint16(buf[offAck:], p.Ack)
	binary.LittleEndian.PutUint32(buf[offAckBits:], p.AckBits)
	buf[offChannel] = byte(p.Channel)
	binary.LittleEndian.PutUint32(buf[offSize:], uint32(len(p.Payload)))
	copy(buf[constants.HeaderSize:], p.Payload)
	return total, nil
}

// Decode parses data into p. The payload is copied; p.Payload is reused when
// its capacity suffices, else reallocated. Bytes past the declared payload
// size are ignored.
func (p *Packet) Decode(data []byte) error {
	if len(data) < constants.HeaderSize {
		return fmt.Errorf("%w: %d bytes, header is %d", ErrMalformedPacket, len(data), constants.HeaderSize)
	}
	size := binary.LittleEndian.Uint32(data[offSize:])
	if size > math.MaxInt32 {
		return fmt.Errorf("%w: negative payload size", ErrMalformedPacket)
	}
	n := int(size)
	if n > len(data)-constants.HeaderSize {
		return fmt.Errorf("%w: payload size %d, %d bytes available", ErrMalformedPacket, n, len(data)-constants.HeaderSize)
	}

	p.Type = PacketType(data[offType])
	p.Sequence = binary.LittleEndian.Uint16(data[offSequence:])
	p.Ack = binary.LittleEndian.Uint16(data[offAck:])
	p.AckBits = binary.LittleEndian.Uint32(data[offAckBits:])
	p.Channel = ChannelType(data[offChannel])

	if cap(p.Payload) >= n {
		p.Payload = p.Payload[:n]
	} else {
		p.Payload = make([]byte, n)
	}
	copy(p.Payload, data[constants.HeaderSize:constants.HeaderSize+n])
	return nil
}

// Reset clears the packet for pooling. Payload capacity is kept so a pooled
// packet decodes without reallocating.
func (p *Packet) Reset() {
	p.Type = 0
	p.Sequence = 0
	p.Ack = 0
	p.AckBits = 0
	p.Channel = 0
	if p.Payload != nil {
		p.Payload = p.Payload[:0]
	}
}
