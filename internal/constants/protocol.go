package constants

import "time"

// Wire Protocol Constants
//
// This file contains all protocol-level constants for the XL4Net transport.
// Header layout and handshake framing are fixed; changing any value here is a
// wire-protocol break and requires a new ProtocolMagic.

// Handshake Constants
const (
	// ProtocolMagic is the magic number opening every handshake payload ("XL4N").
	// Incompatible protocol revisions get a new magic instead of a version field.
	ProtocolMagic = 0x584C344E

	// HandshakeTimeout is how long a client waits for HandshakeAck before
	// reporting failure.
	HandshakeTimeout = 3 * time.Second

	// HandshakeResendInterval is how often the client repeats its Handshake
	// within the timeout window; the packet may be lost either way.
	HandshakeResendInterval = 500 * time.Millisecond
)

// Packet Structure Constants
const (
	// HeaderSize is the fixed packet header size in bytes:
	// [type 1][sequence 2][ack 2][ackBits 4][channel 1][payloadSize 4], little-endian.
	HeaderSize = 14

	// MaxDatagramSize is the largest datagram the transport will send or accept.
	// Chosen to stay under typical path MTU and avoid IP fragmentation.
	MaxDatagramSize = 1400

	// MaxPayloadSize is the largest payload that fits in a single datagram.
	MaxPayloadSize = MaxDatagramSize - HeaderSize
)

// Port Constants
const (
	// DefaultGamePort is the default UDP port for the game transport.
	DefaultGamePort = 7777

	// DefaultAuthPort is the default TCP port for the auth gateway.
	DefaultAuthPort = 2106
)

// Connection Constants
const (
	// FirstConnectionID is the ID assigned to the first accepted connection.
	// IDs below this value are reserved.
	FirstConnectionID = 1000

	// DefaultMaxClients is the default connection capacity of a game server.
	DefaultMaxClients = 100
)

// Reliability Constants
const (
	// AckWindowSize is the number of sequences covered by the ackBits field.
	AckWindowSize = 32

	// RetransmitInitial is the timeout before the first retransmission of an
	// unacknowledged reliable packet. Doubles after every attempt.
	RetransmitInitial = 100 * time.Millisecond

	// RetransmitMaxAttempts is the number of retransmissions before the
	// connection is declared failed.
	RetransmitMaxAttempts = 5

	// RetransmitScanInterval is how often pending reliable packets are scanned
	// for expired timeouts. Half the initial timeout bounds scan lateness.
	RetransmitScanInterval = 50 * time.Millisecond
)

// Heartbeat Constants
const (
	// HeartbeatInterval is how often each side sends Ping.
	HeartbeatInterval = 1 * time.Second

	// HeartbeatTimeout is how long a connection may stay silent before it is
	// declared dead.
	HeartbeatTimeout = 5 * time.Second

	// RTTSmoothing is the weight of the previous estimate in the smoothed RTT:
	// srtt = RTTSmoothing*srtt + (1-RTTSmoothing)*sample.
	RTTSmoothing = 0.875
)

// Tick Constants
const (
	// DefaultTickRate is the simulation tick rate in Hz for both the server
	// loop and client prediction.
	DefaultTickRate = 30

	// DefaultProcessBatch is the maximum number of inbound packets drained per
	// ProcessIncoming call.
	DefaultProcessBatch = 100

	// DefaultInboundQueue is the capacity of the transport inbound queue.
	DefaultInboundQueue = 1024
)

// Disconnect Reasons
//
// Reason strings travel in Disconnect payloads and OnClientDisconnected
// callbacks; tests and operators match on them verbatim.
const (
	// ReasonHeartbeatTimeout is reported when a peer goes silent past HeartbeatTimeout.
	ReasonHeartbeatTimeout = "Heartbeat timeout"

	// ReasonReliableStalled is reported when a reliable packet exhausts all
	// retransmission attempts.
	ReasonReliableStalled = "Reliable channel stalled"

	// ReasonServerShutdown is broadcast to every connection during graceful shutdown.
	ReasonServerShutdown = "Server shutdown"

	// ReasonHandshakeTimeout is reported by a client whose handshake got no answer.
	ReasonHandshakeTimeout = "handshake timeout"
)
