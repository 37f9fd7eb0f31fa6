// Package config loads YAML configuration for the auth server, the game
// server and client tooling. Missing files fall back to defaults so the
// binaries run out of the box.
package config

import (
	"fmt"
	"time"
)

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// Transport holds the datagram transport knobs for a server instance.
type Transport struct {
	MaxClients            int           `yaml:"max_clients"`
	HeartbeatInterval     time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout      time.Duration `yaml:"heartbeat_timeout"`
	HandshakeTimeout      time.Duration `yaml:"handshake_timeout"`
	RetransmitInitial     time.Duration `yaml:"retransmit_initial"`
	RetransmitMaxAttempts int           `yaml:"retransmit_max_attempts"`
	ProcessBatch          int           `yaml:"process_batch"`
	QueueSize             int           `yaml:"queue_size"`

	// Handshake flood gate: token-bucket rate of new handshake attempts
	// admitted per instance.
	HandshakeRate  float64 `yaml:"handshake_rate"`
	HandshakeBurst int     `yaml:"handshake_burst"`
}

// DefaultTransport returns Transport tuned to the protocol defaults.
func DefaultTransport() Transport {
	return Transport{
		MaxClients:            100,
		HeartbeatInterval:     1 * time.Second,
		HeartbeatTimeout:      5 * time.Second,
		HandshakeTimeout:      3 * time.Second,
		RetransmitInitial:     100 * time.Millisecond,
		RetransmitMaxAttempts: 5,
		ProcessBatch:          100,
		QueueSize:             1024,
		HandshakeRate:         50,
		HandshakeBurst:        100,
	}
}

// ClientTransport holds the datagram transport knobs for the client side.
type ClientTransport struct {
	ServerAddr            string        `yaml:"server_addr"`
	HandshakeTimeout      time.Duration `yaml:"handshake_timeout"`
	HandshakeResend       time.Duration `yaml:"handshake_resend"`
	HeartbeatInterval     time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout      time.Duration `yaml:"heartbeat_timeout"`
	RetransmitInitial     time.Duration `yaml:"retransmit_initial"`
	RetransmitMaxAttempts int           `yaml:"retransmit_max_attempts"`
	ProcessBatch          int           `yaml:"process_batch"`
	QueueSize             int           `yaml:"queue_size"`
}

// DefaultClientTransport returns ClientTransport with protocol defaults.
func DefaultClientTransport() ClientTransport {
	return ClientTransport{
		ServerAddr:            "127.0.0.1:7777",
		HandshakeTimeout:      3 * time.Second,
		HandshakeResend:       500 * time.Millisecond,
		HeartbeatInterval:     1 * time.Second,
		HeartbeatTimeout:      5 * time.Second,
		RetransmitInitial:     100 * time.Millisecond,
		RetransmitMaxAttempts: 5,
		ProcessBatch:          100,
		QueueSize:             1024,
	}
}

// Prediction holds client-side prediction tuning.
type Prediction struct {
	RingCapacity      int     `yaml:"ring_capacity"`
	PositionTolerance float64 `yaml:"position_tolerance"`
	VelocityTolerance float64 `yaml:"velocity_tolerance"`
	MaxTickDrift      int     `yaml:"max_tick_drift"`
}

// DefaultPrediction returns Prediction with reference tolerances.
func DefaultPrediction() Prediction {
	return Prediction{
		RingCapacity:      64,
		PositionTolerance: 0.01,
		VelocityTolerance: 0.1,
		MaxTickDrift:      10,
	}
}
