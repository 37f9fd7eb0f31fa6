package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/XL4Y3R/XL4Net-sub000/internal/sim"
)

// GameServer holds all configuration for the game server.
type GameServer struct {
	// Network
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`

	// Simulation
	TickRate int                  `yaml:"tick_rate"`
	Movement sim.MovementSettings `yaml:"movement"`

	// Token validation. The secret is the HMAC key shared with the auth
	// gateway; token checks run locally, no gateway round-trip at handshake.
	TokenSecret string `yaml:"token_secret"`

	// Transport
	Transport Transport `yaml:"transport"`

	// Observability
	MetricsAddr string `yaml:"metrics_addr"` // empty disables the endpoint
}

// ListenAddr returns the UDP address the transport binds to.
func (g GameServer) ListenAddr() string {
	return fmt.Sprintf("%s:%d", g.BindAddress, g.Port)
}

// DefaultGameServer returns GameServer config with sensible defaults.
func DefaultGameServer() GameServer {
	return GameServer{
		BindAddress: "0.0.0.0",
		Port:        7777,
		TickRate:    30,
		Movement:    sim.DefaultMovementSettings(),
		TokenSecret: "dev-secret-change-me-0123456789abcdef",
		Transport:   DefaultTransport(),
		MetricsAddr: "",
	}
}

// LoadGameServer loads game server config from a YAML file.
// If the file doesn't exist, returns defaults.
func LoadGameServer(path string) (GameServer, error) {
	cfg := DefaultGameServer()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}
