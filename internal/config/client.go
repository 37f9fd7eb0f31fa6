package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/XL4Y3R/XL4Net-sub000/internal/sim"
)

// Client holds all configuration for a game client.
type Client struct {
	// Auth gateway endpoint for register/login
	AuthAddr string `yaml:"auth_addr"`

	// Simulation; movement settings must match the server's or every
	// snapshot reconciles as a misprediction.
	TickRate int                  `yaml:"tick_rate"`
	Movement sim.MovementSettings `yaml:"movement"`

	// Transport
	Transport ClientTransport `yaml:"transport"`

	// Prediction
	Prediction Prediction `yaml:"prediction"`
}

// DefaultClient returns Client config with sensible defaults.
func DefaultClient() Client {
	return Client{
		AuthAddr:   "127.0.0.1:2106",
		TickRate:   30,
		Movement:   sim.DefaultMovementSettings(),
		Transport:  DefaultClientTransport(),
		Prediction: DefaultPrediction(),
	}
}

// LoadClient loads client config from a YAML file.
// If the file doesn't exist, returns defaults.
func LoadClient(path string) (Client, error) {
	cfg := DefaultClient()

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
