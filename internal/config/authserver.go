package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AuthServer holds all configuration for the auth gateway.
type AuthServer struct {
	// Network
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`

	// Database
	Database DatabaseConfig `yaml:"database"`

	// Token signing. The secret is the HMAC key shared out-of-band with
	// game server instances; it must be at least 32 bytes.
	TokenSecret   string        `yaml:"token_secret"`
	TokenLifetime time.Duration `yaml:"token_lifetime"`

	// Password hashing
	BcryptCost int `yaml:"bcrypt_cost"`

	// Rate limiting of failed logins per source address
	RateLimitWindow    time.Duration `yaml:"rate_limit_window"`
	RateLimitThreshold int           `yaml:"rate_limit_threshold"`

	// Attempt log retention
	PurgeSchedule    string        `yaml:"purge_schedule"` // cron expression
	AttemptRetention time.Duration `yaml:"attempt_retention"`

	// Connection handling
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// Observability
	MetricsAddr string `yaml:"metrics_addr"` // empty disables the endpoint
}

// DefaultAuthServer returns AuthServer config with sensible defaults.
// The token secret is a development placeholder and must be overridden
// in any real deployment.
func DefaultAuthServer() AuthServer {
	return AuthServer{
		BindAddress:        "0.0.0.0",
		Port:               2106,
		TokenSecret:        "dev-secret-change-me-0123456789abcdef",
		TokenLifetime:      60 * time.Minute,
		BcryptCost:         12,
		RateLimitWindow:    60 * time.Minute,
		RateLimitThreshold: 5,
		PurgeSchedule:      "@daily",
		AttemptRetention:   7 * 24 * time.Hour,
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       10 * time.Second,
		MetricsAddr:        "",
		Database: DatabaseConfig{
			Host:     "127.0.0.1",
			Port:     5432,
			User:     "xl4net",
			Password: "xl4net",
			DBName:   "xl4net",
			SSLMode:  "disable",
		},
	}
}

// LoadAuthServer loads auth server config from a YAML file.
// If the file doesn't exist, returns defaults.
func LoadAuthServer(path string) (AuthServer, error) {
	cfg := DefaultAuthServer()

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
