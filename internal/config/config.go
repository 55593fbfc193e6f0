package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// HomeConfig is the dashboard configuration loaded from home.yaml.
type HomeConfig struct {
	Version int `yaml:"version"`
	Home    struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"home"`
	Network struct {
		APIPort int `yaml:"api_port"`
		DBPort  int `yaml:"db_port"`
	} `yaml:"network"`
	Sync struct {
		// PendingGraceMS is how long a completed command stays in the
		// pending set to absorb fast round-trip flicker.
		PendingGraceMS int `yaml:"pending_grace_ms"`
	} `yaml:"sync"`
}

// APIPort returns the configured API port, defaulting to 8080 if not set.
func (c *HomeConfig) APIPort() int {
	if c.Network.APIPort == 0 {
		return 8080
	}
	return c.Network.APIPort
}

// PendingGrace returns the pending grace window, defaulting to 250ms if
// not set. A negative value disables the grace entirely.
func (c *HomeConfig) PendingGrace() time.Duration {
	if c.Sync.PendingGraceMS == 0 {
		return 250 * time.Millisecond
	}
	if c.Sync.PendingGraceMS < 0 {
		return 0
	}
	return time.Duration(c.Sync.PendingGraceMS) * time.Millisecond
}

// LoadHomeConfig reads and validates home.yaml.
func LoadHomeConfig(path string) (*HomeConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg HomeConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}

	if cfg.Version != 1 {
		return nil, fmt.Errorf("unsupported home.yaml version: %d", cfg.Version)
	}

	if cfg.Home.ID == "" {
		return nil, fmt.Errorf("home.id is required")
	}

	return &cfg, nil
}

// BrokerConfig holds the MQTT broker credentials, loaded once at startup
// and immutable for the process lifetime.
type BrokerConfig struct {
	Host     string // broker hostname, TLS transport on 8883
	Username string
	Secret   string
	WSSURL   string // WebSocket transport variant of the same broker
}

// LoadBrokerConfig reads broker credentials from the environment.
// Every variable is required: a missing one is a configuration error and
// the caller is expected to treat it as fatal, not fall back to a default.
func LoadBrokerConfig() (*BrokerConfig, error) {
	host := os.Getenv("HOMELINK_MQTT_HOST")
	if host == "" {
		return nil, fmt.Errorf("HOMELINK_MQTT_HOST is not set")
	}

	username := os.Getenv("HOMELINK_MQTT_USERNAME")
	if username == "" {
		return nil, fmt.Errorf("HOMELINK_MQTT_USERNAME is not set")
	}

	secret, err := ResolveSecret("HOMELINK_MQTT_SECRET")
	if err != nil {
		return nil, err
	}
	if secret == "" {
		return nil, fmt.Errorf("HOMELINK_MQTT_SECRET is not set")
	}

	wssURL := os.Getenv("HOMELINK_MQTT_WSS_URL")
	if wssURL == "" {
		return nil, fmt.Errorf("HOMELINK_MQTT_WSS_URL is not set")
	}

	return &BrokerConfig{
		Host:     host,
		Username: username,
		Secret:   secret,
		WSSURL:   wssURL,
	}, nil
}
