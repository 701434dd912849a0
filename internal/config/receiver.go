package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ReceiverConfig is the receiver process's full configuration. Transfer
// parameters are not configured here: per spec §4.5 they are authoritative
// from the sender's metadata and override any local default on first
// metadata.
type ReceiverConfig struct {
	Destination DestinationInfo `yaml:"destination"`
	Handshake   HandshakeInfo   `yaml:"handshake"`
	Network     ReceiverNetwork `yaml:"network"`
	Logging     LoggingInfo     `yaml:"logging"`
	Metrics     MetricsInfo     `yaml:"metrics"`
}

// DestinationInfo holds the directory the final (and temp) file are written
// into.
type DestinationInfo struct {
	Dir string `yaml:"dir"`
}

// HandshakeInfo configures the receiver's join behavior.
type HandshakeInfo struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout"` // default 5s
}

// ReceiverNetwork holds the multicast group/port the receiver joins; these
// must match the sender's advertised session, typically obtained from
// discovery rather than configured statically, but a static default is
// kept for a receiver invoked without a running discovery collaborator.
type ReceiverNetwork struct {
	MulticastGroup string `yaml:"multicast_group"`
	MulticastPort  int    `yaml:"multicast_port"`
	NackPort       int    `yaml:"nack_port"`
}

const defaultHandshakeConnectTimeout = 5 * time.Second

// LoadReceiverConfig reads and validates the receiver YAML configuration file.
func LoadReceiverConfig(path string) (*ReceiverConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading receiver config: %w", err)
	}

	var cfg ReceiverConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing receiver config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating receiver config: %w", err)
	}

	return &cfg, nil
}

func (c *ReceiverConfig) validate() error {
	if c.Destination.Dir == "" {
		return fmt.Errorf("destination.dir is required")
	}

	if c.Handshake.ConnectTimeout <= 0 {
		c.Handshake.ConnectTimeout = defaultHandshakeConnectTimeout
	}

	if c.Network.MulticastGroup == "" {
		c.Network.MulticastGroup = defaultMulticastGroup
	}
	if c.Network.MulticastPort == 0 {
		c.Network.MulticastPort = defaultMulticastPort
	}
	if c.Network.NackPort == 0 {
		c.Network.NackPort = defaultNackPort
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		c.Metrics.Listen = "127.0.0.1:9849"
	}

	return nil
}
