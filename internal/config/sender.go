package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SenderConfig is the sender process's full configuration.
type SenderConfig struct {
	Session  SessionInfo  `yaml:"session"`
	Network  NetworkInfo  `yaml:"network"`
	Transfer TransferInfo `yaml:"transfer"`
	Lobby    LobbyInfo    `yaml:"lobby"`
	Logging  LoggingInfo  `yaml:"logging"`
	Metrics  MetricsInfo  `yaml:"metrics"`
}

// SessionInfo identifies the session as advertised to discovery.
type SessionInfo struct {
	Name     string `yaml:"name"`
	Username string `yaml:"username"`
}

// NetworkInfo holds the multicast/unicast endpoints.
type NetworkInfo struct {
	MulticastGroup string `yaml:"multicast_group"` // default 239.192.1.100
	MulticastPort  int    `yaml:"multicast_port"`  // default 5007
	HandshakePort  int    `yaml:"handshake_port"`  // default 5008
	NackPort       int    `yaml:"nack_port"`       // default 5009
	Interface      string `yaml:"interface"`       // optional NIC name to bind multicast to
}

// TransferInfo holds the transfer parameters transmitted in metadata.
type TransferInfo struct {
	ChunkSize         string        `yaml:"chunk_size"`          // e.g. "8kb", default 8192 bytes
	ChunkSizeRaw      int64         `yaml:"-"`
	BlockSizePackets  int           `yaml:"block_size_packets"`  // default 256
	NackListenTimeout time.Duration `yaml:"nack_listen_timeout"` // default 1.5s
	RepairRounds      int           `yaml:"repair_rounds"`       // default 3
}

// LobbyInfo selects single-client vs lobby admission mode.
type LobbyInfo struct {
	Enabled bool `yaml:"enabled"` // false = single-client mode
}

// LoggingInfo configures the process logger.
type LoggingInfo struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// MetricsInfo configures the optional Prometheus exporter.
type MetricsInfo struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"` // default 127.0.0.1:9848 (sender) or 127.0.0.1:9849 (receiver)
}

const (
	defaultMulticastGroup    = "239.192.1.100"
	defaultMulticastPort     = 5007
	defaultHandshakePort     = 5008
	defaultNackPort          = 5009
	defaultChunkSize         = "8kb"
	defaultBlockSizePackets  = 256
	defaultNackListenTimeout = 1500 * time.Millisecond
	defaultRepairRounds      = 3
)

// LoadSenderConfig reads and validates the sender YAML configuration file.
func LoadSenderConfig(path string) (*SenderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sender config: %w", err)
	}

	var cfg SenderConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing sender config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating sender config: %w", err)
	}

	return &cfg, nil
}

func (c *SenderConfig) validate() error {
	if c.Session.Name == "" {
		return fmt.Errorf("session.name is required")
	}
	if c.Session.Username == "" {
		return fmt.Errorf("session.username is required")
	}

	if c.Network.MulticastGroup == "" {
		c.Network.MulticastGroup = defaultMulticastGroup
	}
	if c.Network.MulticastPort == 0 {
		c.Network.MulticastPort = defaultMulticastPort
	}
	if c.Network.HandshakePort == 0 {
		c.Network.HandshakePort = defaultHandshakePort
	}
	if c.Network.NackPort == 0 {
		c.Network.NackPort = defaultNackPort
	}

	if c.Transfer.ChunkSize == "" {
		c.Transfer.ChunkSize = defaultChunkSize
	}
	parsed, err := ParseByteSize(c.Transfer.ChunkSize)
	if err != nil {
		return fmt.Errorf("transfer.chunk_size: %w", err)
	}
	if parsed <= 0 {
		return fmt.Errorf("transfer.chunk_size must be > 0, got %s", c.Transfer.ChunkSize)
	}
	c.Transfer.ChunkSizeRaw = parsed

	if c.Transfer.BlockSizePackets <= 0 {
		c.Transfer.BlockSizePackets = defaultBlockSizePackets
	}
	if c.Transfer.NackListenTimeout <= 0 {
		c.Transfer.NackListenTimeout = defaultNackListenTimeout
	}
	if c.Transfer.RepairRounds <= 0 {
		c.Transfer.RepairRounds = defaultRepairRounds
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		c.Metrics.Listen = "127.0.0.1:9848"
	}

	return nil
}
