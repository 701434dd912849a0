package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestLoadSenderConfigDefaults(t *testing.T) {
	path := writeTempConfig(t, `
session:
  name: movie-night
  username: alice
`)
	cfg, err := LoadSenderConfig(path)
	if err != nil {
		t.Fatalf("LoadSenderConfig: %v", err)
	}
	if cfg.Network.MulticastGroup != defaultMulticastGroup {
		t.Errorf("MulticastGroup = %q, want default", cfg.Network.MulticastGroup)
	}
	if cfg.Network.MulticastPort != defaultMulticastPort {
		t.Errorf("MulticastPort = %d, want %d", cfg.Network.MulticastPort, defaultMulticastPort)
	}
	if cfg.Network.HandshakePort != defaultHandshakePort {
		t.Errorf("HandshakePort = %d, want %d", cfg.Network.HandshakePort, defaultHandshakePort)
	}
	if cfg.Network.NackPort != defaultNackPort {
		t.Errorf("NackPort = %d, want %d", cfg.Network.NackPort, defaultNackPort)
	}
	if cfg.Transfer.ChunkSizeRaw != 8*1024 {
		t.Errorf("ChunkSizeRaw = %d, want 8192", cfg.Transfer.ChunkSizeRaw)
	}
	if cfg.Transfer.BlockSizePackets != defaultBlockSizePackets {
		t.Errorf("BlockSizePackets = %d, want %d", cfg.Transfer.BlockSizePackets, defaultBlockSizePackets)
	}
	if cfg.Transfer.NackListenTimeout != defaultNackListenTimeout {
		t.Errorf("NackListenTimeout = %v, want %v", cfg.Transfer.NackListenTimeout, defaultNackListenTimeout)
	}
	if cfg.Transfer.RepairRounds != defaultRepairRounds {
		t.Errorf("RepairRounds = %d, want %d", cfg.Transfer.RepairRounds, defaultRepairRounds)
	}
	if cfg.Lobby.Enabled {
		t.Errorf("Lobby.Enabled default should be false (single mode)")
	}
}

func TestLoadSenderConfigMissingRequiredFields(t *testing.T) {
	path := writeTempConfig(t, `
session:
  name: movie-night
`)
	if _, err := LoadSenderConfig(path); err == nil {
		t.Fatal("expected error for missing session.username")
	}
}

func TestLoadSenderConfigOverrides(t *testing.T) {
	path := writeTempConfig(t, `
session:
  name: movie-night
  username: alice
transfer:
  chunk_size: "4mb"
  block_size_packets: 64
  nack_listen_timeout: 3s
  repair_rounds: 5
lobby:
  enabled: true
`)
	cfg, err := LoadSenderConfig(path)
	if err != nil {
		t.Fatalf("LoadSenderConfig: %v", err)
	}
	if cfg.Transfer.ChunkSizeRaw != 4*1024*1024 {
		t.Errorf("ChunkSizeRaw = %d, want 4MB", cfg.Transfer.ChunkSizeRaw)
	}
	if cfg.Transfer.BlockSizePackets != 64 {
		t.Errorf("BlockSizePackets = %d, want 64", cfg.Transfer.BlockSizePackets)
	}
	if cfg.Transfer.NackListenTimeout != 3*time.Second {
		t.Errorf("NackListenTimeout = %v, want 3s", cfg.Transfer.NackListenTimeout)
	}
	if !cfg.Lobby.Enabled {
		t.Errorf("Lobby.Enabled = false, want true")
	}
}

func TestLoadSenderConfigMissingFile(t *testing.T) {
	if _, err := LoadSenderConfig("/nonexistent/path.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
