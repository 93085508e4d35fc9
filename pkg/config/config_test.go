package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config invalid: %v", err)
	}

	if cfg.Sync.DriftTolerance != 500*time.Millisecond {
		t.Errorf("DriftTolerance = %v", cfg.Sync.DriftTolerance)
	}
	if cfg.Sync.MaxLatencyComp != 500*time.Millisecond {
		t.Errorf("MaxLatencyComp = %v", cfg.Sync.MaxLatencyComp)
	}
	if cfg.Signaling.QueueSize != 50 {
		t.Errorf("QueueSize = %d", cfg.Signaling.QueueSize)
	}
	if cfg.Signaling.MaxReconnectAttempts != 10 {
		t.Errorf("MaxReconnectAttempts = %d", cfg.Signaling.MaxReconnectAttempts)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty url", func(c *Config) { c.Signaling.URL = "" }},
		{"zero queue", func(c *Config) { c.Signaling.QueueSize = 0 }},
		{"inverted reconnect delays", func(c *Config) {
			c.Signaling.ReconnectBaseDelay = time.Minute
			c.Signaling.ReconnectMaxDelay = time.Second
		}},
		{"zero candidate buffer", func(c *Config) { c.Peer.CandidateBufferSize = 0 }},
		{"zero drift tolerance", func(c *Config) { c.Sync.DriftTolerance = 0 }},
		{"unknown storage type", func(c *Config) { c.Storage.Type = "flatfile" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	content := []byte(`
signaling:
  url: wss://relay.internal/ws
  queue_size: 10
storage:
  type: redis
  redis:
    address: redis.internal:6379
`)

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Signaling.URL != "wss://relay.internal/ws" {
		t.Errorf("URL = %q", cfg.Signaling.URL)
	}
	if cfg.Signaling.QueueSize != 10 {
		t.Errorf("QueueSize = %d", cfg.Signaling.QueueSize)
	}
	if cfg.Storage.Type != "redis" || cfg.Storage.Redis.Address != "redis.internal:6379" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}

	// Untouched sections keep their defaults
	if cfg.Signaling.HeartbeatInterval != 30*time.Second {
		t.Errorf("HeartbeatInterval = %v", cfg.Signaling.HeartbeatInterval)
	}
}

func TestEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	t.Setenv("SYNCROOM_RELAY_URL", "wss://override.example/ws")
	t.Setenv("SYNCROOM_CREDENTIAL_ENDPOINT", "https://override.example/turn")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Signaling.URL != "wss://override.example/ws" {
		t.Errorf("URL = %q", cfg.Signaling.URL)
	}
	if cfg.Peer.CredentialEndpoint != "https://override.example/turn" {
		t.Errorf("CredentialEndpoint = %q", cfg.Peer.CredentialEndpoint)
	}
}
