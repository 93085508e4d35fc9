package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the main configuration for the syncroom engine
type Config struct {
	// Signaling configuration
	Signaling SignalingConfig `json:"signaling" yaml:"signaling"`

	// Peer transport configuration
	Peer PeerConfig `json:"peer" yaml:"peer"`

	// Sync algorithm configuration
	Sync SyncConfig `json:"sync" yaml:"sync"`

	// Recovery configuration for auto-rejoin
	Recovery RecoveryConfig `json:"recovery" yaml:"recovery"`

	// Storage configuration
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Logging configuration
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// SignalingConfig holds control-plane connection configuration
type SignalingConfig struct {
	// URL is the room-scoped relay endpoint (ws:// or wss://)
	URL string `json:"url" yaml:"url"`

	// ConnectTimeout is the maximum duration for the websocket dial
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout"`

	// ResponseTimeout bounds room-protocol round trips (create/join)
	ResponseTimeout time.Duration `json:"response_timeout" yaml:"response_timeout"`

	// HeartbeatInterval is how often a PING is sent while connected
	HeartbeatInterval time.Duration `json:"heartbeat_interval" yaml:"heartbeat_interval"`

	// PongTimeout is how long to wait for a PONG before forcing a reconnect
	PongTimeout time.Duration `json:"pong_timeout" yaml:"pong_timeout"`

	// ReconnectBaseDelay is the first reconnect delay
	ReconnectBaseDelay time.Duration `json:"reconnect_base_delay" yaml:"reconnect_base_delay"`

	// ReconnectMaxDelay caps the exponential backoff
	ReconnectMaxDelay time.Duration `json:"reconnect_max_delay" yaml:"reconnect_max_delay"`

	// MaxReconnectAttempts bounds reconnection before a terminal event
	MaxReconnectAttempts int `json:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`

	// QueueSize bounds the outbound queue held while disconnected
	QueueSize int `json:"queue_size" yaml:"queue_size"`
}

// PeerConfig holds peer transport configuration
type PeerConfig struct {
	// STUNServers is the list of STUN server URLs
	STUNServers []string `json:"stun_servers" yaml:"stun_servers"`

	// TURNServers is the list of static TURN server configurations
	TURNServers []TURNServer `json:"turn_servers" yaml:"turn_servers"`

	// CredentialEndpoint is the bootstrap URL returning per-user relay credentials
	CredentialEndpoint string `json:"credential_endpoint" yaml:"credential_endpoint"`

	// CredentialTimeout bounds the credential bootstrap request
	CredentialTimeout time.Duration `json:"credential_timeout" yaml:"credential_timeout"`

	// CandidateBufferSize bounds per-peer buffered ICE candidates
	CandidateBufferSize int `json:"candidate_buffer_size" yaml:"candidate_buffer_size"`

	// CandidateDrainDelay is the inter-send delay when draining buffered candidates
	CandidateDrainDelay time.Duration `json:"candidate_drain_delay" yaml:"candidate_drain_delay"`

	// RestartMaxAttempts bounds per-peer connection restarts
	RestartMaxAttempts int `json:"restart_max_attempts" yaml:"restart_max_attempts"`

	// RestartBaseDelay is the first per-peer restart delay
	RestartBaseDelay time.Duration `json:"restart_base_delay" yaml:"restart_base_delay"`

	// RestartMaxDelay caps the per-peer restart backoff
	RestartMaxDelay time.Duration `json:"restart_max_delay" yaml:"restart_max_delay"`

	// MaxRetransmits bounds data-channel retransmission (partial reliability)
	MaxRetransmits uint16 `json:"max_retransmits" yaml:"max_retransmits"`
}

// TURNServer represents a TURN server configuration
type TURNServer struct {
	// URLs are the TURN server URLs
	URLs []string `json:"urls" yaml:"urls"`

	// Username for TURN authentication
	Username string `json:"username" yaml:"username"`

	// Credential for TURN authentication
	Credential string `json:"credential" yaml:"credential"`
}

// SyncConfig holds playback synchronization tuning
type SyncConfig struct {
	// DriftTolerance is the maximum local/authoritative position disagreement
	// before a corrective seek is issued
	DriftTolerance time.Duration `json:"drift_tolerance" yaml:"drift_tolerance"`

	// MaxLatencyComp caps latency compensation applied to inbound updates
	MaxLatencyComp time.Duration `json:"max_latency_comp" yaml:"max_latency_comp"`

	// TimeUpdateInterval throttles heartbeat-style position broadcasts
	TimeUpdateInterval time.Duration `json:"time_update_interval" yaml:"time_update_interval"`
}

// RecoveryConfig holds auto-rejoin configuration
type RecoveryConfig struct {
	// MaxAttempts bounds rejoin attempts after a signaling reconnect
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// InitialDelay is the delay before the first rejoin retry
	InitialDelay time.Duration `json:"initial_delay" yaml:"initial_delay"`

	// MaxDelay caps the rejoin retry backoff
	MaxDelay time.Duration `json:"max_delay" yaml:"max_delay"`
}

// StorageConfig holds persistence configuration
type StorageConfig struct {
	// Type is the storage backend type (memory, redis)
	Type string `json:"type" yaml:"type"`

	// HistoryLimit bounds the number of remembered rooms
	HistoryLimit int `json:"history_limit" yaml:"history_limit"`

	// Redis configuration, used when Type = "redis"
	Redis RedisConfig `json:"redis" yaml:"redis"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	// Address is the Redis server address (host:port)
	Address string `json:"address" yaml:"address"`

	// Password is the Redis password (optional)
	Password string `json:"password" yaml:"password"`

	// DB is the Redis database number
	DB int `json:"db" yaml:"db"`

	// KeyPrefix namespaces all keys written by this client
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`

	// TTL is how long persisted session state lives
	TTL time.Duration `json:"ttl" yaml:"ttl"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	// Level is the logging level (debug, info, warn, error)
	Level string `json:"level" yaml:"level"`

	// Format is the log format (json, text)
	Format string `json:"format" yaml:"format"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Signaling: SignalingConfig{
			URL:                  "wss://relay.syncroom.dev/ws",
			ConnectTimeout:       10 * time.Second,
			ResponseTimeout:      10 * time.Second,
			HeartbeatInterval:    30 * time.Second,
			PongTimeout:          10 * time.Second,
			ReconnectBaseDelay:   1 * time.Second,
			ReconnectMaxDelay:    30 * time.Second,
			MaxReconnectAttempts: 10,
			QueueSize:            50,
		},
		Peer: PeerConfig{
			STUNServers: []string{
				"stun:stun.l.google.com:19302",
			},
			CredentialTimeout:   5 * time.Second,
			CandidateBufferSize: 32,
			CandidateDrainDelay: 20 * time.Millisecond,
			RestartMaxAttempts:  5,
			RestartBaseDelay:    1 * time.Second,
			RestartMaxDelay:     15 * time.Second,
			MaxRetransmits:      5,
		},
		Sync: SyncConfig{
			DriftTolerance:     500 * time.Millisecond,
			MaxLatencyComp:     500 * time.Millisecond,
			TimeUpdateInterval: 1 * time.Second,
		},
		Recovery: RecoveryConfig{
			MaxAttempts:  5,
			InitialDelay: 1 * time.Second,
			MaxDelay:     30 * time.Second,
		},
		Storage: StorageConfig{
			Type:         "memory",
			HistoryLimit: 20,
			Redis: RedisConfig{
				Address:   "localhost:6379",
				DB:        0,
				KeyPrefix: "syncroom",
				TTL:       24 * time.Hour,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.loadFromEnv()

	return cfg, nil
}

// loadFromEnv overrides config from environment variables
func (c *Config) loadFromEnv() {
	if url := os.Getenv("SYNCROOM_RELAY_URL"); url != "" {
		c.Signaling.URL = url
	}
	if endpoint := os.Getenv("SYNCROOM_CREDENTIAL_ENDPOINT"); endpoint != "" {
		c.Peer.CredentialEndpoint = endpoint
	}
	if redisAddr := os.Getenv("REDIS_URL"); redisAddr != "" {
		c.Storage.Redis.Address = redisAddr
	}
	if redisPass := os.Getenv("REDIS_PASSWORD"); redisPass != "" {
		c.Storage.Redis.Password = redisPass
	}
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if c.Signaling.URL == "" {
		return fmt.Errorf("signaling.url is required")
	}
	if c.Signaling.QueueSize <= 0 {
		return fmt.Errorf("signaling.queue_size must be positive")
	}
	if c.Signaling.ReconnectBaseDelay <= 0 || c.Signaling.ReconnectMaxDelay < c.Signaling.ReconnectBaseDelay {
		return fmt.Errorf("signaling reconnect delays are invalid")
	}
	if c.Peer.CandidateBufferSize <= 0 {
		return fmt.Errorf("peer.candidate_buffer_size must be positive")
	}
	if c.Sync.DriftTolerance <= 0 {
		return fmt.Errorf("sync.drift_tolerance must be positive")
	}
	if c.Storage.Type != "memory" && c.Storage.Type != "redis" {
		return fmt.Errorf("storage.type must be memory or redis")
	}
	return nil
}
