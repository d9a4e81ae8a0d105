// Package config handles loading, validation and persistence of the relay
// configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultAPIPort    = 5080
	DefaultListen     = "0.0.0.0:9100"
)

// Envelope variants a relay can speak.
const (
	VariantB = "b" // little-endian header, typed dispatch
	VariantA = "a" // big-endian header, opaque bodies
)

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	Relay   RelayConfig   `json:"relay"`
	Capture CaptureConfig `json:"capture"`
	API     APIConfig     `json:"api"`
	Health  HealthConfig  `json:"health"`
	MQTT    MQTTConfig    `json:"mqtt"`
	Notify  NotifyConfig  `json:"notify"`
	Logging LoggingConfig `json:"logging"`
}

// RelayConfig controls the frame relay.
type RelayConfig struct {
	Listen   string `json:"listen"`
	Upstream string `json:"upstream"`
	Variant  string `json:"variant"`
	// MaxFrameBody caps the body a peer may declare. 0 disables the cap.
	MaxFrameBody   int `json:"max_frame_body"`
	ReadTimeoutSec int `json:"read_timeout_sec"`
	DialTimeoutSec int `json:"dial_timeout_sec"`
	MaxSessions    int `json:"max_sessions"`
}

// ReadTimeout returns the idle timeout applied to each read, or zero.
func (r RelayConfig) ReadTimeout() time.Duration {
	return time.Duration(r.ReadTimeoutSec) * time.Second
}

// DialTimeout returns the upstream dial timeout.
func (r RelayConfig) DialTimeout() time.Duration {
	return time.Duration(r.DialTimeoutSec) * time.Second
}

// CaptureConfig controls the SQLite frame capture store.
type CaptureConfig struct {
	Enabled     bool   `json:"enabled"`
	Database    string `json:"database"`
	StoreBodies bool   `json:"store_bodies"`
	// RetentionDays removes captures older than this on startup and daily at
	// CleanupTime. 0 keeps all.
	RetentionDays int    `json:"retention_days"`
	CleanupTime   string `json:"cleanup_time"`
}

// HealthConfig sets the intervals of the periodic relay checks, in seconds.
// An interval of 0 disables its check.
type HealthConfig struct {
	StaleCheckSec    int     `json:"stale_check_sec"`
	DiskCheckSec     int     `json:"disk_check_sec"`
	UpstreamCheckSec int     `json:"upstream_check_sec"`
	DiskWarnPercent  float64 `json:"disk_warn_percent"`
}

// APIConfig controls the HTTP inspection API.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	MaxDecodeBytes int      `json:"max_decode_bytes"`
	// Token, when set, is required as a bearer token on non-public routes.
	Token      string   `json:"token"`
	AllowedIPs []string `json:"allowed_ips"`
	// TLS serves HTTPS, generating a self-signed pair when the files are
	// missing.
	TLS      bool   `json:"tls"`
	CertFile string `json:"cert_file"`
	KeyFile  string `json:"key_file"`
}

// NotifyConfig controls webhook notifications for health alerts and decode
// failures.
type NotifyConfig struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
	// MinLevel drops health alerts below this level: info, warning, error
	// or critical.
	MinLevel     string `json:"min_level"`
	DecodeErrors bool   `json:"decode_errors"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
	CAFile      string `json:"ca_file"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
	Trace      bool   `json:"trace_frames"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Relay: RelayConfig{
			Listen:         DefaultListen,
			Upstream:       "127.0.0.1:9000",
			Variant:        VariantB,
			MaxFrameBody:   0x8000,
			ReadTimeoutSec: 300,
			DialTimeoutSec: 10,
			MaxSessions:    256,
		},
		Capture: CaptureConfig{
			Enabled:       true,
			Database:      "data/captures.db",
			StoreBodies:   true,
			RetentionDays: 14,
			CleanupTime:   "04:00",
		},
		Health: HealthConfig{
			StaleCheckSec:    60,
			DiskCheckSec:     300,
			UpstreamCheckSec: 60,
			DiskWarnPercent:  90,
		},
		API: APIConfig{
			Enabled:        true,
			Port:           DefaultAPIPort,
			RateLimitRPS:   50,
			MaxDecodeBytes: 1 << 20,
			CertFile:       "config/api.crt",
			KeyFile:        "config/api.key",
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			BrokerURL:   "localhost",
			Port:        1883,
			TopicPrefix: "ragol",
		},
		Notify: NotifyConfig{
			MinLevel:     "warning",
			DecodeErrors: true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxBackups: 5,
		},
	}
}

// Load reads configuration from configDir, writing a default file when none
// exists.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}
	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Persist fields added since the file was written.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}
	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetRelay returns a copy of the relay section.
func (c *Config) GetRelay() RelayConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Relay
}

// SetRelay replaces the relay section.
func (c *Config) SetRelay(r RelayConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Relay = r
}

// GetCapture returns a copy of the capture section.
func (c *Config) GetCapture() CaptureConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Capture
}

// GetHealth returns a copy of the health section.
func (c *Config) GetHealth() HealthConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Health
}

// GetAPI returns a copy of the API section.
func (c *Config) GetAPI() APIConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.API
}

// GetMQTT returns a copy of the MQTT section.
func (c *Config) GetMQTT() MQTTConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MQTT
}

// GetNotify returns a copy of the notify section.
func (c *Config) GetNotify() NotifyConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Notify
}

// GetLogging returns a copy of the logging section.
func (c *Config) GetLogging() LoggingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Logging
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}
