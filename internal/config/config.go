// Package config handles configuration loading, validation, and persistence
// for the lobby link host.
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
	DefaultServerPort = 5127
	DefaultLobbyPort  = 5129
)

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	Link        LinkConfig      `json:"link"`
	Server      ServerConfig    `json:"server"`
	Application ApplicationData `json:"application"`
}

// LinkConfig controls the connection to the remote lobby.
type LinkConfig struct {
	RemoteAddress   string `json:"remote_address"`
	GameID          uint16 `json:"game_id"`
	ProtocolVersion int32  `json:"protocol_version"`
	ClientName      string `json:"client_name"`

	// Timers, all in milliseconds
	PollIntervalMs        int `json:"poll_interval_ms"`
	ConnectSpacingMs      int `json:"connect_spacing_ms"`
	RetryAfterDropMs      int `json:"retry_after_drop_ms"`
	RetryNeverConnectedMs int `json:"retry_never_connected_ms"`
	DialTimeoutMs         int `json:"dial_timeout_ms"`
	WriteTimeoutMs        int `json:"write_timeout_ms"`
}

// PollInterval is the worker loop sleep between iterations.
func (l LinkConfig) PollInterval() time.Duration { return ms(l.PollIntervalMs) }

// ConnectSpacing is the minimum gap between two connect attempts.
func (l LinkConfig) ConnectSpacing() time.Duration { return ms(l.ConnectSpacingMs) }

// RetryAfterDrop is the backoff once a session has been verified before.
func (l LinkConfig) RetryAfterDrop() time.Duration { return ms(l.RetryAfterDropMs) }

// RetryNeverConnected is the backoff while no session was ever verified.
func (l LinkConfig) RetryNeverConnected() time.Duration { return ms(l.RetryNeverConnectedMs) }

func (l LinkConfig) DialTimeout() time.Duration  { return ms(l.DialTimeoutMs) }
func (l LinkConfig) WriteTimeout() time.Duration { return ms(l.WriteTimeoutMs) }

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// ServerConfig describes the game server being advertised.
type ServerConfig struct {
	Name        string `json:"name"`
	TCPPort     int    `json:"tcp_port"`
	PlayerCount int    `json:"player_count"`

	// Leave blank to auto-detect.
	LocalIP    string `json:"local_ip"`
	ExternalIP string `json:"external_ip"`

	AddressCheckIntervalSec int      `json:"address_check_interval_sec"`
	PublicIPServices        []string `json:"public_ip_services"`
}

// ApplicationData contains host application configuration.
type ApplicationData struct {
	API     APIConfig     `json:"api"`
	MQTT    MQTTConfig    `json:"mqtt"`
	Journal JournalConfig `json:"journal"`
	Metrics MetricsConfig `json:"metrics"`
	Logging LoggingConfig `json:"logging"`
}

// APIConfig holds REST API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Port           int      `json:"port"`
	AuthToken      string   `json:"auth_token"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	IPWhitelist    []string `json:"ip_whitelist"`
	TLSEnabled     bool     `json:"tls_enabled"`
	TLSCertFile    string   `json:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled      bool   `json:"enabled"`
	BrokerURL    string `json:"broker_url"`
	Port         int    `json:"port"`
	UseTLS       bool   `json:"use_tls"`
	CAFile       string `json:"ca_file"`
	ClientID     string `json:"client_id"`
	TopicPrefix  string `json:"topic_prefix"`
	HeartbeatSec int    `json:"heartbeat_sec"`
}

// JournalConfig holds settings for the sqlite link event journal.
type JournalConfig struct {
	Enabled       bool   `json:"enabled"`
	Path          string `json:"path"`
	RetentionDays int    `json:"retention_days"`
	CleanupTime   string `json:"cleanup_time"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `json:"level"`
	Directory string `json:"directory"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Link: LinkConfig{
			RemoteAddress:         fmt.Sprintf("127.0.0.1:%d", DefaultLobbyPort),
			GameID:                1,
			ProtocolVersion:       12,
			ClientName:            "lobbylink",
			PollIntervalMs:        10,
			ConnectSpacingMs:      15000,
			RetryAfterDropMs:      1000,
			RetryNeverConnectedMs: 30000,
			DialTimeoutMs:         10000,
			WriteTimeoutMs:        10000,
		},
		Server: ServerConfig{
			TCPPort:                 DefaultServerPort,
			AddressCheckIntervalSec: 1800,
			PublicIPServices: []string{
				"https://api.ipify.org",
				"https://ifconfig.me/ip",
				"https://icanhazip.com",
			},
		},
		Application: ApplicationData{
			API: APIConfig{
				Enabled:      true,
				Port:         DefaultAPIPort,
				RateLimitRPS: 20,
			},
			MQTT: MQTTConfig{
				Enabled:      false,
				Port:         1883,
				TopicPrefix:  "lobbylink",
				HeartbeatSec: 60,
			},
			Journal: JournalConfig{
				Enabled:       true,
				Path:          filepath.Join("data", "journal.db"),
				RetentionDays: 14,
				CleanupTime:   "04:00",
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
			Logging: LoggingConfig{
				Level:     "info",
				Directory: "logs",
			},
		},
	}
}

// Load reads configuration from a JSON file.
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

	cfg := DefaultConfig() // Start with defaults, then overlay
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

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
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

// GetLink returns a copy of the link configuration.
func (c *Config) GetLink() LinkConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Link
}

// GetServer returns a copy of the server configuration.
func (c *Config) GetServer() ServerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Server
}

// SetServer updates the server configuration.
func (c *Config) SetServer(s ServerConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Server = s
}

// GetApplicationData returns a copy of the application configuration.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Application
}

// UpdateServerField sets a single server field by its JSON key.
func (c *Config) UpdateServerField(key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, _ := json.Marshal(c.Server)
	m := make(map[string]interface{})
	json.Unmarshal(data, &m)

	if _, ok := m[key]; !ok {
		return fmt.Errorf("unknown server field %q", key)
	}
	m[key] = value

	updated, _ := json.Marshal(m)
	var next ServerConfig
	if err := json.Unmarshal(updated, &next); err != nil {
		return fmt.Errorf("failed to update field %s: %w", key, err)
	}
	c.Server = next
	return nil
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// IsFirstRun returns true if the configuration needs initial setup.
func (c *Config) IsFirstRun() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Server.Name == "" || c.Link.RemoteAddress == ""
}
