// Package config handles configuration loading, validation, and persistence
// for the lobby server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"

	DefaultLobbyPort   = 8001
	DefaultGamePort    = 8000
	DefaultControlPort = 4040
)

// Config is the root configuration structure for the lobby server.
type Config struct {
	mu   sync.RWMutex
	path string

	Lobby    LobbyConfig    `json:"lobby"`
	Database DatabaseConfig `json:"database"`
	Control  ControlConfig  `json:"control"`
	Timers   TimerConfig    `json:"timers"`
	MQTT     MQTTConfig     `json:"mqtt"`
	Logging  LoggingConfig  `json:"logging"`
}

// LobbyConfig contains session listener settings.
type LobbyConfig struct {
	// Ports
	Port     int `json:"lobby_port"`
	GamePort int `json:"game_port"`

	// Per-connection limits
	IdleTimeoutSec    int `json:"idle_timeout_sec"`
	WriteTimeoutSec   int `json:"write_timeout_sec"`
	OutboundQueueSize int `json:"outbound_queue_size"`
}

// DatabaseConfig contains datastore settings.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// ControlConfig contains the loopback diagnostics endpoint settings.
type ControlConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`
}

// TimerConfig holds recurring task interval settings.
type TimerConfig struct {
	DirtyBroadcastInterval int `json:"dirty_broadcast_interval_sec"`
	GameSweepInterval      int `json:"game_sweep_interval_sec"`
	MaxLobbyIdle           int `json:"max_lobby_idle_sec"`
	TelemetryInterval      int `json:"telemetry_interval_sec"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	UseTLS    bool   `json:"use_tls"`
	CertFile  string `json:"cert_file"`
	KeyFile   string `json:"key_file"`
	ClientID  string `json:"client_id"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Lobby: LobbyConfig{
			Port:              DefaultLobbyPort,
			GamePort:          DefaultGamePort,
			IdleTimeoutSec:    600,
			WriteTimeoutSec:   10,
			OutboundQueueSize: 64,
		},
		Database: DatabaseConfig{
			Path: "data/lobby.db",
		},
		Control: ControlConfig{
			Enabled: true,
			Port:    DefaultControlPort,
		},
		Timers: TimerConfig{
			DirtyBroadcastInterval: 2,
			GameSweepInterval:      60,
			MaxLobbyIdle:           300,
			TelemetryInterval:      60,
		},
		MQTT: MQTTConfig{
			Enabled: false,
			Port:    8883,
			UseTLS:  true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxBackups: 5,
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

// GetLobby returns a copy of the lobby configuration.
func (c *Config) GetLobby() LobbyConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Lobby
}

// GetTimers returns a copy of the timer configuration.
func (c *Config) GetTimers() TimerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Timers
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}
