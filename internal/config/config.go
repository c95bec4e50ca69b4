// Package config provides configuration management for the liveroom client.
package config

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Reconnect ReconnectConfig `mapstructure:"reconnect"`
	Capture   CaptureConfig   `mapstructure:"capture"`
	Playback  PlaybackConfig  `mapstructure:"playback"`
	Chat      ChatConfig      `mapstructure:"chat"`
}

// ServerConfig locates the room backend
type ServerConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	WSPath      string        `mapstructure:"ws_path"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
}

// ReconnectConfig controls the close-triggered reconnect policy. Some
// deployments want the user to reconnect explicitly, so it is a toggle.
type ReconnectConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	Delay       time.Duration `mapstructure:"delay"`
}

// CaptureConfig configures microphone capture
type CaptureConfig struct {
	SampleRate int    `mapstructure:"sample_rate"`
	BlockSize  int    `mapstructure:"block_size"` // samples per outbound frame
	Device     string `mapstructure:"device"`
}

// PlaybackConfig configures the playback queue and interrupt behavior
type PlaybackConfig struct {
	InterruptGrace time.Duration `mapstructure:"interrupt_grace"`
	SampleRate     int           `mapstructure:"sample_rate"`
}

// ChatConfig configures the conversation log display behavior
type ChatConfig struct {
	SubtitleFallback time.Duration `mapstructure:"subtitle_fallback"`
	DefaultUserName  string        `mapstructure:"default_user_name"`
}

// WebsocketURL builds the ws endpoint from host/port/path.
func (s ServerConfig) WebsocketURL() string {
	return "ws://" + s.Addr() + s.WSPath
}

// BaseURL builds the REST endpoint base from host/port.
func (s ServerConfig) BaseURL() string {
	return "http://" + s.Addr()
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "127.0.0.1",
			Port:        8081,
			WSPath:      "/ws",
			HTTPTimeout: 15 * time.Second,
		},
		Reconnect: ReconnectConfig{
			Enabled:     false,
			MaxAttempts: 5,
			Delay:       3 * time.Second,
		},
		Capture: CaptureConfig{
			SampleRate: 16000,
			BlockSize:  4096,
			Device:     "default",
		},
		Playback: PlaybackConfig{
			InterruptGrace: 300 * time.Millisecond,
			SampleRate:     16000,
		},
		Chat: ChatConfig{
			SubtitleFallback: 8 * time.Second,
			DefaultUserName:  "user",
		},
	}
}

// Load reads configuration from file and environment
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configDir, err := Dir()
	if err != nil {
		return cfg, err
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return cfg, err
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	// Environment variable overrides
	viper.SetEnvPrefix("LIVEROOM")
	viper.AutomaticEnv()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, err
		}
		// Config file not found, use defaults and create one
		if err := Save(cfg); err != nil {
			return cfg, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Save writes the configuration to file
func Save(cfg *Config) error {
	configDir, err := Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	viper.Set("server", cfg.Server)
	viper.Set("reconnect", cfg.Reconnect)
	viper.Set("capture", cfg.Capture)
	viper.Set("playback", cfg.Playback)
	viper.Set("chat", cfg.Chat)

	configPath := filepath.Join(configDir, "config.yaml")
	return viper.WriteConfigAs(configPath)
}

// Dir returns the configuration directory path
func Dir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".liveroom"), nil
}
