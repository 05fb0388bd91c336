package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the runtime configuration for the engine.
type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Log       LogConfig       `mapstructure:"log"`
}

// HTTPConfig configures the HTTP listener.
type HTTPConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the listen address.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WebSocketConfig tunes the per-connection transport.
type WebSocketConfig struct {
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	PongWait        time.Duration `mapstructure:"pong_wait"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	WriteBufferSize int           `mapstructure:"write_buffer_size"`
}

// DatabaseConfig locates the lesson store.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LimitsConfig bounds per-participant resource use.
type LimitsConfig struct {
	MessagesPerMinute int `mapstructure:"messages_per_minute"`
	TerminalBytes     int `mapstructure:"terminal_bytes"`
	CandidateQueue    int `mapstructure:"candidate_queue"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration from an optional lectern.yaml plus LECTERN_*
// environment variables, on top of the defaults.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("lectern")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("LECTERN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", "30s")
	v.SetDefault("http.write_timeout", "30s")

	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_timeout", "10s")
	v.SetDefault("websocket.write_buffer_size", 128)

	v.SetDefault("database.path", "./lectern.db")

	v.SetDefault("limits.messages_per_minute", 100)
	v.SetDefault("limits.terminal_bytes", 64*1024)
	v.SetDefault("limits.candidate_queue", 64)

	v.SetDefault("log.level", "info")
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("config: invalid http port %d", c.HTTP.Port)
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.PongWait <= c.WebSocket.PingInterval {
		return fmt.Errorf("config: pong_wait must exceed ping_interval")
	}
	if c.WebSocket.WriteBufferSize <= 0 {
		return fmt.Errorf("config: write_buffer_size must be positive")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("config: database path is required")
	}
	if c.Limits.MessagesPerMinute <= 0 {
		return fmt.Errorf("config: messages_per_minute must be positive")
	}
	if c.Limits.TerminalBytes <= 0 {
		return fmt.Errorf("config: terminal_bytes must be positive")
	}
	if c.Limits.CandidateQueue <= 0 {
		return fmt.Errorf("config: candidate_queue must be positive")
	}
	return nil
}
