package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend names for the shared state and room fabric
const (
	BackendMemory = "memory"
	BackendNATS   = "nats"
)

// Config holds the gateway configuration
type Config struct {
	Backend  string         `yaml:"backend"`
	Server   ServerConfig   `yaml:"server"`
	Lobby    LobbyConfig    `yaml:"lobby"`
	NATS     NATSConfig     `yaml:"nats"`
	Database DatabaseConfig `yaml:"database"`
	Prompts  []string       `yaml:"prompts"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds HTTP and websocket settings
type ServerConfig struct {
	Port           string        `yaml:"port"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	HandlerTimeout time.Duration `yaml:"handler_timeout"`
	InboxSize      int           `yaml:"inbox_size"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
}

// LobbyConfig holds lobby rules
type LobbyConfig struct {
	Capacity   int `yaml:"capacity"`
	CodeLength int `yaml:"code_length"`
	MaxRetries int `yaml:"max_retries"`
}

// NATSConfig holds NATS connection and layout settings
type NATSConfig struct {
	URL           string        `yaml:"url"`
	Bucket        string        `yaml:"bucket"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

// DatabaseConfig toggles the Postgres-backed prompt source and race history.
// Connection settings come from DB_* variables.
type DatabaseConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads the YAML file at path, applies defaults and then environment
// overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Backend == "" {
		c.Backend = BackendMemory
	}

	if c.Server.Port == "" {
		c.Server.Port = "8081"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"http://localhost:3000"}
	}
	if c.Server.HandlerTimeout == 0 {
		c.Server.HandlerTimeout = 5 * time.Second
	}
	if c.Server.InboxSize == 0 {
		c.Server.InboxSize = 1024
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}

	if c.Lobby.Capacity == 0 {
		c.Lobby.Capacity = 8
	}
	if c.Lobby.CodeLength == 0 {
		c.Lobby.CodeLength = 6
	}
	if c.Lobby.MaxRetries == 0 {
		c.Lobby.MaxRetries = 16
	}

	if c.NATS.URL == "" {
		c.NATS.URL = "nats://localhost:4222"
	}
	if c.NATS.Bucket == "" {
		c.NATS.Bucket = "TYPERACE_STATE"
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "typerace.fabric"
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = -1
	}
	if c.NATS.ReconnectWait == 0 {
		c.NATS.ReconnectWait = 2 * time.Second
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) applyEnv() {
	c.Backend = getEnv("TYPERACE_BACKEND", c.Backend)
	c.Server.Port = getEnv("GATEWAY_PORT", c.Server.Port)
	if origins := getEnv("ALLOWED_ORIGINS", ""); origins != "" {
		c.Server.AllowedOrigins = strings.Split(origins, ",")
	}
	c.Lobby.Capacity = getEnvAsInt("LOBBY_CAPACITY", c.Lobby.Capacity)
	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.Database.Enabled = getEnvAsBool("DATABASE_ENABLED", c.Database.Enabled)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
}

// Validate rejects settings the gateway cannot run with
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendNATS:
	default:
		return fmt.Errorf("unknown backend %q (want %s or %s)", c.Backend, BackendMemory, BackendNATS)
	}
	if c.Lobby.Capacity < 1 {
		return fmt.Errorf("lobby capacity must be positive, got %d", c.Lobby.Capacity)
	}
	if c.Lobby.CodeLength < 4 {
		return fmt.Errorf("lobby code length must be at least 4, got %d", c.Lobby.CodeLength)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
