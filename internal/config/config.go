// ABOUTME: Configuration loading and parsing for workflow-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider kinds.
const (
	KindOpenAI       = "openai"
	KindAnthropic    = "anthropic"
	KindEcho         = "echo"
	KindMemoryVector = "memory-vector"
	KindRedisVector  = "redis-vector"
)

// Defaults applied by Load when a value is absent.
const (
	DefaultMaxIterations = 5
	DefaultToolTimeout   = 30 * time.Second
	DefaultMaxMessages   = 100
	DefaultShutdown      = 15 * time.Second
)

// Config represents the complete workflow-gateway configuration
type Config struct {
	Server    ServerConfig      `yaml:"server"`
	Database  DatabaseConfig    `yaml:"database"`
	Auth      AuthConfig        `yaml:"auth"`
	Logging   LoggingConfig     `yaml:"logging"`
	Providers []ProviderConfig  `yaml:"providers"`
	History   HistoryConfig     `yaml:"history"`
	Agent     AgentConfig       `yaml:"agent"`
	Workflows WorkflowsConfig   `yaml:"workflows"`
	Settings  map[string]string `yaml:"settings"`
}

// ServerConfig holds server address configuration. An empty GRPCAddr
// disables the gRPC health server.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`

	ShutdownTimeout    time.Duration `yaml:"-"`
	ShutdownTimeoutRaw string        `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ProviderConfig declares one backend. Which fields matter depends on Kind.
type ProviderConfig struct {
	ID             string  `yaml:"id"`
	Kind           string  `yaml:"kind"`
	APIKey         string  `yaml:"api_key"`
	BaseURL        string  `yaml:"base_url"`
	Model          string  `yaml:"model"`
	EmbeddingModel string  `yaml:"embedding_model"`
	Dimensions     int     `yaml:"dimensions"`
	RedisURL       string  `yaml:"redis_url"`
	Index          string  `yaml:"index"`
	RateLimitTPM   float64 `yaml:"rate_limit_tpm"`
}

// HistoryConfig bounds conversation history. MaxTokens > 0 selects a token
// bound; MaxMessages is the fallback.
type HistoryConfig struct {
	MaxTokens   int `yaml:"max_tokens"`
	MaxMessages int `yaml:"max_messages"`
}

// AgentConfig holds conversation loop limits.
type AgentConfig struct {
	MaxIterations   int `yaml:"max_iterations"`
	MaxOutputTokens int `yaml:"max_output_tokens"`

	ToolTimeout    time.Duration `yaml:"-"`
	ToolTimeoutRaw string        `yaml:"tool_timeout"`
}

// WorkflowsConfig points at an optional TOML file of workflow definitions.
type WorkflowsConfig struct {
	DefinitionsPath string `yaml:"definitions_path"`
}

// DefaultPath returns the config file location: WORKFLOW_GATEWAY_CONFIG,
// else $XDG_CONFIG_HOME/workflow-gateway/gateway.yaml, else
// ~/.config/workflow-gateway/gateway.yaml.
func DefaultPath() string {
	if p := os.Getenv("WORKFLOW_GATEWAY_CONFIG"); p != "" {
		return p
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "workflow-gateway", "gateway.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "gateway.yaml"
	}
	return filepath.Join(home, ".config", "workflow-gateway", "gateway.yaml")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Agent.MaxIterations <= 0 {
		cfg.Agent.MaxIterations = DefaultMaxIterations
	}
	if cfg.Agent.ToolTimeout <= 0 {
		cfg.Agent.ToolTimeout = DefaultToolTimeout
	}
	if cfg.History.MaxMessages <= 0 {
		cfg.History.MaxMessages = DefaultMaxMessages
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdown
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return errors.New("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be one of debug, info, warn, error", c.Logging.Level)
	}
	if c.History.MaxTokens < 0 {
		return errors.New("history.max_tokens must not be negative")
	}

	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("providers[%d].id is required", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("providers[%d]: duplicate id %q", i, p.ID)
		}
		seen[p.ID] = true

		switch p.Kind {
		case KindOpenAI, KindAnthropic:
			if p.APIKey == "" {
				return fmt.Errorf("provider %q: api_key is required for kind %s", p.ID, p.Kind)
			}
		case KindEcho, KindMemoryVector:
		case KindRedisVector:
			if p.RedisURL == "" {
				return fmt.Errorf("provider %q: redis_url is required for kind %s", p.ID, p.Kind)
			}
			if p.Dimensions <= 0 {
				return fmt.Errorf("provider %q: dimensions must be positive for kind %s", p.ID, p.Kind)
			}
		case "":
			return fmt.Errorf("provider %q: kind is required", p.ID)
		default:
			return fmt.Errorf("provider %q: unknown kind %q", p.ID, p.Kind)
		}
		if p.RateLimitTPM < 0 {
			return fmt.Errorf("provider %q: rate_limit_tpm must not be negative", p.ID)
		}
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Agent.ToolTimeoutRaw != "" {
		cfg.Agent.ToolTimeout, err = time.ParseDuration(cfg.Agent.ToolTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing tool_timeout %q: %w", cfg.Agent.ToolTimeoutRaw, err)
		}
	}

	if cfg.Server.ShutdownTimeoutRaw != "" {
		cfg.Server.ShutdownTimeout, err = time.ParseDuration(cfg.Server.ShutdownTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing shutdown_timeout %q: %w", cfg.Server.ShutdownTimeoutRaw, err)
		}
	}

	return nil
}
