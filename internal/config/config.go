// Package config loads dyno's configuration from a YAML file, DYNO_*
// environment variables and flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the full dyno configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Sandbox  SandboxConfig  `mapstructure:"sandbox"`
	Database DatabaseConfig `mapstructure:"database"`
	Session  SessionConfig  `mapstructure:"session"`
	Billing  BillingConfig  `mapstructure:"billing"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Addr              string        `mapstructure:"addr"`
	KeepAliveInterval time.Duration `mapstructure:"keepalive_interval"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins"`
}

// LLMConfig selects the planning provider.
type LLMConfig struct {
	Provider        string  `mapstructure:"provider"`
	Model           string  `mapstructure:"model"`
	APIKey          string  `mapstructure:"api_key"`
	BaseURL         string  `mapstructure:"base_url"`
	MaxOutputTokens int     `mapstructure:"max_output_tokens"`
	Temperature     float32 `mapstructure:"temperature"`
	Titles          bool    `mapstructure:"titles"`
}

// AgentConfig contains agent loop settings.
type AgentConfig struct {
	BuildMaxIterations int           `mapstructure:"build_max_iterations"`
	AskMaxIterations   int           `mapstructure:"ask_max_iterations"`
	RetryAttempts      int           `mapstructure:"retry_attempts"`
	RetryInitialDelay  time.Duration `mapstructure:"retry_initial_delay"`
	WorkingDir         string        `mapstructure:"working_dir"`
	PromptVersion      string        `mapstructure:"prompt_version"`
}

// SandboxConfig contains sandbox and tool settings.
type SandboxConfig struct {
	Mode          string        `mapstructure:"mode"`
	Image         string        `mapstructure:"image"`
	CPU           string        `mapstructure:"cpu"`
	Memory        string        `mapstructure:"memory"`
	CmdTimeout    time.Duration `mapstructure:"cmd_timeout"`
	HostRoot      string        `mapstructure:"host_root"`
	Port          int           `mapstructure:"port"`
	ServerLogPath string        `mapstructure:"server_log_path"`
	VerifyCommand string        `mapstructure:"verify_command"`
	VerifyTimeout time.Duration `mapstructure:"verify_timeout"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// SessionConfig selects the conversation store.
type SessionConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
}

// BillingConfig contains pricing and credit settings.
type BillingConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	PricingFile      string        `mapstructure:"pricing_file"`
	RefreshInterval  time.Duration `mapstructure:"refresh_interval"`
	MarginPercent    float64       `mapstructure:"margin_percent"`
	CreditsPerDollar float64       `mapstructure:"credits_per_dollar"`
	InitialGrant     float64       `mapstructure:"initial_grant"`
}

// LoggingConfig contains logging and error reporting settings.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
	SentryDSN   string `mapstructure:"sentry_dsn"`
	Environment string `mapstructure:"environment"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.keepalive_interval", "15s")
	v.SetDefault("server.read_header_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.max_output_tokens", 8192)
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.titles", true)

	v.SetDefault("agent.build_max_iterations", 50)
	v.SetDefault("agent.ask_max_iterations", 10)
	v.SetDefault("agent.retry_attempts", 3)
	v.SetDefault("agent.retry_initial_delay", "1s")
	v.SetDefault("agent.working_dir", "/workspace")
	v.SetDefault("agent.prompt_version", "")

	v.SetDefault("sandbox.mode", "auto")
	v.SetDefault("sandbox.image", "node:20-slim")
	v.SetDefault("sandbox.cpu", "2")
	v.SetDefault("sandbox.memory", "1g")
	v.SetDefault("sandbox.cmd_timeout", "2m")
	v.SetDefault("sandbox.host_root", "./data/sandboxes")
	v.SetDefault("sandbox.port", 19006)
	v.SetDefault("sandbox.server_log_path", "/tmp/expo.log")
	v.SetDefault("sandbox.verify_command", "npx --no-install prettier --check .")
	v.SetDefault("sandbox.verify_timeout", "1m")

	v.SetDefault("database.path", "./data/dyno.db")

	v.SetDefault("session.backend", "sqlite")
	v.SetDefault("session.dir", "./data")

	v.SetDefault("billing.enabled", true)
	v.SetDefault("billing.pricing_file", "")
	v.SetDefault("billing.refresh_interval", "10m")
	v.SetDefault("billing.margin_percent", 20.0)
	v.SetDefault("billing.credits_per_dollar", 100.0)
	v.SetDefault("billing.initial_grant", 100.0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.sentry_dsn", "")
	v.SetDefault("logging.environment", "development")
}

// NewViper creates a viper instance reading configFile (or ./dyno.yaml when
// empty) and DYNO_* environment variables such as DYNO_LLM_API_KEY.
// A missing default file is not an error.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("DYNO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("dyno")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return v, nil
}

// Load unmarshals and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Agent.BuildMaxIterations < 0 || c.Agent.AskMaxIterations < 0 {
		return fmt.Errorf("agent max iterations must not be negative")
	}
	if c.Agent.RetryAttempts < 0 {
		return fmt.Errorf("agent.retry_attempts must not be negative")
	}

	switch c.Session.Backend {
	case "memory", "sqlite", "file":
	default:
		return fmt.Errorf("invalid session backend: %s (must be memory, sqlite, or file)", c.Session.Backend)
	}
	if c.Session.Backend == "sqlite" && c.Database.Path == "" {
		return fmt.Errorf("database.path is required for the sqlite session backend")
	}

	switch strings.ToLower(c.Sandbox.Mode) {
	case "auto", "docker", "host":
	default:
		return fmt.Errorf("invalid sandbox mode: %s (must be auto, docker, or host)", c.Sandbox.Mode)
	}

	if c.Billing.MarginPercent < 0 {
		return fmt.Errorf("billing.margin_percent must not be negative")
	}
	if c.Billing.Enabled && c.Billing.CreditsPerDollar <= 0 {
		return fmt.Errorf("billing.credits_per_dollar must be positive")
	}
	if c.Billing.Enabled && c.Database.Path == "" {
		return fmt.Errorf("database.path is required when billing is enabled")
	}

	if c.Server.KeepAliveInterval < 0 {
		return fmt.Errorf("server.keepalive_interval must not be negative")
	}
	return nil
}
