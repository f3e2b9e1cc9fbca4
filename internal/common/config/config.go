// Package config provides configuration management for agentdeck.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for agentdeck.
type Config struct {
	Agent   AgentConfig   `mapstructure:"agent"`
	NATS    NATSConfig    `mapstructure:"nats"`
	Store   StoreConfig   `mapstructure:"store"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// AgentConfig holds settings for the agent subprocess and its turns.
type AgentConfig struct {
	// Command is the agent binary invocation, e.g. "codex app-server".
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`

	// WorkDir is the working directory exposed to the agent.
	WorkDir string `mapstructure:"workDir"`

	// ApprovalPolicy is passed on thread start: "untrusted", "on-failure",
	// "on-request", or "never".
	ApprovalPolicy string `mapstructure:"approvalPolicy"`

	// SessionsDir is where the agent writes resumable transcripts
	// (rollout-*.jsonl files). Used for resume-after-restart.
	SessionsDir string `mapstructure:"sessionsDir"`

	// RPCTimeoutSeconds bounds a single RPC call. Agent turns can run for
	// many minutes, so the default is deliberately long.
	RPCTimeoutSeconds int `mapstructure:"rpcTimeoutSeconds"`

	// ShutdownGraceSeconds bounds graceful subprocess shutdown before a
	// forced kill.
	ShutdownGraceSeconds int `mapstructure:"shutdownGraceSeconds"`
}

// NATSConfig holds NATS messaging configuration.
// An empty URL disables external publishing entirely.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// StoreConfig holds the session resume store configuration.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("agent.command", "codex")
	v.SetDefault("agent.args", []string{"app-server"})
	v.SetDefault("agent.workDir", ".")
	v.SetDefault("agent.approvalPolicy", "untrusted")
	v.SetDefault("agent.sessionsDir", "")
	v.SetDefault("agent.rpcTimeoutSeconds", 3600)
	v.SetDefault("agent.shutdownGraceSeconds", 3)

	// NATS defaults - empty URL means events stay in-process
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "agentdeck")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("store.path", filepath.Join(".agentdeck", "sessions.db"))

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.outputPath", "stderr")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix AGENTDECK_ with snake_case naming.
// The config file is agentdeck.yaml in the current directory or /etc/agentdeck/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("AGENTDECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion,
	// so bind keys where env var naming differs from the config key.
	_ = v.BindEnv("agent.workDir", "AGENTDECK_AGENT_WORK_DIR")
	_ = v.BindEnv("agent.approvalPolicy", "AGENTDECK_AGENT_APPROVAL_POLICY")
	_ = v.BindEnv("agent.sessionsDir", "AGENTDECK_AGENT_SESSIONS_DIR")

	v.SetConfigName("agentdeck")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/agentdeck/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if strings.TrimSpace(cfg.Agent.Command) == "" {
		errs = append(errs, "agent.command is required")
	}
	if cfg.Agent.RPCTimeoutSeconds <= 0 {
		errs = append(errs, "agent.rpcTimeoutSeconds must be positive")
	}
	if cfg.Agent.ShutdownGraceSeconds <= 0 {
		errs = append(errs, "agent.shutdownGraceSeconds must be positive")
	}
	switch cfg.Agent.ApprovalPolicy {
	case "", "untrusted", "on-failure", "on-request", "never":
	default:
		errs = append(errs, "agent.approvalPolicy must be one of untrusted, on-failure, on-request, never")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
