package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// AgentConfig holds agent configuration stored in ~/.fleetguard/config.yml.
type AgentConfig struct {
	ServerURL         string        `yaml:"server_url"`
	APIKey            string        `yaml:"api_key"`
	UniqueIdentifier  string        `yaml:"unique_identifier"`
	Hostname          string        `yaml:"hostname,omitempty"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval,omitempty"`
}

// DefaultHeartbeatInterval is used when the config file does not set one.
const DefaultHeartbeatInterval = 60 * time.Second

// DefaultConfigDir returns the default configuration directory (~/.fleetguard).
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".fleetguard"), nil
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yml"), nil
}

// LoadAgentConfig loads the agent configuration from the given path.
// A missing file returns an empty config, not an error.
func LoadAgentConfig(path string) (*AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &AgentConfig{}, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg AgentConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	return &cfg, nil
}

// Save writes the configuration to the given path, creating the parent
// directory if needed. The file is written with owner-only permissions
// because it contains the API key.
func (c *AgentConfig) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks that required fields are present.
func (c *AgentConfig) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	if c.UniqueIdentifier == "" {
		return fmt.Errorf("unique_identifier is required")
	}
	return nil
}

// IsConfigured reports whether the agent has been set up.
func (c *AgentConfig) IsConfigured() bool {
	return c.ServerURL != "" && c.UniqueIdentifier != ""
}
