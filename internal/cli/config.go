package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"plate/api/internal/client"
)

// Config is the terminal client's state, kept in ~/.plate/config.yaml.
type Config struct {
	Server   string         `yaml:"server"`
	Email    string         `yaml:"email,omitempty"`
	LogLevel string         `yaml:"log_level"`
	Session  client.Session `yaml:"session,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Server:   getEnv("PLATE_SERVER", "http://localhost:8080"),
		LogLevel: getEnv("PLATE_LOG_LEVEL", "warn"),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// ConfigPath honours PLATE_CONFIG, then falls back to the home directory.
func ConfigPath() (string, error) {
	if path := os.Getenv("PLATE_CONFIG"); path != "" {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".plate", "config.yaml"), nil
}

// LoadConfig returns the defaults when no file exists yet.
func LoadConfig() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Save writes the file with owner-only permissions since it holds tokens.
func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
