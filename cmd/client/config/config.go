// Package config loads the YAML configuration of the pool watcher.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ClientConfig is the on-disk configuration of cmd/client.
type ClientConfig struct {
	StateStreamURL string `yaml:"state_stream_url"`

	// Pair optionally restricts the table to pools of one pair, e.g. "WETH/USDC".
	Pair string `yaml:"pair"`

	// LogFile receives the client's logs so they do not interleave with the
	// table. Empty means stderr.
	LogFile  string `yaml:"log_file"`
	LogLevel string `yaml:"log_level"`
}

// LoadConfig reads and validates the configuration at path.
func LoadConfig(path string) (*ClientConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := &ClientConfig{LogLevel: "info"}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *ClientConfig) Validate() error {
	if c.StateStreamURL == "" {
		return errors.New("config: state_stream_url is required")
	}
	if c.Pair != "" {
		if _, _, err := c.PairSymbols(); err != nil {
			return err
		}
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// PairSymbols splits Pair into its two token symbols.
func (c *ClientConfig) PairSymbols() (string, string, error) {
	a, b, ok := strings.Cut(c.Pair, "/")
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if !ok || a == "" || b == "" || a == b {
		return "", "", fmt.Errorf("config: pair %q must look like SYMBOL/SYMBOL", c.Pair)
	}
	return a, b, nil
}

func (c *ClientConfig) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: log_level: %w", err)
	}
	return level, nil
}
