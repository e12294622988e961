// Package config loads the ammd configuration from flags, AMMD_* environment
// variables and an optional YAML file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/defistate/defistate-amm-go/protocols/cpamm"
	"github.com/defistate/defistate-amm-go/protocols/cpamm/calculator"
	"github.com/defistate/defistate-amm-go/protocols/tokenregistry"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

const EnvPrefix = "AMMD"

// Config holds all configuration for the daemon.
type Config struct {
	Listen          string        `mapstructure:"listen"`
	MetricsListen   string        `mapstructure:"metrics-listen"`
	DataDir         string        `mapstructure:"data-dir"` // empty selects the in-memory store
	MaxFeeBps       uint16        `mapstructure:"max-fee-bps"`
	FeePolicy       string        `mapstructure:"fee-policy"`
	FeeSink         string        `mapstructure:"fee-sink"`
	DepositRounding string        `mapstructure:"deposit-rounding"`
	DevFunding      bool          `mapstructure:"dev-funding"`
	RecentSwaps     int           `mapstructure:"recent-swaps"`
	PublishInterval time.Duration `mapstructure:"publish-interval"`
	AllowedOrigins  []string      `mapstructure:"allowed-origins"`
	Log             LogConfig     `mapstructure:"log"`
	Tokens          []TokenConfig `mapstructure:"tokens"`
	Pools           []PoolConfig  `mapstructure:"pools"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// TokenConfig registers a token at startup.
type TokenConfig struct {
	ID       uint64 `mapstructure:"id"`
	Address  string `mapstructure:"address"`
	Name     string `mapstructure:"name"`
	Symbol   string `mapstructure:"symbol"`
	Decimals uint8  `mapstructure:"decimals"`
}

// PoolConfig creates a pool at startup unless one with the same seed exists.
// Tokens are referenced by symbol.
type PoolConfig struct {
	Seed      uint64 `mapstructure:"seed"`
	TokenX    string `mapstructure:"token-x"`
	TokenY    string `mapstructure:"token-y"`
	FeeBps    uint16 `mapstructure:"fee-bps"`
	Authority string `mapstructure:"authority"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Listen:          "127.0.0.1:8545",
		MetricsListen:   "127.0.0.1:9090",
		MaxFeeBps:       cpamm.DefaultMaxFeeBps,
		FeePolicy:       cpamm.FeeRetained.String(),
		DepositRounding: calculator.RoundDown.String(),
		RecentSwaps:     4096,
		PublishInterval: 50 * time.Millisecond,
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// SetDefaults registers every scalar default with v so AutomaticEnv can see the keys.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("listen", d.Listen)
	v.SetDefault("metrics-listen", d.MetricsListen)
	v.SetDefault("data-dir", d.DataDir)
	v.SetDefault("max-fee-bps", d.MaxFeeBps)
	v.SetDefault("fee-policy", d.FeePolicy)
	v.SetDefault("fee-sink", d.FeeSink)
	v.SetDefault("deposit-rounding", d.DepositRounding)
	v.SetDefault("dev-funding", d.DevFunding)
	v.SetDefault("recent-swaps", d.RecentSwaps)
	v.SetDefault("publish-interval", d.PublishInterval)
	v.SetDefault("allowed-origins", d.AllowedOrigins)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Load reads configPath (if set) into v and decodes the merged result.
func Load(v *viper.Viper, configPath string) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Listen == "" {
		return errors.New("config: listen address is required")
	}
	if c.MaxFeeBps > cpamm.BasisPointDivisor {
		return fmt.Errorf("config: max-fee-bps %d exceeds %d", c.MaxFeeBps, cpamm.BasisPointDivisor)
	}
	opts, err := c.CalculatorOptions()
	if err != nil {
		return err
	}
	if opts.FeePolicy == cpamm.FeeToSink && c.FeeSink == "" {
		return errors.New("config: fee-sink is required with the sink fee policy")
	}
	if c.RecentSwaps < 0 {
		return errors.New("config: recent-swaps must not be negative")
	}
	if _, err := c.RegistryTokens(); err != nil {
		return err
	}
	symbols := make(map[string]bool, len(c.Tokens))
	for _, t := range c.Tokens {
		symbols[strings.ToUpper(t.Symbol)] = true
	}
	for _, p := range c.Pools {
		for _, s := range []string{p.TokenX, p.TokenY} {
			if !symbols[strings.ToUpper(s)] {
				return fmt.Errorf("config: pool with seed %d references unknown token %q", p.Seed, s)
			}
		}
	}
	return nil
}

// CalculatorOptions parses the fee policy and deposit rounding.
func (c Config) CalculatorOptions() (calculator.Options, error) {
	policy, err := cpamm.ParseFeePolicy(c.FeePolicy)
	if err != nil {
		return calculator.Options{}, fmt.Errorf("config: fee-policy: %w", err)
	}
	rounding, err := calculator.ParseRounding(c.DepositRounding)
	if err != nil {
		return calculator.Options{}, fmt.Errorf("config: deposit-rounding: %w", err)
	}
	return calculator.Options{FeePolicy: policy, DepositRounding: rounding}, nil
}

// RegistryTokens converts the configured tokens, checking their addresses.
func (c Config) RegistryTokens() ([]tokenregistry.Token, error) {
	tokens := make([]tokenregistry.Token, 0, len(c.Tokens))
	for _, t := range c.Tokens {
		if !common.IsHexAddress(t.Address) {
			return nil, fmt.Errorf("config: token %q has invalid address %q", t.Symbol, t.Address)
		}
		if t.Symbol == "" {
			return nil, fmt.Errorf("config: token %d has no symbol", t.ID)
		}
		tokens = append(tokens, tokenregistry.Token{
			ID:       t.ID,
			Address:  common.HexToAddress(t.Address),
			Name:     t.Name,
			Symbol:   t.Symbol,
			Decimals: t.Decimals,
		})
	}
	return tokens, nil
}

// NewLogger builds the daemon's slog logger.
func (l LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return nil, fmt.Errorf("config: log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(l.Format) {
	case "", "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("config: unknown log format %q", l.Format)
}
