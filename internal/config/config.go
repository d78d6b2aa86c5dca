package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/portctl/internal/logger"
	"github.com/loykin/portctl/internal/resolver"
	"github.com/loykin/portctl/internal/runner"
)

// EnvPrefix is prepended to every environment override, e.g. PORTCTL_LOG_LEVEL.
const EnvPrefix = "PORTCTL"

// Config is the resolved runtime configuration.
type Config struct {
	Store   StoreConfig   `toml:"store" mapstructure:"store"`
	History HistoryConfig `toml:"history" mapstructure:"history"`
	Log     LogConfig     `toml:"log" mapstructure:"log"`
	Exec    ExecConfig    `toml:"exec" mapstructure:"exec"`
	Kill    KillConfig    `toml:"kill" mapstructure:"kill"`
	Metrics MetricsConfig `toml:"metrics" mapstructure:"metrics"`
}

type StoreConfig struct {
	// DSN selects the mapping store; empty means ~/.portctl/state.json.
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type HistoryConfig struct {
	// DSN of the kill history sink; empty disables history.
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Color      bool   `toml:"color" mapstructure:"color"`
	File       string `toml:"file" mapstructure:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type ExecConfig struct {
	Timeout time.Duration `toml:"timeout" mapstructure:"timeout"`
}

type KillConfig struct {
	SettleDelay time.Duration `toml:"settle_delay" mapstructure:"settle_delay"`
}

type MetricsConfig struct {
	// File receives a Prometheus textfile snapshot after each command.
	File string `toml:"file" mapstructure:"file"`
}

// Logger converts the log section for the logger package.
func (l LogConfig) Logger() logger.Config {
	return logger.Config{
		Level:      l.Level,
		Color:      l.Color,
		File:       l.File,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
		Compress:   l.Compress,
	}
}

// New returns a viper instance with defaults and environment binding set up.
// Callers may bind flags onto it before Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("store.dsn", "")
	v.SetDefault("history.dsn", "")
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.color", true)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)
	v.SetDefault("exec.timeout", runner.DefaultTimeout)
	v.SetDefault("kill.settle_delay", resolver.DefaultSettleDelay)
	v.SetDefault("metrics.file", "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional TOML file at path into v and decodes the result.
// Precedence: flags bound on v, then PORTCTL_* env, then the file, then defaults.
func Load(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate rejects values the rest of the program cannot work with.
func (c Config) Validate() error {
	var errs []error
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Exec.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("exec.timeout must be positive, got %s", c.Exec.Timeout))
	}
	if c.Kill.SettleDelay < 0 {
		errs = append(errs, fmt.Errorf("kill.settle_delay must not be negative, got %s", c.Kill.SettleDelay))
	}
	return errors.Join(errs...)
}
