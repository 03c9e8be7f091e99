// Package config loads runtime settings for the reconcile command from
// SETTLE_-prefixed environment variables and an optional YAML/JSON file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every key: db_path -> SETTLE_DB_PATH.
const EnvPrefix = "SETTLE"

// Config holds all runtime settings. Rule tables are not configured here;
// PolicyFile points at the versioned tables document.
type Config struct {
	DBPath     string        `mapstructure:"db_path"`
	PolicyFile string        `mapstructure:"policy_file"`
	LogLevel   string        `mapstructure:"log_level"`
	LogFormat  string        `mapstructure:"log_format"`
	Workers    int           `mapstructure:"workers"`
	RunTimeout time.Duration `mapstructure:"run_timeout"`
}

// Load reads defaults, then the config file (if path is non-empty), then the
// environment. Later sources win.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("db_path", "settlement.db")
	v.SetDefault("policy_file", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("workers", 4)
	v.SetDefault("run_timeout", "10m")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("%s_DB_PATH must be set", EnvPrefix)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%s_WORKERS must be >= 1, got %d", EnvPrefix, c.Workers)
	}
	if c.RunTimeout <= 0 {
		return fmt.Errorf("%s_RUN_TIMEOUT must be positive, got %s", EnvPrefix, c.RunTimeout)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("%s_LOG_FORMAT must be json or console, got %q", EnvPrefix, c.LogFormat)
	}
	return nil
}
