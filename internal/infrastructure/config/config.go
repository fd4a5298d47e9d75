// Package config loads the control-plane configuration from a YAML file
// with environment overrides, via viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/coinpilot/tradecore/internal/core/execution"
)

// Config is the full application configuration.
type Config struct {
	Log       LogConfig        `mapstructure:"log"`
	Database  DatabaseConfig   `mapstructure:"database"`
	Redis     RedisConfig      `mapstructure:"redis"`
	Execution execution.Config `mapstructure:"execution"`
	Emergency EmergencyConfig  `mapstructure:"emergency"`
	Notify    NotifyConfig     `mapstructure:"notify"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite or postgres
	DSN    string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr string `mapstructure:"addr"` // empty disables caching
}

type EmergencyConfig struct {
	MonitorInterval time.Duration `mapstructure:"monitor_interval"`
	MaxStopDuration time.Duration `mapstructure:"max_stop_duration"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

type TelegramConfig struct {
	Token  string `mapstructure:"token"`
	ChatID int64  `mapstructure:"chat_id"`
}

// Load reads configuration from path (optional) and TRADECORE_*
// environment variables, applying defaults for anything unset.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TRADECORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "tradecore.db")
	v.SetDefault("redis.addr", "")
	v.SetDefault("execution.max_retries", 3)
	v.SetDefault("execution.backoff", string(execution.BackoffExponential))
	v.SetDefault("execution.backoff_base", 100*time.Millisecond)
	v.SetDefault("execution.backoff_cap", 5*time.Second)
	v.SetDefault("execution.attempt_timeout", 10*time.Second)
	v.SetDefault("execution.concurrency_limit", 32)
	v.SetDefault("execution.failure_threshold", 5)
	v.SetDefault("execution.recovery_interval", 30*time.Second)
	v.SetDefault("emergency.monitor_interval", 30*time.Second)
	v.SetDefault("emergency.max_stop_duration", time.Hour)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
