// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"discord-guild-bot/internal/model"
)

// Config holds all application configuration.
type Config struct {
	Bot      BotConfig      `mapstructure:"bot"`
	Database DatabaseConfig `mapstructure:"database"`
	Features model.Features `mapstructure:"features"`
	Leveling LevelingConfig `mapstructure:"leveling"`
	Stats    StatsConfig    `mapstructure:"stats"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Log      LogConfig      `mapstructure:"log"`
}

// BotConfig holds Discord bot configuration.
type BotConfig struct {
	Token       string  `mapstructure:"token"`
	Prefix      string  `mapstructure:"prefix"`
	Description string  `mapstructure:"description"`
	Version     string  `mapstructure:"version"`
	OwnerIDs    []int64 `mapstructure:"owner_ids"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// LevelingConfig holds the XP award policy.
// Both bounds are inclusive.
type LevelingConfig struct {
	XPMin int64 `mapstructure:"xp_min"`
	XPMax int64 `mapstructure:"xp_max"`
}

// StatsConfig holds the stats reporter configuration.
type StatsConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// HTTPConfig holds the status server configuration.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// StatusToken, when set, is required as a bearer token on /status.
	StatusToken     string        `mapstructure:"status_token"`
}

// StorageConfig bounds every datastore operation.
type StorageConfig struct {
	OpTimeout     time.Duration `mapstructure:"op_timeout"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
}

// GatewayConfig bounds outbound platform commands.
type GatewayConfig struct {
	OutboxSize     int           `mapstructure:"outbox_size"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables use underscore separator and uppercase
	// e.g., BOT_TOKEN, DATABASE_HOST, LEVELING_XP_MIN
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file is optional, env vars can provide all config
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Secrets have empty defaults so env-only deployments can set them.
	v.SetDefault("bot.token", "")
	v.SetDefault("bot.owner_ids", []int64{})
	v.SetDefault("bot.prefix", model.DefaultPrefix)
	v.SetDefault("bot.description", "Community automation bot")
	v.SetDefault("bot.version", "2.0.0")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "guildbot")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "guildbot")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	v.SetDefault("features.leveling", true)
	v.SetDefault("features.economy", true)
	v.SetDefault("features.auto_moderation", true)
	v.SetDefault("features.music", true)

	v.SetDefault("leveling.xp_min", 15)
	v.SetDefault("leveling.xp_max", 25)

	v.SetDefault("stats.interval", "5m")

	v.SetDefault("http.addr", ":10000")
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.shutdown_timeout", "5s")
	v.SetDefault("http.status_token", "")

	v.SetDefault("storage.op_timeout", "5s")
	v.SetDefault("storage.retry_attempts", 3)

	v.SetDefault("gateway.outbox_size", 256)
	v.SetDefault("gateway.command_timeout", "10s")

	v.SetDefault("log.level", "info")
}

// Validate checks values that would otherwise fail at runtime.
func (c *Config) Validate() error {
	var errs []error
	if c.Leveling.XPMin < 0 {
		errs = append(errs, fmt.Errorf("leveling.xp_min must not be negative, got %d", c.Leveling.XPMin))
	}
	if c.Leveling.XPMin > c.Leveling.XPMax {
		errs = append(errs, fmt.Errorf("leveling.xp_min (%d) exceeds leveling.xp_max (%d)", c.Leveling.XPMin, c.Leveling.XPMax))
	}
	if c.Stats.Interval <= 0 {
		errs = append(errs, fmt.Errorf("stats.interval must be positive, got %s", c.Stats.Interval))
	}
	if c.Storage.OpTimeout <= 0 {
		errs = append(errs, fmt.Errorf("storage.op_timeout must be positive, got %s", c.Storage.OpTimeout))
	}
	if c.Storage.RetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("storage.retry_attempts must be at least 1, got %d", c.Storage.RetryAttempts))
	}
	if c.Gateway.OutboxSize < 1 {
		errs = append(errs, fmt.Errorf("gateway.outbox_size must be at least 1, got %d", c.Gateway.OutboxSize))
	}
	return errors.Join(errs...)
}

// IsOwner checks if a user ID is in the bot owner list.
func (c *Config) IsOwner(userID int64) bool {
	for _, id := range c.Bot.OwnerIDs {
		if id == userID {
			return true
		}
	}
	return false
}
