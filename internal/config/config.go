// Package config handles configuration for tradekar. Two layers live here:
// the process configuration (bind address, data dir, timeouts), loaded via
// viper from defaults, an optional YAML file, and APP_* environment
// variables; and the persisted BotConfig consumed by the supervisor, stored
// as JSON under the data directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the complete process configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"    yaml:"server"`
	DataDir   string          `mapstructure:"data_dir"  yaml:"data_dir"`
	MasterKey string          `mapstructure:"-"         yaml:"-"` // env-only, never serialized
	Log       LogConfig       `mapstructure:"log"       yaml:"log"`
	Broker    BrokerConfig    `mapstructure:"broker"    yaml:"broker"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit" yaml:"ratelimit"`
	Session   SessionConfig   `mapstructure:"session"   yaml:"session"`
	Activity  ActivityConfig  `mapstructure:"activity"  yaml:"activity"`
	Catalog   CatalogConfig   `mapstructure:"catalog"   yaml:"catalog"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host        string   `mapstructure:"host"         yaml:"host"`
	Port        int      `mapstructure:"port"         yaml:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"` // "debug", "info", "warn", "error"
	Pretty bool   `mapstructure:"pretty" yaml:"pretty"`
}

// BrokerConfig holds adapter-level policy settings.
type BrokerConfig struct {
	RequestTimeoutSec int `mapstructure:"request_timeout_sec" yaml:"request_timeout_sec"` // quote/order calls
	HistoryTimeoutSec int `mapstructure:"history_timeout_sec" yaml:"history_timeout_sec"` // historical data calls
	RetryBudget       int `mapstructure:"retry_budget"        yaml:"retry_budget"`
}

// RateLimitConfig holds the HTTP per-endpoint-class budgets.
type RateLimitConfig struct {
	ReadsPerMin     int `mapstructure:"reads_per_min"     yaml:"reads_per_min"`
	MutationsPerMin int `mapstructure:"mutations_per_min" yaml:"mutations_per_min"`
}

// SessionConfig holds operator session settings.
type SessionConfig struct {
	TTLHours int `mapstructure:"ttl_hours" yaml:"ttl_hours"` // idle expiry
}

// ActivityConfig holds activity ring settings.
type ActivityConfig struct {
	Capacity int `mapstructure:"capacity" yaml:"capacity"`
}

// CatalogConfig holds instrument catalog settings.
type CatalogConfig struct {
	RefreshHours int `mapstructure:"refresh_hours" yaml:"refresh_hours"`
}

// Load reads the process configuration from defaults, an optional config
// file, and the APP_* environment.
//
// Config file search order:
//  1. ./config.yaml (working directory)
//  2. ~/.tradekar/config.yaml
//  3. /etc/tradekar/config.yaml
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath(filepath.Join(homeDir(), ".tradekar"))
	v.AddConfigPath("/etc/tradekar")

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		// No config file is fine; defaults + env carry it.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	overrideFromEnv(&cfg)
	return &cfg, nil
}

// LoadFromFile reads the process configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	overrideFromEnv(&cfg)
	return &cfg, nil
}

// Validate checks that the process configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of error|warn|info|debug", c.Log.Level)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is empty")
	}
	if c.Activity.Capacity < 500 {
		return fmt.Errorf("activity.capacity %d below minimum 500", c.Activity.Capacity)
	}
	if c.Broker.RetryBudget < 0 {
		return fmt.Errorf("broker.retry_budget must be >= 0")
	}
	return nil
}

// Addr returns the host:port bind address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})

	v.SetDefault("data_dir", filepath.Join(homeDir(), ".tradekar"))

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("broker.request_timeout_sec", 10)
	v.SetDefault("broker.history_timeout_sec", 30)
	v.SetDefault("broker.retry_budget", 3)

	v.SetDefault("ratelimit.reads_per_min", 60)
	v.SetDefault("ratelimit.mutations_per_min", 10)

	v.SetDefault("session.ttl_hours", 24)

	v.SetDefault("activity.capacity", 500)

	v.SetDefault("catalog.refresh_hours", 1)
}

// overrideFromEnv reads the externally documented APP_* variables. These win
// over file values regardless of viper key shape.
func overrideFromEnv(cfg *Config) {
	if host := os.Getenv("APP_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("APP_PORT"); port != "" {
		var p int
		if _, err := fmt.Sscanf(port, "%d", &p); err == nil && p > 0 {
			cfg.Server.Port = p
		}
	}
	if dir := os.Getenv("APP_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}
	if key := os.Getenv("APP_MASTER_KEY"); key != "" {
		cfg.MasterKey = key
	}
	if level := os.Getenv("APP_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
