// Package config loads the traindeck service configuration from YAML with
// environment-variable fallbacks.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/traindeck-dev/traindeck/pkg/recovery"
)

// Config represents the service configuration
type Config struct {
	// Redis holds the shared Redis connection settings.
	Redis RedisConfig `yaml:"redis"`

	// Recovery holds the session-recovery policy knobs.
	Recovery recovery.Config `yaml:"recovery"`

	// Server holds the observability HTTP server settings.
	Server ServerConfig `yaml:"server"`

	// Tracing holds the OpenTelemetry exporter settings.
	Tracing TracingConfig `yaml:"tracing"`
}

// RedisConfig holds the Redis connection settings shared by the snapshot,
// session-state, and chat-history stores.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// ServerConfig holds the observability HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// TracingConfig holds the OpenTelemetry exporter settings.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
	// Exporter is "otlp", "stdout", or "none".
	Exporter string `yaml:"exporter"`
	// Endpoint is the OTLP collector endpoint.
	Endpoint string `yaml:"endpoint"`
}

// LoadConfig loads configuration from a YAML file. A missing path yields
// pure defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		Recovery: recovery.DefaultConfig(),
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// Environment fallbacks
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = os.Getenv("REDIS_ADDR")
	}
	if cfg.Redis.Password == "" {
		cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	}
	if cfg.Server.Port == 0 {
		if port, err := strconv.Atoi(os.Getenv("PORT")); err == nil {
			cfg.Server.Port = port
		}
	}

	// Defaults
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 10
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Tracing.Exporter == "" {
		cfg.Tracing.Exporter = "stdout"
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d is out of range", c.Server.Port)
	}
	switch c.Tracing.Exporter {
	case "otlp", "stdout", "none", "":
	default:
		return fmt.Errorf("unknown tracing exporter: %s", c.Tracing.Exporter)
	}
	return nil
}
