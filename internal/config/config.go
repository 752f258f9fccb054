// Package config loads service configuration from an optional YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	Clock    ClockConfig    `yaml:"clock"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

type NATSConfig struct {
	// URL enables the advisory event publisher when non-empty.
	URL string `yaml:"url"`
}

type ClockConfig struct {
	TickIntervalMs int `yaml:"tick_interval_ms"`
	SaveDebounceMs int `yaml:"save_debounce_ms"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DSN returns the Postgres connection URL.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// TickInterval returns the broadcaster cadence.
func (c ClockConfig) TickInterval() time.Duration {
	if c.TickIntervalMs <= 0 {
		return time.Second
	}
	return time.Duration(c.TickIntervalMs) * time.Millisecond
}

// SaveDebounce returns the write-behind coalescing window.
func (c ClockConfig) SaveDebounce() time.Duration {
	if c.SaveDebounceMs <= 0 {
		return 250 * time.Millisecond
	}
	return time.Duration(c.SaveDebounceMs) * time.Millisecond
}

// Load reads the YAML file at path (if it exists) and applies environment
// overrides on top.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg.Server.Addr = getEnv("ADDR", defaultString(cfg.Server.Addr, ":3000"))
	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", cfg.Auth.JWTSecret)

	cfg.Database.Host = getEnv("DB_HOST", defaultString(cfg.Database.Host, "localhost"))
	cfg.Database.Port = getEnvAsInt("DB_PORT", defaultInt(cfg.Database.Port, 5432))
	cfg.Database.User = getEnv("DB_USER", defaultString(cfg.Database.User, "postgres"))
	cfg.Database.Password = getEnv("DB_PASSWORD", defaultString(cfg.Database.Password, "postgres"))
	cfg.Database.Database = getEnv("DB_NAME", defaultString(cfg.Database.Database, "pokerclock"))
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", defaultString(cfg.Database.SSLMode, "disable"))

	cfg.NATS.URL = getEnv("NATS_URL", cfg.NATS.URL)

	cfg.Clock.TickIntervalMs = getEnvAsInt("TICK_INTERVAL_MS", cfg.Clock.TickIntervalMs)
	cfg.Clock.SaveDebounceMs = getEnvAsInt("SAVE_DEBOUNCE_MS", cfg.Clock.SaveDebounceMs)

	cfg.Log.Level = getEnv("LOG_LEVEL", defaultString(cfg.Log.Level, "info"))
	cfg.Log.Format = getEnv("LOG_FORMAT", defaultString(cfg.Log.Format, "json"))

	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret is required (JWT_SECRET)")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func defaultInt(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}
