// Package config loads and validates the YAML application configuration.
// Unknown fields are rejected so typos fail fast at startup.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Auth       AuthConfig       `yaml:"auth"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Quotes     QuotesConfig     `yaml:"quotes"`
	Compliance ComplianceConfig `yaml:"compliance"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Env            string   `yaml:"env"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type AuthConfig struct {
	JWTSecret       string         `yaml:"jwt_secret"`
	TokenTTLMinutes int            `yaml:"token_ttl_minutes"`
	APIKeys         []APIKeyConfig `yaml:"api_keys"`
}

func (a AuthConfig) TokenTTL() time.Duration {
	return time.Duration(a.TokenTTLMinutes) * time.Minute
}

type APIKeyConfig struct {
	ClientID   string   `yaml:"client_id"`
	Key        string   `yaml:"key"`
	SecretHash string   `yaml:"secret_hash"`
	Scopes     []string `yaml:"scopes"`
}

type DatabaseConfig struct {
	Enable   bool   `yaml:"enable"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// DSN builds the go-sql-driver MySQL DSN.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type RedisConfig struct {
	Enable bool   `yaml:"enable"`
	URL    string `yaml:"url"`
}

type DispatcherConfig struct {
	MaxRetries     int `yaml:"max_retries"`
	InitialDelayMs int `yaml:"initial_delay_ms"`
	MaxDelayMs     int `yaml:"max_delay_ms"`
	TimeoutMs      int `yaml:"timeout_ms"`
}

type QuotesConfig struct {
	SweepIntervalS int `yaml:"sweep_interval_s"`
}

// ComplianceConfig tunes the velocity screening window. The window also
// sets how often stale sender history is pruned.
type ComplianceConfig struct {
	VelocityWindowS int `yaml:"velocity_window_s"`
}

func (c ComplianceConfig) VelocityWindow() time.Duration {
	return time.Duration(c.VelocityWindowS) * time.Second
}

type RateLimitConfig struct {
	Enable            bool  `yaml:"enable"`
	RequestsPerMinute int64 `yaml:"requests_per_minute"`
}

// Default returns the configuration used when no file is supplied:
// in-memory stores, no redis, local development logging.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads, defaults and validates a YAML config file.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Env == "" {
		c.Server.Env = "development"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		if c.Server.Env == "production" {
			c.Logging.Format = "json"
		} else {
			c.Logging.Format = "console"
		}
	}
	if c.Auth.TokenTTLMinutes == 0 {
		c.Auth.TokenTTLMinutes = 60
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Redis.URL == "" {
		c.Redis.URL = "redis://127.0.0.1:6379/0"
	}
	if c.Dispatcher.MaxRetries == 0 {
		c.Dispatcher.MaxRetries = 6
	}
	if c.Dispatcher.InitialDelayMs == 0 {
		c.Dispatcher.InitialDelayMs = 1000
	}
	if c.Dispatcher.MaxDelayMs == 0 {
		c.Dispatcher.MaxDelayMs = 60000
	}
	if c.Dispatcher.TimeoutMs == 0 {
		c.Dispatcher.TimeoutMs = 30000
	}
	if c.Quotes.SweepIntervalS == 0 {
		c.Quotes.SweepIntervalS = 60
	}
	if c.Compliance.VelocityWindowS == 0 {
		c.Compliance.VelocityWindowS = 3600
	}
	if c.RateLimit.RequestsPerMinute == 0 {
		c.RateLimit.RequestsPerMinute = 600
	}
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level unknown: %s", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format unknown: %s", c.Logging.Format)
	}
	if len(c.Auth.APIKeys) > 0 && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret required when api_keys are configured")
	}
	for i, k := range c.Auth.APIKeys {
		if k.ClientID == "" || k.Key == "" {
			return fmt.Errorf("auth.api_keys[%d]: client_id and key are required", i)
		}
	}
	if c.Database.Enable && c.Database.Name == "" {
		return fmt.Errorf("database.name required when database is enabled")
	}
	if c.Dispatcher.MaxRetries < 0 {
		return fmt.Errorf("dispatcher.max_retries must not be negative")
	}
	if c.Compliance.VelocityWindowS < 0 {
		return fmt.Errorf("compliance.velocity_window_s must not be negative")
	}
	return nil
}
