// Package config loads environment-driven configuration for the event
// fabric: server, logging, database, bus, auth, webhook, and rate-limit
// sections.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string `json:"host" env:"SERVER_HOST"`
	Port int    `json:"port" env:"SERVER_PORT"`
}

// DatabaseConfig controls the SQL persistence backend.
type DatabaseConfig struct {
	Driver          string `json:"driver" env:"DATABASE_DRIVER"`
	DSN             string `json:"dsn" env:"DATABASE_DSN"`
	Host            string `json:"host" env:"DATABASE_HOST"`
	Port            int    `json:"port" env:"DATABASE_PORT"`
	User            string `json:"user" env:"DATABASE_USER"`
	Password        string `json:"password" env:"DATABASE_PASSWORD"`
	Name            string `json:"name" env:"DATABASE_NAME"`
	SSLMode         string `json:"sslmode" env:"DATABASE_SSLMODE"`
	MaxOpenConns    int    `json:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `json:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `json:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
}

// LoggingConfig controls application logging.
type LoggingConfig struct {
	Level  string `json:"level" env:"LOG_LEVEL"`
	Format string `json:"format" env:"LOG_FORMAT"`
}

// BusConfig selects and configures the event bus backend.
type BusConfig struct {
	Backend             string        `json:"backend" env:"BUS_BACKEND"` // memory|redis|nats
	Prefix              string        `json:"prefix" env:"BUS_CHANNEL_PREFIX"`
	RedisURL            string        `json:"redis_url" env:"BUS_REDIS_URL"`
	NATSURL             string        `json:"nats_url" env:"BUS_NATS_URL"`
	NATSStreamName      string        `json:"nats_stream_name" env:"BUS_NATS_STREAM_NAME"`
	HealthCheckInterval time.Duration `json:"health_check_interval" env:"BUS_HEALTH_CHECK_INTERVAL"`
}

// AuthConfig controls HTTP API authentication and RBAC enforcement.
type AuthConfig struct {
	DefaultAPIKeyRole string        `json:"default_api_key_role" env:"AUTH_DEFAULT_API_KEY_ROLE"`
	JWTSecret         string        `json:"jwt_secret" env:"AUTH_JWT_SECRET"`
	AccessTokenTTL    time.Duration `json:"access_token_ttl" env:"AUTH_ACCESS_TOKEN_TTL"`
	RefreshTokenTTL   time.Duration `json:"refresh_token_ttl" env:"AUTH_REFRESH_TOKEN_TTL"`
	EnforceRBAC       bool          `json:"enforce_rbac" env:"AUTH_ENFORCE_RBAC"`
}

// WebhookConfig controls default webhook delivery behavior.
type WebhookConfig struct {
	DefaultTimeout time.Duration `json:"default_timeout" env:"WEBHOOK_DEFAULT_TIMEOUT"`
	MaxRetries     int           `json:"max_retries" env:"WEBHOOK_MAX_RETRIES"`
	HistoryCap     int           `json:"history_cap" env:"WEBHOOK_HISTORY_CAP"`
}

// RateLimitConfig controls whether rate limiting is active.
type RateLimitConfig struct {
	Enabled bool `json:"enabled" env:"RATE_LIMIT_ENABLED"`
}

// Config is the top-level configuration structure.
type Config struct {
	Server     ServerConfig     `json:"server"`
	Database   DatabaseConfig   `json:"database"`
	Logging    LoggingConfig    `json:"logging"`
	Bus        BusConfig        `json:"bus"`
	Auth       AuthConfig       `json:"auth"`
	Webhook    WebhookConfig    `json:"webhook"`
	RateLimit  RateLimitConfig  `json:"rate_limit"`
}

// New returns a configuration populated with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Bus: BusConfig{
			Backend:             "memory",
			Prefix:              "sf",
			NATSStreamName:      "SPIDERFOOT_EVENTS",
			HealthCheckInterval: 10 * time.Second,
		},
		Auth: AuthConfig{
			DefaultAPIKeyRole: "reader",
			AccessTokenTTL:    15 * time.Minute,
			RefreshTokenTTL:   24 * time.Hour,
			EnforceRBAC:       true,
		},
		Webhook: WebhookConfig{
			DefaultTimeout: 10 * time.Second,
			MaxRetries:     3,
			HistoryCap:     1000,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
		},
	}
}

// ConnectionString builds a PostgreSQL connection string using host parameters.
func (c DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Load loads configuration from file (if present) and environment variables,
// with environment variables taking precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/config.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		// envdecode errors when no tagged fields are present in the
		// environment; treat that as "no overrides" so local runs work
		// without exporting vars.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	applyDatabaseURLOverride(cfg)
	return cfg, nil
}

// LoadFile reads configuration from a YAML file.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	applyDatabaseURLOverride(cfg)
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyDatabaseURLOverride lets a DATABASE_URL env var override any
// file-based DSN, reducing setup friction in containerized deployments.
func applyDatabaseURLOverride(cfg *Config) {
	if cfg == nil {
		return
	}
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		cfg.Database.DSN = dsn
	}
}
