package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/oagudo/newsletter/pkg/store"
)

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/newsletter/config.yaml",
	"/etc/newsletter/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:       "pgx",
			Dialect:      "postgres",
			MaxOpenConns: 10,
			Migrate:      true,
		},
		Delivery: DeliveryConfig{
			Workers:         2,
			PollInterval:    10 * time.Second,
			ErrorBackoff:    time.Second,
			MaxErrorBackoff: time.Second,
		},
		Idempotency: IdempotencyConfig{
			TTL:            48 * time.Hour,
			ReaperInterval: 10 * time.Second,
		},
		Email: EmailConfig{
			Timeout: 10 * time.Second,
			Burst:   1,
		},
		Server: ServerConfig{
			BaseURL:           "http://localhost:8000",
			Host:              "0.0.0.0",
			Port:              8000,
			ShutdownTimeout:   10 * time.Second,
			RateLimitRequests: 60,
			RateLimitWindow:   time.Minute,
			ActorHeader:       "X-Actor-ID",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, then the config file if one
// exists, then environment variables, and validates the result.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if dialect, err := store.ParseDialect(cfg.Database.Dialect); err == nil && dialect == store.SQLDialectOracle {
		cfg.Database.DSN = withOraclePrefetch(cfg.Database.DSN)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

var envMappings = map[string]string{
	"database_driver":         "database.driver",
	"database_dialect":        "database.dialect",
	"database_dsn":            "database.dsn",
	"database_max_open_conns": "database.max_open_conns",
	"database_migrate":        "database.migrate",

	"delivery_workers":           "delivery.workers",
	"delivery_poll_interval":     "delivery.poll_interval",
	"delivery_error_backoff":     "delivery.error_backoff",
	"delivery_max_error_backoff": "delivery.max_error_backoff",
	"delivery_send_timeout":      "delivery.send_timeout",

	"idempotency_ttl":             "idempotency.ttl",
	"idempotency_reaper_interval": "idempotency.reaper_interval",

	"email_base_url":            "email.base_url",
	"email_sender":              "email.sender",
	"email_authorization_token": "email.authorization_token",
	"email_timeout":             "email.timeout",
	"email_rate_limit":          "email.rate_limit",
	"email_burst":               "email.burst",

	"http_base_url":            "server.base_url",
	"http_host":                "server.host",
	"http_port":                "server.port",
	"http_shutdown_timeout":    "server.shutdown_timeout",
	"http_rate_limit_requests": "server.rate_limit_requests",
	"http_rate_limit_window":   "server.rate_limit_window",
	"http_actor_header":        "server.actor_header",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc maps DATABASE_DSN to database.dsn and so on.
// Unmapped variables are skipped.
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
