// Package config loads newsletterd configuration from defaults, an optional
// YAML file and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/oagudo/newsletter/pkg/store"
)

// Config is the complete process configuration.
type Config struct {
	Database    DatabaseConfig    `koanf:"database"`
	Delivery    DeliveryConfig    `koanf:"delivery"`
	Idempotency IdempotencyConfig `koanf:"idempotency"`
	Email       EmailConfig       `koanf:"email"`
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
}

// DatabaseConfig selects the database/sql driver and SQL dialect.
type DatabaseConfig struct {
	// Driver is the database/sql driver name: pgx, postgres, mysql, sqlite3, oracle or sqlserver.
	Driver       string `koanf:"driver"`
	Dialect      string `koanf:"dialect"`
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	// Migrate applies embedded migrations at startup (postgres, mysql, mariadb, sqlite).
	Migrate bool `koanf:"migrate"`
}

// DeliveryConfig tunes the delivery worker pool.
type DeliveryConfig struct {
	Workers      int           `koanf:"workers"`
	PollInterval time.Duration `koanf:"poll_interval"`
	ErrorBackoff time.Duration `koanf:"error_backoff"`
	// MaxErrorBackoff above ErrorBackoff switches to exponential backoff.
	MaxErrorBackoff time.Duration `koanf:"max_error_backoff"`
	SendTimeout     time.Duration `koanf:"send_timeout"`
}

// IdempotencyConfig controls record retention.
type IdempotencyConfig struct {
	TTL            time.Duration `koanf:"ttl"`
	ReaperInterval time.Duration `koanf:"reaper_interval"`
}

// EmailConfig configures the outbound email API client.
type EmailConfig struct {
	BaseURL            string        `koanf:"base_url"`
	Sender             string        `koanf:"sender"`
	AuthorizationToken string        `koanf:"authorization_token"`
	Timeout            time.Duration `koanf:"timeout"`
	RateLimit          float64       `koanf:"rate_limit"`
	Burst              int           `koanf:"burst"`
}

// ServerConfig configures the HTTP admin API.
type ServerConfig struct {
	// BaseURL is the public address confirmation links point at.
	BaseURL string `koanf:"base_url"`
	Host              string        `koanf:"host"`
	Port              int           `koanf:"port"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	// ActorHeader carries the authenticated actor ID set by the fronting auth proxy.
	ActorHeader string `koanf:"actor_header"`
}

// Address returns host:port.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

var validate = validator.New()

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateDelivery(); err != nil {
		return err
	}
	if c.Idempotency.TTL <= 0 {
		return errors.New("idempotency.ttl must be positive")
	}
	if c.Idempotency.ReaperInterval <= 0 {
		return errors.New("idempotency.reaper_interval must be positive")
	}
	if err := c.validateEmail(); err != nil {
		return err
	}
	return c.validateServer()
}

func (c *Config) validateDatabase() error {
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	if c.Database.Driver == "" {
		return errors.New("database.driver is required")
	}
	dialect, err := store.ParseDialect(c.Database.Dialect)
	if err != nil {
		return fmt.Errorf("database.dialect: %w", err)
	}
	if dialect == store.SQLDialectOracle {
		if v, ok := oraclePrefetchRows(c.Database.DSN); !ok || v != "1" {
			return fmt.Errorf("database.dsn: oracle requires %s=1", oraclePrefetchOption)
		}
	}
	if c.Database.MaxOpenConns < 0 {
		return errors.New("database.max_open_conns must not be negative")
	}
	return nil
}

func (c *Config) validateDelivery() error {
	d := c.Delivery
	if d.Workers < 1 {
		return errors.New("delivery.workers must be at least 1")
	}
	if d.PollInterval <= 0 {
		return errors.New("delivery.poll_interval must be positive")
	}
	if d.ErrorBackoff <= 0 {
		return errors.New("delivery.error_backoff must be positive")
	}
	if d.MaxErrorBackoff < d.ErrorBackoff {
		return errors.New("delivery.max_error_backoff must not be less than delivery.error_backoff")
	}
	if d.SendTimeout < 0 {
		return errors.New("delivery.send_timeout must not be negative")
	}
	return nil
}

func (c *Config) validateEmail() error {
	if err := validate.Var(c.Email.BaseURL, "required,url"); err != nil {
		return fmt.Errorf("email.base_url is invalid: %w", err)
	}
	if err := validate.Var(c.Email.Sender, "required,email"); err != nil {
		return fmt.Errorf("email.sender is invalid: %w", err)
	}
	if c.Email.Timeout <= 0 {
		return errors.New("email.timeout must be positive")
	}
	if c.Email.RateLimit < 0 {
		return errors.New("email.rate_limit must not be negative")
	}
	return nil
}

func (c *Config) validateServer() error {
	s := c.Server
	if err := validate.Var(s.BaseURL, "required,url"); err != nil {
		return fmt.Errorf("server.base_url is invalid: %w", err)
	}
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", s.Port)
	}
	if s.ShutdownTimeout <= 0 {
		return errors.New("server.shutdown_timeout must be positive")
	}
	if s.RateLimitRequests < 1 || s.RateLimitWindow <= 0 {
		return errors.New("server rate limit must allow at least one request per positive window")
	}
	if s.ActorHeader == "" {
		return errors.New("server.actor_header is required")
	}
	return nil
}

// oraclePrefetchOption is the go-ora DSN option controlling how many rows a
// fetch pulls. Oracle locks FOR UPDATE rows as they are fetched, so the
// delivery claim only locks a single task when it is 1.
const oraclePrefetchOption = "PREFETCH_ROWS"

func oraclePrefetchRows(dsn string) (string, bool) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", false
	}
	for key, values := range u.Query() {
		if strings.EqualFold(key, oraclePrefetchOption) && len(values) > 0 {
			return values[len(values)-1], true
		}
	}
	return "", false
}

// withOraclePrefetch adds PREFETCH_ROWS=1 to an oracle DSN that does not
// set it. DSNs that set it keep their value and are checked by Validate.
func withOraclePrefetch(dsn string) string {
	if _, ok := oraclePrefetchRows(dsn); ok {
		return dsn
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return dsn
	}
	q := u.Query()
	q.Set(oraclePrefetchOption, "1")
	u.RawQuery = q.Encode()
	return u.String()
}
