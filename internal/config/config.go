package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
	EnvTesting     Environment = "testing"
)

func (e Environment) IsValid() bool {
	switch e {
	case EnvDevelopment, EnvProduction, EnvTesting:
		return true
	}
	return false
}

type Config struct {
	Server    Server
	Database  Database
	Cache     Cache
	RateLimit RateLimit
	Lockout   Lockout
	Token     Token
	Webhook   Webhook
	Passkey   Passkey
	BaseURL   string `env:"BASE_URL"`
}

type Server struct {
	Port           int           `env:"SERVER_PORT" envDefault:"8080"`
	Environment    Environment   `env:"ENVIRONMENT" envDefault:"development"`
	ReadTimeout    time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout   time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout    time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"120s"`
	MaxHeaderBytes int           `env:"SERVER_MAX_HEADER_BYTES" envDefault:"1048576"`
}

func (s Server) IsProduction() bool {
	return s.Environment == EnvProduction
}

// GetBaseURL returns the configured base URL or constructs one from server config
func (c Config) GetBaseURL() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}

	scheme := "http"
	if c.Server.IsProduction() {
		scheme = "https"
	}
	return fmt.Sprintf("%s://localhost:%d", scheme, c.Server.Port)
}

type Database struct {
	URL             string        `env:"DATABASE_URL" envDefault:"postgres://localhost:5432/signet"`
	MaxOpenConns    int32         `env:"DATABASE_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int32         `env:"DATABASE_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME" envDefault:"30m"`
	ConnMaxIdleTime time.Duration `env:"DATABASE_CONN_MAX_IDLE_TIME" envDefault:"5m"`
}

type Cache struct {
	Enabled       bool          `env:"REDIS_ENABLED" envDefault:"true"`
	RedisAddr     string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	RedisPoolSize int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	DialTimeout   time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout   time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout  time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
	KeyPrefix     string        `env:"REDIS_KEY_PREFIX" envDefault:"signet:"`
}

type RateLimit struct {
	Enabled        bool          `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	OAuthRequests  int           `env:"RATE_LIMIT_OAUTH_REQUESTS" envDefault:"10"`
	AuthRequests   int           `env:"RATE_LIMIT_AUTH_REQUESTS" envDefault:"5"`
	PublicRequests int           `env:"RATE_LIMIT_PUBLIC_REQUESTS" envDefault:"60"`
	WindowDuration time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`

	// FailOpen controls behavior when the counter store is unreachable.
	// Degraded mode: allow traffic instead of rejecting it. Off in any
	// configuration that mandates abuse control.
	FailOpen bool `env:"ABUSE_FAIL_OPEN" envDefault:"false"`
}

type Lockout struct {
	MaxFailures  int           `env:"LOCKOUT_MAX_FAILURES" envDefault:"5"`
	Duration     time.Duration `env:"LOCKOUT_DURATION" envDefault:"15m"`
	FailureTTL   time.Duration `env:"LOCKOUT_FAILURE_TTL" envDefault:"15m"`
	CodeTTL      time.Duration `env:"VERIFICATION_CODE_TTL" envDefault:"10m"`
	FailOpen     bool          `env:"ABUSE_FAIL_OPEN" envDefault:"false"`
}

type Token struct {
	Issuer          string        `env:"TOKEN_ISSUER"`
	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"1h"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"720h"`
	AuthCodeTTL     time.Duration `env:"AUTH_CODE_TTL" envDefault:"10m"`
	KeySize         int           `env:"SIGNING_KEY_SIZE" envDefault:"2048"`
}

type Webhook struct {
	PollInterval   time.Duration `env:"WEBHOOK_POLL_INTERVAL" envDefault:"5s"`
	RequestTimeout time.Duration `env:"WEBHOOK_REQUEST_TIMEOUT" envDefault:"5s"`
	MaxAttempts    int           `env:"WEBHOOK_MAX_ATTEMPTS" envDefault:"5"`
	BackoffBase    time.Duration `env:"WEBHOOK_BACKOFF_BASE" envDefault:"30s"`
	BackoffCap     time.Duration `env:"WEBHOOK_BACKOFF_CAP" envDefault:"10m"`
	BatchSize      int           `env:"WEBHOOK_BATCH_SIZE" envDefault:"20"`

	// LeaseTimeout bounds how long a claimed delivery may sit in flight
	// before another worker reclaims it. Must exceed RequestTimeout or a
	// slow subscriber gets double-delivered.
	LeaseTimeout time.Duration `env:"WEBHOOK_LEASE_TIMEOUT" envDefault:"1m"`
}

type Passkey struct {
	RPID          string        `env:"PASSKEY_RP_ID" envDefault:"localhost"`
	RPDisplayName string        `env:"PASSKEY_RP_DISPLAY_NAME" envDefault:"Signet"`
	RPOrigin      string        `env:"PASSKEY_RP_ORIGIN" envDefault:"http://localhost:8080"`
	ChallengeTTL  time.Duration `env:"PASSKEY_CHALLENGE_TTL" envDefault:"5m"`
}

// Load loads configuration from the environment with proper error handling
func Load() (Config, error) {
	var config Config
	if err := env.Parse(&config); err != nil {
		return config, fmt.Errorf("failed to parse environment: %w", err)
	}

	if !config.Server.Environment.IsValid() {
		return config, fmt.Errorf("invalid environment: %s", config.Server.Environment)
	}

	if config.Token.Issuer == "" {
		config.Token.Issuer = config.GetBaseURL()
	}

	if config.Lockout.MaxFailures <= 0 {
		return config, fmt.Errorf("lockout max failures must be positive, got %d", config.Lockout.MaxFailures)
	}

	if config.Webhook.MaxAttempts <= 0 {
		return config, fmt.Errorf("webhook max attempts must be positive, got %d", config.Webhook.MaxAttempts)
	}

	return config, nil
}
