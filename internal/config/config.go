// Package config loads relay configuration from an optional YAML file, an
// optional .env file and the process environment, in increasing priority.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Identity modes.
const (
	IdentityJWT     = "jwt"
	IdentitySession = "session"
)

// Relay is the full server configuration.
type Relay struct {
	Port        int    `env:"PORT" yaml:"port"`
	LogLevel    string `env:"LOG_LEVEL" yaml:"log_level"`
	LogFormat   string `env:"LOG_FORMAT" yaml:"log_format"`
	CORSOrigins string `env:"CORS_ALLOWED_ORIGINS" yaml:"cors_allowed_origins"`

	Store    string   `env:"SIGNAL_STORE" yaml:"signal_store"`
	Postgres Postgres `yaml:"postgres"`
	Redis    Redis    `yaml:"redis"`

	Identity Identity `yaml:"identity"`

	ProfileURL    string `env:"PROFILE_URL" yaml:"profile_url"`
	ProfileAPIKey string `env:"PROFILE_API_KEY" yaml:"-"`
	PushURL       string `env:"PUSH_URL" yaml:"push_url"`
	PushAPIKey    string `env:"PUSH_API_KEY" yaml:"-"`

	Media Media `yaml:"media"`

	RateLimitRPS   int           `env:"RATE_LIMIT_RPS" yaml:"rate_limit_rps"`
	RateLimitBurst int           `env:"RATE_LIMIT_BURST" yaml:"rate_limit_burst"`
	ReaperSchedule string        `env:"REAPER_SCHEDULE" yaml:"reaper_schedule"`
	StreamInterval time.Duration `env:"STREAM_POLL_INTERVAL" yaml:"stream_poll_interval"`
}

// Postgres configures the SQL signal store.
type Postgres struct {
	DSN          string `env:"DATABASE_URL" yaml:"dsn"`
	MaxOpenConns int    `env:"DATABASE_MAX_OPEN_CONNS" yaml:"max_open_conns"`
	MaxIdleConns int    `env:"DATABASE_MAX_IDLE_CONNS" yaml:"max_idle_conns"`
}

// Redis configures the Redis signal store.
type Redis struct {
	Addr     string `env:"REDIS_ADDR" yaml:"addr"`
	Password string `env:"REDIS_PASSWORD" yaml:"-"`
	DB       int    `env:"REDIS_DB" yaml:"db"`
	Prefix   string `env:"REDIS_PREFIX" yaml:"prefix"`
}

// Identity configures how bearer tokens are resolved.
type Identity struct {
	Mode      string `env:"IDENTITY_MODE" yaml:"mode"`
	JWTSecret string `env:"SESSION_JWT_SECRET" yaml:"-"`
	JWTIssuer string `env:"SESSION_JWT_ISSUER" yaml:"jwt_issuer"`
	URL       string `env:"IDENTITY_URL" yaml:"url"`
	APIKey    string `env:"IDENTITY_API_KEY" yaml:"-"`
}

// Media configures the hosted router and ICE servers. Secrets are not
// validated here; credential issuance fails closed per request instead.
type Media struct {
	URL        string        `env:"MEDIA_URL" yaml:"url"`
	APIKey     string        `env:"MEDIA_API_KEY" yaml:"-"`
	APISecret  string        `env:"MEDIA_API_SECRET" yaml:"-"`
	TokenTTL   time.Duration `env:"MEDIA_TOKEN_TTL" yaml:"token_ttl"`
	STUNURLs   string        `env:"STUN_URLS" yaml:"stun_urls"`
	TURNURLs   string        `env:"TURN_URLS" yaml:"turn_urls"`
	TURNSecret string        `env:"TURN_SECRET" yaml:"-"`
	TURNTTL    time.Duration `env:"TURN_TTL" yaml:"turn_ttl"`
}

// Load reads the optional YAML file named by RELAY_CONFIG and the optional
// .env file, decodes the environment over them and fills defaults.
func Load() (*Relay, error) {
	cfg := &Relay{}

	if path := strings.TrimSpace(os.Getenv("RELAY_CONFIG")); path != "" {
		if err := LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := envdecode.Decode(cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field.
func (c *Relay) ApplyDefaults() {
	setString(&c.LogLevel, "info")
	setString(&c.LogFormat, "json")
	setString(&c.Store, StoreMemory)
	setString(&c.Identity.Mode, IdentityJWT)
	setString(&c.Redis.Prefix, "signals:")
	setString(&c.Media.STUNURLs, "stun:stun.l.google.com:19302")
	setInt(&c.Port, 8090)
	setInt(&c.Postgres.MaxOpenConns, 10)
	setInt(&c.Postgres.MaxIdleConns, 5)
	setInt(&c.RateLimitRPS, 20)
	setInt(&c.RateLimitBurst, 40)
	setDuration(&c.StreamInterval, 2*time.Second)
	setDuration(&c.Media.TokenTTL, 10*time.Minute)
	setDuration(&c.Media.TURNTTL, 12*time.Hour)
}

func setString(v *string, def string) {
	if strings.TrimSpace(*v) == "" {
		*v = def
	}
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func setDuration(v *time.Duration, def time.Duration) {
	if *v == 0 {
		*v = def
	}
}

// LoadFile merges the YAML file at path into cfg.
func LoadFile(path string, cfg *Relay) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read relay config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse relay config: %w", err)
	}
	return nil
}

// Validate checks that the selected backends have what they need.
func (c *Relay) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("SIGNAL_STORE=postgres requires DATABASE_URL")
		}
	case StoreRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("SIGNAL_STORE=redis requires REDIS_ADDR")
		}
	default:
		return fmt.Errorf("unknown SIGNAL_STORE %q", c.Store)
	}

	switch c.Identity.Mode {
	case IdentityJWT:
		if c.Identity.JWTSecret == "" {
			return fmt.Errorf("IDENTITY_MODE=jwt requires SESSION_JWT_SECRET")
		}
	case IdentitySession:
		if c.Identity.URL == "" {
			return fmt.Errorf("IDENTITY_MODE=session requires IDENTITY_URL")
		}
	default:
		return fmt.Errorf("unknown IDENTITY_MODE %q", c.Identity.Mode)
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	return nil
}

// CORSOriginList splits CORS_ALLOWED_ORIGINS.
func (c *Relay) CORSOriginList() []string {
	return SplitAndTrimCSV(c.CORSOrigins)
}

// SplitAndTrimCSV splits a comma separated list, dropping empty entries.
func SplitAndTrimCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
