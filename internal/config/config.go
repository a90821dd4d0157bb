// Package config loads process configuration from defaults, an optional YAML
// file and PORTERO_ environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"portero.org/internal/auth"
	"portero.org/internal/obs"
)

// PathEnvVar overrides the config file location.
const PathEnvVar = "CONFIG_PATH"

// EnvPrefix is stripped from environment keys; "__" separates sections.
const EnvPrefix = "PORTERO_"

// DefaultPaths are searched when CONFIG_PATH is unset.
var DefaultPaths = []string{"portero.yaml", "portero.yml", "/etc/portero/portero.yaml"}

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Auth      AuthConfig      `koanf:"auth"`
	Lockout   LockoutConfig   `koanf:"lockout"`
	Password  PasswordConfig  `koanf:"password"`
	Sweep     SweepConfig     `koanf:"sweep"`
	MFA       MFAConfig       `koanf:"mfa"`
	Notify    NotifyConfig    `koanf:"notify"`
	Logging   obs.LogConfig   `koanf:"logging"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
}

type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gt=0"`
	IdleTimeout     time.Duration `koanf:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	MaxBodyBytes    int64         `koanf:"max_body_bytes" validate:"gt=0"`
}

// DatabaseConfig selects Postgres when DSN is set; otherwise the in-memory
// store is used.
type DatabaseConfig struct {
	DSN             string        `koanf:"dsn"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime" validate:"gte=0"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time" validate:"gte=0"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
}

type AuthConfig struct {
	Secret      string        `koanf:"secret" validate:"required,min=32"`
	Issuer      string        `koanf:"issuer" validate:"required"`
	AccessTTL   time.Duration `koanf:"access_ttl" validate:"gt=0"`
	MFATTL      time.Duration `koanf:"mfa_ttl" validate:"gt=0"`
	DefaultRole string        `koanf:"default_role" validate:"required"`
}

type LockoutConfig struct {
	MaxAttempts int           `koanf:"max_attempts" validate:"gte=1"`
	Duration    time.Duration `koanf:"duration" validate:"gt=0"`
}

type PasswordConfig struct {
	MinLength    int   `koanf:"min_length" validate:"gte=8"`
	HistoryDepth int   `koanf:"history_depth" validate:"gte=0"`
	MaxAgeDays   int   `koanf:"max_age_days" validate:"gte=1"`
	WarnDays     []int `koanf:"warn_days" validate:"dive,gte=1"`
}

type SweepConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Hour     int    `koanf:"hour" validate:"gte=0,lte=23"`
	Minute   int    `koanf:"minute" validate:"gte=0,lte=59"`
	Location string `koanf:"location"`
}

type MFAConfig struct {
	Store      string        `koanf:"store" validate:"oneof=postgres memory badger"`
	BadgerPath string        `koanf:"badger_path"`
	Retention  time.Duration `koanf:"retention" validate:"gte=0"`
}

type NotifyConfig struct {
	WebhookURL       string        `koanf:"webhook_url" validate:"omitempty,url"`
	Timeout          time.Duration `koanf:"timeout" validate:"gt=0"`
	QueueSize        int           `koanf:"queue_size" validate:"gte=1"`
	Workers          int           `koanf:"workers" validate:"gte=1"`
	FailureThreshold uint32        `koanf:"failure_threshold" validate:"gte=1"`
	OpenTimeout      time.Duration `koanf:"open_timeout" validate:"gt=0"`
}

// RateLimitConfig bounds login attempts per client address.
type RateLimitConfig struct {
	Enabled bool    `koanf:"enabled"`
	RPS     float64 `koanf:"rps" validate:"gt=0"`
	Burst   int     `koanf:"burst" validate:"gte=1"`
}

// Default returns the configuration used before any file or env override.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: 15 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Auth: AuthConfig{
			Issuer:      "portero",
			AccessTTL:   time.Hour,
			MFATTL:      5 * time.Minute,
			DefaultRole: auth.RoleEstudiante,
		},
		Lockout: LockoutConfig{MaxAttempts: 5, Duration: 15 * time.Minute},
		Password: PasswordConfig{
			MinLength:    12,
			HistoryDepth: 5,
			MaxAgeDays:   90,
			WarnDays:     []int{7, 3, 1},
		},
		Sweep:  SweepConfig{Enabled: true, Hour: 2, Location: "Local"},
		MFA:    MFAConfig{Store: "memory", Retention: time.Hour},
		Notify: NotifyConfig{Timeout: 5 * time.Second, QueueSize: 256, Workers: 2, FailureThreshold: 5, OpenTimeout: 30 * time.Second},
		Logging: obs.LogConfig{
			Level:  "info",
			Format: "json",
		},
		RateLimit: RateLimitConfig{Enabled: true, RPS: 1, Burst: 10},
	}
}

// Load reads configuration from the default locations.
func Load() (*Config, error) {
	return LoadFile(findFile())
}

// LoadFile layers path (skipped when empty) and the environment over the
// defaults, then validates the result.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// envKey maps PORTERO_LOCKOUT__MAX_ATTEMPTS to lockout.max_attempts.
func envKey(key string) string {
	key = strings.TrimPrefix(key, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(key), "__", ".")
}

func findFile() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var validate = validator.New()

// Validate checks field constraints and cross-section requirements.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.MFA.Store == "postgres" && c.Database.DSN == "" {
		return errors.New("mfa.store=postgres requires database.dsn")
	}
	if _, err := c.Sweep.TimeLocation(); err != nil {
		return fmt.Errorf("sweep.location: %w", err)
	}
	return nil
}

// TimeLocation resolves the sweep anchor zone.
func (s SweepConfig) TimeLocation() (*time.Location, error) {
	if s.Location == "" || s.Location == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(s.Location)
}

func (l LockoutConfig) Policy() auth.LockoutPolicy {
	return auth.LockoutPolicy{MaxAttempts: l.MaxAttempts, Duration: l.Duration}
}

func (p PasswordConfig) Policy() auth.PasswordPolicy {
	return auth.PasswordPolicy{MinLength: p.MinLength, HistoryDepth: p.HistoryDepth}
}

func (p PasswordConfig) Expiry() auth.ExpiryPolicy {
	warn := make([]int, len(p.WarnDays))
	copy(warn, p.WarnDays)
	return auth.ExpiryPolicy{MaxAgeDays: p.MaxAgeDays, WarnDays: warn}
}
