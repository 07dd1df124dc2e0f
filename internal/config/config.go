// Package config loads server settings.
//
// THE THREE LAYERS:
//
//	Default()        built-in values, enough for local development
//	    ▼
//	CONFIG_FILE      optional YAML file, overrides what it names
//	    ▼
//	environment      PORT, JWT_SECRET, ... always win
//
// cmd/server loads a .env file into the environment first, so in practice
// a developer edits .env and production sets real variables.
//
// SERVER CONFIG VS ADMIN CONFIG:
// This package holds what an operator sets at deploy time: ports, secrets,
// the database path, the cycle boundary. What staff change while the venue
// is open (staff code, geofence, coupon catalog) is the admin config
// document in SQLite, edited through /api/admin/config.
//
// SECRETS:
// JWT_SECRET and ADMIN_PASSWORD have no defaults. Validate refuses to start
// without them rather than run with a guessable value.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sakif/fortune-club/internal/cycle"
	"github.com/sakif/fortune-club/internal/model"
)

// Config holds all application configuration.
//
// STRUCT TAGS FOR YAML:
// `yaml:"rate_limit"` tells yaml.v3 which key fills the field. Keys missing
// from the file leave the field at whatever Default() put there, which is
// how a three-line config.yaml can override just the port.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Cycle     CycleConfig     `yaml:"cycle"`
	Draw      DrawConfig      `yaml:"draw"`
	Redis     RedisConfig     `yaml:"redis"`
	Tracing   TracingConfig   `yaml:"tracing"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig is the HTTP listener.
type ServerConfig struct {
	Port int `yaml:"port"`
	// AllowedOrigins lists CORS origins; "*" allows any.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig points at the SQLite file, or ":memory:" for a throwaway
// database.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds both secrets. JWTSecret signs patron and staff tokens;
// AdminPassword is compared in constant time on staff login.
type AuthConfig struct {
	JWTSecret     string `yaml:"jwt_secret"`
	AdminPassword string `yaml:"admin_password"`
	// TestHandlePrefix marks unlimited-use demo accounts.
	TestHandlePrefix string `yaml:"test_handle_prefix"`
}

// CycleConfig positions the business-day boundary.
type CycleConfig struct {
	UTCOffsetMinutes int `yaml:"utc_offset_minutes"`
	RolloverHour     int `yaml:"rollover_hour"`
}

// DrawConfig tunes the card draw.
type DrawConfig struct {
	// ZeroWeightPolicy is "last" or "uniform": what to pick when staff have
	// set every card weight to zero.
	ZeroWeightPolicy string `yaml:"zero_weight_policy"`
}

// RedisConfig enables the Redis config cache when Addr is set. Without it an
// in-process cache is used.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// TracingConfig enables OTLP export when Endpoint is set. SampleRatio is
// the fraction of root spans kept.
type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	Environment string  `yaml:"environment"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// RateLimitConfig applies per client IP to the check-in and admin login
// routes.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// LogConfig selects the slog handler and its level.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
}

// Default returns the built-in configuration.
//
// Every setting has a usable default except the two secrets, so a fresh
// checkout runs with JWT_SECRET and ADMIN_PASSWORD in .env and nothing else.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			AllowedOrigins: []string{"*"},
		},
		Database: DatabaseConfig{Path: "data/fortune.db"},
		Auth: AuthConfig{
			TestHandlePrefix: string(model.DefaultTestIdentity),
		},
		Cycle: CycleConfig{
			UTCOffsetMinutes: cycle.DefaultUTCOffsetMinutes,
			RolloverHour:     cycle.DefaultRolloverHour,
		},
		Draw:      DrawConfig{ZeroWeightPolicy: "last"},
		Redis:     RedisConfig{CacheTTL: 30 * time.Second},
		Tracing:   TracingConfig{ServiceName: "fortune-club", Environment: "development", SampleRatio: 1},
		RateLimit: RateLimitConfig{RPS: 1, Burst: 5},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration. path may be empty; a named file that does
// not exist is an error.
func Load(path string) (*Config, error) {
	// Layer 1: defaults.
	cfg := Default()

	// Layer 2: the YAML file, if any.
	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("config: loading %s: %w", path, err)
		}
	}

	// Layer 3: environment variables win over both.
	if err := overrideFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// loadFromFile decodes into the already-defaulted cfg, so the file only has
// to name what it changes.
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// overrideFromEnv applies every variable that is set and non-empty. The
// first parse failure is kept in err and later numeric setters become
// no-ops, so the error names the first bad variable.
func overrideFromEnv(cfg *Config) error {
	// CLOSURES AS SETTERS:
	// The three helpers below capture err from this scope. Each call site
	// stays one line, and the parse error for the first bad variable
	// survives to the return below.
	var err error
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" && err == nil {
			n, perr := strconv.Atoi(v)
			if perr != nil {
				err = fmt.Errorf("invalid %s %q: %w", key, v, perr)
				return
			}
			*dst = n
		}
	}
	setFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" && err == nil {
			f, perr := strconv.ParseFloat(v, 64)
			if perr != nil {
				err = fmt.Errorf("invalid %s %q: %w", key, v, perr)
				return
			}
			*dst = f
		}
	}

	setInt("PORT", &cfg.Server.Port)
	setString("DB_PATH", &cfg.Database.Path)
	setString("JWT_SECRET", &cfg.Auth.JWTSecret)
	setString("ADMIN_PASSWORD", &cfg.Auth.AdminPassword)
	setString("TEST_HANDLE_PREFIX", &cfg.Auth.TestHandlePrefix)
	setInt("CYCLE_UTC_OFFSET_MINUTES", &cfg.Cycle.UTCOffsetMinutes)
	setInt("CYCLE_ROLLOVER_HOUR", &cfg.Cycle.RolloverHour)
	setString("SAMPLER_ZERO_POLICY", &cfg.Draw.ZeroWeightPolicy)
	setString("REDIS_ADDR", &cfg.Redis.Addr)
	setString("REDIS_PASSWORD", &cfg.Redis.Password)
	setInt("REDIS_DB", &cfg.Redis.DB)
	setString("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Tracing.Endpoint)
	setString("OTEL_SERVICE_NAME", &cfg.Tracing.ServiceName)
	setString("APP_ENV", &cfg.Tracing.Environment)
	setFloat("OTEL_SAMPLE_RATIO", &cfg.Tracing.SampleRatio)
	setFloat("RATE_LIMIT_RPS", &cfg.RateLimit.RPS)
	setInt("RATE_LIMIT_BURST", &cfg.RateLimit.Burst)
	setString("LOG_LEVEL", &cfg.Log.Level)
	setString("LOG_FORMAT", &cfg.Log.Format)

	// Durations use Go syntax: "30s", "2m".
	if v := os.Getenv("CONFIG_CACHE_TTL"); v != "" && err == nil {
		d, perr := time.ParseDuration(v)
		if perr != nil {
			return fmt.Errorf("invalid CONFIG_CACHE_TTL %q: %w", v, perr)
		}
		cfg.Redis.CacheTTL = d
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}
	return err
}

// splitList parses "a, b,,c" into [a b c].
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate reports the first invalid setting. It runs once at startup; a
// server that starts is a server whose config is complete.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Server.Port)
	}
	if c.Database.Path == "" {
		return errors.New("config: database path is required")
	}
	// HS256 with a short key is brute-forceable offline from any token.
	if len(c.Auth.JWTSecret) < 16 {
		return errors.New("config: JWT secret must be at least 16 characters")
	}
	if c.Auth.AdminPassword == "" {
		return errors.New("config: admin password is required")
	}
	if c.Auth.TestHandlePrefix == "" {
		return errors.New("config: test handle prefix must not be empty")
	}
	if c.Cycle.RolloverHour < 0 || c.Cycle.RolloverHour > 23 {
		return fmt.Errorf("config: rollover hour %d must be 0..23", c.Cycle.RolloverHour)
	}
	// Real-world offsets run from UTC-12 to UTC+14.
	if c.Cycle.UTCOffsetMinutes < -12*60 || c.Cycle.UTCOffsetMinutes > 14*60 {
		return fmt.Errorf("config: UTC offset %d minutes out of range", c.Cycle.UTCOffsetMinutes)
	}
	if p := c.Draw.ZeroWeightPolicy; p != "last" && p != "uniform" {
		return fmt.Errorf("config: zero weight policy %q must be last or uniform", p)
	}
	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
		return errors.New("config: rate limit rps and burst must be positive")
	}
	if c.Redis.CacheTTL < 0 {
		return errors.New("config: cache TTL must not be negative")
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	if f := c.Log.Format; f != "text" && f != "json" {
		return fmt.Errorf("config: log format %q must be text or json", f)
	}
	return nil
}

// SlogLevel parses Level. slog.Level's UnmarshalText accepts the names in
// any case, plus offsets like "debug+2".
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("config: log level %q: %w", l.Level, err)
	}
	return lvl, nil
}
