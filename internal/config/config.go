// Package config provides application configuration loaded from environment variables
// (optionally seeded from a .env file).
// Use the package-level Get() function to obtain the singleton Config instance.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
	_ "time/tzdata" // Asia/Bangkok default must resolve on hosts without zoneinfo

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sub-config structs
// ──────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         string        // e.g. "8080"
	Env          string        // "development" | "production"
	ReadTimeout  time.Duration // default 10s
	WriteTimeout time.Duration // default 10s
	// AllowedOrigins is a comma-separated list for CORS and WS; "" = allow all.
	AllowedOrigins string
}

// StoreConfig selects and configures the key-value persistence backend.
type StoreConfig struct {
	Driver string // memory | sqlite | postgres | redis

	// SQL backends
	DSN             string        // sqlite file path or postgres DSN
	MaxOpenConns    int           // default 10
	MaxIdleConns    int           // default 5
	ConnMaxLifetime time.Duration // default 5m

	// Redis backend
	RedisAddr     string // default "localhost:6379"
	RedisPassword string
	RedisDB       int
	RedisPrefix   string // default "invest:"
}

// InvestConfig holds position engine settings.
type InvestConfig struct {
	StartingBalance decimal.Decimal // balance used when nothing is persisted yet
	Locale          string          // "en" | "th"; history timestamp format
	Timezone        string          // IANA name, default "Asia/Bangkok"
	TickInterval    time.Duration   // countdown tick, default 1s
}

// RateLimitConfig holds per-IP limits for mutating endpoints.
type RateLimitConfig struct {
	OpenPerSecond float64 // default 2
	OpenBurst     int     // default 5
}

// ──────────────────────────────────────────────────────────────────────────────
// Top-level Config
// ──────────────────────────────────────────────────────────────────────────────

// Config is the root configuration object for the entire application.
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Invest    InvestConfig
	RateLimit RateLimitConfig
}

// IsProd returns true when running in the production environment.
func (c *Config) IsProd() bool {
	return c.Server.Env == "production"
}

// Origins splits Server.AllowedOrigins into trimmed, non-empty entries.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.Server.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Location resolves Invest.Timezone, falling back to UTC when unknown.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Invest.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate checks that all required configuration values are present and valid.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case "memory", "redis":
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("STORE_DSN must be set for driver %q", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be one of memory|sqlite|postgres|redis, got %q", c.Store.Driver))
	}

	if c.IsProd() && c.Store.Driver == "memory" {
		errs = append(errs, errors.New("STORE_DRIVER=memory is not allowed in production"))
	}

	if c.Invest.StartingBalance.IsNegative() {
		errs = append(errs, fmt.Errorf("INVEST_STARTING_BALANCE must not be negative, got %s", c.Invest.StartingBalance))
	}
	if c.Invest.Locale != "en" && c.Invest.Locale != "th" {
		errs = append(errs, fmt.Errorf("INVEST_LOCALE must be en or th, got %q", c.Invest.Locale))
	}
	if _, err := time.LoadLocation(c.Invest.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("INVEST_TIMEZONE: %w", err))
	}
	if c.Invest.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("INVEST_TICK_INTERVAL must be positive, got %s", c.Invest.TickInterval))
	}

	if c.RateLimit.OpenPerSecond <= 0 || c.RateLimit.OpenBurst < 1 {
		errs = append(errs, fmt.Errorf(
			"rate limit must be positive, got %.2f/s burst %d",
			c.RateLimit.OpenPerSecond, c.RateLimit.OpenBurst,
		))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Singleton
// ──────────────────────────────────────────────────────────────────────────────

var (
	instance *Config
	once     sync.Once
	loadErr  error
)

// Get returns the singleton Config, loading it once from environment variables.
// Panics if loading fails — call this early in main() to catch misconfigurations
// at startup.
func Get() *Config {
	once.Do(func() {
		instance, loadErr = Load()
	})
	if loadErr != nil {
		panic(fmt.Sprintf("config: failed to load: %v", loadErr))
	}
	return instance
}

// MustLoad loads and validates configuration. Intended for use in main().
// Panics on any error so misconfiguration is caught immediately at boot.
func MustLoad() *Config {
	cfg := Get()
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("config: validation failed: %v", err))
	}
	return cfg
}

// ──────────────────────────────────────────────────────────────────────────────
// Loader
// ──────────────────────────────────────────────────────────────────────────────

// Load reads the environment without touching the singleton. A missing .env
// file is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	// ── Server ────────────────────────────────────────────────────────────────
	cfg.Server = ServerConfig{
		Port:           getEnv("SERVER_PORT", "8080"),
		Env:            getEnv("ENVIRONMENT", "development"),
		ReadTimeout:    getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
		WriteTimeout:   getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
		AllowedOrigins: getEnv("ALLOWED_ORIGINS", ""),
	}

	// ── Store ─────────────────────────────────────────────────────────────────
	maxOpen, err := getInt("STORE_MAX_OPEN_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("STORE_MAX_OPEN_CONNS: %w", err)
	}
	maxIdle, err := getInt("STORE_MAX_IDLE_CONNS", 5)
	if err != nil {
		return nil, fmt.Errorf("STORE_MAX_IDLE_CONNS: %w", err)
	}
	redisDB, err := getInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("REDIS_DB: %w", err)
	}

	cfg.Store = StoreConfig{
		Driver:          getEnv("STORE_DRIVER", "memory"),
		DSN:             getEnv("STORE_DSN", ""),
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: getDuration("STORE_CONN_MAX_LIFETIME", 5*time.Minute),
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisDB:         redisDB,
		RedisPrefix:     getEnv("REDIS_PREFIX", "invest:"),
	}

	// ── Invest ────────────────────────────────────────────────────────────────
	startBal, err := getDecimal("INVEST_STARTING_BALANCE", decimal.RequireFromString("1450230.50"))
	if err != nil {
		return nil, fmt.Errorf("INVEST_STARTING_BALANCE: %w", err)
	}

	cfg.Invest = InvestConfig{
		StartingBalance: startBal,
		Locale:          getEnv("INVEST_LOCALE", "en"),
		Timezone:        getEnv("INVEST_TIMEZONE", "Asia/Bangkok"),
		TickInterval:    getDuration("INVEST_TICK_INTERVAL", time.Second),
	}

	// ── Rate limit ────────────────────────────────────────────────────────────
	openRPS, err := getFloat("RATE_LIMIT_OPEN_RPS", 2)
	if err != nil {
		return nil, fmt.Errorf("RATE_LIMIT_OPEN_RPS: %w", err)
	}
	openBurst, err := getInt("RATE_LIMIT_OPEN_BURST", 5)
	if err != nil {
		return nil, fmt.Errorf("RATE_LIMIT_OPEN_BURST: %w", err)
	}

	cfg.RateLimit = RateLimitConfig{
		OpenPerSecond: openRPS,
		OpenBurst:     openBurst,
	}

	return cfg, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Helper functions
// ──────────────────────────────────────────────────────────────────────────────

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

func getFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float %q", v)
	}
	return f, nil
}

func getDecimal(key string, defaultVal decimal.Decimal) (decimal.Decimal, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal %q", v)
	}
	return d, nil
}

// getDuration parses an env var as a Go duration string (e.g. "15m", "2s").
// Falls back to defaultVal if the variable is unset or unparsable.
func getDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
