// Package config provides application configuration loaded from environment variables.
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

	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sub-config structs
// ──────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port                 string        // e.g. "8080"
	BackofficePort       string        // e.g. "8081"
	Env                  string        // "development" | "production"
	ReadTimeout          time.Duration // default 10s
	WriteTimeout         time.Duration // default 10s
	BackofficeAllowedIPs string        // comma-separated IPs; "" = allow all
	BidRateLimit         float64       // bid submissions per second per client, default 5
	AllowedOrigins       []string      // production CORS and websocket origins
}

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	DSN             string        // full postgres DSN
	MaxOpenConns    int           // default 25
	MaxIdleConns    int           // default 10
	ConnMaxLifetime time.Duration // default 5m
}

// JWTConfig holds JWT signing settings.
type JWTConfig struct {
	AccessSecret string        // must be set
	AccessTTL    time.Duration // default 15m
	Issuer       string        // default "auction"
}

// RedisConfig holds the Redis connection used for the change stream and
// the leadership notification stream.
type RedisConfig struct {
	URL              string // e.g. "redis://localhost:6379/0"
	PoolSize         int    // default 20
	LeadershipStream string // XADD target, default "auction:leadership"
	ChangeChannel    string // PUBLISH channel, default "auction:lots"
	StreamMaxLen     int64  // approximate MAXLEN for the stream, default 100000
}

// GatewayConfig holds payment gateway settings.
type GatewayConfig struct {
	BaseURL           string        // must be set in production
	APIKey            string        // bearer credential
	SigningSecret     string        // HMAC key
	Currency          string        // default "EUR"
	Timeout           time.Duration // per attempt, default 10s
	MaxRetries        int           // default 3
	BackoffBase       time.Duration // default 200ms
	BreakerFailures   int           // consecutive failures before opening, default 5
	BreakerOpenPeriod time.Duration // default 30s
}

// AuctionConfig holds the default marketplace settings and scheduler cadence.
type AuctionConfig struct {
	PremiumRate        decimal.Decimal // buyer's premium, default 0.15
	TaxRate            decimal.Decimal // default 0.20
	ExtensionThreshold time.Duration   // default 2m
	ExtensionDuration  time.Duration   // default 2m
	SettingsFile       string          // optional YAML overlay, reloaded by the scheduler

	CloseInterval      time.Duration // default 5s
	CloseBatchSize     int           // default 200
	CloseWorkers       int           // default 8
	ActivationInterval time.Duration // default 15s
	ReconcileInterval  time.Duration // default 1m
	SettingsInterval   time.Duration // default 30s
	StaleCaptureAfter  time.Duration // pending sales older than this are recaptured, default 2m
	LotCacheSize       int           // default 10000
}

// ──────────────────────────────────────────────────────────────────────────────
// Top-level Config
// ──────────────────────────────────────────────────────────────────────────────

// Config is the root configuration object for the entire application.
type Config struct {
	Server  ServerConfig
	DB      DBConfig
	JWT     JWTConfig
	Redis   RedisConfig
	Gateway GatewayConfig
	Auction AuctionConfig
}

// IsProd returns true when running in the production environment.
func (c *Config) IsProd() bool {
	return c.Server.Env == "production"
}

// Validate checks that all required configuration values are present and valid.
func (c *Config) Validate() error {
	var errs []error

	if c.JWT.AccessSecret == "" {
		errs = append(errs, errors.New("JWT_ACCESS_SECRET must be set"))
	}

	if c.IsProd() && c.DB.DSN == "" {
		errs = append(errs, errors.New("DATABASE_DSN must be set in production"))
	}
	if c.IsProd() && c.Gateway.BaseURL == "" {
		errs = append(errs, errors.New("GATEWAY_BASE_URL must be set in production"))
	}

	if err := validRate("AUCTION_PREMIUM_RATE", c.Auction.PremiumRate); err != nil {
		errs = append(errs, err)
	}
	if err := validRate("AUCTION_TAX_RATE", c.Auction.TaxRate); err != nil {
		errs = append(errs, err)
	}
	if c.Auction.ExtensionThreshold < 0 || c.Auction.ExtensionDuration < 0 {
		errs = append(errs, errors.New("auction extension threshold and duration must not be negative"))
	}
	if c.Auction.CloseWorkers < 1 {
		errs = append(errs, fmt.Errorf("AUCTION_CLOSE_WORKERS must be >= 1, got %d", c.Auction.CloseWorkers))
	}
	if c.Auction.CloseBatchSize < 1 {
		errs = append(errs, fmt.Errorf("AUCTION_CLOSE_BATCH_SIZE must be >= 1, got %d", c.Auction.CloseBatchSize))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// validRate accepts rates in [0, 1).
func validRate(name string, r decimal.Decimal) error {
	if r.IsNegative() || r.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("%s must be in [0, 1), got %s", name, r)
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
// Panics if loading fails; call this early in main() to catch misconfigurations
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

// Load reads a fresh Config from the environment without touching the singleton.
func Load() (*Config, error) {
	cfg := &Config{}

	// ── Server ────────────────────────────────────────────────────────────────
	bidRate, err := getFloat("SERVER_BID_RATE_LIMIT", 5)
	if err != nil {
		return nil, fmt.Errorf("SERVER_BID_RATE_LIMIT: %w", err)
	}
	cfg.Server = ServerConfig{
		Port:                 getEnv("SERVER_PORT", "8080"),
		BackofficePort:       getEnv("BACKOFFICE_PORT", "8081"),
		Env:                  getEnv("ENVIRONMENT", "development"),
		ReadTimeout:          getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
		WriteTimeout:         getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
		BackofficeAllowedIPs: getEnv("BACKOFFICE_ALLOWED_IPS", ""),
		BidRateLimit:         bidRate,
		AllowedOrigins:       splitList(getEnv("SERVER_ALLOWED_ORIGINS", "")),
	}

	// ── Database ──────────────────────────────────────────────────────────────
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		// Build DSN from individual components for convenience in dev
		dsn = fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			getEnv("DB_HOST", "localhost"),
			getEnv("DB_PORT", "5432"),
			getEnv("DB_USER", "postgres"),
			getEnv("DB_PASSWORD", ""),
			getEnv("DB_NAME", "evetabi_auction"),
			getEnv("DB_SSLMODE", "disable"),
		)
	}

	maxOpen, err := getInt("DB_MAX_OPEN_CONNS", 25)
	if err != nil {
		return nil, fmt.Errorf("DB_MAX_OPEN_CONNS: %w", err)
	}
	maxIdle, err := getInt("DB_MAX_IDLE_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("DB_MAX_IDLE_CONNS: %w", err)
	}

	cfg.DB = DBConfig{
		DSN:             dsn,
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: getDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}

	// ── JWT ───────────────────────────────────────────────────────────────────
	cfg.JWT = JWTConfig{
		AccessSecret: getEnv("JWT_ACCESS_SECRET", ""),
		AccessTTL:    getDuration("JWT_ACCESS_TTL", 15*time.Minute),
		Issuer:       getEnv("JWT_ISSUER", "auction"),
	}

	// ── Redis ─────────────────────────────────────────────────────────────────
	poolSize, err := getInt("REDIS_POOL_SIZE", 20)
	if err != nil {
		return nil, fmt.Errorf("REDIS_POOL_SIZE: %w", err)
	}
	maxLen, err := getInt("REDIS_STREAM_MAXLEN", 100000)
	if err != nil {
		return nil, fmt.Errorf("REDIS_STREAM_MAXLEN: %w", err)
	}
	cfg.Redis = RedisConfig{
		URL:              getEnv("REDIS_URL", "redis://localhost:6379/0"),
		PoolSize:         poolSize,
		LeadershipStream: getEnv("REDIS_LEADERSHIP_STREAM", "auction:leadership"),
		ChangeChannel:    getEnv("REDIS_CHANGE_CHANNEL", "auction:lots"),
		StreamMaxLen:     int64(maxLen),
	}

	// ── Payment gateway ───────────────────────────────────────────────────────
	retries, err := getInt("GATEWAY_MAX_RETRIES", 3)
	if err != nil {
		return nil, fmt.Errorf("GATEWAY_MAX_RETRIES: %w", err)
	}
	breakerFailures, err := getInt("GATEWAY_BREAKER_FAILURES", 5)
	if err != nil {
		return nil, fmt.Errorf("GATEWAY_BREAKER_FAILURES: %w", err)
	}
	cfg.Gateway = GatewayConfig{
		BaseURL:           getEnv("GATEWAY_BASE_URL", ""),
		APIKey:            getEnv("GATEWAY_API_KEY", ""),
		SigningSecret:     getEnv("GATEWAY_SIGNING_SECRET", ""),
		Currency:          getEnv("GATEWAY_CURRENCY", "EUR"),
		Timeout:           getDuration("GATEWAY_TIMEOUT", 10*time.Second),
		MaxRetries:        retries,
		BackoffBase:       getDuration("GATEWAY_BACKOFF_BASE", 200*time.Millisecond),
		BreakerFailures:   breakerFailures,
		BreakerOpenPeriod: getDuration("GATEWAY_BREAKER_OPEN_PERIOD", 30*time.Second),
	}

	// ── Auction ───────────────────────────────────────────────────────────────
	premium, err := getDecimal("AUCTION_PREMIUM_RATE", "0.15")
	if err != nil {
		return nil, fmt.Errorf("AUCTION_PREMIUM_RATE: %w", err)
	}
	tax, err := getDecimal("AUCTION_TAX_RATE", "0.20")
	if err != nil {
		return nil, fmt.Errorf("AUCTION_TAX_RATE: %w", err)
	}
	batch, err := getInt("AUCTION_CLOSE_BATCH_SIZE", 200)
	if err != nil {
		return nil, fmt.Errorf("AUCTION_CLOSE_BATCH_SIZE: %w", err)
	}
	workers, err := getInt("AUCTION_CLOSE_WORKERS", 8)
	if err != nil {
		return nil, fmt.Errorf("AUCTION_CLOSE_WORKERS: %w", err)
	}
	cacheSize, err := getInt("AUCTION_LOT_CACHE_SIZE", 10000)
	if err != nil {
		return nil, fmt.Errorf("AUCTION_LOT_CACHE_SIZE: %w", err)
	}

	cfg.Auction = AuctionConfig{
		PremiumRate:        premium,
		TaxRate:            tax,
		ExtensionThreshold: getDuration("AUCTION_EXTENSION_THRESHOLD", 2*time.Minute),
		ExtensionDuration:  getDuration("AUCTION_EXTENSION_DURATION", 2*time.Minute),
		SettingsFile:       getEnv("AUCTION_SETTINGS_FILE", ""),
		CloseInterval:      getDuration("AUCTION_CLOSE_INTERVAL", 5*time.Second),
		CloseBatchSize:     batch,
		CloseWorkers:       workers,
		ActivationInterval: getDuration("AUCTION_ACTIVATION_INTERVAL", 15*time.Second),
		ReconcileInterval:  getDuration("AUCTION_RECONCILE_INTERVAL", time.Minute),
		SettingsInterval:   getDuration("AUCTION_SETTINGS_INTERVAL", 30*time.Second),
		StaleCaptureAfter:  getDuration("AUCTION_STALE_CAPTURE_AFTER", 2*time.Minute),
		LotCacheSize:       cacheSize,
	}

	return cfg, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Helper functions
// ──────────────────────────────────────────────────────────────────────────────

// splitList parses a comma-separated list, dropping blanks.
func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

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

// getDecimal parses money-grade values without a float round trip.
func getDecimal(key, defaultVal string) (decimal.Decimal, error) {
	v := getEnv(key, defaultVal)
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal %q", v)
	}
	return d, nil
}

// getDuration parses an env var as a Go duration string (e.g. "15m", "2s").
// Falls back to defaultVal if the variable is unset or empty.
func getDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// Log warning and fall back to default; do not crash on parse error
		return defaultVal
	}
	return d
}
