package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

const (
	LedgerCRDB  = "crdb"
	LedgerMySQL = "mysql"
)

type Config struct {
	HTTPAddr string

	LedgerDriver string
	CRDBDSN      string
	MySQLDSN     string

	MongoURI string
	MongoDB  string

	RedisAddr                   string
	RedisPassword               string
	RedisDB                     int
	RedisConfigureNotifications bool

	RabbitURL string

	HoldTTL        time.Duration
	SeatsPerShow   int
	SweepInterval  time.Duration
	SweepGrace     time.Duration
	RunExpiryWatch bool

	RateLimitPerMinute int
	IdempotencyTTL     time.Duration

	LogLevel     string
	OTLPEndpoint string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:      envOr("HTTP_ADDR", ":8080"),
		LedgerDriver:  strings.ToLower(envOr("LEDGER_DRIVER", LedgerCRDB)),
		CRDBDSN:       os.Getenv("CRDB_DSN"),
		MySQLDSN:      os.Getenv("MYSQL_DSN"),
		MongoURI:      os.Getenv("MONGO_URI"),
		MongoDB:       envOr("MONGO_DB", "seats"),
		RedisAddr:     envOr("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RabbitURL:     os.Getenv("RABBIT_URL"),
		LogLevel:      envOr("LOG_LEVEL", "info"),
		OTLPEndpoint:  os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	var err error
	if cfg.RedisDB, err = envInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.RedisConfigureNotifications, err = envBool("REDIS_CONFIGURE_NOTIFICATIONS", true); err != nil {
		return nil, err
	}
	if cfg.HoldTTL, err = envDuration("HOLD_TTL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.SeatsPerShow, err = envInt("SEATS_PER_SHOW", 30); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = envDuration("SWEEP_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.SweepGrace, err = envDuration("SWEEP_GRACE", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.RunExpiryWatch, err = envBool("EXPIRY_WATCHER", true); err != nil {
		return nil, err
	}
	if cfg.RateLimitPerMinute, err = envInt("RATE_LIMIT_PER_MINUTE", 120); err != nil {
		return nil, err
	}
	if cfg.IdempotencyTTL, err = envDuration("IDEMPOTENCY_TTL", time.Hour); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.LedgerDriver {
	case LedgerCRDB, LedgerMySQL:
	default:
		return errors.Newf("LEDGER_DRIVER must be %q or %q, got %q", LedgerCRDB, LedgerMySQL, c.LedgerDriver)
	}
	if c.HoldTTL < time.Second {
		return errors.Newf("HOLD_TTL must be at least 1s, got %s", c.HoldTTL)
	}
	if c.SeatsPerShow <= 0 {
		return errors.Newf("SEATS_PER_SHOW must be positive, got %d", c.SeatsPerShow)
	}
	if c.SweepInterval <= 0 {
		return errors.Newf("SWEEP_INTERVAL must be positive, got %s", c.SweepInterval)
	}
	if c.SweepGrace < 0 {
		return errors.Newf("SWEEP_GRACE must not be negative, got %s", c.SweepGrace)
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid int for %s", key)
	}
	return n, nil
}

func envBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.Wrapf(err, "invalid bool for %s", key)
	}
	return b, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid duration for %s", key)
	}
	return d, nil
}
