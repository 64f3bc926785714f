package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreMemory = "memory"
	StoreMongo  = "mongo"
	StoreSQL    = "sql"

	LockingOptimistic  = "optimistic"
	LockingPessimistic = "pessimistic"
)

// Config aggregates application configuration values loaded from environment variables.
type Config struct {
	Env      string
	LogLevel string
	HTTPAddr string

	Store      string
	MongoURI   string
	MongoDB    string
	SQLDriver  string
	SQLDSN     string
	SQLLocking string

	KafkaBrokers     []string
	KafkaTopicPrefix string
	KafkaGroupID     string

	OutboxPollInterval time.Duration
	RetryBackoff       []time.Duration

	ReconcileMaxAttempts int
	ReconcileBackoff     time.Duration
	LoyaltyPoints        int
	AdminUserIDs         []string

	SweepInterval  time.Duration
	IdempotencyTTL time.Duration
	FixturesPath   string
}

// Load parses configuration from the current environment.
func Load() (Config, error) {
	cfg := Config{
		Env:              getEnv("APP_ENV", "dev"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		Store:            strings.ToLower(getEnv("STORE", StoreMemory)),
		MongoURI:         os.Getenv("MONGO_URI"),
		MongoDB:          getEnv("MONGO_DB", "rentalcore"),
		SQLDriver:        strings.ToLower(getEnv("SQL_DRIVER", "sqlite")),
		SQLDSN:           getEnv("SQL_DSN", "file:rentalcore.db"),
		SQLLocking:       strings.ToLower(getEnv("SQL_LOCKING", LockingOptimistic)),
		KafkaBrokers:     splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopicPrefix: getEnv("KAFKA_TOPIC_PREFIX", ""),
		KafkaGroupID:     getEnv("KAFKA_GROUP_ID", "rentalcore-effects"),
		AdminUserIDs:     splitList(getEnv("ADMIN_USER_IDS", "")),
		FixturesPath:     os.Getenv("FIXTURES_PATH"),
	}

	var err error
	if cfg.OutboxPollInterval, err = parseDurationEnv("OUTBOX_POLL_INTERVAL", 500*time.Millisecond); err != nil {
		return Config{}, err
	}
	if cfg.ReconcileBackoff, err = parseDurationEnv("RECONCILE_BACKOFF", 10*time.Millisecond); err != nil {
		return Config{}, err
	}
	if cfg.SweepInterval, err = parseDurationEnv("SWEEP_INTERVAL", 0); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = parseDurationEnv("IDEMP_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.ReconcileMaxAttempts, err = parseIntEnv("RECONCILE_MAX_ATTEMPTS", 4); err != nil {
		return Config{}, err
	}
	if cfg.LoyaltyPoints, err = parseIntEnv("LOYALTY_POINTS_PER_BOOKING", 10); err != nil {
		return Config{}, err
	}

	retryStr := getEnv("RETRY_BACKOFF", "1s,5s,30s")
	for _, raw := range strings.Split(retryStr, ",") {
		val := strings.TrimSpace(raw)
		if val == "" {
			continue
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			return Config{}, fmt.Errorf("invalid RETRY_BACKOFF component %q: %w", raw, err)
		}
		cfg.RetryBackoff = append(cfg.RetryBackoff, d)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Store {
	case StoreMemory:
	case StoreMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required when STORE=mongo")
		}
	case StoreSQL:
		if c.SQLDSN == "" {
			return fmt.Errorf("SQL_DSN is required when STORE=sql")
		}
	default:
		return fmt.Errorf("invalid STORE %q", c.Store)
	}
	switch c.SQLLocking {
	case LockingOptimistic, LockingPessimistic:
	default:
		return fmt.Errorf("invalid SQL_LOCKING %q", c.SQLLocking)
	}
	if c.ReconcileMaxAttempts < 1 {
		return fmt.Errorf("RECONCILE_MAX_ATTEMPTS must be at least 1")
	}
	if c.LoyaltyPoints < 0 {
		return fmt.Errorf("LOYALTY_POINTS_PER_BOOKING must not be negative")
	}
	return nil
}

// Pessimistic reports whether the SQL store takes row locks.
func (c Config) Pessimistic() bool {
	return c.SQLLocking == LockingPessimistic
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", key, err)
	}
	return d, nil
}

func parseIntEnv(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s integer: %w", key, err)
	}
	return n, nil
}
