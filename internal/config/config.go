package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName       = "InstantPay"
	defaultAppEnv        = "development"
	defaultPort          = "8080"
	defaultLogLevel      = "info"
	defaultShutdown      = 10 * time.Second
	defaultAccessTTL     = 15 * time.Minute
	defaultIdemTTL       = 24 * time.Hour
	defaultLockTimeout   = 3 * time.Second
	defaultPollInterval  = 5 * time.Second
	defaultBatchSize     = 100
	defaultMaxAttempts   = 10
	defaultRetryBackoff  = 5 * time.Second
	defaultTopicExchange = "instantpay.events"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName  string
	AppEnv   string
	Port     string
	LogLevel string

	DatabaseURL string
	RedisURL    string
	RabbitURL   string

	JWTSecret      string
	AccessTokenTTL time.Duration

	IdempotencyTTL time.Duration
	LockTimeout    time.Duration
	ShutdownPeriod time.Duration

	OutboxPollInterval  time.Duration
	OutboxBatchSize     int
	OutboxMaxAttempts   int
	OutboxRetryBackoff  time.Duration
	OutboxTopicExchange string
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:             getEnv("APP_NAME", defaultAppName),
		AppEnv:              strings.ToLower(getEnv("APP_ENV", defaultAppEnv)),
		Port:                getEnv("PORT", defaultPort),
		LogLevel:            strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisURL:            os.Getenv("REDIS_URL"),
		RabbitURL:           os.Getenv("RABBITMQ_URL"),
		JWTSecret:           getEnv("JWT_SECRET", "dev-secret-change-me"),
		AccessTokenTTL:      defaultAccessTTL,
		IdempotencyTTL:      defaultIdemTTL,
		LockTimeout:         defaultLockTimeout,
		ShutdownPeriod:      defaultShutdown,
		OutboxPollInterval:  defaultPollInterval,
		OutboxBatchSize:     defaultBatchSize,
		OutboxMaxAttempts:   defaultMaxAttempts,
		OutboxRetryBackoff:  defaultRetryBackoff,
		OutboxTopicExchange: getEnv("OUTBOX_TOPIC_EXCHANGE", defaultTopicExchange),
	}

	durations := []struct {
		env string
		dst *time.Duration
	}{
		{"ACCESS_TOKEN_TTL", &cfg.AccessTokenTTL},
		{"IDEMPOTENCY_TTL", &cfg.IdempotencyTTL},
		{"LOCK_TIMEOUT", &cfg.LockTimeout},
		{"SHUTDOWN_TIMEOUT", &cfg.ShutdownPeriod},
		{"OUTBOX_POLL_INTERVAL", &cfg.OutboxPollInterval},
		{"OUTBOX_RETRY_BACKOFF", &cfg.OutboxRetryBackoff},
	}
	for _, d := range durations {
		if v := os.Getenv(d.env); v != "" {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				return Config{}, fmt.Errorf("invalid %s: %w", d.env, err)
			}
			*d.dst = parsed
		}
	}

	ints := []struct {
		env string
		dst *int
	}{
		{"OUTBOX_BATCH_SIZE", &cfg.OutboxBatchSize},
		{"OUTBOX_MAX_ATTEMPTS", &cfg.OutboxMaxAttempts},
	}
	for _, i := range ints {
		if v := os.Getenv(i.env); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil {
				return Config{}, fmt.Errorf("invalid %s: %w", i.env, err)
			}
			*i.dst = parsed
		}
	}

	if cfg.OutboxBatchSize <= 0 {
		return Config{}, fmt.Errorf("OUTBOX_BATCH_SIZE must be positive")
	}
	if cfg.OutboxMaxAttempts <= 0 {
		return Config{}, fmt.Errorf("OUTBOX_MAX_ATTEMPTS must be positive")
	}

	if !cfg.IsDev() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
	}

	return cfg, nil
}

// IsDev reports whether the app runs in a local development environment.
func (c Config) IsDev() bool {
	switch c.AppEnv {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
