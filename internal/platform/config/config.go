// Package config loads gatekeeper configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	pstrings "gatekeeper/pkg/platform/strings"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds all application configuration.
type Config struct {
	Server   Server
	Telegram TelegramConfig
	Sessions SessionsConfig
	Settings SettingsConfig
	Redis    RedisConfig
	Postgres PostgresConfig
	Kafka    KafkaConfig
	LogLevel string
}

// Server captures admin HTTP server configuration.
type Server struct {
	Addr              string
	AdminToken        string
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

type TelegramConfig struct {
	Token             string
	PollTimeout       time.Duration
	UpdateConcurrency int
	Debug             bool
}

// SessionsConfig selects the session backend and the reconciliation cadence.
type SessionsConfig struct {
	Driver        string
	GraceWindow   time.Duration
	SweepInterval time.Duration
	SweepDelay    time.Duration
}

type SettingsConfig struct {
	Driver     string
	SQLitePath string
}

// RedisConfig holds connection pool settings for the shared session store.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type PostgresConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

// KafkaConfig enables the audit stream when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Load reads configuration from environment variables. A .env file in the
// working directory is applied first when present; real environment values win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: Server{
			Addr:              getEnv("GATEKEEPER_ADDR", ":8080"),
			AdminToken:        getEnv("ADMIN_API_TOKEN", ""),
			ReadHeaderTimeout: getEnvDuration("HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
			WriteTimeout:      getEnvDuration("HTTP_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:       getEnvDuration("HTTP_IDLE_TIMEOUT", 2*time.Minute),
		},
		Telegram: TelegramConfig{
			Token:             getEnv("TELEGRAM_BOT_TOKEN", ""),
			PollTimeout:       getEnvDuration("TELEGRAM_POLL_TIMEOUT", 60*time.Second),
			UpdateConcurrency: getEnvInt("TELEGRAM_UPDATE_CONCURRENCY", 16),
			Debug:             getEnvBool("TELEGRAM_DEBUG", false),
		},
		Sessions: SessionsConfig{
			Driver:        strings.ToLower(getEnv("SESSION_STORE", DriverMemory)),
			GraceWindow:   getEnvDuration("SWEEP_GRACE_WINDOW", 2*time.Hour),
			SweepInterval: getEnvDuration("SWEEP_INTERVAL", time.Hour),
			SweepDelay:    getEnvDuration("SWEEP_FIRST_RUN_DELAY", 10*time.Second),
		},
		Settings: SettingsConfig{
			Driver:     strings.ToLower(getEnv("SETTINGS_STORE", DriverSQLite)),
			SQLitePath: getEnv("SQLITE_PATH", "./data/gatekeeper.db"),
		},
		Redis: RedisConfig{
			URL:          getEnv("REDIS_URL", ""),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Postgres: PostgresConfig{
			DSN:          getEnv("DATABASE_URL", ""),
			MaxOpenConns: getEnvInt("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns: getEnvInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Kafka: KafkaConfig{
			Brokers: pstrings.SplitList(getEnv("KAFKA_BROKERS", "")),
			Topic:   getEnv("KAFKA_AUDIT_TOPIC", "gatekeeper.audit"),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks required fields and driver dependencies.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN cannot be empty")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("GATEKEEPER_ADDR cannot be empty")
	}
	if c.Telegram.UpdateConcurrency <= 0 {
		return fmt.Errorf("TELEGRAM_UPDATE_CONCURRENCY must be > 0")
	}
	if c.Sessions.GraceWindow <= 0 || c.Sessions.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_GRACE_WINDOW and SWEEP_INTERVAL must be > 0")
	}

	switch c.Sessions.Driver {
	case DriverMemory:
	case DriverRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("REDIS_URL is required when SESSION_STORE=redis")
		}
	case DriverPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("DATABASE_URL is required when SESSION_STORE=postgres")
		}
	default:
		return fmt.Errorf("unknown SESSION_STORE %q", c.Sessions.Driver)
	}

	switch c.Settings.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Settings.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH cannot be empty")
		}
	case DriverPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("DATABASE_URL is required when SETTINGS_STORE=postgres")
		}
	default:
		return fmt.Errorf("unknown SETTINGS_STORE %q", c.Settings.Driver)
	}

	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("KAFKA_AUDIT_TOPIC cannot be empty when KAFKA_BROKERS is set")
	}
	return nil
}

// AdminEnabled reports whether the admin API routes should be mounted.
func (c *Config) AdminEnabled() bool {
	return c.Server.AdminToken != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
