// Package config reads service settings from environment variables, falling
// back to local-development defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
	StoreMemory   = "memory"
)

// Config holds all service settings.
type Config struct {
	Port           string
	Store          string
	LogLevel       string
	RequestTimeout time.Duration

	Postgres Postgres
	Mongo    Mongo

	// RedisAddr enables the Redis capacity cache and idempotency store.
	RedisAddr        string
	CapacityCacheTTL time.Duration

	// KafkaBrokers enables publishing booking events to KafkaTopic.
	KafkaBrokers []string
	KafkaTopic   string

	OTLPEndpoint string

	TxMaxAttempts int
}

// Postgres holds PostgreSQL connection settings.
type Postgres struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN builds a libpq-compatible connection string.
func (c Postgres) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// Mongo holds MongoDB connection settings.
type Mongo struct {
	URI      string
	Database string
}

// FromEnv reads the configuration from the environment.
func FromEnv() (Config, error) {
	cfg := Config{
		Port:     getEnv("PORT", "8080"),
		Store:    strings.ToLower(getEnv("STORE", StorePostgres)),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Postgres: Postgres{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "harvest"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Mongo: Mongo{
			URI:      getEnv("MONGO_URI", "mongodb://localhost:27017/?replicaSet=rs0"),
			Database: getEnv("MONGO_DB", "harvest"),
		},
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "booking-events"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	var err error
	if cfg.RequestTimeout, err = getDuration("REQUEST_TIMEOUT", 15*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.CapacityCacheTTL, err = getDuration("CAPACITY_CACHE_TTL", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.TxMaxAttempts, err = getInt("TX_MAX_ATTEMPTS", 8); err != nil {
		return Config{}, err
	}

	switch cfg.Store {
	case StorePostgres, StoreMongo, StoreMemory:
	default:
		return Config{}, fmt.Errorf("STORE must be one of %s, %s, %s; got %q", StorePostgres, StoreMongo, StoreMemory, cfg.Store)
	}
	if cfg.TxMaxAttempts < 1 {
		return Config{}, fmt.Errorf("TX_MAX_ATTEMPTS must be positive")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
