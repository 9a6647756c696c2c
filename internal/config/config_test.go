package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, key := range []string{
		"STORE", "KAFKA_BROKERS", "PORT", "REQUEST_TIMEOUT", "TX_MAX_ATTEMPTS",
		"DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSLMODE",
	} {
		t.Setenv(key, "")
	}

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 15*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 8, cfg.TxMaxAttempts)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t,
		"host=localhost port=5432 user=postgres password=postgres dbname=harvest sslmode=disable",
		cfg.Postgres.DSN())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("STORE", "Memory")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("REQUEST_TIMEOUT", "3s")
	t.Setenv("TX_MAX_ATTEMPTS", "4")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 3*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 4, cfg.TxMaxAttempts)
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	t.Run("store", func(t *testing.T) {
		t.Setenv("STORE", "dynamo")
		_, err := FromEnv()
		assert.Error(t, err)
	})
	t.Run("duration", func(t *testing.T) {
		t.Setenv("STORE", "memory")
		t.Setenv("REQUEST_TIMEOUT", "soon")
		_, err := FromEnv()
		assert.Error(t, err)
	})
	t.Run("attempts", func(t *testing.T) {
		t.Setenv("STORE", "memory")
		t.Setenv("TX_MAX_ATTEMPTS", "0")
		_, err := FromEnv()
		assert.Error(t, err)
	})
}
