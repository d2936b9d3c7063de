package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, BrokerLog, cfg.Broker)
	assert.Equal(t, 5*time.Second, cfg.LockTimeout)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 10, cfg.LowStockThreshold)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, time.Minute, cfg.IdempotencyPendingTTL)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.False(t, cfg.SeedCatalog)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE", "Memory")
	t.Setenv("BROKER", "watermill")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("LOCK_TIMEOUT", "250ms")
	t.Setenv("LOW_STOCK_THRESHOLD", "3")
	t.Setenv("SEED_CATALOG", "true")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, BrokerWatermill, cfg.Broker)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 250*time.Millisecond, cfg.LockTimeout)
	assert.Equal(t, 3, cfg.LowStockThreshold)
	assert.True(t, cfg.SeedCatalog)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("STORE", "mongo")
	t.Setenv("LOCK_TIMEOUT", "soon")
	t.Setenv("LOW_STOCK_THRESHOLD", "-1")
	t.Setenv("SEED_CATALOG", "maybe")

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	for _, want := range []string{"STORE", "LOCK_TIMEOUT", "LOW_STOCK_THRESHOLD", "SEED_CATALOG"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoad_PendingTTLMustExceedLockTimeout(t *testing.T) {
	t.Setenv("LOCK_TIMEOUT", "10s")
	t.Setenv("IDEMPOTENCY_PENDING_TTL", "5s")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IDEMPOTENCY_PENDING_TTL")
}
