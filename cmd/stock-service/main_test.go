package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fulfillment/internal/app"
	"github.com/vladislavdragonenkov/fulfillment/internal/envconfig"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/rabbitmq"
)

func mapLookup(values map[string]string) envconfig.Lookup {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func TestReadConfigFromEnv_Defaults(t *testing.T) {
	cfg, warnings := readConfigFromEnv(mapLookup(nil))

	require.Empty(t, warnings)
	require.Equal(t, app.DefaultStockConfig(), cfg)
}

func TestReadConfigFromEnv_ValidOverrides(t *testing.T) {
	cfg, warnings := readConfigFromEnv(mapLookup(map[string]string{
		envHTTPAddr:               "0.0.0.0:5049",
		envStorageDriver:          "POSTGRES",
		envPostgresDSN:            "postgres://stock@db/stock",
		envLedger:                 "Redis",
		envLedgerSize:             "10",
		envLedgerLeaseTTL:         "1m",
		envLedgerRetention:        "48h",
		envLedgerCleanupEvery:     "5m",
		envLedgerCleanupBatch:     "50",
		envRedisAddr:              "redis:6379",
		envConsumerPrefetch:       "20",
		envConsumerConcurrency:    "4",
		envConsumerMaxRetries:     "0",
		envConsumerReconnect:      "FIXED",
		envconfig.EnvRabbitDLQ:    "",
		envconfig.EnvRabbitQueue:  "stock_queue",
		envconfig.EnvKafkaBrokers: "kafka:9092",
	}))

	require.Empty(t, warnings)
	require.Equal(t, "0.0.0.0:5049", cfg.HTTPAddr)
	require.Equal(t, app.StorageDriverPostgres, cfg.StorageDriver)
	require.Equal(t, "postgres://stock@db/stock", cfg.PostgresDSN)
	require.Equal(t, app.LedgerDriverRedis, cfg.LedgerDriver)
	require.Equal(t, 10, cfg.LedgerSize)
	require.Equal(t, time.Minute, cfg.LedgerLeaseTTL)
	require.Equal(t, 48*time.Hour, cfg.LedgerRetention)
	require.Equal(t, 5*time.Minute, cfg.LedgerCleanupInterval)
	require.Equal(t, 50, cfg.LedgerCleanupBatchSize)
	require.Equal(t, "redis:6379", cfg.RedisAddr)
	require.Equal(t, 20, cfg.ConsumerPrefetch)
	require.Equal(t, 4, cfg.ConsumerConcurrency)
	require.Zero(t, cfg.ConsumerMaxRetries)
	require.Equal(t, rabbitmq.ReconnectFixed, cfg.ConsumerReconnect)
	require.Empty(t, cfg.Broker.DeadLetterQueue)
	require.Equal(t, "kafka:9092", cfg.Broker.KafkaBrokers)
}

func TestReadConfigFromEnv_InvalidValuesFallbackToDefaults(t *testing.T) {
	def := app.DefaultStockConfig()

	cfg, warnings := readConfigFromEnv(mapLookup(map[string]string{
		envLedgerSize:          "-1",
		envLedgerLeaseTTL:      "soon",
		envConsumerPrefetch:    "0",
		envConsumerMaxRetries:  "-3",
		envConsumerReconnect:   "linear",
		envPostgresAutoMigrate: "maybe",
	}))

	require.Len(t, warnings, 6)
	require.Equal(t, def.LedgerSize, cfg.LedgerSize)
	require.Equal(t, def.LedgerLeaseTTL, cfg.LedgerLeaseTTL)
	require.Equal(t, def.ConsumerPrefetch, cfg.ConsumerPrefetch)
	require.Equal(t, def.ConsumerMaxRetries, cfg.ConsumerMaxRetries)
	require.Equal(t, def.ConsumerReconnect, cfg.ConsumerReconnect)
	require.Equal(t, def.PostgresAutoMigrate, cfg.PostgresAutoMigrate)
}
