package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/app"
	"github.com/vladislavdragonenkov/fulfillment/internal/envconfig"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/rabbitmq"
)

const (
	envHTTPAddr            = "STOCK_HTTP_ADDR"
	envMetricsAddr         = "STOCK_METRICS_ADDR"
	envGRPCAddr            = "STOCK_GRPC_ADDR"
	envStorageDriver       = "STOCK_STORAGE_DRIVER"
	envPostgresDSN         = "STOCK_POSTGRES_DSN"
	envPostgresAutoMigrate = "STOCK_POSTGRES_AUTO_MIGRATE"

	envLedger              = "STOCK_LEDGER"
	envLedgerSize          = "STOCK_LEDGER_SIZE"
	envLedgerLeaseTTL      = "STOCK_LEDGER_LEASE_TTL"
	envLedgerRetention     = "STOCK_LEDGER_RETENTION"
	envLedgerCleanupEvery  = "STOCK_LEDGER_CLEANUP_INTERVAL"
	envLedgerCleanupBatch  = "STOCK_LEDGER_CLEANUP_BATCH_SIZE"
	envRedisAddr           = "REDIS_ADDR"
	envConsumerPrefetch    = "STOCK_CONSUMER_PREFETCH"
	envConsumerConcurrency = "STOCK_CONSUMER_CONCURRENCY"
	envConsumerMaxRetries  = "STOCK_CONSUMER_MAX_RETRIES"
	envConsumerReconnect   = "STOCK_CONSUMER_RECONNECT"
)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(level string) error {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)
	if level == "" {
		return nil
	}
	parsed, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	log.SetLevel(parsed)
	return nil
}

// readConfigFromEnv формирует конфигурацию stock-service.
// STOCK_CONSUMER_MAX_RETRIES=0 вместе с пустым RABBITMQ_DLQ даёт поведение без повторов:
// сообщение с ошибкой отбрасывается.
func readConfigFromEnv(lookup envconfig.Lookup) (app.StockConfig, []string) {
	cfg := app.DefaultStockConfig()
	r := envconfig.NewReader(lookup)

	r.String(envHTTPAddr, &cfg.HTTPAddr)
	r.String(envMetricsAddr, &cfg.MetricsAddr)
	r.String(envGRPCAddr, &cfg.GRPCAddr)

	r.Lower(envStorageDriver, &cfg.StorageDriver)
	r.String(envPostgresDSN, &cfg.PostgresDSN)
	r.Bool(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)

	r.Lower(envLedger, &cfg.LedgerDriver)
	r.Int(envLedgerSize, &cfg.LedgerSize, func(v int) bool { return v > 0 }, "must be > 0")
	r.Duration(envLedgerLeaseTTL, &cfg.LedgerLeaseTTL, func(v time.Duration) bool { return v > 0 }, "must be > 0")
	r.Duration(envLedgerRetention, &cfg.LedgerRetention, func(v time.Duration) bool { return v > 0 }, "must be > 0")
	r.Duration(envLedgerCleanupEvery, &cfg.LedgerCleanupInterval, func(v time.Duration) bool { return v > 0 }, "must be > 0")
	r.Int(envLedgerCleanupBatch, &cfg.LedgerCleanupBatchSize, func(v int) bool { return v > 0 }, "must be > 0")
	r.String(envRedisAddr, &cfg.RedisAddr)

	r.Broker(&cfg.Broker)

	r.Int(envConsumerPrefetch, &cfg.ConsumerPrefetch, func(v int) bool { return v > 0 }, "must be > 0")
	r.Int(envConsumerConcurrency, &cfg.ConsumerConcurrency, func(v int) bool { return v > 0 }, "must be > 0")
	r.Int(envConsumerMaxRetries, &cfg.ConsumerMaxRetries, func(v int) bool { return v >= 0 }, "must be >= 0")
	reconnect := string(cfg.ConsumerReconnect)
	r.Choice(envConsumerReconnect, &reconnect, string(rabbitmq.ReconnectFixed), string(rabbitmq.ReconnectExponential))
	cfg.ConsumerReconnect = rabbitmq.ReconnectMode(reconnect)

	return cfg, r.Warnings()
}

func main() {
	loaded, dotenvErr := envconfig.LoadDotEnv(".env")
	if err := setupLogger(os.Getenv(envconfig.EnvLogLevel)); err != nil {
		log.WithError(err).Warn("invalid LOG_LEVEL; using info")
	}
	if dotenvErr != nil {
		log.WithError(dotenvErr).Warn("failed to load .env")
	}
	if len(loaded) > 0 {
		log.WithField("files", loaded).Debug("loaded .env files")
	}

	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, warning := range warnings {
		log.Warn(warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"http_addr":      cfg.HTTPAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"grpc_addr":      cfg.GRPCAddr,
		"storage_driver": cfg.StorageDriver,
		"ledger":         cfg.LedgerDriver,
		"queue":          cfg.Broker.Queue,
		"dlq":            cfg.Broker.DeadLetterQueue,
		"max_retries":    cfg.ConsumerMaxRetries,
	}).Info("starting stock-service")

	if err := app.RunStock(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("stock-service exited with error")
	}

	log.Info("stock-service stopped")
}
