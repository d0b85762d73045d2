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
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/decrement"
)

const (
	envHTTPAddr            = "SALES_HTTP_ADDR"
	envMetricsAddr         = "SALES_METRICS_ADDR"
	envGRPCAddr            = "SALES_GRPC_ADDR"
	envStockURL            = "SALES_STOCK_URL"
	envStockTimeout        = "SALES_STOCK_TIMEOUT"
	envPublishMode         = "SALES_PUBLISH_MODE"
	envMessageFormat       = "SALES_MESSAGE_FORMAT"
	envStorageDriver       = "SALES_STORAGE_DRIVER"
	envPostgresDSN         = "SALES_POSTGRES_DSN"
	envPostgresAutoMigrate = "SALES_POSTGRES_AUTO_MIGRATE"
	envOutboxPollInterval  = "SALES_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize     = "SALES_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts   = "SALES_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay    = "SALES_OUTBOX_RETRY_DELAY"
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

// readConfigFromEnv формирует конфигурацию sales-service; некорректные значения заменяются default.
func readConfigFromEnv(lookup envconfig.Lookup) (app.SalesConfig, []string) {
	cfg := app.DefaultSalesConfig()
	r := envconfig.NewReader(lookup)

	r.String(envHTTPAddr, &cfg.HTTPAddr)
	r.String(envMetricsAddr, &cfg.MetricsAddr)
	r.String(envGRPCAddr, &cfg.GRPCAddr)
	r.String(envStockURL, &cfg.StockURL)
	r.Duration(envStockTimeout, &cfg.StockTimeout, nonNegative, "must be >= 0")

	r.Choice(envPublishMode, &cfg.PublishMode, app.PublishModeDirect, app.PublishModeOutbox)
	format := string(cfg.MessageFormat)
	r.Choice(envMessageFormat, &format, string(decrement.FormatText), string(decrement.FormatJSON))
	cfg.MessageFormat = decrement.Format(format)

	r.Lower(envStorageDriver, &cfg.StorageDriver)
	r.String(envPostgresDSN, &cfg.PostgresDSN)
	r.Bool(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)

	r.Broker(&cfg.Broker)

	r.Duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positive, "must be > 0")
	r.Int(envOutboxBatchSize, &cfg.OutboxBatchSize, func(v int) bool { return v > 0 }, "must be > 0")
	r.Int(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, func(v int) bool { return v > 0 }, "must be > 0")
	r.Duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegative, "must be >= 0")

	return cfg, r.Warnings()
}

func positive(v time.Duration) bool    { return v > 0 }
func nonNegative(v time.Duration) bool { return v >= 0 }

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
		"stock_url":      cfg.StockURL,
		"publish_mode":   cfg.PublishMode,
		"message_format": cfg.MessageFormat,
		"storage_driver": cfg.StorageDriver,
		"queue":          cfg.Broker.Queue,
	}).Info("starting sales-service")

	if err := app.RunSales(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("sales-service exited with error")
	}

	log.Info("sales-service stopped")
}
