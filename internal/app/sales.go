package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/fulfillment/internal/health"
	"github.com/vladislavdragonenkov/fulfillment/internal/httpapi"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/decrement"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/rabbitmq"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/orders"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/outbox"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/stockclient"
	"github.com/vladislavdragonenkov/fulfillment/internal/version"
)

// SalesServiceName: имя сервиса в логах, health-ответах и gRPC health.
const SalesServiceName = "sales-service"

// RunSales запускает API заказов, публикацию списаний и служебные серверы до отмены ctx.
func RunSales(ctx context.Context, cfg SalesConfig) error {
	logger := log.WithField("component", SalesServiceName)

	deps, err := initSalesStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if deps.closeFn != nil {
		defer func() {
			if err := deps.closeFn(); err != nil {
				logger.WithError(err).Warn("failed to close storage")
			}
		}()
	}

	brokerCfg := cfg.Broker.RabbitMQ.WithDefaults()
	brokerCfg.ConnectionName = version.ClientID(SalesServiceName)
	if brokerCfg.UsesDefaultCredentials() {
		logger.Warn("rabbitmq uses default guest credentials")
	}
	publisher := rabbitmq.NewPublisher(brokerCfg,
		rabbitmq.WithPublisherLogger(logger.WithField("layer", "rabbitmq")),
		rabbitmq.WithConfirms(cfg.Broker.Confirms, cfg.Broker.ConfirmTimeout),
	)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.WithError(err).Warn("failed to close rabbitmq publisher")
		}
	}()

	events := openEventStream(cfg.Broker.KafkaBrokers, version.ClientID(SalesServiceName), logger)
	defer closeEventStream(events, logger)

	format := cfg.MessageFormat
	if format == "" {
		format = decrement.FormatText
	}

	var (
		decrements   domain.DecrementPublisher
		outboxWorker *outbox.Worker
	)
	switch cfg.PublishMode {
	case PublishModeDirect, "":
		decrements = decrement.NewPublisher(publisher, cfg.Broker.Queue, format)
	case PublishModeOutbox:
		decrements = decrement.NewOutboxWriter(deps.outbox, format)
		workerOptions := []outbox.Option{outbox.WithLogger(logger.WithField("layer", "outbox"))}
		if cfg.Broker.DeadLetterQueue != "" {
			workerOptions = append(workerOptions,
				outbox.WithDLQPublisher(rabbitmq.NewOutboxPublisher(publisher, cfg.Broker.DeadLetterQueue)))
		}
		relayConfig := outbox.Config{
			PollInterval: cfg.OutboxPollInterval,
			BatchSize:    cfg.OutboxBatchSize,
			MaxAttempts:  cfg.OutboxMaxAttempts,
			RetryDelay:   cfg.OutboxRetryDelay,
		}
		outboxWorker = outbox.NewWorker(deps.outbox, rabbitmq.NewOutboxPublisher(publisher, queueOrDefault(cfg.Broker.Queue)), relayConfig, workerOptions...)
	default:
		return fmt.Errorf("unsupported publish mode %q", cfg.PublishMode)
	}

	checkerOptions := []stockclient.Option{stockclient.WithLogger(logger.WithField("layer", "stock-client"))}
	if cfg.StockTimeout > 0 {
		checkerOptions = append(checkerOptions, stockclient.WithTimeout(cfg.StockTimeout))
	}
	stockChecker := stockclient.New(cfg.StockURL, checkerOptions...)

	coordinatorOptions := []orders.Option{
		orders.WithLogger(logger.WithField("layer", "coordinator")),
		orders.WithMetrics(metrics.NewOrderMetrics()),
	}
	if events != nil {
		coordinatorOptions = append(coordinatorOptions, orders.WithEvents(events))
	}
	coordinator := orders.NewCoordinator(deps.orders, stockChecker, decrements, coordinatorOptions...)

	healthHandler := healthcheck.NewHandler(SalesServiceName, version.GetVersion())
	healthHandler.Register("storage", deps.storageChecker)
	healthHandler.Register("broker", healthcheck.Func("broker", publisher.Ping), healthcheck.NonCritical())

	api := httpapi.NewEcho(logger.WithField("layer", "http"))
	httpapi.RegisterOrderRoutes(api, coordinator)

	grpcServer := newGRPCHealthServer(SalesServiceName, logger)

	logger.WithFields(log.Fields{
		"publish_mode":   cfg.PublishMode,
		"message_format": format,
		"queue":          queueOrDefault(cfg.Broker.Queue),
		"stock_url":      cfg.StockURL,
		"version":        version.String(),
	}).Info("sales-service starting")

	g, gctx := errgroup.WithContext(ctx)
	startMetricsServer(gctx, cfg.MetricsAddr, logger, healthHandler)

	g.Go(func() error { return serveAPI(gctx, api, cfg.HTTPAddr, logger) })
	g.Go(func() error { return grpcServer.serve(gctx, cfg.GRPCAddr, logger) })
	if outboxWorker != nil {
		g.Go(func() error {
			outboxWorker.Run(gctx)
			return nil
		})
	}

	err = g.Wait()
	logger.Info("sales-service stopped")
	if err != nil {
		return err
	}
	return ctx.Err()
}

func queueOrDefault(queue string) string {
	if queue == "" {
		return decrement.DefaultQueue
	}
	return queue
}
