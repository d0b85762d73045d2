package app

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	healthcheck "github.com/vladislavdragonenkov/fulfillment/internal/health"
	"github.com/vladislavdragonenkov/fulfillment/internal/httpapi"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/rabbitmq"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/idempotency"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/inventory"
	"github.com/vladislavdragonenkov/fulfillment/internal/version"
)

// StockServiceName: имя сервиса в логах, health-ответах и gRPC health.
const StockServiceName = "stock-service"

// consumerHealthService: имя gRPC health-службы, отражающей состояние consumer.
const consumerHealthService = "stock-consumer"

// maxLeaseWaitPause ограничивает паузу перед повтором сообщения, чью операцию держит чужой lease.
const maxLeaseWaitPause = 5 * time.Second

// RunStock запускает API товаров, consumer очереди списаний и служебные серверы до отмены ctx.
func RunStock(ctx context.Context, cfg StockConfig) error {
	logger := log.WithField("component", StockServiceName)

	deps, err := initStockStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	brokerCfg := cfg.Broker.RabbitMQ.WithDefaults()
	brokerCfg.ConnectionName = version.ClientID(StockServiceName)
	if brokerCfg.UsesDefaultCredentials() {
		logger.Warn("rabbitmq uses default guest credentials")
	}

	notifier := rabbitmq.NewPublisher(brokerCfg,
		rabbitmq.WithPublisherLogger(logger.WithField("layer", "rabbitmq")),
		rabbitmq.WithConfirms(cfg.Broker.Confirms, cfg.Broker.ConfirmTimeout),
	)
	defer func() {
		if err := notifier.Close(); err != nil {
			logger.WithError(err).Warn("failed to close rabbitmq publisher")
		}
	}()

	events := openEventStream(cfg.Broker.KafkaBrokers, version.ClientID(StockServiceName), logger)
	defer closeEventStream(events, logger)

	stockMetrics := metrics.NewStockMetrics()

	catalogOptions := []inventory.CatalogOption{
		inventory.WithNotifier(notifier, inventory.StockUpdatedQueue),
		inventory.WithCatalogLogger(logger.WithField("layer", "catalog")),
		inventory.WithCatalogMetrics(stockMetrics),
	}
	if events != nil {
		catalogOptions = append(catalogOptions, inventory.WithStockEvents(events))
	}
	catalog := inventory.NewCatalog(deps.stock, catalogOptions...)

	applier := inventory.NewApplier(deps.stock,
		inventory.WithLedger(deps.ledger, cfg.LedgerLeaseTTL, cfg.LedgerRetention),
		inventory.WithApplierLogger(logger.WithField("layer", "applier")),
		inventory.WithApplierMetrics(stockMetrics),
	)

	grpcServer := newGRPCHealthServer(StockServiceName, logger)
	grpcServer.setServing(consumerHealthService, false)

	consumer, err := rabbitmq.NewConsumer(brokerCfg, queueOrDefault(cfg.Broker.Queue),
		func(ctx context.Context, msg rabbitmq.Message) error {
			return applier.HandleMessage(ctx, msg.Body, msg.ContentType)
		},
		rabbitmq.WithConsumerLogger(logger.WithField("layer", "consumer")),
		rabbitmq.WithDeadLetterQueue(cfg.Broker.DeadLetterQueue),
		rabbitmq.WithMaxRetries(cfg.ConsumerMaxRetries),
		rabbitmq.WithPrefetch(cfg.ConsumerPrefetch),
		rabbitmq.WithConcurrency(cfg.ConsumerConcurrency),
		rabbitmq.WithReconnect(cfg.ConsumerReconnect, 0),
		rabbitmq.WithPermanentErrors(inventory.IsPermanent),
		rabbitmq.WithDeferredErrors(inventory.IsDeferred, min(cfg.LedgerLeaseTTL, maxLeaseWaitPause)),
		rabbitmq.WithStateHook(func(state rabbitmq.State) {
			grpcServer.setServing(consumerHealthService, state == rabbitmq.StateConsuming)
		}),
	)
	if err != nil {
		return err
	}

	healthHandler := healthcheck.NewHandler(StockServiceName, version.GetVersion())
	healthHandler.Register("storage", deps.storageChecker)
	if deps.ledgerChecker != nil {
		healthHandler.Register("ledger", deps.ledgerChecker)
	}
	healthHandler.Register("consumer", healthcheck.Consumer("consumer", func() healthcheck.ConsumerState {
		h := consumer.Health()
		return healthcheck.ConsumerState{
			State:        h.State.String(),
			Consuming:    h.State == rabbitmq.StateConsuming,
			ShuttingDown: h.State == rabbitmq.StateShuttingDown,
			LastError:    h.LastError,
		}
	}))

	api := httpapi.NewEcho(logger.WithField("layer", "http"))
	httpapi.RegisterProductRoutes(api, catalog)

	logger.WithFields(log.Fields{
		"queue":       consumer.Queue(),
		"dlq":         cfg.Broker.DeadLetterQueue,
		"max_retries": cfg.ConsumerMaxRetries,
		"concurrency": cfg.ConsumerConcurrency,
		"reconnect":   cfg.ConsumerReconnect,
		"ledger":      cfg.LedgerDriver,
		"version":     version.String(),
	}).Info("stock-service starting")

	g, gctx := errgroup.WithContext(ctx)
	startMetricsServer(gctx, cfg.MetricsAddr, logger, healthHandler)

	g.Go(func() error { return serveAPI(gctx, api, cfg.HTTPAddr, logger) })
	g.Go(func() error { return grpcServer.serve(gctx, cfg.GRPCAddr, logger) })
	g.Go(func() error { return consumer.Run(gctx) })
	if deps.ledgerCleaner != nil {
		sweeper := idempotency.NewSweeper(deps.ledgerCleaner,
			idempotency.SweepConfig{Interval: cfg.LedgerCleanupInterval, BatchSize: cfg.LedgerCleanupBatchSize},
			idempotency.WithLogger(logger.WithField("layer", "ledger-sweeper")),
		)
		g.Go(func() error {
			sweeper.Run(gctx)
			return nil
		})
	}

	err = g.Wait()
	logger.Info("stock-service stopped")
	if err != nil {
		return err
	}
	return ctx.Err()
}
