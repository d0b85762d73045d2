package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/fulfillment/internal/health"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/idempotency"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/fulfillment/internal/storage/redis"
)

const storagePingTimeout = 2 * time.Second

type salesDependencies struct {
	orders         domain.OrderRepository
	outbox         domain.OutboxRepository
	storageChecker healthcheck.Checker
	closeFn        func() error
}

type stockDependencies struct {
	stock          domain.StockRepository
	ledger         domain.OperationLedger
	ledgerCleaner  idempotency.ExpiredDeleter
	storageChecker healthcheck.Checker
	ledgerChecker  healthcheck.Checker
	closeFns       []func() error
}

func (d stockDependencies) close() error {
	var firstErr error
	for i := len(d.closeFns) - 1; i >= 0; i-- {
		if err := d.closeFns[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func normalizeDriver(raw string) string {
	driver := strings.ToLower(strings.TrimSpace(raw))
	if driver == "" {
		return StorageDriverMemory
	}
	return driver
}

// openPostgres открывает store и при необходимости применяет миграции набора schema.
func openPostgres(ctx context.Context, dsn string, autoMigrate bool, schema postgres.Schema, logger *log.Entry) (*postgres.Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn is required when storage driver is %q", StorageDriverPostgres)
	}

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if autoMigrate {
		if err := store.EnsureSchema(ctx, schema); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply %s migrations: %w", schema, err)
		}
		logger.WithField("schema", schema).Info("postgres migrations applied")
	}
	return store, nil
}

func postgresChecker(store *postgres.Store) healthcheck.Checker {
	return healthcheck.Func("storage", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), storagePingTimeout)
		defer cancel()
		return store.Ping(ctx)
	})
}

func initSalesStorage(ctx context.Context, cfg SalesConfig, logger *log.Entry) (salesDependencies, error) {
	switch driver := normalizeDriver(cfg.StorageDriver); driver {
	case StorageDriverMemory:
		logger.Info("using in-memory storage")
		return salesDependencies{
			orders:         memory.NewOrderRepository(),
			outbox:         memory.NewOutboxRepository(),
			storageChecker: healthcheck.Func("storage", func() error { return nil }),
		}, nil
	case StorageDriverPostgres:
		store, err := openPostgres(ctx, cfg.PostgresDSN, cfg.PostgresAutoMigrate, postgres.SchemaSales, logger)
		if err != nil {
			return salesDependencies{}, err
		}
		logger.Info("using postgres storage")
		return salesDependencies{
			orders:         postgres.NewOrderRepository(store),
			outbox:         postgres.NewOutboxRepository(store),
			storageChecker: postgresChecker(store),
			closeFn:        store.Close,
		}, nil
	default:
		return salesDependencies{}, fmt.Errorf("unsupported storage driver %q", driver)
	}
}

func initStockStorage(ctx context.Context, cfg StockConfig, logger *log.Entry) (deps stockDependencies, err error) {
	defer func() {
		if err != nil {
			_ = deps.close()
		}
	}()

	var store *postgres.Store
	switch driver := normalizeDriver(cfg.StorageDriver); driver {
	case StorageDriverMemory:
		logger.Info("using in-memory storage")
		deps.stock = memory.NewStockRepository()
		deps.storageChecker = healthcheck.Func("storage", func() error { return nil })
	case StorageDriverPostgres:
		store, err = openPostgres(ctx, cfg.PostgresDSN, cfg.PostgresAutoMigrate, postgres.SchemaStock, logger)
		if err != nil {
			return deps, err
		}
		logger.Info("using postgres storage")
		deps.stock = postgres.NewProductRepository(store)
		deps.storageChecker = postgresChecker(store)
		deps.closeFns = append(deps.closeFns, store.Close)
	default:
		return deps, fmt.Errorf("unsupported storage driver %q", driver)
	}

	ledgerDriver := strings.ToLower(strings.TrimSpace(cfg.LedgerDriver))
	if ledgerDriver == "" {
		ledgerDriver = LedgerDriverMemory
	}

	switch ledgerDriver {
	case LedgerDriverMemory:
		ledger, err := memory.NewOperationLedger(cfg.LedgerSize)
		if err != nil {
			return deps, fmt.Errorf("create memory ledger: %w", err)
		}
		deps.ledger = ledger
		deps.ledgerCleaner = ledger
	case LedgerDriverPostgres:
		if store == nil {
			return deps, fmt.Errorf("ledger driver %q requires storage driver %q", LedgerDriverPostgres, StorageDriverPostgres)
		}
		ledger := postgres.NewOperationLedger(store)
		deps.ledger = ledger
		deps.ledgerCleaner = ledger
	case LedgerDriverRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		deps.closeFns = append(deps.closeFns, client.Close)

		ledger := redisstore.NewOperationLedger(client, "")
		pingCtx, cancel := context.WithTimeout(ctx, storagePingTimeout)
		defer cancel()
		if err := ledger.Ping(pingCtx); err != nil {
			return deps, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
		}
		deps.ledger = ledger
		deps.ledgerChecker = healthcheck.Func("ledger", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), storagePingTimeout)
			defer cancel()
			return ledger.Ping(ctx)
		})
	default:
		return deps, fmt.Errorf("unsupported ledger driver %q", ledgerDriver)
	}

	logger.WithField("ledger", ledgerDriver).Info("operation ledger initialized")
	return deps, nil
}
