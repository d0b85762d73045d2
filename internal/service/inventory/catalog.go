package inventory

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
)

// StockUpdatedQueue: очередь уведомлений о ручном изменении остатка.
const StockUpdatedQueue = "stock_updated"

// CatalogOptions задаёт необязательные зависимости Catalog.
type CatalogOptions struct {
	Notifier domain.MessagePublisher
	Events   domain.StockEventPublisher
	Logger   *log.Entry
	Metrics  *metrics.StockMetrics
	Queue    string
}

// CatalogOption настраивает Catalog.
type CatalogOption func(*CatalogOptions)

// WithNotifier публикует текстовое уведомление в очередь stock_updated.
func WithNotifier(publisher domain.MessagePublisher, queue string) CatalogOption {
	return func(opts *CatalogOptions) {
		opts.Notifier = publisher
		opts.Queue = queue
	}
}

// WithStockEvents публикует событие stock.updated (Kafka).
func WithStockEvents(events domain.StockEventPublisher) CatalogOption {
	return func(opts *CatalogOptions) {
		opts.Events = events
	}
}

// WithCatalogLogger задаёт logger.
func WithCatalogLogger(logger *log.Entry) CatalogOption {
	return func(opts *CatalogOptions) {
		opts.Logger = logger
	}
}

// WithCatalogMetrics задаёт метрики.
func WithCatalogMetrics(m *metrics.StockMetrics) CatalogOption {
	return func(opts *CatalogOptions) {
		opts.Metrics = m
	}
}

// Catalog управляет товарами склада.
type Catalog struct {
	repo     domain.StockRepository
	notifier domain.MessagePublisher
	events   domain.StockEventPublisher
	queue    string
	logger   *log.Entry
	metrics  *metrics.StockMetrics
}

// NewCatalog создаёт Catalog.
func NewCatalog(repo domain.StockRepository, options ...CatalogOption) *Catalog {
	opts := CatalogOptions{Queue: StockUpdatedQueue}
	for _, option := range options {
		option(&opts)
	}
	if opts.Queue == "" {
		opts.Queue = StockUpdatedQueue
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "stock-catalog")
	}
	return &Catalog{
		repo:     repo,
		notifier: opts.Notifier,
		events:   opts.Events,
		queue:    opts.Queue,
		logger:   logger,
		metrics:  opts.Metrics,
	}
}

// Create добавляет товар.
func (c *Catalog) Create(record domain.StockRecord) (domain.StockRecord, error) {
	if err := record.Validate(); err != nil {
		return domain.StockRecord{}, err
	}
	created, err := c.repo.Create(record)
	if err != nil {
		return domain.StockRecord{}, err
	}
	c.metrics.RecordStockUpdate("create")
	c.logger.WithField("product_id", created.ProductID).Info("product created")
	return created, nil
}

// Get возвращает товар.
func (c *Catalog) Get(productID int64) (domain.StockRecord, error) {
	return c.repo.Get(productID)
}

// List возвращает все товары.
func (c *Catalog) List() ([]domain.StockRecord, error) {
	return c.repo.List()
}

// UpdateStock перезаписывает остаток и уведомляет подписчиков.
// Ошибки уведомлений логируются: изменение уже сохранено.
func (c *Catalog) UpdateStock(ctx context.Context, productID int64, quantity int) (domain.StockRecord, error) {
	record, err := c.repo.SetQuantity(productID, quantity)
	if err != nil {
		return domain.StockRecord{}, err
	}
	c.metrics.RecordStockUpdate("set_quantity")

	entry := c.logger.WithFields(log.Fields{"product_id": productID, "quantity_in_stock": quantity})
	if c.notifier != nil {
		text := StockUpdatedText(productID, quantity)
		if err := c.notifier.Publish(ctx, c.queue, []byte(text)); err != nil {
			entry.WithError(err).Warn("failed to publish stock update notification")
		}
	}
	if c.events != nil {
		event := domain.StockEvent{ProductID: productID, QuantityInStock: quantity, OccurredAt: time.Now().UTC()}
		if err := c.events.PublishStockEvent(ctx, event); err != nil {
			entry.WithError(err).Warn("failed to publish stock event")
		}
	}
	entry.Info("stock updated")
	return record, nil
}

// Delete удаляет товар.
func (c *Catalog) Delete(productID int64) error {
	if err := c.repo.Delete(productID); err != nil {
		return err
	}
	c.metrics.RecordStockUpdate("delete")
	c.logger.WithField("product_id", productID).Info("product deleted")
	return nil
}

// StockUpdatedText форматирует уведомление о новом остатке.
func StockUpdatedText(productID int64, quantity int) string {
	return fmt.Sprintf("Stock updated for product %d: %d", productID, quantity)
}
