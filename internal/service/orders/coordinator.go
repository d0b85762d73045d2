// Package orders реализует координатор заказов: проверку остатков, сохранение
// и публикацию инструкций списания.
package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
)

// Options задаёт необязательные зависимости координатора.
type Options struct {
	Events  domain.OrderEventPublisher
	Logger  *log.Entry
	Metrics *metrics.OrderMetrics
	Now     func() time.Time
}

// Option настраивает Coordinator.
type Option func(*Options)

// WithEvents подключает публикацию событий жизненного цикла заказа.
func WithEvents(events domain.OrderEventPublisher) Option {
	return func(opts *Options) {
		opts.Events = events
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(opts *Options) {
		opts.Now = now
	}
}

// Coordinator принимает заказы после синхронной проверки остатков.
type Coordinator struct {
	orders     domain.OrderRepository
	stock      domain.StockChecker
	decrements domain.DecrementPublisher
	events     domain.OrderEventPublisher
	logger     *log.Entry
	metrics    *metrics.OrderMetrics
	now        func() time.Time
}

// NewCoordinator создаёт координатор.
func NewCoordinator(
	orders domain.OrderRepository,
	stock domain.StockChecker,
	decrements domain.DecrementPublisher,
	options ...Option,
) *Coordinator {
	opts := Options{Now: time.Now}
	for _, option := range options {
		option(&opts)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "order-coordinator")
	}

	return &Coordinator{
		orders:     orders,
		stock:      stock,
		decrements: decrements,
		events:     opts.Events,
		logger:     logger,
		metrics:    opts.Metrics,
		now:        opts.Now,
	}
}

// CreateOrder проверяет каждую позицию, сохраняет заказ и публикует по сообщению на позицию.
// Ни заказ, ни сообщения не появляются, если хотя бы одна проверка не прошла.
func (c *Coordinator) CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	c.metrics.RequestStarted()
	defer c.metrics.RequestFinished()

	if err := c.validate(ctx, req); err != nil {
		return domain.Order{}, err
	}

	created, err := c.orders.Create(req.NewOrder(c.now().UTC()))
	if err != nil {
		c.metrics.RecordRejected(metrics.RejectStorage)
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}

	c.publishDecrements(ctx, created, domain.DecrementKindCreated)
	c.publishEvent(ctx, domain.OrderEventCreated, created)
	c.metrics.RecordAccepted("create")

	c.logger.WithFields(log.Fields{
		"order_id":    created.ID,
		"customer_id": created.CustomerID,
		"items":       len(created.Items),
	}).Info("order created")
	return created, nil
}

// UpdateOrder заменяет поля и набор позиций заказа и публикует полный набор
// инструкций списания заново (не разницу с прежним набором).
func (c *Coordinator) UpdateOrder(ctx context.Context, id int64, req domain.OrderRequest) (domain.Order, error) {
	c.metrics.RequestStarted()
	defer c.metrics.RequestFinished()

	if _, err := c.orders.Get(id); err != nil {
		return domain.Order{}, err
	}
	if err := c.validate(ctx, req); err != nil {
		return domain.Order{}, err
	}

	order := req.NewOrder(c.now().UTC())
	order.ID = id
	updated, err := c.orders.Update(order)
	if err != nil {
		if !errors.Is(err, domain.ErrOrderNotFound) {
			c.metrics.RecordRejected(metrics.RejectStorage)
		}
		return domain.Order{}, fmt.Errorf("update order %d: %w", id, err)
	}

	c.publishDecrements(ctx, updated, domain.DecrementKindUpdated)
	c.publishEvent(ctx, domain.OrderEventUpdated, updated)
	c.metrics.RecordAccepted("update")

	c.logger.WithFields(log.Fields{
		"order_id": updated.ID,
		"items":    len(updated.Items),
	}).Info("order updated")
	return updated, nil
}

// DeleteOrder удаляет заказ и публикует уведомление без влияния на склад.
func (c *Coordinator) DeleteOrder(ctx context.Context, id int64) error {
	order, err := c.orders.Get(id)
	if err != nil {
		return err
	}
	if err := c.orders.Delete(id); err != nil {
		return fmt.Errorf("delete order %d: %w", id, err)
	}

	notice := domain.NewDeleteNotice(id)
	if err := c.decrements.PublishDecrement(ctx, notice); err != nil {
		c.metrics.RecordDecrementPublished(false)
		c.logger.WithError(err).WithField("order_id", id).Error("failed to publish order deletion notice")
	} else {
		c.metrics.RecordDecrementPublished(true)
	}
	c.publishEvent(ctx, domain.OrderEventDeleted, order)

	c.logger.WithField("order_id", id).Info("order deleted")
	return nil
}

// GetOrder возвращает заказ.
func (c *Coordinator) GetOrder(id int64) (domain.Order, error) {
	return c.orders.Get(id)
}

// ListOrders возвращает все заказы.
func (c *Coordinator) ListOrders() ([]domain.Order, error) {
	return c.orders.List()
}

func (c *Coordinator) validate(ctx context.Context, req domain.OrderRequest) error {
	if err := req.Validate(); err != nil {
		c.metrics.RecordRejected(metrics.RejectValidation)
		return err
	}
	if err := c.checkStock(ctx, req.Items); err != nil {
		if errors.Is(err, domain.ErrInsufficientStock) {
			c.metrics.RecordRejected(metrics.RejectInsufficient)
		} else {
			c.metrics.RecordRejected(metrics.RejectStockCheck)
		}
		c.logger.WithError(err).Warn("order rejected by stock check")
		return err
	}
	return nil
}

// checkStock опрашивает склад последовательно, в порядке позиций, и останавливается на первой ошибке.
func (c *Coordinator) checkStock(ctx context.Context, items []domain.OrderItemRequest) error {
	for _, item := range items {
		started := time.Now()
		available, ok := c.stock.CheckStock(ctx, item.ProductID)
		c.metrics.RecordStockCheck(time.Since(started))

		if !ok {
			return fmt.Errorf("%w: product %d", domain.ErrStockCheckFailed, item.ProductID)
		}
		if available < item.Quantity {
			return &domain.InsufficientStockError{
				ProductID: item.ProductID,
				Available: available,
				Requested: item.Quantity,
			}
		}
	}
	return nil
}

// publishDecrements публикует сообщения независимо друг от друга; ошибки только логируются.
func (c *Coordinator) publishDecrements(ctx context.Context, order domain.Order, kind domain.DecrementKind) {
	for _, msg := range domain.NewDecrementMessages(order, kind) {
		if err := c.decrements.PublishDecrement(ctx, msg); err != nil {
			c.metrics.RecordDecrementPublished(false)
			c.logger.WithError(err).WithFields(log.Fields{
				"order_id":     msg.OrderID,
				"product_id":   msg.ProductID,
				"quantity":     msg.Quantity,
				"operation_id": msg.OperationID,
			}).Error("failed to publish stock decrement")
			continue
		}
		c.metrics.RecordDecrementPublished(true)
	}
}

func (c *Coordinator) publishEvent(ctx context.Context, eventType domain.OrderEventType, order domain.Order) {
	if c.events == nil {
		return
	}
	event := domain.OrderEvent{
		Type:       eventType,
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Status:     order.Status,
		Items:      append([]domain.OrderItem(nil), order.Items...),
		OccurredAt: c.now().UTC(),
	}
	if err := c.events.PublishOrderEvent(ctx, event); err != nil {
		c.logger.WithError(err).WithFields(log.Fields{
			"order_id":   order.ID,
			"event_type": eventType,
		}).Warn("failed to publish order event")
	}
}
