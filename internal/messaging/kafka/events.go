package kafka

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// EventType определяет тип события
type EventType string

const (
	EventTypeOrderCreated EventType = EventType(domain.OrderEventCreated)
	EventTypeOrderUpdated EventType = EventType(domain.OrderEventUpdated)
	EventTypeOrderDeleted EventType = EventType(domain.OrderEventDeleted)
	EventTypeStockUpdated EventType = "stock.updated"
)

// Topics для Kafka
const (
	TopicOrderEvents = "fulfillment.order.events"
	TopicStockEvents = "fulfillment.stock.events"
)

// OrderItemPayload: позиция заказа в событии.
type OrderItemPayload struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// OrderEvent представляет событие заказа
type OrderEvent struct {
	EventType  EventType          `json:"event_type"`
	OrderID    int64              `json:"order_id"`
	CustomerID string             `json:"customer_id,omitempty"`
	Status     string             `json:"status,omitempty"`
	Items      []OrderItemPayload `json:"items,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
}

// StockEvent представляет изменение остатка
type StockEvent struct {
	EventType       EventType `json:"event_type"`
	ProductID       int64     `json:"product_id"`
	QuantityInStock int       `json:"quantity_in_stock"`
	Timestamp       time.Time `json:"timestamp"`
}

// NewOrderEvent строит событие из доменного события.
func NewOrderEvent(event domain.OrderEvent) *OrderEvent {
	items := make([]OrderItemPayload, 0, len(event.Items))
	for _, item := range event.Items {
		items = append(items, OrderItemPayload{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	ts := event.OccurredAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return &OrderEvent{
		EventType:  EventType(event.Type),
		OrderID:    event.OrderID,
		CustomerID: event.CustomerID,
		Status:     event.Status,
		Items:      items,
		Timestamp:  ts,
	}
}

// NewStockEvent строит событие об изменении остатка.
func NewStockEvent(event domain.StockEvent) *StockEvent {
	ts := event.OccurredAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return &StockEvent{
		EventType:       EventTypeStockUpdated,
		ProductID:       event.ProductID,
		QuantityInStock: event.QuantityInStock,
		Timestamp:       ts,
	}
}

// EventPublisher публикует события заказов и склада; ключ: идентификатор агрегата.
type EventPublisher struct {
	producer   *Producer
	orderTopic string
	stockTopic string
}

// NewEventPublisher создаёт паблишер; пустые topics заменяются значениями по умолчанию.
func NewEventPublisher(producer *Producer, orderTopic, stockTopic string) *EventPublisher {
	if orderTopic == "" {
		orderTopic = TopicOrderEvents
	}
	if stockTopic == "" {
		stockTopic = TopicStockEvents
	}
	return &EventPublisher{producer: producer, orderTopic: orderTopic, stockTopic: stockTopic}
}

func (p *EventPublisher) PublishOrderEvent(ctx context.Context, event domain.OrderEvent) error {
	if p == nil || p.producer == nil {
		return errPublisherNotInitialized
	}
	payload := NewOrderEvent(event)
	return p.producer.Send(ctx, p.orderTopic, strconv.FormatInt(event.OrderID, 10), payload.EventType, payload)
}

func (p *EventPublisher) PublishStockEvent(ctx context.Context, event domain.StockEvent) error {
	if p == nil || p.producer == nil {
		return errPublisherNotInitialized
	}
	payload := NewStockEvent(event)
	return p.producer.Send(ctx, p.stockTopic, strconv.FormatInt(event.ProductID, 10), payload.EventType, payload)
}

// Close закрывает producer паблишера.
func (p *EventPublisher) Close() error {
	if p == nil {
		return nil
	}
	return p.producer.Close()
}

var errPublisherNotInitialized = errors.New("kafka event publisher is not initialized")

var (
	_ domain.OrderEventPublisher = (*EventPublisher)(nil)
	_ domain.StockEventPublisher = (*EventPublisher)(nil)
)
