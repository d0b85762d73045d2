package domain

import "time"

// OrderEventType: тип события жизненного цикла заказа.
type OrderEventType string

const (
	OrderEventCreated OrderEventType = "order.created"
	OrderEventUpdated OrderEventType = "order.updated"
	OrderEventDeleted OrderEventType = "order.deleted"
)

// OrderEvent публикуется после фиксации изменения заказа.
type OrderEvent struct {
	Type       OrderEventType
	OrderID    int64
	CustomerID string
	Status     string
	Items      []OrderItem
	OccurredAt time.Time
}

// StockEvent публикуется после ручного изменения остатка.
type StockEvent struct {
	ProductID       int64
	QuantityInStock int
	OccurredAt      time.Time
}
