package domain

import (
	"context"
	"time"
)

// StockChecker читает текущий остаток товара у сервиса склада.
type StockChecker interface {
	// CheckStock возвращает остаток и ok=false, если ответ получить или разобрать не удалось.
	CheckStock(ctx context.Context, productID int64) (int, bool)
}

// MessagePublisher кладёт сырое сообщение в именованную очередь.
type MessagePublisher interface {
	Publish(ctx context.Context, queue string, payload []byte) error
}

// DecrementPublisher публикует инструкции списания остатка.
type DecrementPublisher interface {
	PublishDecrement(ctx context.Context, msg DecrementMessage) error
}

// OrderEventPublisher передаёт события заказа внешним подписчикам.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// StockEventPublisher уведомляет о ручном изменении остатка.
type StockEventPublisher interface {
	PublishStockEvent(ctx context.Context, event StockEvent) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// OperationLedger хранит идентификаторы уже применённых операций списания.
type OperationLedger interface {
	// Claim захватывает операцию до leaseUntil.
	// Возвращает ErrOperationAlreadyApplied или ErrOperationInProgress, если захват невозможен.
	Claim(operationID string, leaseUntil time.Time) error
	// MarkApplied переводит операцию в applied и хранит запись до retainUntil.
	MarkApplied(operationID string, retainUntil time.Time) error
	// Release снимает захват, чтобы повторная доставка могла применить операцию.
	Release(operationID string) error
	Get(operationID string) (OperationRecord, error)
	DeleteExpired(before time.Time, limit int) (int, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	ContentType   string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
