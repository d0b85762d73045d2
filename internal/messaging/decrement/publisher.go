package decrement

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// DefaultQueue: имя рабочей очереди списаний.
const DefaultQueue = "stock_queue"

// EventTypeDecrement: тип outbox-записи с инструкцией списания.
const EventTypeDecrement = "stock.decrement"

// Transport: транспорт, умеющий передавать метаданные сообщения.
type Transport interface {
	PublishWithProperties(ctx context.Context, queue string, body []byte, contentType, messageID string, headers map[string]any) error
}

// Publisher публикует инструкции списания напрямую в очередь.
type Publisher struct {
	transport Transport
	queue     string
	format    Format
}

// NewPublisher создаёт Publisher; пустая очередь заменяется на DefaultQueue.
func NewPublisher(transport Transport, queue string, format Format) *Publisher {
	if queue == "" {
		queue = DefaultQueue
	}
	if format == "" {
		format = FormatText
	}
	return &Publisher{transport: transport, queue: queue, format: format}
}

// PublishDecrement кодирует и отправляет одно сообщение.
func (p *Publisher) PublishDecrement(ctx context.Context, msg domain.DecrementMessage) error {
	if p == nil || p.transport == nil {
		return fmt.Errorf("decrement publisher is not initialized")
	}

	encoded, err := Encode(msg, p.format)
	if err != nil {
		return err
	}
	return p.transport.PublishWithProperties(ctx, p.queue, encoded.Body, encoded.ContentType, encoded.MessageID, encoded.Headers)
}

// OutboxWriter складывает инструкции списания в outbox вместо прямой публикации.
type OutboxWriter struct {
	repo   domain.OutboxRepository
	format Format
}

// NewOutboxWriter создаёт OutboxWriter.
func NewOutboxWriter(repo domain.OutboxRepository, format Format) *OutboxWriter {
	if format == "" {
		format = FormatText
	}
	return &OutboxWriter{repo: repo, format: format}
}

// PublishDecrement сохраняет закодированное сообщение в outbox.
func (w *OutboxWriter) PublishDecrement(_ context.Context, msg domain.DecrementMessage) error {
	if w == nil || w.repo == nil {
		return fmt.Errorf("decrement outbox writer is not initialized")
	}

	encoded, err := Encode(msg, w.format)
	if err != nil {
		return err
	}

	id := msg.OperationID
	if id == "" {
		id = uuid.NewString()
	}
	if _, err := w.repo.Enqueue(domain.OutboxMessage{
		ID:            id,
		AggregateType: "order",
		AggregateID:   fmt.Sprintf("%d", msg.OrderID),
		EventType:     EventTypeDecrement,
		ContentType:   encoded.ContentType,
		Payload:       encoded.Body,
	}); err != nil {
		return fmt.Errorf("enqueue decrement %s: %w", id, err)
	}
	return nil
}

var (
	_ domain.DecrementPublisher = (*Publisher)(nil)
	_ domain.DecrementPublisher = (*OutboxWriter)(nil)
)
