package rabbitmq

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const outboxPublishTimeout = 5 * time.Second

// HeaderOutboxEventType переносит тип outbox-события в заголовки сообщения.
const HeaderOutboxEventType = "x-event-type"

type propertiesPublisher interface {
	PublishWithProperties(ctx context.Context, queue string, body []byte, contentType, messageID string, headers map[string]any) error
}

// OutboxQueuePublisher пересылает строки outbox в рабочую очередь.
type OutboxQueuePublisher struct {
	publisher propertiesPublisher
	queue     string
}

// NewOutboxPublisher создаёт паблишер outbox поверх Publisher.
func NewOutboxPublisher(publisher propertiesPublisher, queue string) *OutboxQueuePublisher {
	return &OutboxQueuePublisher{publisher: publisher, queue: queue}
}

// Publish отправляет payload как есть: содержимое уже закодировано при записи в outbox.
func (p *OutboxQueuePublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.publisher == nil {
		return fmt.Errorf("rabbitmq outbox publisher is not initialized")
	}

	ctx, cancel := context.WithTimeout(context.Background(), outboxPublishTimeout)
	defer cancel()

	contentType := event.ContentType
	if contentType == "" {
		contentType = "text/plain"
	}
	headers := map[string]any{}
	if event.EventType != "" {
		headers[HeaderOutboxEventType] = event.EventType
	}

	return p.publisher.PublishWithProperties(ctx, p.queue, event.Payload, contentType, event.ID, headers)
}

var _ domain.OutboxPublisher = (*OutboxQueuePublisher)(nil)
