package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const defaultConfirmTimeout = 5 * time.Second

// PublisherOptions задаёт параметры Publisher.
type PublisherOptions struct {
	Logger         *log.Entry
	Dialer         Dialer
	Confirms       bool
	ConfirmTimeout time.Duration
}

// PublisherOption настраивает Publisher.
type PublisherOption func(*PublisherOptions)

// WithPublisherLogger задаёт logger.
func WithPublisherLogger(logger *log.Entry) PublisherOption {
	return func(opts *PublisherOptions) {
		opts.Logger = logger
	}
}

// WithPublisherDialer подменяет способ подключения (для тестов).
func WithPublisherDialer(dialer Dialer) PublisherOption {
	return func(opts *PublisherOptions) {
		opts.Dialer = dialer
	}
}

// WithConfirms включает publisher confirms: Publish ждёт ack брокера.
func WithConfirms(enabled bool, timeout time.Duration) PublisherOption {
	return func(opts *PublisherOptions) {
		opts.Confirms = enabled
		opts.ConfirmTimeout = timeout
	}
}

// Publisher публикует сообщения в durable-очереди через default exchange.
// Соединение открывается лениво и переоткрывается после ошибки.
type Publisher struct {
	cfg            Config
	dial           Dialer
	logger         *log.Entry
	confirms       bool
	confirmTimeout time.Duration

	mu        sync.Mutex
	conn      Connection
	ch        Channel
	confirmCh chan amqp.Confirmation
	declared  map[string]struct{}
}

// NewPublisher создаёт Publisher. Подключение к брокеру происходит при первой публикации.
func NewPublisher(cfg Config, options ...PublisherOption) *Publisher {
	opts := PublisherOptions{
		Dialer:         Dial,
		ConfirmTimeout: defaultConfirmTimeout,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "rabbitmq-publisher")
	}
	if opts.Dialer == nil {
		opts.Dialer = Dial
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = defaultConfirmTimeout
	}

	return &Publisher{
		cfg:            cfg.WithDefaults(),
		dial:           opts.Dialer,
		logger:         logger,
		confirms:       opts.Confirms,
		confirmTimeout: opts.ConfirmTimeout,
		declared:       make(map[string]struct{}),
	}
}

// Publish отправляет payload как text/plain.
func (p *Publisher) Publish(ctx context.Context, queue string, payload []byte) error {
	return p.PublishWithProperties(ctx, queue, payload, "text/plain", "", nil)
}

// PublishWithProperties отправляет сообщение с content type, message id и заголовками.
// Пустой payload: ошибка аргумента; без confirms успешный возврат не гарантирует доставку.
func (p *Publisher) PublishWithProperties(ctx context.Context, queue string, body []byte, contentType, messageID string, headers map[string]any) error {
	if len(body) == 0 {
		return domain.ErrEmptyPayload
	}
	if queue == "" {
		return domain.ErrQueueRequired
	}

	msg := amqp.Publishing{
		ContentType:  contentType,
		MessageId:    messageID,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if len(headers) > 0 {
		msg.Headers = amqp.Table(headers)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.publishLocked(ctx, queue, msg); err != nil {
		publisherMessagesTotal.WithLabelValues(queue, "error").Inc()
		p.logger.WithError(err).WithField("queue", queue).Warn("failed to publish message")
		return err
	}

	publisherMessagesTotal.WithLabelValues(queue, "sent").Inc()
	p.logger.WithFields(log.Fields{
		"queue":      queue,
		"message_id": messageID,
		"bytes":      len(body),
	}).Debug("message published")
	return nil
}

// PublishMessage отправляет сообщение вместе с его метаданными (используется при переотправке из DLQ).
func (p *Publisher) PublishMessage(ctx context.Context, queue string, msg Message) error {
	return p.PublishWithProperties(ctx, queue, msg.Body, msg.ContentType, msg.MessageID, msg.Headers)
}

func (p *Publisher) publishLocked(ctx context.Context, queue string, msg amqp.Publishing) error {
	ch, err := p.channelLocked()
	if err != nil {
		return fmt.Errorf("rabbitmq publish: %w", err)
	}

	if _, ok := p.declared[queue]; !ok {
		if err := declareDurable(ch, queue); err != nil {
			p.resetLocked()
			return err
		}
		p.declared[queue] = struct{}{}
	}

	if err := ch.PublishWithContext(ctx, "", queue, false, false, msg); err != nil {
		p.resetLocked()
		return fmt.Errorf("publish to %s: %w", queue, err)
	}

	if !p.confirms {
		return nil
	}
	return p.waitConfirmLocked(ctx, queue)
}

func (p *Publisher) waitConfirmLocked(ctx context.Context, queue string) error {
	waitCtx, cancel := context.WithTimeout(ctx, p.confirmTimeout)
	defer cancel()

	select {
	case confirmation, ok := <-p.confirmCh:
		if !ok {
			p.resetLocked()
			return fmt.Errorf("publish to %s: confirm channel closed", queue)
		}
		if !confirmation.Ack {
			publisherMessagesTotal.WithLabelValues(queue, "not_confirmed").Inc()
			return fmt.Errorf("publish to %s: %w", queue, domain.ErrPublishNotConfirmed)
		}
		return nil
	case <-waitCtx.Done():
		// Опоздавшее подтверждение сдвинет очередь confirm-ов, поэтому канал пересоздаётся.
		p.resetLocked()
		return fmt.Errorf("wait publish confirm for %s: %w", queue, waitCtx.Err())
	}
}

func (p *Publisher) channelLocked() (Channel, error) {
	if p.ch != nil && p.conn != nil && !p.conn.IsClosed() {
		return p.ch, nil
	}
	p.resetLocked()

	conn, err := p.dial(p.cfg.URL(), p.cfg.ConnectionName)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if p.confirms {
		if err := ch.Confirm(false); err != nil {
			closeQuietly(ch, conn)
			return nil, fmt.Errorf("enable publisher confirms: %w", err)
		}
		p.confirmCh = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	}

	p.conn = conn
	p.ch = ch
	p.logger.WithField("addr", p.cfg.Address()).Info("rabbitmq publisher connected")
	return ch, nil
}

func (p *Publisher) resetLocked() {
	closeQuietly(p.ch, p.conn)
	p.ch = nil
	p.conn = nil
	p.confirmCh = nil
	p.declared = make(map[string]struct{})
}

// Ping проверяет, что до брокера можно достучаться (открывает соединение при необходимости).
func (p *Publisher) Ping() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.channelLocked()
	return err
}

// Close закрывает канал и соединение.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if p.ch != nil {
		if err := p.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if p.conn != nil && !p.conn.IsClosed() {
		if err := p.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	p.ch = nil
	p.conn = nil
	p.confirmCh = nil
	return errors.Join(errs...)
}

var _ domain.MessagePublisher = (*Publisher)(nil)
