// Package outbox переносит инструкции списания из outbox-таблицы в брокер.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

var (
	relayAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_outbox_publish_attempts_total",
		Help: "Outbox publish attempts grouped by result.",
	}, []string{"result"})
	relayBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fulfillment_outbox_pending_records",
		Help: "Pending outbox records waiting for relay.",
	})
	relayBacklogAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fulfillment_outbox_oldest_pending_age_seconds",
		Help: "Age of the oldest pending outbox record in seconds.",
	})
)

// Config задаёт ритм опроса и политику повторов.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	// MaxAttempts включает первую попытку.
	MaxAttempts int
	// RetryDelay удваивается после каждой неудачи; 0 означает повтор без паузы.
	RetryDelay time.Duration
}

// DefaultConfig возвращает параметры по умолчанию.
func DefaultConfig() Config {
	return Config{
		PollInterval: time.Second,
		BatchSize:    100,
		MaxAttempts:  3,
		RetryDelay:   50 * time.Millisecond,
	}
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	return c
}

// Option настраивает Worker.
type Option func(*Worker)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithDLQPublisher задаёт очередь для сообщений, исчерпавших попытки.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(w *Worker) {
		w.dlq = publisher
	}
}

// BatchResult: итог одного цикла опроса.
type BatchResult struct {
	Sent   int
	Failed int
	Parked int
}

// Worker пересылает pending-записи outbox в брокер в порядке записи.
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	dlq       domain.OutboxPublisher
	logger    *log.Entry
	cfg       Config
}

// NewWorker создаёт outbox relay.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, cfg Config, options ...Option) *Worker {
	w := &Worker{
		repo:      repo,
		publisher: publisher,
		logger:    log.WithField("component", "outbox-worker"),
		cfg:       cfg.normalized(),
	}
	for _, option := range options {
		option(w)
	}
	return w
}

// Run опрашивает outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		w.ProcessOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce пересылает одну порцию. При отмене ctx текущая запись остаётся pending.
func (w *Worker) ProcessOnce(ctx context.Context) BatchResult {
	var result BatchResult
	if ctx.Err() != nil {
		return result
	}
	defer w.observeBacklog()

	batch, err := w.repo.PullPending(w.cfg.BatchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return result
	}

	for _, msg := range batch {
		err := w.relay(ctx, msg)
		switch {
		case err == nil:
			result.Sent++
			if markErr := w.repo.MarkSent(msg.ID); markErr != nil {
				w.logger.WithError(markErr).WithField("outbox_id", msg.ID).Warn("failed to mark outbox as sent")
			}
		case ctx.Err() != nil:
			return result
		default:
			result.Failed++
			if w.park(msg, err) {
				result.Parked++
			}
			if markErr := w.repo.MarkFailed(msg.ID); markErr != nil {
				w.logger.WithError(markErr).WithField("outbox_id", msg.ID).Warn("failed to mark outbox as failed")
			}
		}
	}
	return result
}

func (w *Worker) relay(ctx context.Context, msg domain.OutboxMessage) error {
	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		if err := w.publisher.Publish(msg); err != nil {
			relayAttempts.WithLabelValues("retry_error").Inc()
			return err
		}
		relayAttempts.WithLabelValues("sent").Inc()
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(w.retryPolicy(), uint64(w.cfg.MaxAttempts-1)), ctx))
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("%w after %d attempts: %w", domain.ErrOutboxPublish, attempts, err)
}

// retryPolicy удваивает паузу без jitter, чтобы порядок попыток был предсказуем.
func (w *Worker) retryPolicy() backoff.BackOff {
	if w.cfg.RetryDelay <= 0 {
		return &backoff.ZeroBackOff{}
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = w.cfg.RetryDelay
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = 0
	policy.Reset()
	return policy
}

// park отправляет исходное сообщение в DLQ без изменений, чтобы dlq-reprocess мог вернуть его в работу.
func (w *Worker) park(msg domain.OutboxMessage, cause error) bool {
	entry := w.logger.WithError(cause).WithFields(log.Fields{
		"outbox_id":    msg.ID,
		"event_type":   msg.EventType,
		"aggregate_id": msg.AggregateID,
	})
	relayAttempts.WithLabelValues("failed").Inc()

	if w.dlq == nil {
		entry.Error("outbox publish failed after retries")
		return false
	}
	if err := w.dlq.Publish(msg); err != nil {
		relayAttempts.WithLabelValues("dlq_failed").Inc()
		entry.WithField("dlq_error", err.Error()).Error("outbox publish failed and dead-letter publish failed too")
		return false
	}
	entry.Warn("outbox message parked in dead-letter queue")
	return true
}

func (w *Worker) observeBacklog() {
	stats, err := w.repo.Stats()
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}
	relayBacklog.Set(float64(stats.PendingCount))

	age := 0.0
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		age = max(time.Since(stats.OldestPendingAt).Seconds(), 0)
	}
	relayBacklogAge.Set(age)
}

// IsPublishFailure сообщает, что запись не удалось переслать за отведённые попытки.
func IsPublishFailure(err error) bool {
	return errors.Is(err, domain.ErrOutboxPublish)
}
