package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/decrement"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
)

const (
	defaultLeaseTTL  = 30 * time.Second
	defaultRetention = 7 * 24 * time.Hour
)

// Result описывает исход применения инструкции списания.
type Result string

const (
	ResultApplied   Result = "applied"
	ResultDuplicate Result = "duplicate"
	ResultIgnored   Result = "ignored"
)

// ApplierOptions задаёт параметры Applier.
type ApplierOptions struct {
	// Ledger включает дедупликацию по operation id; nil: каждое сообщение применяется.
	Ledger    domain.OperationLedger
	LeaseTTL  time.Duration
	Retention time.Duration
	Logger    *log.Entry
	Metrics   *metrics.StockMetrics
	Now       func() time.Time
}

// ApplierOption настраивает Applier.
type ApplierOption func(*ApplierOptions)

// WithLedger включает журнал применённых операций.
func WithLedger(ledger domain.OperationLedger, leaseTTL, retention time.Duration) ApplierOption {
	return func(opts *ApplierOptions) {
		opts.Ledger = ledger
		opts.LeaseTTL = leaseTTL
		opts.Retention = retention
	}
}

// WithApplierLogger задаёт logger.
func WithApplierLogger(logger *log.Entry) ApplierOption {
	return func(opts *ApplierOptions) {
		opts.Logger = logger
	}
}

// WithApplierMetrics задаёт метрики.
func WithApplierMetrics(m *metrics.StockMetrics) ApplierOption {
	return func(opts *ApplierOptions) {
		opts.Metrics = m
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) ApplierOption {
	return func(opts *ApplierOptions) {
		opts.Now = now
	}
}

// Applier применяет инструкции списания к хранилищу остатков.
type Applier struct {
	stock     domain.StockRepository
	ledger    domain.OperationLedger
	leaseTTL  time.Duration
	retention time.Duration
	logger    *log.Entry
	metrics   *metrics.StockMetrics
	now       func() time.Time
}

// NewApplier создаёт Applier.
func NewApplier(stock domain.StockRepository, options ...ApplierOption) *Applier {
	opts := ApplierOptions{
		LeaseTTL:  defaultLeaseTTL,
		Retention: defaultRetention,
		Now:       time.Now,
	}
	for _, option := range options {
		option(&opts)
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = defaultLeaseTTL
	}
	if opts.Retention <= 0 {
		opts.Retention = defaultRetention
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "stock-applier")
	}

	return &Applier{
		stock:     stock,
		ledger:    opts.Ledger,
		leaseTTL:  opts.LeaseTTL,
		retention: opts.Retention,
		logger:    logger,
		metrics:   opts.Metrics,
		now:       opts.Now,
	}
}

// HandleMessage декодирует тело сообщения и применяет его.
// Ошибки разбора и неизвестный товар не исправляются повтором.
func (a *Applier) HandleMessage(ctx context.Context, body []byte, contentType string) error {
	msg, err := decrement.Decode(body, contentType)
	if err != nil {
		a.metrics.RecordDecrement("rejected", 0)
		a.logger.WithError(err).WithField("body", truncate(string(body), 200)).Warn("discarding unrecognized stock message")
		return err
	}
	_, err = a.Apply(ctx, msg)
	return err
}

// Apply применяет одно сообщение. Уведомления без влияния на склад возвращают ResultIgnored.
func (a *Applier) Apply(_ context.Context, msg domain.DecrementMessage) (Result, error) {
	started := a.now()
	entry := a.logger.WithFields(log.Fields{
		"order_id":     msg.OrderID,
		"product_id":   msg.ProductID,
		"quantity":     msg.Quantity,
		"operation_id": msg.OperationID,
	})

	if !msg.Kind.AffectsStock() {
		a.metrics.RecordDecrement(string(ResultIgnored), time.Since(started))
		entry.WithField("kind", msg.Kind).Info("message has no stock effect")
		return ResultIgnored, nil
	}
	if msg.ProductID <= 0 {
		return "", fmt.Errorf("%w: product_id must be positive", domain.ErrMalformedMessage)
	}
	// Legacy-текст (Version == 0) вычитает количество как есть, структурированный формат требует > 0.
	if msg.Version > 0 && msg.Quantity <= 0 {
		return "", fmt.Errorf("%w: quantity must be positive", domain.ErrMalformedMessage)
	}

	if msg.OperationID == "" || a.ledger == nil {
		return a.applyDecrement(entry, msg, started)
	}

	if err := a.ledger.Claim(msg.OperationID, started.Add(a.leaseTTL)); err != nil {
		switch {
		case errors.Is(err, domain.ErrOperationAlreadyApplied):
			a.metrics.RecordDecrement(string(ResultDuplicate), time.Since(started))
			entry.Info("decrement already applied, skipping duplicate")
			return ResultDuplicate, nil
		case errors.Is(err, domain.ErrOperationInProgress):
			return "", fmt.Errorf("claim operation %s: %w", msg.OperationID, err)
		default:
			a.metrics.RecordDecrement("failed", time.Since(started))
			return "", fmt.Errorf("claim operation %s: %w", msg.OperationID, err)
		}
	}

	result, err := a.applyDecrement(entry, msg, started)
	if err != nil {
		if releaseErr := a.ledger.Release(msg.OperationID); releaseErr != nil {
			entry.WithError(releaseErr).Warn("failed to release operation lease")
		}
		return "", err
	}

	// Остаток уже изменён: ошибку журнала нельзя превращать в повтор, иначе списание удвоится сразу.
	if err := a.ledger.MarkApplied(msg.OperationID, a.now().Add(a.retention)); err != nil {
		entry.WithError(err).Error("decrement applied but operation was not recorded")
	}
	return result, nil
}

func (a *Applier) applyDecrement(entry *log.Entry, msg domain.DecrementMessage, started time.Time) (Result, error) {
	record, err := a.stock.ApplyDecrement(msg.ProductID, msg.Quantity)
	if err != nil {
		a.metrics.RecordDecrement("failed", time.Since(started))
		if errors.Is(err, domain.ErrProductNotFound) {
			entry.Warn("product not found, decrement dropped")
			return "", fmt.Errorf("apply decrement for product %d: %w", msg.ProductID, err)
		}
		entry.WithError(err).Error("failed to apply decrement")
		return "", fmt.Errorf("apply decrement for product %d: %w", msg.ProductID, err)
	}

	a.metrics.RecordDecrement(string(ResultApplied), time.Since(started))
	entry.WithField("quantity_in_stock", record.QuantityInStock).Info("stock decremented")
	return ResultApplied, nil
}

// IsPermanent сообщает, что ошибку обработки не исправит повторная доставка.
func IsPermanent(err error) bool {
	return domain.IsMessageRejected(err) || errors.Is(err, domain.ErrProductNotFound)
}

// IsDeferred сообщает, что операцию держит чужой lease: после его истечения повтор пройдёт.
func IsDeferred(err error) bool {
	return errors.Is(err, domain.ErrOperationInProgress)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
