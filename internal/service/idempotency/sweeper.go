// Package idempotency чистит журнал применённых операций списания от записей с истёкшим сроком.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

var (
	sweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_ledger_cleanup_runs_total",
		Help: "Operation ledger sweeps grouped by result.",
	}, []string{"result"})
	sweepDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fulfillment_ledger_cleanup_deleted_total",
		Help: "Expired operation ledger records removed.",
	})
	sweepLastDeleted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fulfillment_ledger_cleanup_last_deleted",
		Help: "Records removed by the last sweep.",
	})
)

// ExpiredDeleter удаляет до limit записей с истёкшим сроком; реализуется журналами операций.
type ExpiredDeleter interface {
	DeleteExpired(before time.Time, limit int) (int, error)
}

// SweepConfig задаёт период и размер порции удаления.
type SweepConfig struct {
	Interval  time.Duration
	BatchSize int
}

// DefaultSweepConfig: раз в 10 минут порциями по 500.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{Interval: 10 * time.Minute, BatchSize: 500}
}

// SweepReport: итог одного прохода.
type SweepReport struct {
	Deleted int
	Batches int
}

// Option настраивает Sweeper.
type Option func(*Sweeper)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// Sweeper периодически удаляет просроченные записи журнала операций.
type Sweeper struct {
	ledger ExpiredDeleter
	cfg    SweepConfig
	logger *log.Entry
	now    func() time.Time
}

// NewSweeper создаёт Sweeper; нулевые поля cfg заменяются значениями по умолчанию.
func NewSweeper(ledger ExpiredDeleter, cfg SweepConfig, options ...Option) *Sweeper {
	def := DefaultSweepConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	s := &Sweeper{
		ledger: ledger,
		cfg:    cfg,
		logger: log.WithField("component", "ledger-sweeper"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Run выполняет проход сразу и затем каждые Interval до отмены ctx.
func (s *Sweeper) Run(ctx context.Context) {
	if s.ledger == nil {
		s.logger.Warn("ledger sweeper is disabled: ledger is nil")
		return
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		s.runOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	report, err := s.Sweep(ctx)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return
	case err != nil:
		sweepRuns.WithLabelValues("error").Inc()
		s.logger.WithError(err).WithField("deleted", report.Deleted).Warn("ledger sweep failed")
		return
	}

	sweepRuns.WithLabelValues("ok").Inc()
	sweepLastDeleted.Set(float64(report.Deleted))
	if report.Deleted > 0 {
		s.logger.WithFields(log.Fields{
			"deleted": report.Deleted,
			"batches": report.Batches,
		}).Info("ledger sweep completed")
	}
}

// Sweep удаляет все записи, истёкшие к текущему моменту, пока порция заполняется целиком.
func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	cutoff := s.now()

	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		deleted, err := s.ledger.DeleteExpired(cutoff, s.cfg.BatchSize)
		if err != nil {
			return report, err
		}
		report.Batches++
		report.Deleted += deleted
		sweepDeleted.Add(float64(deleted))

		if deleted < s.cfg.BatchSize {
			return report, nil
		}
	}
}
