// Package metrics содержит Prometheus-метрики координатора заказов и склада.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Причины отказа в заказе.
const (
	RejectValidation   = "validation"
	RejectStockCheck   = "stock_check_failed"
	RejectInsufficient = "insufficient_stock"
	RejectStorage      = "storage"
)

// OrderMetrics: метрики координатора заказов.
type OrderMetrics struct {
	ordersAccepted     *prometheus.CounterVec
	ordersRejected     *prometheus.CounterVec
	stockCheckDuration prometheus.Histogram
	decrementsSent     *prometheus.CounterVec
	inFlight           prometheus.Gauge
}

// NewOrderMetrics регистрирует метрики в DefaultRegisterer.
func NewOrderMetrics() *OrderMetrics {
	return newOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		ordersAccepted: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fulfillment_orders_accepted_total",
			Help: "Total number of orders accepted grouped by operation",
		}, []string{"operation"}),
		ordersRejected: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fulfillment_orders_rejected_total",
			Help: "Total number of order requests rejected grouped by reason",
		}, []string{"reason"}),
		stockCheckDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "fulfillment_stock_check_duration_seconds",
			Help:    "Duration of a single synchronous stock check in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		decrementsSent: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fulfillment_decrements_published_total",
			Help: "Total number of decrement messages handed to the broker grouped by result",
		}, []string{"result"}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "fulfillment_order_requests_in_flight",
			Help: "Number of order create/update requests being processed",
		}),
	}
}

// RecordAccepted считает принятый заказ (operation: create или update).
func (m *OrderMetrics) RecordAccepted(operation string) {
	if m == nil {
		return
	}
	m.ordersAccepted.WithLabelValues(operation).Inc()
}

// RecordRejected считает отклонённый запрос.
func (m *OrderMetrics) RecordRejected(reason string) {
	if m == nil {
		return
	}
	m.ordersRejected.WithLabelValues(reason).Inc()
}

// RecordStockCheck записывает длительность проверки остатка.
func (m *OrderMetrics) RecordStockCheck(duration time.Duration) {
	if m == nil {
		return
	}
	m.stockCheckDuration.Observe(duration.Seconds())
}

// RecordDecrementPublished считает результат публикации (sent или failed).
func (m *OrderMetrics) RecordDecrementPublished(ok bool) {
	if m == nil {
		return
	}
	result := "sent"
	if !ok {
		result = "failed"
	}
	m.decrementsSent.WithLabelValues(result).Inc()
}

// RequestStarted увеличивает число обрабатываемых запросов.
func (m *OrderMetrics) RequestStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

// RequestFinished уменьшает число обрабатываемых запросов.
func (m *OrderMetrics) RequestFinished() {
	if m == nil {
		return
	}
	m.inFlight.Dec()
}

// StockMetrics: метрики применения списаний на стороне склада.
type StockMetrics struct {
	decrements    *prometheus.CounterVec
	applyDuration prometheus.Histogram
	stockUpdates  *prometheus.CounterVec
}

// NewStockMetrics регистрирует метрики в DefaultRegisterer.
func NewStockMetrics() *StockMetrics {
	return newStockMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newStockMetricsWithRegisterer(registerer prometheus.Registerer) *StockMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &StockMetrics{
		decrements: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fulfillment_stock_decrements_total",
			Help: "Total number of decrement instructions grouped by outcome",
		}, []string{"result"}),
		applyDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "fulfillment_stock_decrement_apply_duration_seconds",
			Help:    "Duration of applying one decrement instruction in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
		stockUpdates: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fulfillment_stock_manual_updates_total",
			Help: "Total number of manual stock changes grouped by operation",
		}, []string{"operation"}),
	}
}

// RecordDecrement считает исход применения (applied, duplicate, ignored, failed).
func (m *StockMetrics) RecordDecrement(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.decrements.WithLabelValues(result).Inc()
	m.applyDuration.Observe(duration.Seconds())
}

// RecordStockUpdate считает ручное изменение каталога.
func (m *StockMetrics) RecordStockUpdate(operation string) {
	if m == nil {
		return
	}
	m.stockUpdates.WithLabelValues(operation).Inc()
}
