package rabbitmq

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	consumerMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_consumer_messages_total",
		Help: "Total number of consumed messages grouped by disposition.",
	}, []string{"queue", "result"})
	consumerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fulfillment_consumer_state",
		Help: "Current consumer state: 0=disconnected, 1=connecting, 2=consuming, 3=shutting_down.",
	}, []string{"queue"})
	consumerConnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_consumer_connect_attempts_total",
		Help: "Total number of broker connection attempts grouped by result.",
	}, []string{"queue", "result"})
	consumerHandleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fulfillment_consumer_handle_duration_seconds",
		Help:    "Duration of message handling in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
	}, []string{"queue"})
	publisherMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_publisher_messages_total",
		Help: "Total number of published messages grouped by result.",
	}, []string{"queue", "result"})
)
