package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/kafka"
)

// openEventStream подключает публикацию событий жизненного цикла в Kafka.
// Kafka опциональна: пустой список брокеров или ошибка подключения дают nil, и сервис работает без событий.
func openEventStream(brokersCSV, clientID string, logger *log.Entry) *kafka.EventPublisher {
	brokers := kafka.ParseBrokers(brokersCSV)
	if len(brokers) == 0 {
		return nil
	}

	producer, err := kafka.NewProducer(kafka.ProducerConfig{Brokers: brokers, ClientID: clientID})
	if err != nil {
		logger.WithError(err).WithField("brokers", brokers).Warn("kafka is unavailable, lifecycle events are disabled")
		return nil
	}
	logger.WithField("brokers", brokers).Info("kafka event stream connected")
	return kafka.NewEventPublisher(producer, "", "")
}

func closeEventStream(events *kafka.EventPublisher, logger *log.Entry) {
	if events == nil {
		return
	}
	if err := events.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka event stream")
		return
	}
	logger.Info("kafka event stream closed")
}
