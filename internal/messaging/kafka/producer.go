package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// HeaderEventType дублирует тип события в заголовке, чтобы потребители фильтровали без разбора тела.
const HeaderEventType = "event_type"

var errNoBrokers = errors.New("kafka: no brokers configured")

// ParseBrokers разбирает список host:port через запятую, пропуская пустые элементы.
func ParseBrokers(csv string) []string {
	var brokers []string
	for _, broker := range strings.Split(csv, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

// ProducerConfig задаёт подключение к Kafka.
type ProducerConfig struct {
	Brokers  []string
	ClientID string
	// MaxRetries: повторы sarama на один SendMessage.
	MaxRetries int
}

func (c ProducerConfig) sarama() *sarama.Config {
	cfg := sarama.NewConfig()
	if c.ClientID != "" {
		cfg.ClientID = sanitizeClientID(c.ClientID)
	}
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	if c.MaxRetries > 0 {
		cfg.Producer.Retry.Max = c.MaxRetries
	}
	cfg.Producer.Return.Successes = true
	cfg.Producer.Compression = sarama.CompressionSnappy
	// idempotent producer требует одного in-flight запроса на соединение
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	return cfg
}

// sarama принимает в ClientID только [A-Za-z0-9._-].
func sanitizeClientID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			return r
		default:
			return '-'
		}
	}, id)
}

// Producer публикует JSON-события в Kafka синхронно.
type Producer struct {
	producer sarama.SyncProducer
	logger   *log.Entry
}

// NewProducer подключается к брокерам из cfg.
func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errNoBrokers
	}
	producer, err := sarama.NewSyncProducer(cfg.Brokers, cfg.sarama())
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewProducerFromSync(producer, nil), nil
}

// NewProducerFromSync оборачивает готовый sarama.SyncProducer (например, mocks.SyncProducer).
func NewProducerFromSync(producer sarama.SyncProducer, logger *log.Entry) *Producer {
	if logger == nil {
		logger = log.WithField("component", "kafka-producer")
	}
	return &Producer{producer: producer, logger: logger}
}

// Send сериализует payload и публикует его с ключом key; отменённый ctx не отправляет ничего.
func (p *Producer) Send(ctx context.Context, topic, key string, eventType EventType, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(body),
		Headers:   []sarama.RecordHeader{{Key: []byte(HeaderEventType), Value: []byte(eventType)}},
		Timestamp: time.Now(),
	}

	fields := log.Fields{"topic": topic, "key": key, "event_type": eventType}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).WithFields(fields).Warn("kafka send failed")
		return fmt.Errorf("send %s event to %s: %w", eventType, topic, err)
	}
	p.logger.WithFields(fields).WithFields(log.Fields{"partition": partition, "offset": offset}).Debug("kafka event sent")
	return nil
}

// Close закрывает producer; nil Producer закрывать нечего.
func (p *Producer) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}
