package app

import (
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/decrement"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/rabbitmq"
)

const (
	// StorageDriverMemory хранит данные в памяти процесса.
	StorageDriverMemory = "memory"
	// StorageDriverPostgres хранит данные в PostgreSQL.
	StorageDriverPostgres = "postgres"
)

const (
	// LedgerDriverMemory: журнал операций в памяти, ограниченный LRU.
	LedgerDriverMemory = "memory"
	// LedgerDriverPostgres: журнал в таблице processed_operations.
	LedgerDriverPostgres = "postgres"
	// LedgerDriverRedis: журнал в Redis, общий для нескольких экземпляров.
	LedgerDriverRedis = "redis"
)

const (
	// PublishModeDirect: инструкции списания уходят в очередь сразу после сохранения заказа.
	PublishModeDirect = "direct"
	// PublishModeOutbox: инструкции пишутся в outbox и пересылаются фоновым воркером.
	PublishModeOutbox = "outbox"
)

// DefaultDeadLetterQueue: очередь для сообщений, которые не удалось применить.
const DefaultDeadLetterQueue = decrement.DefaultQueue + ".dlq"

// BrokerConfig: общие параметры RabbitMQ и Kafka.
type BrokerConfig struct {
	RabbitMQ        rabbitmq.Config
	Queue           string
	DeadLetterQueue string
	Confirms        bool
	ConfirmTimeout  time.Duration
	// KafkaBrokers: список адресов через запятую; пусто: события жизненного цикла не публикуются.
	KafkaBrokers string
}

// SalesConfig описывает настройки sales-service.
type SalesConfig struct {
	HTTPAddr    string
	MetricsAddr string
	GRPCAddr    string

	StockURL     string
	StockTimeout time.Duration

	PublishMode   string
	MessageFormat decrement.Format

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	Broker BrokerConfig

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
}

// StockConfig описывает настройки stock-service.
type StockConfig struct {
	HTTPAddr    string
	MetricsAddr string
	GRPCAddr    string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	LedgerDriver    string
	LedgerSize      int
	LedgerLeaseTTL  time.Duration
	LedgerRetention time.Duration
	RedisAddr       string

	Broker BrokerConfig

	ConsumerPrefetch    int
	ConsumerConcurrency int
	ConsumerMaxRetries  int
	ConsumerReconnect   rabbitmq.ReconnectMode

	LedgerCleanupInterval  time.Duration
	LedgerCleanupBatchSize int
}

func defaultBrokerConfig() BrokerConfig {
	return BrokerConfig{
		RabbitMQ:        rabbitmq.DefaultConfig(),
		Queue:           decrement.DefaultQueue,
		DeadLetterQueue: DefaultDeadLetterQueue,
		ConfirmTimeout:  5 * time.Second,
	}
}

// DefaultSalesConfig возвращает локальные адреса, прямую публикацию и хранение в памяти.
func DefaultSalesConfig() SalesConfig {
	return SalesConfig{
		HTTPAddr:            ":5000",
		MetricsAddr:         ":9090",
		GRPCAddr:            ":50051",
		StockURL:            "http://localhost:5049",
		PublishMode:         PublishModeDirect,
		MessageFormat:       decrement.FormatText,
		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		Broker:              defaultBrokerConfig(),
		OutboxPollInterval:  time.Second,
		OutboxBatchSize:     100,
		OutboxMaxAttempts:   3,
		OutboxRetryDelay:    50 * time.Millisecond,
	}
}

// DefaultStockConfig возвращает локальные адреса и consumer с повторами и DLQ.
func DefaultStockConfig() StockConfig {
	return StockConfig{
		HTTPAddr:               ":5049",
		MetricsAddr:            ":9091",
		GRPCAddr:               ":50052",
		StorageDriver:          StorageDriverMemory,
		PostgresAutoMigrate:    true,
		LedgerDriver:           LedgerDriverMemory,
		LedgerSize:             100_000,
		LedgerLeaseTTL:         30 * time.Second,
		LedgerRetention:        7 * 24 * time.Hour,
		RedisAddr:              "localhost:6379",
		Broker:                 defaultBrokerConfig(),
		ConsumerPrefetch:       10,
		ConsumerConcurrency:    1,
		ConsumerMaxRetries:     5,
		ConsumerReconnect:      rabbitmq.ReconnectExponential,
		LedgerCleanupInterval:  10 * time.Minute,
		LedgerCleanupBatchSize: 500,
	}
}
