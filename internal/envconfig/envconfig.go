// Package envconfig читает настройки сервисов из переменных окружения и .env.
// Некорректное значение не останавливает запуск: остаётся default, а в warnings
// попадает описание проблемы.
package envconfig

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/vladislavdragonenkov/fulfillment/internal/app"
)

// Переменные брокеров, общие для sales-service и stock-service.
const (
	EnvRabbitHost     = "RABBITMQ_HOST"
	EnvRabbitPort     = "RABBITMQ_PORT"
	EnvRabbitUser     = "RABBITMQ_USER"
	EnvRabbitPassword = "RABBITMQ_PASSWORD"
	EnvRabbitVHost    = "RABBITMQ_VHOST"
	EnvRabbitQueue    = "RABBITMQ_QUEUE"
	EnvRabbitDLQ      = "RABBITMQ_DLQ"
	EnvRabbitConfirms = "RABBITMQ_CONFIRMS"
	EnvKafkaBrokers   = "KAFKA_BROKERS"
	EnvLogLevel       = "LOG_LEVEL"
)

// Lookup возвращает значение переменной и признак её наличия (как os.LookupEnv).
type Lookup func(string) (string, bool)

// Reader применяет переопределения к конфигурации и собирает предупреждения.
type Reader struct {
	lookup   Lookup
	warnings []string
}

// NewReader создаёт Reader; nil lookup означает os.LookupEnv.
func NewReader(lookup Lookup) *Reader {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &Reader{lookup: lookup}
}

// Warnings возвращает накопленные предупреждения.
func (r *Reader) Warnings() []string {
	return r.warnings
}

func (r *Reader) raw(key string) (string, bool) {
	value, ok := r.lookup(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func (r *Reader) warn(key, value string, err error) {
	r.warnings = append(r.warnings, fmt.Sprintf("invalid %s=%q: %v; using default", key, value, err))
}

// String переопределяет dst непустым значением.
func (r *Reader) String(key string, dst *string) {
	if value, ok := r.raw(key); ok {
		*dst = value
	}
}

// Lower переопределяет dst значением в нижнем регистре.
func (r *Reader) Lower(key string, dst *string) {
	if value, ok := r.raw(key); ok {
		*dst = strings.ToLower(value)
	}
}

// Present сообщает, задана ли переменная вообще, включая пустое значение.
func (r *Reader) Present(key string) (string, bool) {
	value, ok := r.lookup(key)
	return strings.TrimSpace(value), ok
}

// Bool переопределяет dst.
func (r *Reader) Bool(key string, dst *bool) {
	value, ok := r.raw(key)
	if !ok {
		return
	}
	parsed, err := ParseBool(value)
	if err != nil {
		r.warn(key, value, err)
		return
	}
	*dst = parsed
}

// Int переопределяет dst значением, прошедшим validate.
func (r *Reader) Int(key string, dst *int, validate func(int) bool, msg string) {
	value, ok := r.raw(key)
	if !ok {
		return
	}
	parsed, err := ParseInt(value, validate, msg)
	if err != nil {
		r.warn(key, value, err)
		return
	}
	*dst = parsed
}

// Duration переопределяет dst значением, прошедшим validate.
func (r *Reader) Duration(key string, dst *time.Duration, validate func(time.Duration) bool, msg string) {
	value, ok := r.raw(key)
	if !ok {
		return
	}
	parsed, err := ParseDuration(value, validate, msg)
	if err != nil {
		r.warn(key, value, err)
		return
	}
	*dst = parsed
}

// Choice переопределяет dst, если значение (в нижнем регистре) входит в allowed.
func (r *Reader) Choice(key string, dst *string, allowed ...string) {
	value, ok := r.raw(key)
	if !ok {
		return
	}
	value = strings.ToLower(value)
	for _, candidate := range allowed {
		if value == candidate {
			*dst = value
			return
		}
	}
	r.warn(key, value, fmt.Errorf("expected one of %s", strings.Join(allowed, ", ")))
}

// Broker читает параметры RabbitMQ и Kafka.
// Пустой RABBITMQ_DLQ явно отключает dead-letter очередь.
func (r *Reader) Broker(cfg *app.BrokerConfig) {
	r.String(EnvRabbitHost, &cfg.RabbitMQ.Host)
	r.Int(EnvRabbitPort, &cfg.RabbitMQ.Port, func(v int) bool { return v > 0 && v <= 65535 }, "must be a valid port")
	r.String(EnvRabbitUser, &cfg.RabbitMQ.Username)
	r.String(EnvRabbitPassword, &cfg.RabbitMQ.Password)
	r.String(EnvRabbitVHost, &cfg.RabbitMQ.VHost)
	r.String(EnvRabbitQueue, &cfg.Queue)
	if value, ok := r.Present(EnvRabbitDLQ); ok {
		cfg.DeadLetterQueue = value
	}
	r.Bool(EnvRabbitConfirms, &cfg.Confirms)
	r.String(EnvKafkaBrokers, &cfg.KafkaBrokers)
}

// ParseBool принимает true/false, 1/0, yes/no, on/off.
func ParseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, errors.New("must be a boolean")
	}
}

// ParseInt разбирает целое и проверяет его validate.
func ParseInt(raw string, validate func(int) bool, msg string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, errors.New("must be an integer")
	}
	if validate != nil && !validate(value) {
		return 0, errors.New(msg)
	}
	return value, nil
}

// ParseDuration разбирает time.Duration и проверяет его validate.
func ParseDuration(raw string, validate func(time.Duration) bool, msg string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, errors.New("must be a duration")
	}
	if validate != nil && !validate(value) {
		return 0, errors.New(msg)
	}
	return value, nil
}

// LoadDotEnv подгружает существующие файлы из paths; уже заданные переменные не перезаписываются.
func LoadDotEnv(paths ...string) ([]string, error) {
	loaded := make([]string, 0, len(paths))
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return loaded, fmt.Errorf("stat %s: %w", path, err)
		}
		if err := godotenv.Load(path); err != nil {
			return loaded, fmt.Errorf("load %s: %w", path, err)
		}
		loaded = append(loaded, path)
	}
	return loaded, nil
}
