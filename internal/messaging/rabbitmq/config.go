package rabbitmq

import (
	"strconv"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// DefaultHost и остальные значения используются, если параметры брокера не заданы.
	DefaultHost     = "localhost"
	DefaultPort     = 5672
	DefaultUsername = "guest"
	DefaultPassword = "guest"
	DefaultVHost    = "/"
)

// Заголовки AMQP для retry и DLQ.
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalQueue = "x-original-queue"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// Config описывает параметры подключения к брокеру.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	VHost    string
	// ConnectionName показывается в management UI брокера.
	ConnectionName string
}

// DefaultConfig возвращает параметры локального брокера с учётной записью guest/guest.
func DefaultConfig() Config {
	return Config{
		Host:     DefaultHost,
		Port:     DefaultPort,
		Username: DefaultUsername,
		Password: DefaultPassword,
		VHost:    DefaultVHost,
	}
}

// WithDefaults заполняет пустые поля значениями по умолчанию.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.Host == "" {
		c.Host = def.Host
	}
	if c.Port <= 0 {
		c.Port = def.Port
	}
	if c.Username == "" {
		c.Username = def.Username
	}
	if c.Password == "" {
		c.Password = def.Password
	}
	if c.VHost == "" {
		c.VHost = def.VHost
	}
	return c
}

// URL собирает AMQP URI из параметров.
func (c Config) URL() string {
	c = c.WithDefaults()
	return amqp.URI{
		Scheme:   "amqp",
		Host:     c.Host,
		Port:     c.Port,
		Username: c.Username,
		Password: c.Password,
		Vhost:    c.VHost,
	}.String()
}

// Address возвращает host:port без учётных данных, для логов.
func (c Config) Address() string {
	c = c.WithDefaults()
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// UsesDefaultCredentials сообщает, что используется тестовая пара guest/guest.
// Вызывающий код должен предупредить об этом в логах.
func (c Config) UsesDefaultCredentials() bool {
	c = c.WithDefaults()
	return c.Username == DefaultUsername && c.Password == DefaultPassword
}
