package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// ReconnectMode выбирает политику переподключения.
type ReconnectMode string

const (
	// ReconnectFixed: фиксированная пауза между попытками.
	ReconnectFixed ReconnectMode = "fixed"
	// ReconnectExponential: экспоненциальная пауза с jitter.
	ReconnectExponential ReconnectMode = "exponential"
)

const (
	defaultReconnectDelay       = 5 * time.Second
	defaultReconnectInitial     = 500 * time.Millisecond
	defaultReconnectMaxInterval = 30 * time.Second
	defaultRetryBaseDelay       = 200 * time.Millisecond
	defaultRetryMaxDelay        = 10 * time.Second
	defaultStopTimeout          = 5 * time.Second
)

// Результаты обработки для метрик.
const (
	resultAcked        = "acked"
	resultRequeued     = "requeued"
	resultRetried      = "retried"
	resultDeadLettered = "dead_lettered"
	resultDropped      = "dropped"
	resultRejected     = "rejected"
)

// ParseReconnectMode разбирает значение из конфигурации.
func ParseReconnectMode(value string) (ReconnectMode, error) {
	switch ReconnectMode(value) {
	case "":
		return ReconnectExponential, nil
	case ReconnectFixed, ReconnectExponential:
		return ReconnectMode(value), nil
	default:
		return "", fmt.Errorf("unknown reconnect mode %q", value)
	}
}

// Message: полученное или переотправляемое сообщение.
type Message struct {
	Body        []byte
	ContentType string
	MessageID   string
	Headers     map[string]any
	RetryCount  int
	Redelivered bool
}

// Handler обрабатывает одно сообщение. nil: подтвердить.
type Handler func(ctx context.Context, msg Message) error

// Health: снимок состояния consumer.
type Health struct {
	State           State
	Queue           string
	Reconnects      int
	LastError       string
	LastConnectedAt time.Time
}

// ConsumerOptions содержит параметры Consumer.
type ConsumerOptions struct {
	Logger          *log.Entry
	Dialer          Dialer
	DeadLetterQueue string
	// MaxRetries == 0: транзиентная ошибка возвращает сообщение в очередь через Nack(requeue=true).
	MaxRetries     int
	Prefetch       int
	Concurrency    int
	Reconnect      ReconnectMode
	ReconnectDelay time.Duration
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	ConsumerTag    string
	// IsPermanent отличает ошибки, которые повтор не исправит.
	IsPermanent func(error) bool
	// IsDeferred отличает ошибки "ещё не время": сообщение переотправляется через DeferDelay,
	// x-retry-count не растёт и бюджет MaxRetries не тратится.
	IsDeferred    func(error) bool
	DeferDelay    time.Duration
	OnStateChange func(State)
}

// ConsumerOption настраивает Consumer.
type ConsumerOption func(*ConsumerOptions)

// WithConsumerLogger задаёт logger.
func WithConsumerLogger(logger *log.Entry) ConsumerOption {
	return func(opts *ConsumerOptions) {
		opts.Logger = logger
	}
}

// WithConsumerDialer подменяет способ подключения.
func WithConsumerDialer(dialer Dialer) ConsumerOption {
	return func(opts *ConsumerOptions) {
		opts.Dialer = dialer
	}
}

// WithDeadLetterQueue включает парковку сообщений в DLQ.
func WithDeadLetterQueue(queue string) ConsumerOption {
	return func(opts *ConsumerOptions) {
		opts.DeadLetterQueue = queue
	}
}

// WithMaxRetries задаёт число повторов транзиентных ошибок.
func WithMaxRetries(n int) ConsumerOption {
	return func(opts *ConsumerOptions) {
		opts.MaxRetries = n
	}
}

// WithPrefetch задаёт QoS prefetch.
func WithPrefetch(n int) ConsumerOption {
	return func(opts *ConsumerOptions) {
		opts.Prefetch = n
	}
}

// WithConcurrency задаёт число параллельных обработчиков.
func WithConcurrency(n int) ConsumerOption {
	return func(opts *ConsumerOptions) {
		opts.Concurrency = n
	}
}

// WithReconnect выбирает политику переподключения.
func WithReconnect(mode ReconnectMode, delay time.Duration) ConsumerOption {
	return func(opts *ConsumerOptions) {
		opts.Reconnect = mode
		opts.ReconnectDelay = delay
	}
}

// WithRetryDelay задаёт паузу перед переотправкой.
func WithRetryDelay(base, maxDelay time.Duration) ConsumerOption {
	return func(opts *ConsumerOptions) {
		opts.RetryBaseDelay = base
		opts.RetryMaxDelay = maxDelay
	}
}

// WithPermanentErrors задаёт классификатор неисправимых ошибок.
func WithPermanentErrors(fn func(error) bool) ConsumerOption {
	return func(opts *ConsumerOptions) {
		opts.IsPermanent = fn
	}
}

// WithDeferredErrors задаёт классификатор ошибок, которые исправляются ожиданием, и паузу между попытками.
func WithDeferredErrors(fn func(error) bool, delay time.Duration) ConsumerOption {
	return func(opts *ConsumerOptions) {
		opts.IsDeferred = fn
		opts.DeferDelay = delay
	}
}

// WithStateHook регистрирует обработчик смены состояния.
func WithStateHook(fn func(State)) ConsumerOption {
	return func(opts *ConsumerOptions) {
		opts.OnStateChange = fn
	}
}

// Consumer читает очередь, переподключается после потери соединения и
// распределяет сообщения по обработчикам.
type Consumer struct {
	cfg     Config
	queue   string
	handler Handler
	opts    ConsumerOptions
	logger  *log.Entry

	state atomic.Int32

	mu              sync.Mutex
	reconnects      int
	lastErr         string
	lastConnectedAt time.Time
	cancel          context.CancelFunc
	done            chan struct{}
}

// NewConsumer создаёт Consumer. Без опций транзиентная ошибка приводит к Nack(requeue=true),
// DLQ не используется, переподключение экспоненциальное.
func NewConsumer(cfg Config, queue string, handler Handler, options ...ConsumerOption) (*Consumer, error) {
	if queue == "" {
		return nil, domain.ErrQueueRequired
	}
	if handler == nil {
		return nil, errors.New("consumer handler is required")
	}

	opts := ConsumerOptions{
		Dialer:         Dial,
		Prefetch:       1,
		Concurrency:    1,
		Reconnect:      ReconnectExponential,
		ReconnectDelay: defaultReconnectDelay,
		RetryBaseDelay: defaultRetryBaseDelay,
		RetryMaxDelay:  defaultRetryMaxDelay,
		IsPermanent:    domain.IsMessageRejected,
	}
	for _, option := range options {
		option(&opts)
	}

	if opts.Dialer == nil {
		opts.Dialer = Dial
	}
	if opts.Prefetch <= 0 {
		opts.Prefetch = 1
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Prefetch < opts.Concurrency {
		opts.Prefetch = opts.Concurrency
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.RetryBaseDelay < 0 {
		opts.RetryBaseDelay = 0
	}
	if opts.RetryMaxDelay < opts.RetryBaseDelay {
		opts.RetryMaxDelay = opts.RetryBaseDelay
	}
	if opts.IsPermanent == nil {
		opts.IsPermanent = domain.IsMessageRejected
	}
	if opts.DeferDelay <= 0 {
		opts.DeferDelay = opts.RetryMaxDelay
	}
	mode, err := ParseReconnectMode(string(opts.Reconnect))
	if err != nil {
		return nil, err
	}
	opts.Reconnect = mode

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "rabbitmq-consumer")
	}

	c := &Consumer{
		cfg:     cfg.WithDefaults(),
		queue:   queue,
		handler: handler,
		opts:    opts,
		logger:  logger.WithField("queue", queue),
	}
	consumerState.WithLabelValues(queue).Set(float64(StateDisconnected))
	return c, nil
}

// Queue возвращает имя очереди.
func (c *Consumer) Queue() string { return c.queue }

// State возвращает текущее состояние.
func (c *Consumer) State() State {
	return State(c.state.Load())
}

// Health возвращает снимок состояния для health-проверок.
func (c *Consumer) Health() Health {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Health{
		State:           c.State(),
		Queue:           c.queue,
		Reconnects:      c.reconnects,
		LastError:       c.lastErr,
		LastConnectedAt: c.lastConnectedAt,
	}
}

// Start запускает Run в фоне. Повторный вызов игнорируется.
func (c *Consumer) Start(ctx context.Context) {
	c.mu.Lock()
	if c.done != nil {
		c.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		if err := c.Run(runCtx); err != nil {
			c.logger.WithError(err).Error("consumer stopped with error")
		}
	}()
}

// Stop останавливает consumer, запущенный через Start, и ждёт завершения обработчиков.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	if _, ok := ctx.Deadline(); !ok {
		var stopCancel context.CancelFunc
		ctx, stopCancel = context.WithTimeout(ctx, defaultStopTimeout)
		defer stopCancel()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop consumer: %w", ctx.Err())
	}
}

// Run подключается и обрабатывает сообщения до отмены ctx.
// Потеря соединения приводит к переподключению; отмена ctx возвращает nil.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.setState(StateDisconnected)

	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, ch, err := c.connectWithRetry(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		err = c.consume(ctx, conn, ch)
		closeQuietly(ch, conn)
		if ctx.Err() != nil {
			return nil
		}

		c.recordError(err)
		c.mu.Lock()
		c.reconnects++
		c.mu.Unlock()
		c.setState(StateDisconnected)
		c.logger.WithError(err).Warn("connection to broker lost, reconnecting")
	}
}

func (c *Consumer) newBackOff() backoff.BackOff {
	if c.opts.Reconnect == ReconnectFixed {
		return backoff.NewConstantBackOff(c.opts.ReconnectDelay)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = defaultReconnectInitial
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	b.MaxInterval = defaultReconnectMaxInterval
	b.MaxElapsedTime = 0
	return b
}

func (c *Consumer) connectWithRetry(ctx context.Context) (Connection, Channel, error) {
	c.setState(StateConnecting)

	var (
		conn Connection
		ch   Channel
	)
	operation := func() error {
		var err error
		conn, ch, err = c.connect()
		if err != nil {
			consumerConnectAttempts.WithLabelValues(c.queue, "error").Inc()
			return err
		}
		consumerConnectAttempts.WithLabelValues(c.queue, "success").Inc()
		return nil
	}
	notify := func(err error, next time.Duration) {
		c.recordError(err)
		c.logger.WithError(err).WithField("retry_in", next.String()).Warn("failed to connect to broker")
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(c.newBackOff(), ctx), notify); err != nil {
		return nil, nil, err
	}

	c.mu.Lock()
	c.lastConnectedAt = time.Now().UTC()
	c.mu.Unlock()
	return conn, ch, nil
}

func (c *Consumer) connect() (Connection, Channel, error) {
	conn, err := c.opts.Dialer(c.cfg.URL(), c.cfg.ConnectionName)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		closeQuietly(nil, conn)
		return nil, nil, err
	}
	if err := ch.Qos(c.opts.Prefetch, 0, false); err != nil {
		closeQuietly(ch, conn)
		return nil, nil, fmt.Errorf("set qos: %w", err)
	}
	if err := declareDurable(ch, c.queue); err != nil {
		closeQuietly(ch, conn)
		return nil, nil, err
	}
	if c.opts.DeadLetterQueue != "" {
		if err := declareDurable(ch, c.opts.DeadLetterQueue); err != nil {
			closeQuietly(ch, conn)
			return nil, nil, err
		}
	}
	return conn, ch, nil
}

func (c *Consumer) consume(ctx context.Context, conn Connection, ch Channel) error {
	deliveries, err := ch.Consume(c.queue, c.opts.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}
	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))

	c.setState(StateConsuming)
	c.logger.WithFields(log.Fields{
		"prefetch":    c.opts.Prefetch,
		"concurrency": c.opts.Concurrency,
		"max_retries": c.opts.MaxRetries,
		"dlq":         c.opts.DeadLetterQueue,
	}).Info("consuming messages")

	// Обработчики не должны прерываться при остановке.
	handlerCtx := context.WithoutCancel(ctx)

	var workers errgroup.Group
	workers.SetLimit(c.opts.Concurrency)

	var lost error
loop:
	for {
		select {
		case <-ctx.Done():
			c.setState(StateShuttingDown)
			break loop
		case amqpErr := <-connClosed:
			lost = closeReason("connection", amqpErr)
			break loop
		case amqpErr := <-chClosed:
			lost = closeReason("channel", amqpErr)
			break loop
		case d, ok := <-deliveries:
			if !ok {
				lost = errors.New("delivery channel closed")
				break loop
			}
			if c.opts.Concurrency == 1 {
				c.dispatch(ctx, handlerCtx, ch, d)
				continue
			}
			workers.Go(func() error {
				c.dispatch(ctx, handlerCtx, ch, d)
				return nil
			})
		}
	}

	_ = workers.Wait()
	return lost
}

func closeReason(what string, amqpErr *amqp.Error) error {
	if amqpErr == nil {
		return fmt.Errorf("%s closed", what)
	}
	return fmt.Errorf("%s closed: %w", what, amqpErr)
}

func (c *Consumer) dispatch(runCtx, handlerCtx context.Context, ch Channel, d amqp.Delivery) {
	msg := messageFromDelivery(d)

	started := time.Now()
	err := c.handler(handlerCtx, msg)
	consumerHandleDuration.WithLabelValues(c.queue).Observe(time.Since(started).Seconds())

	entry := c.logger.WithFields(log.Fields{
		"delivery_tag": d.DeliveryTag,
		"message_id":   d.MessageId,
		"retry_count":  msg.RetryCount,
	})

	if err == nil {
		c.settle(entry, resultAcked, d.Ack(false))
		return
	}

	if c.opts.IsPermanent(err) {
		entry.WithError(err).Warn("message rejected permanently")
		if c.opts.DeadLetterQueue != "" {
			c.deadLetter(handlerCtx, entry, ch, d, msg, err)
			return
		}
		c.settle(entry, resultDropped, d.Ack(false))
		return
	}

	if c.opts.MaxRetries == 0 {
		entry.WithError(err).Warn("message handling failed, requeueing")
		c.settle(entry, resultRequeued, d.Nack(false, true))
		return
	}

	if c.opts.IsDeferred != nil && c.opts.IsDeferred(err) {
		c.republish(runCtx, handlerCtx, entry.WithError(err), ch, d, c.opts.DeferDelay, msg.RetryCount, "message not ready yet, deferring")
		return
	}

	if msg.RetryCount >= c.opts.MaxRetries {
		entry.WithError(err).Error("message retries exhausted")
		if c.opts.DeadLetterQueue != "" {
			c.deadLetter(handlerCtx, entry, ch, d, msg, err)
			return
		}
		c.settle(entry, resultRejected, d.Nack(false, false))
		return
	}

	c.republish(runCtx, handlerCtx, entry.WithError(err), ch, d, c.retryDelay(msg.RetryCount), msg.RetryCount+1, "message handling failed, scheduling retry")
}

// republish через delay кладёт копию сообщения в конец очереди с x-retry-count=retryCount и подтверждает оригинал.
func (c *Consumer) republish(runCtx, handlerCtx context.Context, entry *log.Entry, ch Channel, d amqp.Delivery, delay time.Duration, retryCount int, reason string) {
	entry.WithField("retry_in", delay.String()).Warn(reason)

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-runCtx.Done():
			timer.Stop()
			// При остановке сообщение возвращается брокеру без увеличения счётчика.
			c.settle(entry, resultRequeued, d.Nack(false, true))
			return
		}
	}

	headers := cloneTable(d.Headers)
	headers[HeaderRetryCount] = int32(retryCount)

	err := ch.PublishWithContext(handlerCtx, "", c.queue, false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		MessageId:    d.MessageId,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
		Body:         d.Body,
	})
	if err != nil {
		entry.WithError(err).Error("failed to republish message for retry")
		c.settle(entry, resultRequeued, d.Nack(false, true))
		return
	}
	c.settle(entry, resultRetried, d.Ack(false))
}

func (c *Consumer) deadLetter(ctx context.Context, entry *log.Entry, ch Channel, d amqp.Delivery, msg Message, cause error) {
	headers := cloneTable(d.Headers)
	headers[HeaderOriginalQueue] = c.queue
	headers[HeaderErrorMessage] = cause.Error()
	headers[HeaderFailedAt] = time.Now().UTC().Format(time.RFC3339)
	headers[HeaderRetryCount] = int32(msg.RetryCount)

	err := ch.PublishWithContext(ctx, "", c.opts.DeadLetterQueue, false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		MessageId:    d.MessageId,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
		Body:         d.Body,
	})
	if err != nil {
		entry.WithError(err).Error("failed to publish message to dead letter queue")
		c.settle(entry, resultRequeued, d.Nack(false, true))
		return
	}
	entry.WithField("dlq", c.opts.DeadLetterQueue).Warn("message moved to dead letter queue")
	c.settle(entry, resultDeadLettered, d.Ack(false))
}

func (c *Consumer) settle(entry *log.Entry, result string, err error) {
	if err != nil {
		entry.WithError(err).WithField("result", result).Error("failed to settle delivery")
		return
	}
	consumerMessagesTotal.WithLabelValues(c.queue, result).Inc()
}

func (c *Consumer) retryDelay(attempt int) time.Duration {
	delay := c.opts.RetryBaseDelay
	for i := 0; i < attempt && delay < c.opts.RetryMaxDelay; i++ {
		delay *= 2
	}
	if delay > c.opts.RetryMaxDelay {
		delay = c.opts.RetryMaxDelay
	}
	return delay
}

func (c *Consumer) setState(state State) {
	prev := State(c.state.Swap(int32(state)))
	if prev == state {
		return
	}
	consumerState.WithLabelValues(c.queue).Set(float64(state))
	c.logger.WithFields(log.Fields{"from": prev.String(), "to": state.String()}).Debug("consumer state changed")
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(state)
	}
}

func (c *Consumer) recordError(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	c.lastErr = err.Error()
	c.mu.Unlock()
}

func messageFromDelivery(d amqp.Delivery) Message {
	return Message{
		Body:        d.Body,
		ContentType: d.ContentType,
		MessageID:   d.MessageId,
		Headers:     map[string]any(d.Headers),
		RetryCount:  RetryCount(d.Headers),
		Redelivered: d.Redelivered,
	}
}

// RetryCount читает x-retry-count из заголовков; отсутствующее или нечисловое значение: 0.
func RetryCount(headers amqp.Table) int {
	raw, ok := headers[HeaderRetryCount]
	if !ok {
		return 0
	}
	switch v := raw.(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case uint8:
		return int(v)
	case uint16:
		return int(v)
	case uint32:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}
