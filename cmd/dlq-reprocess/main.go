package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/app"
	"github.com/vladislavdragonenkov/fulfillment/internal/envconfig"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/decrement"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/rabbitmq"
	"github.com/vladislavdragonenkov/fulfillment/internal/version"
)

const (
	defaultReplayLimit    = 100
	defaultPublishTimeout = 5 * time.Second
)

// dlqHeaders добавляются consumer при переносе в DLQ и снимаются при переотправке.
var dlqHeaders = []string{
	rabbitmq.HeaderOriginalQueue,
	rabbitmq.HeaderErrorMessage,
	rabbitmq.HeaderFailedAt,
	rabbitmq.HeaderRetryCount,
}

type config struct {
	broker      rabbitmq.Config
	sourceQueue string
	targetQueue string
	limit       int
	execute     bool
}

type replayStats struct {
	processed int
	replayed  int
	skipped   int
}

// openChannel открывает канал к брокеру; переменная подменяется в тестах.
var openChannel = func(cfg config) (rabbitmq.Channel, func(), error) {
	conn, err := rabbitmq.Dial(cfg.broker.URL(), version.ClientID("dlq-reprocess"))
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return ch, func() {
		_ = ch.Close()
		_ = conn.Close()
	}, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	if _, err := envconfig.LoadDotEnv(".env"); err != nil {
		log.WithError(err).Warn("failed to load .env")
	}

	cfg, warnings, err := readConfig(os.Args[1:], os.LookupEnv)
	if err != nil {
		fail("%v", err)
	}
	for _, warning := range warnings {
		log.Warn(warning)
	}

	stats, err := run(context.Background(), cfg)
	if err != nil {
		fail("dlq reprocess failed: %v", err)
	}
	fmt.Printf("processed=%d replayed=%d skipped=%d\n", stats.processed, stats.replayed, stats.skipped)
}

func readConfig(args []string, lookup envconfig.Lookup) (config, []string, error) {
	broker := app.DefaultStockConfig().Broker
	reader := envconfig.NewReader(lookup)
	reader.Broker(&broker)

	cfg := config{broker: broker.RabbitMQ}
	source := broker.DeadLetterQueue
	if source == "" {
		source = app.DefaultDeadLetterQueue
	}

	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.sourceQueue, "source-queue", source, "dead letter queue to drain (fallback: RABBITMQ_DLQ)")
	fs.StringVar(&cfg.targetQueue, "target-queue", "", "queue for replay; empty means x-original-queue header or "+decrement.DefaultQueue)
	fs.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max number of messages to scan/replay")
	fs.BoolVar(&cfg.execute, "execute", false, "execute replay; default is dry-run")
	if err := fs.Parse(args); err != nil {
		return config{}, nil, err
	}

	cfg.sourceQueue = strings.TrimSpace(cfg.sourceQueue)
	cfg.targetQueue = strings.TrimSpace(cfg.targetQueue)
	if cfg.sourceQueue == "" {
		return config{}, nil, errors.New("source-queue is required")
	}
	if cfg.limit <= 0 {
		return config{}, nil, errors.New("limit must be > 0")
	}
	if cfg.targetQueue != "" && cfg.targetQueue == cfg.sourceQueue {
		return config{}, nil, errors.New("target-queue must differ from source-queue")
	}
	return cfg, reader.Warnings(), nil
}

func run(ctx context.Context, cfg config) (replayStats, error) {
	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
	}
	log.WithFields(log.Fields{
		"source_queue": cfg.sourceQueue,
		"target_queue": cfg.targetQueue,
		"limit":        cfg.limit,
		"mode":         mode,
	}).Info("starting dlq reprocess")

	ch, closeFn, err := openChannel(cfg)
	if err != nil {
		return replayStats{}, err
	}
	defer closeFn()

	stats, err := replay(ctx, cfg, ch)
	log.WithFields(log.Fields{
		"mode":      mode,
		"processed": stats.processed,
		"replayed":  stats.replayed,
		"skipped":   stats.skipped,
	}).Info("dlq reprocess finished")
	return stats, err
}

// replay забирает до cfg.limit сообщений из DLQ. В режиме execute сообщение
// подтверждается только после успешной переотправки. Все неподтверждённые
// сообщения (dry-run и пропущенные) возвращаются в DLQ одним nack в конце.
func replay(ctx context.Context, cfg config, ch rabbitmq.Channel) (stats replayStats, err error) {
	if ch == nil {
		return stats, errors.New("rabbitmq channel is required")
	}

	var held *amqp.Delivery
	defer func() {
		if held == nil {
			return
		}
		if nackErr := held.Nack(true, true); nackErr != nil && err == nil {
			err = fmt.Errorf("return held messages to %s: %w", cfg.sourceQueue, nackErr)
		}
	}()

	declared := map[string]bool{}
	for stats.processed < cfg.limit {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stats, ctxErr
		}

		d, ok, getErr := ch.Get(cfg.sourceQueue, false)
		if getErr != nil {
			return stats, fmt.Errorf("get from %s: %w", cfg.sourceQueue, getErr)
		}
		if !ok {
			break
		}
		stats.processed++

		target := targetQueue(d.Headers, cfg.targetQueue)
		entry := log.WithFields(log.Fields{
			"message_id":   d.MessageId,
			"target_queue": target,
			"error":        headerString(d.Headers, rabbitmq.HeaderErrorMessage),
			"failed_at":    headerString(d.Headers, rabbitmq.HeaderFailedAt),
		})

		if len(d.Body) == 0 || target == cfg.sourceQueue {
			entry.Warn("skip unsupported dlq message")
			stats.skipped++
			held = &d
			continue
		}

		if !cfg.execute {
			entry.WithField("body", string(d.Body)).Info("dlq replay candidate")
			stats.replayed++
			held = &d
			continue
		}

		if !declared[target] {
			if _, declErr := ch.QueueDeclare(target, true, false, false, false, nil); declErr != nil {
				held = &d
				return stats, fmt.Errorf("declare queue %s: %w", target, declErr)
			}
			declared[target] = true
		}

		publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
		pubErr := ch.PublishWithContext(publishCtx, "", target, false, false, amqp.Publishing{
			ContentType:  d.ContentType,
			MessageId:    d.MessageId,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Headers:      stripDLQHeaders(d.Headers),
			Body:         d.Body,
		})
		cancel()
		if pubErr != nil {
			held = &d
			return stats, fmt.Errorf("publish to %s: %w", target, pubErr)
		}
		if ackErr := d.Ack(false); ackErr != nil {
			return stats, fmt.Errorf("ack replayed message: %w", ackErr)
		}
		entry.Info("dlq message replayed")
		stats.replayed++
	}

	return stats, nil
}

func targetQueue(headers amqp.Table, override string) string {
	if override != "" {
		return override
	}
	if original := headerString(headers, rabbitmq.HeaderOriginalQueue); original != "" {
		return original
	}
	return decrement.DefaultQueue
}

func headerString(headers amqp.Table, key string) string {
	value, ok := headers[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}

// stripDLQHeaders копирует заголовки без служебных полей DLQ, счётчик повторов начинается заново.
func stripDLQHeaders(headers amqp.Table) amqp.Table {
	out := make(amqp.Table, len(headers))
	for k, v := range headers {
		out[k] = v
	}
	for _, key := range dlqHeaders {
		delete(out, key)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
