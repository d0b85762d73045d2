package rabbitmq

import (
	"context"
	"errors"
	"os"
	"strconv"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}.WithDefaults()
	require.Equal(t, "localhost:5672", cfg.Address())
	require.True(t, cfg.UsesDefaultCredentials())

	uri, err := amqp.ParseURI(cfg.URL())
	require.NoError(t, err)
	require.Equal(t, "localhost", uri.Host)
	require.Equal(t, 5672, uri.Port)
	require.Equal(t, "guest", uri.Username)
	require.Equal(t, "/", uri.Vhost)

	custom := Config{Host: "rabbit", Port: 5673, Username: "sales", Password: "s3cret", VHost: "shop"}
	uri, err = amqp.ParseURI(custom.URL())
	require.NoError(t, err)
	require.Equal(t, "rabbit", uri.Host)
	require.Equal(t, 5673, uri.Port)
	require.Equal(t, "sales", uri.Username)
	require.Equal(t, "s3cret", uri.Password)
	require.Equal(t, "shop", uri.Vhost)
	require.False(t, custom.UsesDefaultCredentials())
}

func TestPublisher_Publish(t *testing.T) {
	broker := &fakeBroker{}
	publisher := NewPublisher(DefaultConfig(), WithPublisherDialer(broker.dial))
	ctx := context.Background()

	require.NoError(t, publisher.Publish(ctx, "stock_queue", []byte("Order 1 created, reduce stock for product 7 by 3")))
	require.NoError(t, publisher.Publish(ctx, "stock_queue", []byte("Order 1 created, reduce stock for product 8 by 1")))

	require.Equal(t, 1, broker.dialCount())
	ch := broker.last().ch
	require.Equal(t, []string{"stock_queue"}, ch.declaredQueues())

	sent := ch.publishedTo("stock_queue")
	require.Len(t, sent, 2)
	require.Equal(t, amqp.Persistent, sent[0].DeliveryMode)
	require.Equal(t, "text/plain", sent[0].ContentType)
	require.Equal(t, "Order 1 created, reduce stock for product 7 by 3", string(sent[0].Body))

	require.NoError(t, publisher.Close())
}

func TestPublisher_ArgumentErrors(t *testing.T) {
	broker := &fakeBroker{}
	publisher := NewPublisher(DefaultConfig(), WithPublisherDialer(broker.dial))

	require.ErrorIs(t, publisher.Publish(context.Background(), "stock_queue", nil), domain.ErrEmptyPayload)
	require.ErrorIs(t, publisher.Publish(context.Background(), "", []byte("x")), domain.ErrQueueRequired)
	require.Zero(t, broker.dialCount())
}

func TestPublisher_PublishWithProperties(t *testing.T) {
	broker := &fakeBroker{}
	publisher := NewPublisher(DefaultConfig(), WithPublisherDialer(broker.dial))

	err := publisher.PublishWithProperties(context.Background(), "stock_queue", []byte(`{"version":1}`),
		"application/json", "op-1", map[string]any{"x-message-version": int32(1)})
	require.NoError(t, err)

	sent := broker.last().ch.publishedTo("stock_queue")
	require.Len(t, sent, 1)
	require.Equal(t, "application/json", sent[0].ContentType)
	require.Equal(t, "op-1", sent[0].MessageId)
	require.Equal(t, int32(1), sent[0].Headers["x-message-version"])
}

func TestPublisher_RedialsAfterFailure(t *testing.T) {
	broker := &fakeBroker{}
	publisher := NewPublisher(DefaultConfig(), WithPublisherDialer(broker.dial))
	ctx := context.Background()

	require.NoError(t, publisher.Publish(ctx, "stock_queue", []byte("first")))
	broker.last().ch.publishErr = errors.New("channel/connection is not open")

	require.Error(t, publisher.Publish(ctx, "stock_queue", []byte("second")))
	require.NoError(t, publisher.Publish(ctx, "stock_queue", []byte("third")))

	require.Equal(t, 2, broker.dialCount())
	sent := broker.last().ch.publishedTo("stock_queue")
	require.Len(t, sent, 1)
	require.Equal(t, "third", string(sent[0].Body))
}

func TestPublisher_DialError(t *testing.T) {
	broker := &fakeBroker{dialErr: errors.New("connection refused")}
	publisher := NewPublisher(DefaultConfig(), WithPublisherDialer(broker.dial))

	err := publisher.Publish(context.Background(), "stock_queue", []byte("x"))
	require.ErrorContains(t, err, "connection refused")
	require.Error(t, publisher.Ping())
}

func TestPublisher_Confirms(t *testing.T) {
	broker := &fakeBroker{}
	publisher := NewPublisher(DefaultConfig(),
		WithPublisherDialer(broker.dial),
		WithConfirms(true, time.Second),
	)
	ctx := context.Background()

	require.NoError(t, publisher.Publish(ctx, "stock_queue", []byte("acked")))
	require.True(t, broker.last().ch.confirming)

	broker.last().ch.confirmAck = false
	err := publisher.Publish(ctx, "stock_queue", []byte("nacked"))
	require.ErrorIs(t, err, domain.ErrPublishNotConfirmed)
}

func TestOutboxQueuePublisher(t *testing.T) {
	broker := &fakeBroker{}
	publisher := NewPublisher(DefaultConfig(), WithPublisherDialer(broker.dial))
	relay := NewOutboxPublisher(publisher, "stock_queue")

	err := relay.Publish(domain.OutboxMessage{
		ID:            "op-7",
		AggregateType: "order",
		AggregateID:   "7",
		EventType:     "stock.decrement",
		ContentType:   "application/json",
		Payload:       []byte(`{"version":1}`),
	})
	require.NoError(t, err)

	sent := broker.last().ch.publishedTo("stock_queue")
	require.Len(t, sent, 1)
	require.Equal(t, "op-7", sent[0].MessageId)
	require.Equal(t, "stock.decrement", sent[0].Headers[HeaderOutboxEventType])

	require.Error(t, NewOutboxPublisher(nil, "stock_queue").Publish(domain.OutboxMessage{ID: "x", Payload: []byte("x")}))
}

func integrationConfig(t *testing.T) Config {
	t.Helper()
	host := os.Getenv("FULFILLMENT_RABBITMQ_TEST_HOST")
	if host == "" {
		t.Skip("FULFILLMENT_RABBITMQ_TEST_HOST is not set")
	}
	cfg := Config{Host: host, ConnectionName: "fulfillment-test"}
	if port, err := strconv.Atoi(os.Getenv("FULFILLMENT_RABBITMQ_TEST_PORT")); err == nil {
		cfg.Port = port
	}
	conn, err := Dial(cfg.URL(), cfg.ConnectionName)
	if err != nil {
		t.Skipf("rabbitmq is unavailable: %v", err)
	}
	_ = conn.Close()
	return cfg
}

func TestIntegration_PublishConsume(t *testing.T) {
	cfg := integrationConfig(t)
	queue := "fulfillment_test_" + strconv.FormatInt(time.Now().UnixNano(), 10)

	publisher := NewPublisher(cfg)
	t.Cleanup(func() { _ = publisher.Close() })

	received := make(chan Message, 1)
	consumer, err := NewConsumer(cfg, queue, func(_ context.Context, msg Message) error {
		received <- msg
		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	consumer.Start(ctx)
	t.Cleanup(func() { _ = consumer.Stop(context.Background()) })

	require.NoError(t, publisher.Publish(ctx, queue, []byte("Order 1 created, reduce stock for product 7 by 3")))

	select {
	case msg := <-received:
		require.Equal(t, "Order 1 created, reduce stock for product 7 by 3", string(msg.Body))
	case <-ctx.Done():
		t.Fatal("message was not consumed")
	}
}
