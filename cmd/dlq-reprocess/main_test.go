package main

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"sync"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/rabbitmq"
)

type settlement struct {
	tag      uint64
	ack      bool
	multiple bool
	requeue  bool
}

type fakeAcknowledger struct {
	mu      sync.Mutex
	settled []settlement
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settled = append(a.settled, settlement{tag: tag, ack: true, multiple: multiple})
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settled = append(a.settled, settlement{tag: tag, multiple: multiple, requeue: requeue})
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

type published struct {
	queue string
	msg   amqp.Publishing
}

type fakeChannel struct {
	ack        *fakeAcknowledger
	queue      []amqp.Delivery
	published  []published
	declared   []string
	publishErr error
	getErr     error
}

func newFakeChannel(bodies ...amqp.Delivery) *fakeChannel {
	ack := &fakeAcknowledger{}
	ch := &fakeChannel{ack: ack}
	for i, d := range bodies {
		d.DeliveryTag = uint64(i + 1)
		d.Acknowledger = ack
		ch.queue = append(ch.queue, d)
	}
	return ch
}

func (f *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	f.declared = append(f.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, published{queue: key, msg: msg})
	return nil
}

func (f *fakeChannel) Qos(int, int, bool) error { return nil }

func (f *fakeChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	return nil, errors.New("not supported")
}

func (f *fakeChannel) Get(string, bool) (amqp.Delivery, bool, error) {
	if f.getErr != nil {
		return amqp.Delivery{}, false, f.getErr
	}
	if len(f.queue) == 0 {
		return amqp.Delivery{}, false, nil
	}
	d := f.queue[0]
	f.queue = f.queue[1:]
	return d, true, nil
}

func (f *fakeChannel) Confirm(bool) error { return nil }

func (f *fakeChannel) NotifyPublish(c chan amqp.Confirmation) chan amqp.Confirmation { return c }

func (f *fakeChannel) NotifyClose(c chan *amqp.Error) chan *amqp.Error { return c }

func (f *fakeChannel) Close() error { return nil }

var _ rabbitmq.Channel = (*fakeChannel)(nil)

func deadLettered(body string) amqp.Delivery {
	return amqp.Delivery{
		ContentType: "text/plain",
		MessageId:   "msg-" + body,
		Body:        []byte(body),
		Headers: amqp.Table{
			rabbitmq.HeaderOriginalQueue: "stock_queue",
			rabbitmq.HeaderErrorMessage:  "storage unavailable",
			rabbitmq.HeaderFailedAt:      "2026-10-14T10:00:00Z",
			rabbitmq.HeaderRetryCount:    int32(5),
			"x-message-version":          "1",
		},
	}
}

func testConfig(execute bool) config {
	return config{sourceQueue: "stock_queue.dlq", limit: 10, execute: execute}
}

func TestReplay_ExecuteRepublishesAndAcks(t *testing.T) {
	ch := newFakeChannel(
		deadLettered("Reduce stock for product 1 by 3"),
		deadLettered("Reduce stock for product 2 by 1"),
	)

	stats, err := replay(context.Background(), testConfig(true), ch)
	require.NoError(t, err)
	require.Equal(t, replayStats{processed: 2, replayed: 2}, stats)

	require.Len(t, ch.published, 2)
	for _, p := range ch.published {
		require.Equal(t, "stock_queue", p.queue)
		require.Equal(t, uint8(amqp.Persistent), p.msg.DeliveryMode)
		require.NotContains(t, p.msg.Headers, rabbitmq.HeaderRetryCount)
		require.NotContains(t, p.msg.Headers, rabbitmq.HeaderOriginalQueue)
		require.NotContains(t, p.msg.Headers, rabbitmq.HeaderErrorMessage)
		require.Equal(t, "1", p.msg.Headers["x-message-version"])
	}
	require.Equal(t, "Reduce stock for product 1 by 3", string(ch.published[0].msg.Body))
	require.Equal(t, []string{"stock_queue"}, ch.declared)
	require.Equal(t, []settlement{{tag: 1, ack: true}, {tag: 2, ack: true}}, ch.ack.settled)
}

func TestReplay_DryRunReturnsMessages(t *testing.T) {
	ch := newFakeChannel(deadLettered("a"), deadLettered("b"), deadLettered("c"))

	stats, err := replay(context.Background(), testConfig(false), ch)
	require.NoError(t, err)
	require.Equal(t, 3, stats.replayed)
	require.Empty(t, ch.published)
	require.Equal(t, []settlement{{tag: 3, multiple: true, requeue: true}}, ch.ack.settled)
}

func TestReplay_RespectsLimit(t *testing.T) {
	ch := newFakeChannel(deadLettered("a"), deadLettered("b"), deadLettered("c"))
	cfg := testConfig(true)
	cfg.limit = 2

	stats, err := replay(context.Background(), cfg, ch)
	require.NoError(t, err)
	require.Equal(t, 2, stats.processed)
	require.Len(t, ch.queue, 1)
}

func TestReplay_TargetOverrideAndFallback(t *testing.T) {
	noHeader := amqp.Delivery{Body: []byte("x")}
	ch := newFakeChannel(noHeader)

	_, err := replay(context.Background(), testConfig(true), ch)
	require.NoError(t, err)
	require.Equal(t, "stock_queue", ch.published[0].queue)
	require.Nil(t, ch.published[0].msg.Headers)

	ch = newFakeChannel(deadLettered("y"))
	cfg := testConfig(true)
	cfg.targetQueue = "stock_queue_v2"
	_, err = replay(context.Background(), cfg, ch)
	require.NoError(t, err)
	require.Equal(t, "stock_queue_v2", ch.published[0].queue)
}

func TestReplay_SkipsEmptyBody(t *testing.T) {
	ch := newFakeChannel(amqp.Delivery{}, deadLettered("ok"))

	stats, err := replay(context.Background(), testConfig(true), ch)
	require.NoError(t, err)
	require.Equal(t, replayStats{processed: 2, replayed: 1, skipped: 1}, stats)
	require.Equal(t, []settlement{
		{tag: 2, ack: true},
		{tag: 1, multiple: true, requeue: true},
	}, ch.ack.settled)
}

func TestReplay_PublishErrorKeepsMessage(t *testing.T) {
	ch := newFakeChannel(deadLettered("a"))
	ch.publishErr = errors.New("channel closed")

	_, err := replay(context.Background(), testConfig(true), ch)
	require.ErrorContains(t, err, "publish to stock_queue")
	require.Equal(t, []settlement{{tag: 1, multiple: true, requeue: true}}, ch.ack.settled)
}

func TestReplay_GetError(t *testing.T) {
	ch := newFakeChannel()
	ch.getErr = errors.New("boom")

	_, err := replay(context.Background(), testConfig(true), ch)
	require.ErrorContains(t, err, "get from stock_queue.dlq")
}

func TestRun_UsesInjectedChannel(t *testing.T) {
	ch := newFakeChannel(deadLettered("a"))
	closed := false

	original := openChannel
	openChannel = func(config) (rabbitmq.Channel, func(), error) {
		return ch, func() { closed = true }, nil
	}
	t.Cleanup(func() { openChannel = original })

	stats, err := run(context.Background(), testConfig(true))
	require.NoError(t, err)
	require.Equal(t, 1, stats.replayed)
	require.True(t, closed)
}

func TestReadConfig(t *testing.T) {
	lookup := func(values map[string]string) func(string) (string, bool) {
		return func(key string) (string, bool) {
			v, ok := values[key]
			return v, ok
		}
	}

	cfg, warnings, err := readConfig(nil, lookup(nil))
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Equal(t, "stock_queue.dlq", cfg.sourceQueue)
	require.Equal(t, defaultReplayLimit, cfg.limit)
	require.False(t, cfg.execute)

	cfg, _, err = readConfig([]string{"-execute", "-limit=5"}, lookup(map[string]string{
		"RABBITMQ_DLQ":  "custom.dlq",
		"RABBITMQ_HOST": "rabbit",
	}))
	require.NoError(t, err)
	require.Equal(t, "custom.dlq", cfg.sourceQueue)
	require.Equal(t, "rabbit", cfg.broker.Host)
	require.True(t, cfg.execute)
	require.Equal(t, 5, cfg.limit)

	_, _, err = readConfig([]string{"-limit=0"}, lookup(nil))
	require.ErrorContains(t, err, "limit")

	_, _, err = readConfig([]string{"-target-queue=stock_queue.dlq"}, lookup(nil))
	require.ErrorContains(t, err, "must differ")
}

func TestFailExits(t *testing.T) {
	if os.Getenv("DLQ_TEST_FAIL_EXIT") == "1" {
		fail("forced failure %d", 42)
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "DLQ_TEST_FAIL_EXIT=1")
	err := cmd.Run()
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() == 0 {
		t.Fatalf("expected non-zero exit code, got %v", err)
	}
}
