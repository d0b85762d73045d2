package integration

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/httpapi"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/decrement"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/inventory"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/orders"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/stockclient"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

// queuedMessage: сообщение, положенное в очередь in-process транспортом.
type queuedMessage struct {
	queue       string
	body        []byte
	contentType string
}

// inProcessQueue заменяет брокер: хранит сообщения до явной доставки.
type inProcessQueue struct {
	mu       sync.Mutex
	messages []queuedMessage
}

func (q *inProcessQueue) PublishWithProperties(_ context.Context, queue string, body []byte, contentType, _ string, _ map[string]any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, queuedMessage{queue: queue, body: append([]byte(nil), body...), contentType: contentType})
	return nil
}

func (q *inProcessQueue) drain() []queuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.messages
	q.messages = nil
	return out
}

// OrderLifecycleTestSuite проверяет путь заказа от HTTP-проверки склада до списания consumer.
type OrderLifecycleTestSuite struct {
	suite.Suite

	stockRepo   domain.StockRepository
	stockServer *httptest.Server
	queue       *inProcessQueue
	applier     *inventory.Applier
}

func (s *OrderLifecycleTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel)
	logger := baseLogger.WithField("component", "integration-test")

	s.stockRepo = memory.NewStockRepository()
	catalog := inventory.NewCatalog(s.stockRepo, inventory.WithCatalogLogger(logger))
	e := httpapi.NewEcho(logger)
	httpapi.RegisterProductRoutes(e, catalog)
	s.stockServer = httptest.NewServer(e)

	ledger, err := memory.NewOperationLedger(128)
	s.Require().NoError(err)
	s.applier = inventory.NewApplier(s.stockRepo,
		inventory.WithLedger(ledger, time.Minute, time.Hour),
		inventory.WithApplierLogger(logger),
	)
	s.queue = &inProcessQueue{}
}

func (s *OrderLifecycleTestSuite) TearDownTest() {
	s.stockServer.Close()
}

func (s *OrderLifecycleTestSuite) coordinator(format decrement.Format) *orders.Coordinator {
	client := stockclient.New(s.stockServer.URL, stockclient.WithTimeout(2*time.Second))
	return orders.NewCoordinator(
		memory.NewOrderRepository(),
		client,
		decrement.NewPublisher(s.queue, "", format),
	)
}

func (s *OrderLifecycleTestSuite) seed(productID int64, quantity int) {
	_, err := s.stockRepo.Create(domain.StockRecord{ProductID: productID, Name: "Widget", Price: 9.99, QuantityInStock: quantity})
	s.Require().NoError(err)
}

func (s *OrderLifecycleTestSuite) stockOf(productID int64) int {
	record, err := s.stockRepo.Get(productID)
	s.Require().NoError(err)
	return record.QuantityInStock
}

func (s *OrderLifecycleTestSuite) deliver(messages []queuedMessage) {
	for _, msg := range messages {
		s.Require().Equal(decrement.DefaultQueue, msg.queue)
		s.Require().NoError(s.applier.HandleMessage(context.Background(), msg.body, msg.contentType))
	}
}

func (s *OrderLifecycleTestSuite) TestCreateOrderDecrementsStock() {
	s.seed(1, 10)

	order, err := s.coordinator(decrement.FormatText).CreateOrder(context.Background(), domain.OrderRequest{
		CustomerID: "c-1",
		Status:     "Pending",
		Items:      []domain.OrderItemRequest{{ProductID: 1, Quantity: 3}},
	})
	s.Require().NoError(err)
	s.Require().NotZero(order.ID)

	messages := s.queue.drain()
	s.Require().Len(messages, 1)
	s.Require().Contains(string(messages[0].body), "reduce stock for product 1 by 3")

	s.deliver(messages)
	s.Equal(7, s.stockOf(1))
}

func (s *OrderLifecycleTestSuite) TestOneMessagePerItem() {
	s.seed(1, 10)
	s.seed(2, 5)

	_, err := s.coordinator(decrement.FormatText).CreateOrder(context.Background(), domain.OrderRequest{
		CustomerID: "c-2",
		Items: []domain.OrderItemRequest{
			{ProductID: 1, Quantity: 2},
			{ProductID: 2, Quantity: 5},
		},
	})
	s.Require().NoError(err)

	messages := s.queue.drain()
	s.Require().Len(messages, 2)
	s.deliver(messages)
	s.Equal(8, s.stockOf(1))
	s.Equal(0, s.stockOf(2))
}

func (s *OrderLifecycleTestSuite) TestTextRedeliveryDecrementsTwice() {
	s.seed(1, 10)

	_, err := s.coordinator(decrement.FormatText).CreateOrder(context.Background(), domain.OrderRequest{
		CustomerID: "c-3",
		Items:      []domain.OrderItemRequest{{ProductID: 1, Quantity: 3}},
	})
	s.Require().NoError(err)

	messages := s.queue.drain()
	s.deliver(messages)
	s.deliver(messages)
	s.Equal(4, s.stockOf(1), "text messages carry no operation id and are applied on every delivery")
}

func (s *OrderLifecycleTestSuite) TestJSONRedeliveryIsDeduplicated() {
	s.seed(1, 10)

	_, err := s.coordinator(decrement.FormatJSON).CreateOrder(context.Background(), domain.OrderRequest{
		CustomerID: "c-4",
		Items:      []domain.OrderItemRequest{{ProductID: 1, Quantity: 3}},
	})
	s.Require().NoError(err)

	messages := s.queue.drain()
	s.Require().Len(messages, 1)
	s.Equal(decrement.ContentTypeJSON, messages[0].contentType)

	s.deliver(messages)
	s.deliver(messages)
	s.Equal(7, s.stockOf(1))
}

func (s *OrderLifecycleTestSuite) TestInsufficientStockPublishesNothing() {
	s.seed(1, 2)

	_, err := s.coordinator(decrement.FormatText).CreateOrder(context.Background(), domain.OrderRequest{
		CustomerID: "c-5",
		Items:      []domain.OrderItemRequest{{ProductID: 1, Quantity: 3}},
	})
	s.Require().ErrorIs(err, domain.ErrInsufficientStock)

	var insufficient *domain.InsufficientStockError
	s.Require().True(errors.As(err, &insufficient))
	s.Equal(2, insufficient.Available)

	s.Empty(s.queue.drain())
	s.Equal(2, s.stockOf(1))
}

func (s *OrderLifecycleTestSuite) TestUnknownProductFailsStockCheck() {
	_, err := s.coordinator(decrement.FormatText).CreateOrder(context.Background(), domain.OrderRequest{
		CustomerID: "c-6",
		Items:      []domain.OrderItemRequest{{ProductID: 404, Quantity: 1}},
	})
	s.Require().ErrorIs(err, domain.ErrStockCheckFailed)
	s.Empty(s.queue.drain())
}

func (s *OrderLifecycleTestSuite) TestUpdateRepublishesAndDeleteIsIgnored() {
	s.seed(1, 20)
	coordinator := s.coordinator(decrement.FormatJSON)

	order, err := coordinator.CreateOrder(context.Background(), domain.OrderRequest{
		CustomerID: "c-7",
		Items:      []domain.OrderItemRequest{{ProductID: 1, Quantity: 3}},
	})
	s.Require().NoError(err)
	s.deliver(s.queue.drain())
	s.Equal(17, s.stockOf(1))

	_, err = coordinator.UpdateOrder(context.Background(), order.ID, domain.OrderRequest{
		CustomerID: "c-7",
		Items:      []domain.OrderItemRequest{{ProductID: 1, Quantity: 4}},
	})
	s.Require().NoError(err)
	s.deliver(s.queue.drain())
	s.Equal(13, s.stockOf(1), "update publishes the full new item set")

	s.Require().NoError(coordinator.DeleteOrder(context.Background(), order.ID))
	s.deliver(s.queue.drain())
	s.Equal(13, s.stockOf(1), "delete notice does not change stock")
}

func TestOrderLifecycleTestSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("integration suite skipped in short mode")
	}
	suite.Run(t, new(OrderLifecycleTestSuite))
}

func TestInProcessQueueDrain(t *testing.T) {
	q := &inProcessQueue{}
	require.NoError(t, q.PublishWithProperties(context.Background(), "q", []byte("x"), "text/plain", "", nil))
	require.Len(t, q.drain(), 1)
	require.Empty(t, q.drain())
}
