package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

type recordingPublisher struct {
	queue   string
	payload string
	err     error
}

func (r *recordingPublisher) Publish(_ context.Context, queue string, payload []byte) error {
	r.queue = queue
	r.payload = string(payload)
	return r.err
}

type recordingStockEvents struct {
	events []domain.StockEvent
}

func (r *recordingStockEvents) PublishStockEvent(_ context.Context, event domain.StockEvent) error {
	r.events = append(r.events, event)
	return nil
}

func TestCatalog_UpdateStockNotifies(t *testing.T) {
	notifier := &recordingPublisher{}
	events := &recordingStockEvents{}
	catalog := NewCatalog(memory.NewStockRepository(), WithNotifier(notifier, ""), WithStockEvents(events))

	created, err := catalog.Create(domain.StockRecord{Name: "Book", Price: 12.5, QuantityInStock: 1})
	require.NoError(t, err)

	updated, err := catalog.UpdateStock(context.Background(), created.ProductID, 40)
	require.NoError(t, err)
	require.Equal(t, 40, updated.QuantityInStock)

	require.Equal(t, StockUpdatedQueue, notifier.queue)
	require.Equal(t, "Stock updated for product 1: 40", notifier.payload)
	require.Len(t, events.events, 1)
	require.Equal(t, 40, events.events[0].QuantityInStock)
}

func TestCatalog_NotificationFailureDoesNotFailUpdate(t *testing.T) {
	notifier := &recordingPublisher{err: errors.New("broker down")}
	catalog := NewCatalog(memory.NewStockRepository(), WithNotifier(notifier, "stock_updated"))

	created, err := catalog.Create(domain.StockRecord{QuantityInStock: 1})
	require.NoError(t, err)

	_, err = catalog.UpdateStock(context.Background(), created.ProductID, 5)
	require.NoError(t, err)

	got, err := catalog.Get(created.ProductID)
	require.NoError(t, err)
	require.Equal(t, 5, got.QuantityInStock)
}

func TestCatalog_CRUD(t *testing.T) {
	catalog := NewCatalog(memory.NewStockRepository())

	_, err := catalog.Create(domain.StockRecord{Price: -1})
	require.ErrorIs(t, err, domain.ErrProductInvalid)

	created, err := catalog.Create(domain.StockRecord{ProductID: 3, Name: "Lamp"})
	require.NoError(t, err)

	all, err := catalog.List()
	require.NoError(t, err)
	require.Len(t, all, 1)

	_, err = catalog.UpdateStock(context.Background(), 99, 1)
	require.ErrorIs(t, err, domain.ErrProductNotFound)

	require.NoError(t, catalog.Delete(created.ProductID))
	_, err = catalog.Get(created.ProductID)
	require.ErrorIs(t, err, domain.ErrProductNotFound)
}
