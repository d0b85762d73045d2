package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/inventory"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/orders"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

type recordingDecrements struct {
	mu       sync.Mutex
	messages []domain.DecrementMessage
}

func (r *recordingDecrements) PublishDecrement(_ context.Context, msg domain.DecrementMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return nil
}

func (r *recordingDecrements) all() []domain.DecrementMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.DecrementMessage(nil), r.messages...)
}

func newSalesAPI(t *testing.T, stock map[int64]int) (*echo.Echo, *recordingDecrements) {
	t.Helper()

	decrements := &recordingDecrements{}
	coordinator := orders.NewCoordinator(memory.NewOrderRepository(), inventory.NewMockStockChecker(stock), decrements)

	e := NewEcho(nil)
	RegisterOrderRoutes(e, coordinator)
	return e, decrements
}

func doRequest(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestCreateOrder_ReturnsCreatedWithLocation(t *testing.T) {
	e, decrements := newSalesAPI(t, map[int64]int{1: 10})

	rec := doRequest(e, http.MethodPost, "/api/Order",
		`{"customerId":"c-1","status":"new","items":[{"productId":1,"quantity":3}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, "/api/Order/1", rec.Header().Get(echo.HeaderLocation))

	var resp orderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, int64(1), resp.ID)
	require.Equal(t, "c-1", resp.CustomerID)
	require.Len(t, resp.Items, 1)
	require.Equal(t, int64(1), resp.Items[0].OrderID)
	require.False(t, resp.OrderDate.IsZero())

	msgs := decrements.all()
	require.Len(t, msgs, 1)
	require.Equal(t, domain.DecrementKindCreated, msgs[0].Kind)
	require.Equal(t, 3, msgs[0].Quantity)
}

func TestCreateOrder_RejectsInsufficientStock(t *testing.T) {
	e, decrements := newSalesAPI(t, map[int64]int{1: 2})

	rec := doRequest(e, http.MethodPost, "/api/Order",
		`{"customerId":"c-1","status":"new","items":[{"productId":1,"quantity":3}]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "insufficient stock")
	require.Empty(t, decrements.all())

	list := doRequest(e, http.MethodGet, "/api/Order", "")
	require.Equal(t, http.StatusOK, list.Code)
	require.JSONEq(t, `[]`, list.Body.String())
}

func TestCreateOrder_ValidationErrors(t *testing.T) {
	e, _ := newSalesAPI(t, map[int64]int{1: 10})

	tests := []struct {
		name string
		body string
	}{
		{name: "no items", body: `{"customerId":"c-1","items":[]}`},
		{name: "zero quantity", body: `{"customerId":"c-1","items":[{"productId":1,"quantity":0}]}`},
		{name: "missing product", body: `{"customerId":"c-1","items":[{"quantity":1}]}`},
		{name: "unknown product", body: `{"customerId":"c-1","items":[{"productId":99,"quantity":1}]}`},
		{name: "broken json", body: `{"customerId":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(e, http.MethodPost, "/api/Order", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestOrderLifecycle(t *testing.T) {
	e, decrements := newSalesAPI(t, map[int64]int{1: 10, 2: 10})

	rec := doRequest(e, http.MethodPost, "/api/Order",
		`{"customerId":"c-1","status":"new","items":[{"productId":1,"quantity":1}]}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(e, http.MethodPut, "/api/Order/1",
		`{"customerId":"c-1","status":"paid","items":[{"productId":2,"quantity":4}]}`)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = doRequest(e, http.MethodGet, "/api/Order/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp orderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "paid", resp.Status)
	require.Len(t, resp.Items, 1)
	require.Equal(t, int64(2), resp.Items[0].ProductID)

	rec = doRequest(e, http.MethodDelete, "/api/Order/1", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(e, http.MethodGet, "/api/Order/1", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	kinds := make([]domain.DecrementKind, 0)
	for _, msg := range decrements.all() {
		kinds = append(kinds, msg.Kind)
	}
	require.Equal(t, []domain.DecrementKind{
		domain.DecrementKindCreated,
		domain.DecrementKindUpdated,
		domain.DecrementKindDeleted,
	}, kinds)
}

func TestOrderRoutes_NotFoundAndBadID(t *testing.T) {
	e, _ := newSalesAPI(t, map[int64]int{1: 10})

	require.Equal(t, http.StatusNotFound, doRequest(e, http.MethodGet, "/api/Order/42", "").Code)
	require.Equal(t, http.StatusNotFound, doRequest(e, http.MethodDelete, "/api/Order/42", "").Code)
	require.Equal(t, http.StatusNotFound, doRequest(e, http.MethodPut, "/api/Order/42",
		`{"customerId":"c-1","items":[{"productId":1,"quantity":1}]}`).Code)
	require.Equal(t, http.StatusBadRequest, doRequest(e, http.MethodGet, "/api/Order/abc", "").Code)
}

func TestOrderTestEndpoint(t *testing.T) {
	e, _ := newSalesAPI(t, nil)

	rec := doRequest(e, http.MethodGet, "/api/Order/test", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "sales-service is running", rec.Body.String())
}

func TestRecoverMiddleware(t *testing.T) {
	e := NewEcho(nil)
	e.GET("/boom", func(echo.Context) error { panic("boom") })

	rec := doRequest(e, http.MethodGet, "/boom", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
