package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// OrderService: операции координатора заказов, которые нужны API.
type OrderService interface {
	CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error)
	UpdateOrder(ctx context.Context, id int64, req domain.OrderRequest) (domain.Order, error)
	DeleteOrder(ctx context.Context, id int64) error
	GetOrder(id int64) (domain.Order, error)
	ListOrders() ([]domain.Order, error)
}

type orderItemRequest struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

type orderRequest struct {
	CustomerID string             `json:"customerId"`
	Status     string             `json:"status"`
	Items      []orderItemRequest `json:"items"`
}

func (r orderRequest) toDomain() domain.OrderRequest {
	req := domain.OrderRequest{
		CustomerID: r.CustomerID,
		Status:     r.Status,
		Items:      make([]domain.OrderItemRequest, 0, len(r.Items)),
	}
	for _, item := range r.Items {
		req.Items = append(req.Items, domain.OrderItemRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return req
}

type orderItemResponse struct {
	ID        int64 `json:"id"`
	OrderID   int64 `json:"orderId"`
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

type orderResponse struct {
	ID         int64               `json:"id"`
	CustomerID string              `json:"customerId"`
	Status     string              `json:"status"`
	OrderDate  time.Time           `json:"orderDate"`
	Items      []orderItemResponse `json:"items"`
}

func newOrderResponse(order domain.Order) orderResponse {
	resp := orderResponse{
		ID:         order.ID,
		CustomerID: order.CustomerID,
		Status:     order.Status,
		OrderDate:  order.CreatedAt,
		Items:      make([]orderItemResponse, 0, len(order.Items)),
	}
	for _, item := range order.Items {
		resp.Items = append(resp.Items, orderItemResponse{
			ID:        item.ID,
			OrderID:   item.OrderID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}
	return resp
}

type orderHandler struct {
	orders OrderService
}

// RegisterOrderRoutes монтирует /api/Order.
func RegisterOrderRoutes(e *echo.Echo, orders OrderService) {
	h := orderHandler{orders: orders}

	g := e.Group("/api/Order")
	g.GET("/test", h.test)
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.PUT("/:id", h.update)
	g.DELETE("/:id", h.delete)
}

func (h orderHandler) create(c echo.Context) error {
	var body orderRequest
	if err := c.Bind(&body); err != nil {
		return err
	}

	order, err := h.orders.CreateOrder(c.Request().Context(), body.toDomain())
	if err != nil {
		return toHTTPError(err)
	}

	c.Response().Header().Set(echo.HeaderLocation, "/api/Order/"+strconv.FormatInt(order.ID, 10))
	return c.JSON(http.StatusCreated, newOrderResponse(order))
}

func (h orderHandler) list(c echo.Context) error {
	orders, err := h.orders.ListOrders()
	if err != nil {
		return toHTTPError(err)
	}

	resp := make([]orderResponse, 0, len(orders))
	for _, order := range orders {
		resp = append(resp, newOrderResponse(order))
	}
	return c.JSON(http.StatusOK, resp)
}

func (h orderHandler) get(c echo.Context) error {
	id, err := parseID(c, "order")
	if err != nil {
		return err
	}

	order, err := h.orders.GetOrder(id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, newOrderResponse(order))
}

func (h orderHandler) update(c echo.Context) error {
	id, err := parseID(c, "order")
	if err != nil {
		return err
	}

	var body orderRequest
	if err := c.Bind(&body); err != nil {
		return err
	}

	if _, err := h.orders.UpdateOrder(c.Request().Context(), id, body.toDomain()); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h orderHandler) delete(c echo.Context) error {
	id, err := parseID(c, "order")
	if err != nil {
		return err
	}

	if err := h.orders.DeleteOrder(c.Request().Context(), id); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h orderHandler) test(c echo.Context) error {
	return c.String(http.StatusOK, "sales-service is running")
}
