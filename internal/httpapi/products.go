package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// ProductService: операции каталога склада, которые нужны API.
type ProductService interface {
	Create(record domain.StockRecord) (domain.StockRecord, error)
	Get(productID int64) (domain.StockRecord, error)
	List() ([]domain.StockRecord, error)
	UpdateStock(ctx context.Context, productID int64, quantity int) (domain.StockRecord, error)
	Delete(productID int64) error
}

// productBody: контракт GET /api/Product/{id}, от которого зависит клиент проверки остатков.
type productBody struct {
	ID              int64   `json:"id"`
	Name            string  `json:"name"`
	Description     string  `json:"description"`
	Price           float64 `json:"price"`
	QuantityInStock int     `json:"quantityInStock"`
}

func (b productBody) toDomain() domain.StockRecord {
	return domain.StockRecord{
		ProductID:       b.ID,
		Name:            b.Name,
		Description:     b.Description,
		Price:           b.Price,
		QuantityInStock: b.QuantityInStock,
	}
}

func newProductBody(record domain.StockRecord) productBody {
	return productBody{
		ID:              record.ProductID,
		Name:            record.Name,
		Description:     record.Description,
		Price:           record.Price,
		QuantityInStock: record.QuantityInStock,
	}
}

type productHandler struct {
	products ProductService
}

// RegisterProductRoutes монтирует /api/Product.
func RegisterProductRoutes(e *echo.Echo, products ProductService) {
	h := productHandler{products: products}

	g := e.Group("/api/Product")
	g.GET("/test", h.test)
	g.POST("/test-create", h.create)
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.PUT("/:id", h.updateStock)
	g.DELETE("/:id", h.delete)
}

func (h productHandler) create(c echo.Context) error {
	var body productBody
	if err := c.Bind(&body); err != nil {
		return err
	}

	created, err := h.products.Create(body.toDomain())
	if err != nil {
		return toHTTPError(err)
	}

	c.Response().Header().Set(echo.HeaderLocation, "/api/Product/"+strconv.FormatInt(created.ProductID, 10))
	return c.JSON(http.StatusCreated, newProductBody(created))
}

func (h productHandler) list(c echo.Context) error {
	records, err := h.products.List()
	if err != nil {
		return toHTTPError(err)
	}

	resp := make([]productBody, 0, len(records))
	for _, record := range records {
		resp = append(resp, newProductBody(record))
	}
	return c.JSON(http.StatusOK, resp)
}

func (h productHandler) get(c echo.Context) error {
	id, err := parseID(c, "product")
	if err != nil {
		return err
	}

	record, err := h.products.Get(id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, newProductBody(record))
}

// updateStock принимает тело из одного целого числа: новый остаток.
func (h productHandler) updateStock(c echo.Context) error {
	id, err := parseID(c, "product")
	if err != nil {
		return err
	}

	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "read request body").SetInternal(err)
	}
	var quantity int
	if err := json.Unmarshal(raw, &quantity); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "body must be an integer quantity")
	}

	record, err := h.products.UpdateStock(c.Request().Context(), id, quantity)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, newProductBody(record))
}

func (h productHandler) delete(c echo.Context) error {
	id, err := parseID(c, "product")
	if err != nil {
		return err
	}

	if err := h.products.Delete(id); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h productHandler) test(c echo.Context) error {
	return c.String(http.StatusOK, "stock-service is running")
}
