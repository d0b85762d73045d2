// Package stockclient запрашивает остатки у сервиса склада по HTTP.
package stockclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const maxBodyBytes = 1 << 20

var checksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fulfillment_stock_client_requests_total",
	Help: "Total number of stock query requests grouped by result.",
}, []string{"result"})

// Options задаёт параметры Client.
type Options struct {
	HTTPClient *http.Client
	// Timeout ограничивает один запрос; 0: только таймауты транспорта.
	Timeout time.Duration
	Logger  *log.Entry
}

// Option настраивает Client.
type Option func(*Options)

// WithHTTPClient подменяет http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(opts *Options) {
		opts.HTTPClient = client
	}
}

// WithTimeout задаёт таймаут запроса.
func WithTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.Timeout = timeout
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// Client реализует domain.StockChecker поверх GET /api/Product/{id}.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	logger  *log.Entry
}

// stockResponse: часть ответа сервиса склада, нужная для проверки.
// encoding/json сопоставляет имена полей без учёта регистра.
type stockResponse struct {
	ID              *int64 `json:"id"`
	QuantityInStock *int   `json:"quantityInStock"`
}

// New создаёт клиента для сервиса склада по базовому адресу (например, http://stock:8080).
func New(baseURL string, options ...Option) *Client {
	opts := Options{}
	for _, option := range options {
		option(&opts)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "stock-client")
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    opts.HTTPClient,
		timeout: opts.Timeout,
		logger:  logger,
	}
}

// CheckStock возвращает остаток товара. ok=false при сетевой ошибке,
// не-2xx ответе или теле, которое не удалось разобрать как запись склада.
func (c *Client) CheckStock(ctx context.Context, productID int64) (int, bool) {
	quantity, err := c.fetch(ctx, productID)
	if err != nil {
		checksTotal.WithLabelValues("error").Inc()
		c.logger.WithError(err).WithField("product_id", productID).Warn("stock check failed")
		return 0, false
	}
	checksTotal.WithLabelValues("ok").Inc()
	return quantity, true
}

func (c *Client) fetch(ctx context.Context, productID int64) (int, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	url := fmt.Sprintf("%s/api/Product/%d", c.baseURL, productID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return 0, fmt.Errorf("get %s: unexpected status %d", url, resp.StatusCode)
	}

	var body stockResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode stock record: %w", err)
	}
	if body.QuantityInStock == nil {
		return 0, fmt.Errorf("decode stock record: quantityInStock is missing")
	}
	if body.ID != nil && *body.ID != productID {
		return 0, fmt.Errorf("decode stock record: got product %d, want %d", *body.ID, productID)
	}
	return *body.QuantityInStock, nil
}

var _ domain.StockChecker = (*Client)(nil)
