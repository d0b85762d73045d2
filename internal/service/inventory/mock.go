package inventory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// MockStockChecker: конфигурируемая заглушка StockChecker для тестов и локального запуска.
type MockStockChecker struct {
	mu      sync.Mutex
	stock   map[int64]int
	failing map[int64]bool
	calls   []int64
}

// NewMockStockChecker возвращает заглушку с заданными остатками.
func NewMockStockChecker(stock map[int64]int) *MockStockChecker {
	m := &MockStockChecker{
		stock:   make(map[int64]int, len(stock)),
		failing: make(map[int64]bool),
	}
	for id, qty := range stock {
		m.stock[id] = qty
	}
	return m
}

// CheckStock возвращает настроенный остаток; неизвестный или "сломанный" товар даёт ok=false.
func (m *MockStockChecker) CheckStock(_ context.Context, productID int64) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, productID)
	if m.failing[productID] {
		return 0, false
	}
	qty, ok := m.stock[productID]
	return qty, ok
}

// SetStock задаёт остаток товара.
func (m *MockStockChecker) SetStock(productID int64, quantity int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stock[productID] = quantity
	delete(m.failing, productID)
}

// Fail заставляет проверку товара завершаться ошибкой.
func (m *MockStockChecker) Fail(productID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing[productID] = true
}

// Calls возвращает идентификаторы товаров в порядке проверок.
func (m *MockStockChecker) Calls() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.calls...)
}

var _ domain.StockChecker = (*MockStockChecker)(nil)
