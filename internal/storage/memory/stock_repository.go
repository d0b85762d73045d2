package memory

import (
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type stockRepositoryInMemory struct {
	mu     sync.RWMutex
	items  map[int64]domain.StockRecord
	nextID int64
}

// NewStockRepository создаёт in-memory хранилище остатков.
func NewStockRepository() domain.StockRepository {
	return &stockRepositoryInMemory{items: make(map[int64]domain.StockRecord)}
}

// Create сохраняет товар. ProductID == 0: выдать следующий свободный идентификатор.
func (r *stockRepositoryInMemory) Create(record domain.StockRecord) (domain.StockRecord, error) {
	if err := record.Validate(); err != nil {
		return domain.StockRecord{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if record.ProductID == 0 {
		r.nextID++
		for {
			if _, taken := r.items[r.nextID]; !taken {
				break
			}
			r.nextID++
		}
		record.ProductID = r.nextID
	} else if _, exists := r.items[record.ProductID]; exists {
		return domain.StockRecord{}, domain.ErrProductInvalid
	}
	if record.ProductID > r.nextID {
		r.nextID = record.ProductID
	}

	r.items[record.ProductID] = record
	return record, nil
}

func (r *stockRepositoryInMemory) Get(productID int64) (domain.StockRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.items[productID]
	if !ok {
		return domain.StockRecord{}, domain.ErrProductNotFound
	}
	return record, nil
}

func (r *stockRepositoryInMemory) List() ([]domain.StockRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.StockRecord, 0, len(r.items))
	for _, record := range r.items {
		result = append(result, record)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ProductID < result[j].ProductID })
	return result, nil
}

func (r *stockRepositoryInMemory) SetQuantity(productID int64, quantity int) (domain.StockRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.items[productID]
	if !ok {
		return domain.StockRecord{}, domain.ErrProductNotFound
	}
	record.QuantityInStock = quantity
	r.items[productID] = record
	return record, nil
}

// ApplyDecrement вычитает quantity под записывающей блокировкой; нижней границы нет.
func (r *stockRepositoryInMemory) ApplyDecrement(productID int64, quantity int) (domain.StockRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.items[productID]
	if !ok {
		return domain.StockRecord{}, domain.ErrProductNotFound
	}
	record.QuantityInStock -= quantity
	r.items[productID] = record
	return record, nil
}

func (r *stockRepositoryInMemory) Delete(productID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[productID]; !ok {
		return domain.ErrProductNotFound
	}
	delete(r.items, productID)
	return nil
}

var _ domain.StockRepository = (*stockRepositoryInMemory)(nil)
