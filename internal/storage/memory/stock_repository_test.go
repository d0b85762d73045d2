package memory_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

func TestStockRepository_CreateAssignsIDs(t *testing.T) {
	repo := memory.NewStockRepository()

	explicit, err := repo.Create(domain.StockRecord{ProductID: 7, Name: "Book", QuantityInStock: 10})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if explicit.ProductID != 7 {
		t.Fatalf("expected id 7, got %d", explicit.ProductID)
	}

	generated, err := repo.Create(domain.StockRecord{Name: "Pen", QuantityInStock: 1})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if generated.ProductID != 8 {
		t.Fatalf("expected next id 8, got %d", generated.ProductID)
	}

	if _, err := repo.Create(domain.StockRecord{ProductID: 7}); err == nil {
		t.Fatal("expected duplicate id to be rejected")
	}
	if _, err := repo.Create(domain.StockRecord{Price: -1}); !errors.Is(err, domain.ErrProductInvalid) {
		t.Fatalf("expected ErrProductInvalid, got %v", err)
	}

	all, _ := repo.List()
	if len(all) != 2 || all[0].ProductID != 7 {
		t.Fatalf("unexpected list: %+v", all)
	}
}

func TestStockRepository_ApplyDecrementHasNoFloor(t *testing.T) {
	repo := memory.NewStockRepository()
	if _, err := repo.Create(domain.StockRecord{ProductID: 7, QuantityInStock: 10}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	record, err := repo.ApplyDecrement(7, 3)
	if err != nil {
		t.Fatalf("decrement failed: %v", err)
	}
	if record.QuantityInStock != 7 {
		t.Fatalf("expected 7, got %d", record.QuantityInStock)
	}

	record, err = repo.ApplyDecrement(7, 9)
	if err != nil {
		t.Fatalf("decrement failed: %v", err)
	}
	if record.QuantityInStock != -2 {
		t.Fatalf("expected -2, got %d", record.QuantityInStock)
	}

	if _, err := repo.ApplyDecrement(99, 1); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestStockRepository_ConcurrentDecrementsDoNotLoseUpdates(t *testing.T) {
	repo := memory.NewStockRepository()
	if _, err := repo.Create(domain.StockRecord{ProductID: 1, QuantityInStock: 100}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = repo.ApplyDecrement(1, 1)
		}()
	}
	wg.Wait()

	record, _ := repo.Get(1)
	if record.QuantityInStock != 50 {
		t.Fatalf("expected 50, got %d", record.QuantityInStock)
	}
}

func TestStockRepository_SetQuantityAndDelete(t *testing.T) {
	repo := memory.NewStockRepository()
	if _, err := repo.Create(domain.StockRecord{ProductID: 3, QuantityInStock: 1}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	record, err := repo.SetQuantity(3, 25)
	if err != nil || record.QuantityInStock != 25 {
		t.Fatalf("set quantity failed: %v, %+v", err, record)
	}
	if _, err := repo.SetQuantity(4, 1); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}

	if err := repo.Delete(3); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := repo.Delete(3); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound on second delete, got %v", err)
	}
}
