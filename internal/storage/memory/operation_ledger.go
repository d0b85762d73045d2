package memory

import (
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// DefaultLedgerSize: сколько операций помнит in-memory журнал.
const DefaultLedgerSize = 100_000

// OperationLedger хранит применённые операции в ограниченном LRU-кэше.
// При вытеснении запись забывается, и повторная доставка снова применит списание.
type OperationLedger struct {
	// mu делает Claim атомарной проверкой и записью поверх кэша.
	mu    sync.Mutex
	cache *lru.Cache[string, domain.OperationRecord]
	now   func() time.Time
}

// NewOperationLedger создаёт журнал на size записей.
func NewOperationLedger(size int) (*OperationLedger, error) {
	if size <= 0 {
		size = DefaultLedgerSize
	}
	cache, err := lru.New[string, domain.OperationRecord](size)
	if err != nil {
		return nil, err
	}
	return &OperationLedger{cache: cache, now: time.Now}, nil
}

func (l *OperationLedger) Claim(operationID string, leaseUntil time.Time) error {
	operationID = strings.TrimSpace(operationID)
	if operationID == "" {
		return domain.ErrOperationIDRequired
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	if existing, ok := l.cache.Get(operationID); ok && !existing.Expired(now) {
		if existing.Status == domain.OperationStatusApplied {
			return domain.ErrOperationAlreadyApplied
		}
		return domain.ErrOperationInProgress
	}

	l.cache.Add(operationID, domain.OperationRecord{
		OperationID: operationID,
		Status:      domain.OperationStatusProcessing,
		ExpiresAt:   leaseUntil.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	return nil
}

func (l *OperationLedger) MarkApplied(operationID string, retainUntil time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.cache.Peek(operationID)
	if !ok {
		return domain.ErrOperationNotFound
	}
	record.Status = domain.OperationStatusApplied
	record.ExpiresAt = retainUntil.UTC()
	record.UpdatedAt = l.now().UTC()
	l.cache.Add(operationID, record)
	return nil
}

// Release удаляет только незавершённый захват; применённая операция остаётся.
func (l *OperationLedger) Release(operationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.cache.Peek(operationID)
	if !ok {
		return domain.ErrOperationNotFound
	}
	if record.Status == domain.OperationStatusProcessing {
		l.cache.Remove(operationID)
	}
	return nil
}

func (l *OperationLedger) Get(operationID string) (domain.OperationRecord, error) {
	record, ok := l.cache.Peek(operationID)
	if !ok {
		return domain.OperationRecord{}, domain.ErrOperationNotFound
	}
	return record, nil
}

func (l *OperationLedger) DeleteExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = l.now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for _, key := range l.cache.Keys() {
		record, ok := l.cache.Peek(key)
		if !ok || record.ExpiresAt.After(before) {
			continue
		}
		l.cache.Remove(key)
		removed++
		if limit > 0 && removed >= limit {
			break
		}
	}
	return removed, nil
}

// Len возвращает число записей в журнале.
func (l *OperationLedger) Len() int {
	return l.cache.Len()
}

var _ domain.OperationLedger = (*OperationLedger)(nil)
