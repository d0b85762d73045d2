package memory

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"
)

type outboxEntry struct {
	msg       domain.OutboxMessage
	status    string
	createdAt time.Time
}

// OutboxRepository: in-memory outbox. Записи хранятся в порядке Enqueue,
// поэтому PullPending отдаёт их в порядке записи без сортировки.
type OutboxRepository struct {
	mu   sync.RWMutex
	log  []*outboxEntry
	byID map[string]*outboxEntry
	now  func() time.Time
}

// NewOutboxRepository создаёт пустой outbox.
func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{byID: make(map[string]*outboxEntry), now: time.Now}
}

// Enqueue сохраняет событие со статусом pending. Повтор с тем же ID возвращает уже сохранённое сообщение.
func (r *OutboxRepository) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if existing, ok := r.byID[msg.ID]; ok {
		return copyOutboxMessage(existing.msg), nil
	}

	entry := &outboxEntry{msg: copyOutboxMessage(msg), status: outboxStatusPending, createdAt: r.now().UTC()}
	r.log = append(r.log, entry)
	r.byID[msg.ID] = entry
	return msg, nil
}

// PullPending возвращает до limit pending-сообщений; limit<=0 означает 100.
func (r *OutboxRepository) PullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var batch []domain.OutboxMessage
	for _, entry := range r.log {
		if entry.status != outboxStatusPending {
			continue
		}
		batch = append(batch, copyOutboxMessage(entry.msg))
		if len(batch) == limit {
			break
		}
	}
	return batch, nil
}

func (r *OutboxRepository) Stats() (domain.OutboxStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.OutboxStats
	for _, entry := range r.log {
		if entry.status != outboxStatusPending {
			continue
		}
		if stats.PendingCount == 0 {
			stats.OldestPendingAt = entry.createdAt
		}
		stats.PendingCount++
	}
	return stats, nil
}

func (r *OutboxRepository) MarkSent(id string) error {
	return r.setStatus(id, outboxStatusSent)
}

// MarkFailed снимает запись с публикации.
func (r *OutboxRepository) MarkFailed(id string) error {
	return r.setStatus(id, outboxStatusFailed)
}

func (r *OutboxRepository) setStatus(id, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: outbox message %s not found", domain.ErrOutboxPublish, id)
	}
	entry.status = status
	return nil
}

// Status возвращает статус записи или пустую строку для неизвестного id.
func (r *OutboxRepository) Status(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry, ok := r.byID[id]; ok {
		return entry.status
	}
	return ""
}

func copyOutboxMessage(src domain.OutboxMessage) domain.OutboxMessage {
	dst := src
	dst.Payload = append([]byte(nil), src.Payload...)
	return dst
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
