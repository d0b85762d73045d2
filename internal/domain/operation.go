package domain

import "time"

// OperationStatus описывает жизненный цикл записи в журнале применённых операций.
type OperationStatus string

const (
	// OperationStatusProcessing означает, что операция захвачена обработчиком (аренда).
	OperationStatusProcessing OperationStatus = "processing"
	// OperationStatusApplied означает, что списание выполнено.
	OperationStatusApplied OperationStatus = "applied"
)

// OperationRecord хранит состояние обработки операции списания.
// ExpiresAt для processing: конец аренды, для applied: срок хранения.
type OperationRecord struct {
	OperationID string
	Status      OperationStatus
	ExpiresAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OperationStatus) Valid() bool {
	switch s {
	case OperationStatusProcessing, OperationStatusApplied:
		return true
	default:
		return false
	}
}

// Expired сообщает, истекла ли запись к моменту now.
func (r OperationRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}
