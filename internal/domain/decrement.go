package domain

import "github.com/google/uuid"

// DecrementKind различает причину публикации инструкции списания.
type DecrementKind string

const (
	// DecrementKindCreated: списание по новому заказу.
	DecrementKindCreated DecrementKind = "created"
	// DecrementKindUpdated: повторное полное списание после замены позиций.
	DecrementKindUpdated DecrementKind = "updated"
	// DecrementKindDeleted: информационное уведомление об удалении, склад не меняет.
	DecrementKindDeleted DecrementKind = "deleted"
)

// Valid проверяет, что kind относится к поддерживаемым значениям.
func (k DecrementKind) Valid() bool {
	switch k {
	case DecrementKindCreated, DecrementKindUpdated, DecrementKindDeleted:
		return true
	default:
		return false
	}
}

// AffectsStock сообщает, меняет ли сообщение остаток.
func (k DecrementKind) AffectsStock() bool {
	return k == DecrementKindCreated || k == DecrementKindUpdated
}

// DecrementMessageVersion: текущая версия структурированного формата.
const DecrementMessageVersion = 1

// DecrementMessage: инструкция уменьшить остаток товара, существует только в очереди.
// Version == 0 означает legacy-текст без идентификатора операции.
type DecrementMessage struct {
	Version     int
	OperationID string
	Kind        DecrementKind
	OrderID     int64
	ProductID   int64
	Quantity    int
}

// NewOperationID выдаёт идентификатор одной публикации списания.
// Id заказов и позиций назначает хранилище, и после рестарта in-memory хранилища или на
// другом инстансе они повторяются, поэтому ключ идемпотентности из них не строится.
// Повторы одной публикации (outbox relay, retry consumer, replay из DLQ) несут тот же id.
func NewOperationID() string {
	return uuid.NewString()
}

// NewDecrementMessages строит по одному сообщению на позицию заказа.
func NewDecrementMessages(order Order, kind DecrementKind) []DecrementMessage {
	messages := make([]DecrementMessage, 0, len(order.Items))
	for _, item := range order.Items {
		messages = append(messages, DecrementMessage{
			Version:     DecrementMessageVersion,
			OperationID: NewOperationID(),
			Kind:        kind,
			OrderID:     order.ID,
			ProductID:   item.ProductID,
			Quantity:    item.Quantity,
		})
	}
	return messages
}

// NewDeleteNotice строит уведомление об удалении заказа.
func NewDeleteNotice(orderID int64) DecrementMessage {
	return DecrementMessage{
		Version:     DecrementMessageVersion,
		OperationID: NewOperationID(),
		Kind:        DecrementKindDeleted,
		OrderID:     orderID,
	}
}
