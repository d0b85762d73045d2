package domain

import (
	"errors"
	"fmt"
)

var (
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка позиции без идентификатора товара.
	ErrItemProductRequired = errors.New("item product_id must be greater than zero")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item quantity must be greater than zero")
	// ErrStockCheckFailed: склад недоступен или вернул ответ, который нельзя интерпретировать.
	ErrStockCheckFailed = errors.New("stock check failed")
	// ErrInsufficientStock: на складе меньше товара, чем запрошено.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrProductNotFound возвращается, если на складе нет записи о товаре.
	ErrProductNotFound = errors.New("product not found")
	// ErrProductInvalid: некорректные поля товара при создании.
	ErrProductInvalid = errors.New("product is invalid")

	// ErrEmptyPayload: попытка опубликовать пустое сообщение.
	ErrEmptyPayload = errors.New("message payload must not be empty")
	// ErrQueueRequired: не задано имя очереди.
	ErrQueueRequired = errors.New("queue name is required")
	// ErrPublishNotConfirmed: брокер не подтвердил публикацию (nack).
	ErrPublishNotConfirmed = errors.New("publish was not confirmed by broker")

	// ErrUnrecognizedMessage: сообщение не похоже ни на один известный формат.
	ErrUnrecognizedMessage = errors.New("unrecognized message")
	// ErrMalformedMessage: формат узнан, но поля не разбираются.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrUnsupportedVersion: неизвестная версия структурированного сообщения.
	ErrUnsupportedVersion = errors.New("unsupported message version")

	// ErrOperationIDRequired: пустой идентификатор операции в журнале.
	ErrOperationIDRequired = errors.New("operation_id is required")
	// ErrOperationAlreadyApplied: операция уже применена (повторная доставка).
	ErrOperationAlreadyApplied = errors.New("operation already applied")
	// ErrOperationInProgress: операцию сейчас обрабатывает другой обработчик.
	ErrOperationInProgress = errors.New("operation is in progress")
	// ErrOperationNotFound: записи об операции нет.
	ErrOperationNotFound = errors.New("operation not found")

	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// InsufficientStockError описывает позицию, для которой не хватило остатка.
type InsufficientStockError struct {
	ProductID int64
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: available=%d requested=%d", e.ProductID, e.Available, e.Requested)
}

// Is позволяет сравнивать ошибку с ErrInsufficientStock через errors.Is.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// IsValidation сообщает, что ошибка относится к клиентским (400) ошибкам заказа.
func IsValidation(err error) bool {
	switch {
	case errors.Is(err, ErrItemsRequired),
		errors.Is(err, ErrItemProductRequired),
		errors.Is(err, ErrItemQtyInvalid),
		errors.Is(err, ErrStockCheckFailed),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrEmptyPayload):
		return true
	default:
		return false
	}
}

// IsMessageRejected сообщает, что сообщение бессмысленно повторять.
func IsMessageRejected(err error) bool {
	return errors.Is(err, ErrUnrecognizedMessage) ||
		errors.Is(err, ErrMalformedMessage) ||
		errors.Is(err, ErrUnsupportedVersion)
}
