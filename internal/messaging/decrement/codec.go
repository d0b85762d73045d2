// Package decrement кодирует и разбирает инструкции списания остатка.
//
// Поддерживаются два формата: legacy-текст
// "Order {id} created, reduce stock for product {p} by {q}" и
// версионированный JSON-конверт с идентификатором операции.
package decrement

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// Format выбирает формат исходящих сообщений.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

const (
	ContentTypeText = "text/plain"
	ContentTypeJSON = "application/json"

	// HeaderMessageVersion дублирует версию конверта в заголовках AMQP.
	HeaderMessageVersion = "x-message-version"

	messageType = "stock.decrement"
	textMarker  = "reduce stock for product "
	textBy      = " by "
)

// ParseFormat разбирает значение из конфигурации.
func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported message format %q (use text|json)", raw)
	}
}

// Envelope: структурированное сообщение версии 1.
type Envelope struct {
	Version     int    `json:"version"`
	Type        string `json:"type"`
	OperationID string `json:"operation_id"`
	Kind        string `json:"kind"`
	OrderID     int64  `json:"order_id"`
	ProductID   int64  `json:"product_id,omitempty"`
	Quantity    int    `json:"quantity,omitempty"`
}

// Encoded: тело сообщения вместе с метаданными для транспорта.
type Encoded struct {
	Body        []byte
	ContentType string
	MessageID   string
	Headers     map[string]any
}

// Encode сериализует сообщение в выбранном формате.
func Encode(msg domain.DecrementMessage, format Format) (Encoded, error) {
	if !msg.Kind.Valid() {
		return Encoded{}, fmt.Errorf("encode decrement: unsupported kind %q", msg.Kind)
	}

	switch format {
	case FormatJSON:
		body, err := EncodeJSON(msg)
		if err != nil {
			return Encoded{}, err
		}
		return Encoded{
			Body:        body,
			ContentType: ContentTypeJSON,
			MessageID:   msg.OperationID,
			Headers:     map[string]any{HeaderMessageVersion: int32(domain.DecrementMessageVersion)},
		}, nil
	case FormatText, "":
		return Encoded{
			Body:        []byte(FormatLegacyText(msg)),
			ContentType: ContentTypeText,
		}, nil
	default:
		return Encoded{}, fmt.Errorf("encode decrement: unsupported format %q", format)
	}
}

// FormatLegacyText возвращает текст в формате исходного протокола.
func FormatLegacyText(msg domain.DecrementMessage) string {
	if msg.Kind == domain.DecrementKindDeleted {
		return fmt.Sprintf("Order %d deleted", msg.OrderID)
	}
	return fmt.Sprintf("Order %d %s, reduce stock for product %d by %d", msg.OrderID, msg.Kind, msg.ProductID, msg.Quantity)
}

// EncodeJSON сериализует сообщение в конверт версии 1.
func EncodeJSON(msg domain.DecrementMessage) ([]byte, error) {
	if strings.TrimSpace(msg.OperationID) == "" {
		return nil, fmt.Errorf("encode decrement: %w", domain.ErrOperationIDRequired)
	}

	body, err := json.Marshal(Envelope{
		Version:     domain.DecrementMessageVersion,
		Type:        messageType,
		OperationID: msg.OperationID,
		Kind:        string(msg.Kind),
		OrderID:     msg.OrderID,
		ProductID:   msg.ProductID,
		Quantity:    msg.Quantity,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal decrement envelope: %w", err)
	}
	return body, nil
}

// Decode разбирает тело сообщения.
// JSON выбирается по content type или по первому символу тела, иначе legacy-текст.
func Decode(body []byte, contentType string) (domain.DecrementMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if strings.HasPrefix(strings.ToLower(contentType), ContentTypeJSON) || bytes.HasPrefix(trimmed, []byte("{")) {
		return DecodeJSON(trimmed)
	}
	return DecodeText(string(body))
}

// DecodeJSON строго разбирает конверт: неизвестные поля, версии и kind отклоняются.
func DecodeJSON(body []byte) (domain.DecrementMessage, error) {
	var envelope Envelope
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&envelope); err != nil {
		return domain.DecrementMessage{}, fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
	}
	if dec.More() {
		return domain.DecrementMessage{}, fmt.Errorf("%w: trailing data after envelope", domain.ErrMalformedMessage)
	}

	if envelope.Version != domain.DecrementMessageVersion {
		return domain.DecrementMessage{}, fmt.Errorf("%w: %d", domain.ErrUnsupportedVersion, envelope.Version)
	}
	if envelope.Type != messageType {
		return domain.DecrementMessage{}, fmt.Errorf("%w: type %q", domain.ErrUnrecognizedMessage, envelope.Type)
	}

	msg := domain.DecrementMessage{
		Version:     envelope.Version,
		OperationID: strings.TrimSpace(envelope.OperationID),
		Kind:        domain.DecrementKind(envelope.Kind),
		OrderID:     envelope.OrderID,
		ProductID:   envelope.ProductID,
		Quantity:    envelope.Quantity,
	}
	if msg.OperationID == "" {
		return domain.DecrementMessage{}, fmt.Errorf("%w: %v", domain.ErrMalformedMessage, domain.ErrOperationIDRequired)
	}
	if !msg.Kind.Valid() {
		return domain.DecrementMessage{}, fmt.Errorf("%w: kind %q", domain.ErrMalformedMessage, envelope.Kind)
	}
	if msg.Kind.AffectsStock() && (msg.ProductID <= 0 || msg.Quantity <= 0) {
		return domain.DecrementMessage{}, fmt.Errorf("%w: product_id and quantity must be positive", domain.ErrMalformedMessage)
	}

	return msg, nil
}

// DecodeText разбирает legacy-текст.
//
// Без маркера сообщение не распознаётся; "Order N deleted" разбирается как уведомление.
// После маркера должен идти ровно "<productId> by <quantity>", оба целые; знак quantity не проверяется.
func DecodeText(text string) (domain.DecrementMessage, error) {
	parts := strings.Split(text, textMarker)
	if len(parts) < 2 {
		if orderID, ok := parseDeleteNotice(text); ok {
			return domain.DecrementMessage{Kind: domain.DecrementKindDeleted, OrderID: orderID}, nil
		}
		return domain.DecrementMessage{}, domain.ErrUnrecognizedMessage
	}

	tail := strings.Split(parts[1], textBy)
	if len(tail) != 2 {
		return domain.DecrementMessage{}, fmt.Errorf("%w: %q", domain.ErrMalformedMessage, parts[1])
	}

	productID, err := strconv.ParseInt(strings.TrimSpace(tail[0]), 10, 64)
	if err != nil {
		return domain.DecrementMessage{}, fmt.Errorf("%w: product id: %v", domain.ErrMalformedMessage, err)
	}
	quantity, err := strconv.Atoi(strings.TrimSpace(tail[1]))
	if err != nil {
		return domain.DecrementMessage{}, fmt.Errorf("%w: quantity: %v", domain.ErrMalformedMessage, err)
	}
	// Legacy-текст вычитает любое целое: отрицательное количество увеличивает остаток.

	orderID, kind := parseTextHeader(parts[0])
	return domain.DecrementMessage{
		Kind:      kind,
		OrderID:   orderID,
		ProductID: productID,
		Quantity:  quantity,
	}, nil
}

// parseTextHeader достаёт id заказа и kind из префикса "Order 42 created, ".
// Префикс не обязателен: достаточно маркера.
func parseTextHeader(prefix string) (int64, domain.DecrementKind) {
	fields := strings.Fields(strings.TrimSuffix(strings.TrimSpace(prefix), ","))
	kind := domain.DecrementKindCreated
	if len(fields) < 2 || fields[0] != "Order" {
		return 0, kind
	}

	orderID, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		orderID = 0
	}
	if len(fields) >= 3 && domain.DecrementKind(fields[2]) == domain.DecrementKindUpdated {
		kind = domain.DecrementKindUpdated
	}
	return orderID, kind
}

func parseDeleteNotice(text string) (int64, bool) {
	fields := strings.Fields(text)
	if len(fields) != 3 || fields[0] != "Order" || fields[2] != string(domain.DecrementKindDeleted) {
		return 0, false
	}
	orderID, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return orderID, true
}
