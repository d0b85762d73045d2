package domain

import "time"

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	// ID позиции выдаётся хранилищем; при замене набора позиций выдаются новые.
	ID        int64
	OrderID   int64
	ProductID int64
	Quantity  int
}

// Order агрегирует состояние заказа и его позиции.
// Status: произвольная метка клиента, переходы между значениями не проверяются.
type Order struct {
	ID         int64
	CustomerID string
	Status     string
	CreatedAt  time.Time
	Items      []OrderItem
}

// OrderItemRequest: позиция во входящем запросе на создание/изменение заказа.
type OrderItemRequest struct {
	ProductID int64
	Quantity  int
}

// OrderRequest описывает запрос клиента на создание или замену заказа.
type OrderRequest struct {
	CustomerID string
	Status     string
	Items      []OrderItemRequest
}

// Validate проверяет базовые поля запроса и возвращает первую найденную ошибку.
func (r OrderRequest) Validate() error {
	if len(r.Items) == 0 {
		return ErrItemsRequired
	}
	for _, item := range r.Items {
		if item.ProductID <= 0 {
			return ErrItemProductRequired
		}
		if item.Quantity <= 0 {
			return ErrItemQtyInvalid
		}
	}
	return nil
}

// NewOrder собирает заказ из запроса без идентификаторов.
func (r OrderRequest) NewOrder(createdAt time.Time) Order {
	order := Order{
		CustomerID: r.CustomerID,
		Status:     r.Status,
		CreatedAt:  createdAt,
		Items:      make([]OrderItem, 0, len(r.Items)),
	}
	for _, item := range r.Items {
		order.Items = append(order.Items, OrderItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}
	return order
}

// Clone возвращает копию заказа с независимым слайсом позиций.
func (o Order) Clone() Order {
	dst := o
	dst.Items = append([]OrderItem(nil), o.Items...)
	return dst
}
