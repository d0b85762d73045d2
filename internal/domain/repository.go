package domain

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет заказ и его позиции одной единицей, выдаёт идентификаторы.
	Create(order Order) (Order, error)
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(id int64) (Order, error)
	// List возвращает все заказы в порядке создания.
	List() ([]Order, error)
	// Update заменяет поля и весь набор позиций заказа атомарно.
	Update(order Order) (Order, error)
	// Delete удаляет заказ вместе с позициями.
	Delete(id int64) error
}

// StockRepository описывает хранилище остатков склада.
type StockRepository interface {
	// Create сохраняет товар; ProductID == 0 означает "выдать идентификатор".
	Create(record StockRecord) (StockRecord, error)
	// Get возвращает товар или ErrProductNotFound.
	Get(productID int64) (StockRecord, error)
	List() ([]StockRecord, error)
	// SetQuantity перезаписывает остаток товара.
	SetQuantity(productID int64, quantity int) (StockRecord, error)
	// ApplyDecrement уменьшает остаток на quantity без нижней границы.
	ApplyDecrement(productID int64, quantity int) (StockRecord, error)
	Delete(productID int64) error
}
