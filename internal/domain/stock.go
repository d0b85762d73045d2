package domain

// StockRecord хранит текущий остаток товара на складе.
// QuantityInStock может уйти в минус: списание не проверяет остаток повторно.
type StockRecord struct {
	ProductID       int64
	Name            string
	Description     string
	Price           float64
	QuantityInStock int
}

// Validate проверяет поля товара при создании.
func (r StockRecord) Validate() error {
	if r.ProductID < 0 || r.Price < 0 {
		return ErrProductInvalid
	}
	return nil
}
