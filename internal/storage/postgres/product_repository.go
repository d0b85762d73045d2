package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type productRepository struct {
	db *sql.DB
}

// NewProductRepository создаёт PostgreSQL-реализацию StockRepository.
func NewProductRepository(store *Store) domain.StockRepository {
	return &productRepository{db: store.DB()}
}

func (r *productRepository) Create(record domain.StockRecord) (domain.StockRecord, error) {
	if err := record.Validate(); err != nil {
		return domain.StockRecord{}, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if record.ProductID == 0 {
		if err := r.db.QueryRowContext(ctx, `
			INSERT INTO products (name, description, price, quantity_in_stock)
			VALUES ($1,$2,$3,$4)
			RETURNING id
		`, record.Name, record.Description, record.Price, record.QuantityInStock).Scan(&record.ProductID); err != nil {
			return domain.StockRecord{}, fmt.Errorf("insert product: %w", err)
		}
		return record, nil
	}

	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO products (id, name, description, price, quantity_in_stock)
			VALUES ($1,$2,$3,$4,$5)
		`, record.ProductID, record.Name, record.Description, record.Price, record.QuantityInStock); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrProductInvalid
			}
			return fmt.Errorf("insert product: %w", err)
		}

		// Явный id не двигает sequence; подтягиваем её, чтобы автоматические id не столкнулись.
		if _, err := tx.ExecContext(ctx, `
			SELECT setval(pg_get_serial_sequence('products', 'id'), GREATEST((SELECT MAX(id) FROM products), 1))
		`); err != nil {
			return fmt.Errorf("advance product sequence: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.StockRecord{}, err
	}
	return record, nil
}

func (r *productRepository) Get(productID int64) (domain.StockRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	record, err := scanProduct(r.db.QueryRowContext(ctx, `
		SELECT id, name, description, price, quantity_in_stock
		FROM products
		WHERE id = $1
	`, productID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockRecord{}, domain.ErrProductNotFound
		}
		return domain.StockRecord{}, fmt.Errorf("select product: %w", err)
	}
	return record, nil
}

func (r *productRepository) List() ([]domain.StockRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, description, price, quantity_in_stock
		FROM products
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	result := make([]domain.StockRecord, 0)
	for rows.Next() {
		record, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		result = append(result, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product rows: %w", err)
	}
	return result, nil
}

func (r *productRepository) SetQuantity(productID int64, quantity int) (domain.StockRecord, error) {
	return r.updateReturning(`
		UPDATE products
		SET quantity_in_stock = $2
		WHERE id = $1
		RETURNING id, name, description, price, quantity_in_stock
	`, "set product quantity", productID, quantity)
}

// ApplyDecrement вычитает количество одним UPDATE, без чтения остатка и без нижней границы.
func (r *productRepository) ApplyDecrement(productID int64, quantity int) (domain.StockRecord, error) {
	return r.updateReturning(`
		UPDATE products
		SET quantity_in_stock = quantity_in_stock - $2
		WHERE id = $1
		RETURNING id, name, description, price, quantity_in_stock
	`, "apply stock decrement", productID, quantity)
}

func (r *productRepository) Delete(productID int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

func (r *productRepository) updateReturning(query, op string, productID int64, quantity int) (domain.StockRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	record, err := scanProduct(r.db.QueryRowContext(ctx, query, productID, quantity))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockRecord{}, domain.ErrProductNotFound
		}
		return domain.StockRecord{}, fmt.Errorf("%s: %w", op, err)
	}
	return record, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.StockRecord, error) {
	var record domain.StockRecord
	err := row.Scan(&record.ProductID, &record.Name, &record.Description, &record.Price, &record.QuantityInStock)
	return record, err
}

var _ domain.StockRepository = (*productRepository)(nil)
