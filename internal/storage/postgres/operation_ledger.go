package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type operationLedger struct {
	db  *sql.DB
	now func() time.Time
}

// NewOperationLedger создаёт журнал применённых операций поверх таблицы processed_operations.
func NewOperationLedger(store *Store) domain.OperationLedger {
	return &operationLedger{db: store.DB(), now: time.Now}
}

// Claim вставляет запись processing или забирает чужую запись с истёкшим сроком.
// Живая запись не перезаписывается: по её статусу выбирается ошибка.
func (l *operationLedger) Claim(operationID string, leaseUntil time.Time) error {
	operationID = strings.TrimSpace(operationID)
	if operationID == "" {
		return domain.ErrOperationIDRequired
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	now := l.now().UTC()
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO processed_operations (operation_id, status, expires_at, created_at, updated_at)
		VALUES ($1, 'processing', $2, $3, $3)
		ON CONFLICT (operation_id) DO UPDATE
		SET status = 'processing',
		    expires_at = EXCLUDED.expires_at,
		    created_at = EXCLUDED.created_at,
		    updated_at = EXCLUDED.updated_at
		WHERE processed_operations.expires_at <= EXCLUDED.updated_at
	`, operationID, leaseUntil.UTC(), now)
	if err != nil {
		return fmt.Errorf("claim operation: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("operation rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	existing, err := l.Get(operationID)
	if err != nil {
		if errors.Is(err, domain.ErrOperationNotFound) {
			// Запись удалили между INSERT и SELECT; повторная доставка попробует снова.
			return domain.ErrOperationInProgress
		}
		return err
	}
	if existing.Status == domain.OperationStatusApplied {
		return domain.ErrOperationAlreadyApplied
	}
	return domain.ErrOperationInProgress
}

func (l *operationLedger) MarkApplied(operationID string, retainUntil time.Time) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := l.db.ExecContext(ctx, `
		UPDATE processed_operations
		SET status = 'applied',
		    expires_at = $2,
		    updated_at = $3
		WHERE operation_id = $1
	`, operationID, retainUntil.UTC(), l.now().UTC())
	if err != nil {
		return fmt.Errorf("mark operation applied: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("operation rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrOperationNotFound
	}
	return nil
}

// Release удаляет только запись processing; applied остаётся.
func (l *operationLedger) Release(operationID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := l.db.ExecContext(ctx, `
		DELETE FROM processed_operations
		WHERE operation_id = $1
		  AND status = 'processing'
	`, operationID)
	if err != nil {
		return fmt.Errorf("release operation: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("operation rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	_, err = l.Get(operationID)
	return err
}

func (l *operationLedger) Get(operationID string) (domain.OperationRecord, error) {
	operationID = strings.TrimSpace(operationID)
	if operationID == "" {
		return domain.OperationRecord{}, domain.ErrOperationIDRequired
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		record    domain.OperationRecord
		statusRaw string
	)
	err := l.db.QueryRowContext(ctx, `
		SELECT operation_id, status, expires_at, created_at, updated_at
		FROM processed_operations
		WHERE operation_id = $1
	`, operationID).Scan(
		&record.OperationID,
		&statusRaw,
		&record.ExpiresAt,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.OperationRecord{}, domain.ErrOperationNotFound
		}
		return domain.OperationRecord{}, fmt.Errorf("get operation record: %w", err)
	}

	record.Status = domain.OperationStatus(statusRaw)
	if !record.Status.Valid() {
		return domain.OperationRecord{}, fmt.Errorf("invalid operation status %q for %s", statusRaw, operationID)
	}
	record.ExpiresAt = record.ExpiresAt.UTC()
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()

	return record, nil
}

func (l *operationLedger) DeleteExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = l.now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		res sql.Result
		err error
	)

	if limit > 0 {
		res, err = l.db.ExecContext(ctx, `
			DELETE FROM processed_operations
			WHERE operation_id IN (
				SELECT operation_id
				FROM processed_operations
				WHERE expires_at <= $1
				ORDER BY expires_at ASC
				LIMIT $2
			)
		`, before, limit)
	} else {
		res, err = l.db.ExecContext(ctx, `
			DELETE FROM processed_operations
			WHERE expires_at <= $1
		`, before)
	}
	if err != nil {
		return 0, fmt.Errorf("delete expired operations: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("operation rows affected: %w", err)
	}

	return int(affected), nil
}

var _ domain.OperationLedger = (*operationLedger)(nil)
