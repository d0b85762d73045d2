package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const schemaMigrationsDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    schema_set TEXT NOT NULL,
    version BIGINT NOT NULL,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (schema_set, version)
)`

var errStoreNotInitialized = errors.New("postgres store is not initialized")

// MigrationState описывает состояние набора миграций в базе.
type MigrationState struct {
	Version int64
	Applied int
	Pending int
}

// MigrateUp применяет up-миграции набора schema; steps<=0 применяет все.
func (s *Store) MigrateUp(ctx context.Context, schema Schema, steps int) error {
	return s.withMigrationLock(ctx, schema, func(conn *sql.Conn, all []migration, applied map[int64]bool) error {
		for _, m := range planUp(all, applied, steps) {
			if err := runMigration(ctx, conn, schema, m, m.up, recordApplied); err != nil {
				return err
			}
		}
		return nil
	})
}

// MigrateDown откатывает steps последних миграций; steps<=0 откатывает одну.
func (s *Store) MigrateDown(ctx context.Context, schema Schema, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.withMigrationLock(ctx, schema, func(conn *sql.Conn, all []migration, applied map[int64]bool) error {
		plan, err := planDown(all, applied, steps)
		if err != nil {
			return fmt.Errorf("%s: %w", schema, err)
		}
		for _, m := range plan {
			if err := runMigration(ctx, conn, schema, m, m.down, forgetApplied); err != nil {
				return err
			}
		}
		return nil
	})
}

// MigrationStatus возвращает текущую версию набора и число применённых и ожидающих миграций.
func (s *Store) MigrationStatus(ctx context.Context, schema Schema) (MigrationState, error) {
	if s == nil || s.db == nil {
		return MigrationState{}, errStoreNotInitialized
	}
	all, err := loadMigrations(migrationsFS, schema)
	if err != nil {
		return MigrationState{}, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	conn, err := s.db.Conn(queryCtx)
	if err != nil {
		return MigrationState{}, fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(queryCtx, schemaMigrationsDDL); err != nil {
		return MigrationState{}, fmt.Errorf("ensure migration table: %w", err)
	}
	applied, err := appliedVersions(queryCtx, conn, schema)
	if err != nil {
		return MigrationState{}, err
	}

	state := MigrationState{Applied: len(applied)}
	for version := range applied {
		state.Version = max(state.Version, version)
	}
	state.Pending = len(planUp(all, applied, 0))
	return state, nil
}

// withMigrationLock держит advisory lock набора на отдельном соединении на время fn.
func (s *Store) withMigrationLock(ctx context.Context, schema Schema, fn func(*sql.Conn, []migration, map[int64]bool) error) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}
	all, err := loadMigrations(migrationsFS, schema)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", schema.advisoryLockKey()); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = conn.ExecContext(unlockCtx, "SELECT pg_advisory_unlock($1)", schema.advisoryLockKey())
	}()

	if _, err := conn.ExecContext(ctx, schemaMigrationsDDL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	applied, err := appliedVersions(ctx, conn, schema)
	if err != nil {
		return err
	}
	return fn(conn, all, applied)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func recordApplied(ctx context.Context, tx execer, schema Schema, m migration) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (schema_set, version, name, applied_at) VALUES ($1, $2, $3, NOW())`,
		string(schema), m.version, m.name)
	return err
}

func forgetApplied(ctx context.Context, tx execer, schema Schema, m migration) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM schema_migrations WHERE schema_set = $1 AND version = $2`,
		string(schema), m.version)
	return err
}

// runMigration выполняет body и обновляет schema_migrations в одной транзакции.
func runMigration(
	ctx context.Context,
	conn *sql.Conn,
	schema Schema,
	m migration,
	body string,
	record func(context.Context, execer, Schema, migration) error,
) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx %s/%s: %w", schema, m, err)
	}
	if _, err := tx.ExecContext(ctx, body); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("execute migration %s/%s: %w", schema, m, err)
	}
	if err := record(ctx, tx, schema, m); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %s/%s: %w", schema, m, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s/%s: %w", schema, m, err)
	}
	return nil
}

func appliedVersions(ctx context.Context, conn *sql.Conn, schema Schema) (map[int64]bool, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM schema_migrations WHERE schema_set = $1`, string(schema))
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]bool)
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return applied, nil
}
