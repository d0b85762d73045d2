package postgres

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// Schema: набор миграций одного сервиса.
type Schema string

const (
	// SchemaSales: заказы и outbox сервиса продаж.
	SchemaSales Schema = "sales"
	// SchemaStock: товары и журнал применённых операций сервиса склада.
	SchemaStock Schema = "stock"
)

//go:embed sql/migrations/sales/*.sql sql/migrations/stock/*.sql
var migrationsFS embed.FS

// 0001_orders.up.sql -> версия 1, имя orders, направление up.
var migrationFileName = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// ParseSchema разбирает имя набора миграций.
func ParseSchema(raw string) (Schema, error) {
	switch schema := Schema(strings.ToLower(strings.TrimSpace(raw))); schema {
	case SchemaSales, SchemaStock:
		return schema, nil
	default:
		return "", fmt.Errorf("unknown migration schema %q (expected sales or stock)", raw)
	}
}

// advisoryLockKey разводит блокировки наборов, чтобы сервисы мигрировали независимо.
func (s Schema) advisoryLockKey() int64 {
	const base = int64(10824701)
	if s == SchemaStock {
		return base + 1
	}
	return base
}

type migration struct {
	version int64
	name    string
	up      string
	down    string
}

func (m migration) String() string {
	return fmt.Sprintf("%04d_%s", m.version, m.name)
}

// loadMigrations читает пары up/down набора schema и сортирует их по версии.
func loadMigrations(fsys fs.FS, schema Schema) ([]migration, error) {
	files, err := fs.Glob(fsys, path.Join("sql/migrations", string(schema), "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("list %s migrations: %w", schema, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no migration files found for schema %s", schema)
	}

	byVersion := make(map[int64]*migration, len(files)/2)
	for _, file := range files {
		base := path.Base(file)
		parts := migrationFileName.FindStringSubmatch(base)
		if parts == nil {
			return nil, fmt.Errorf("invalid migration file name: %s", base)
		}
		version, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version from %s: %w", base, err)
		}

		raw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", file, err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration file is empty: %s", base)
		}

		m := byVersion[version]
		if m == nil {
			m = &migration{version: version, name: parts[2]}
			byVersion[version] = m
		}
		if m.name != parts[2] {
			return nil, fmt.Errorf("migration name mismatch for version %d: %s vs %s", version, m.name, parts[2])
		}

		slot := &m.up
		if parts[3] == "down" {
			slot = &m.down
		}
		if *slot != "" {
			return nil, fmt.Errorf("duplicate %s migration for version %d", parts[3], version)
		}
		*slot = body
	}

	result := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.up == "" || m.down == "" {
			return nil, fmt.Errorf("migration %s must have both up and down files", m)
		}
		result = append(result, *m)
	}
	slices.SortFunc(result, func(a, b migration) int { return compareVersions(a.version, b.version) })
	return result, nil
}

func compareVersions(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// planUp выбирает неприменённые миграции по возрастанию версии; steps<=0 означает все.
func planUp(all []migration, applied map[int64]bool, steps int) []migration {
	var plan []migration
	for _, m := range all {
		if applied[m.version] {
			continue
		}
		plan = append(plan, m)
		if steps > 0 && len(plan) == steps {
			break
		}
	}
	return plan
}

// planDown откатывает steps последних применённых версий, начиная с самой новой.
func planDown(all []migration, applied map[int64]bool, steps int) ([]migration, error) {
	known := make(map[int64]migration, len(all))
	for _, m := range all {
		known[m.version] = m
	}

	versions := make([]int64, 0, len(applied))
	for version := range applied {
		versions = append(versions, version)
	}
	slices.SortFunc(versions, func(a, b int64) int { return compareVersions(b, a) })
	if steps > 0 && len(versions) > steps {
		versions = versions[:steps]
	}

	plan := make([]migration, 0, len(versions))
	for _, version := range versions {
		m, ok := known[version]
		if !ok {
			return nil, fmt.Errorf("cannot rollback unknown migration version %d", version)
		}
		plan = append(plan, m)
	}
	return plan, nil
}
