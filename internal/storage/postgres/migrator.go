package postgres

import (
	"cmp"
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

//go:embed sql/migrations/*.sql
var schemaFS embed.FS

const (
	schemaDir = "sql/migrations"
	// schemaLockKey — ключ pg_advisory_lock, под которым мигрирует один процесс.
	schemaLockKey = int64(73120419)
)

var (
	schemaJournalDDL = []string{
		`CREATE TABLE IF NOT EXISTS ordercore_schema_migrations (
			version BIGINT PRIMARY KEY,
			name TEXT NOT NULL,
			checksum TEXT NOT NULL DEFAULT '',
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`ALTER TABLE ordercore_schema_migrations ADD COLUMN IF NOT EXISTS checksum TEXT NOT NULL DEFAULT ''`,
	}

	schemaFileName = regexp.MustCompile(`^(\d+)_([a-z0-9_]+)\.(up|down)\.sql$`)
)

// ErrSchemaDrift — уже применённая миграция изменилась на диске.
var ErrSchemaDrift = errors.New("schema drift")

// schemaChange — версия схемы: скрипты наката и отката и контрольная сумма наката.
type schemaChange struct {
	Version  int64
	Name     string
	Up       string
	Down     string
	Checksum string
}

func (c schemaChange) label() string {
	return fmt.Sprintf("%04d_%s", c.Version, c.Name)
}

// MigrationState — состояние схемы относительно встроенных миграций.
type MigrationState struct {
	Version int64
	Applied int
	Pending int
	// Drifted — версии, чей up-скрипт отличается от применённого.
	Drifted []int64
}

// MigrateUp накатывает ожидающие миграции; steps=0 — все.
// Если применённая миграция изменилась, ничего не выполняется.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.withSchemaLock(ctx, func(conn *sql.Conn, changes []schemaChange) error {
		journal, err := readJournal(ctx, conn)
		if err != nil {
			return err
		}
		if drifted := driftedVersions(changes, journal); len(drifted) > 0 {
			return fmt.Errorf("%w: versions %v", ErrSchemaDrift, drifted)
		}
		for _, change := range planUp(changes, journal, steps) {
			if err := runChange(ctx, conn, change, true); err != nil {
				return err
			}
		}
		return nil
	})
}

// MigrateDown откатывает последние steps миграций; steps<=0 — одну.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	return s.withSchemaLock(ctx, func(conn *sql.Conn, changes []schemaChange) error {
		journal, err := readJournal(ctx, conn)
		if err != nil {
			return err
		}
		plan, err := planDown(changes, journal, steps)
		if err != nil {
			return err
		}
		for _, change := range plan {
			if err := runChange(ctx, conn, change, false); err != nil {
				return err
			}
		}
		return nil
	})
}

// MigrationStatus сверяет журнал схемы со встроенными миграциями.
func (s *Store) MigrationStatus(ctx context.Context) (MigrationState, error) {
	if s == nil || s.db == nil {
		return MigrationState{}, fmt.Errorf("postgres store is not initialized")
	}
	changes, err := loadSchemaChanges(schemaFS)
	if err != nil {
		return MigrationState{}, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := s.db.Conn(queryCtx)
	if err != nil {
		return MigrationState{}, fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	if err := ensureJournal(queryCtx, conn); err != nil {
		return MigrationState{}, err
	}
	journal, err := readJournal(queryCtx, conn)
	if err != nil {
		return MigrationState{}, err
	}
	return summarize(changes, journal), nil
}

func (s *Store) withSchemaLock(ctx context.Context, fn func(conn *sql.Conn, changes []schemaChange) error) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}
	changes, err := loadSchemaChanges(schemaFS)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", schemaLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", schemaLockKey)
	}()

	if err := ensureJournal(ctx, conn); err != nil {
		return err
	}
	return fn(conn, changes)
}

func ensureJournal(ctx context.Context, conn *sql.Conn) error {
	for _, ddl := range schemaJournalDDL {
		if _, err := conn.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure migration journal: %w", err)
		}
	}
	return nil
}

// readJournal возвращает контрольные суммы применённых версий.
// Пустая сумма означает запись, сделанную до появления сумм.
func readJournal(ctx context.Context, conn *sql.Conn) (map[int64]string, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version, checksum FROM ordercore_schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query migration journal: %w", err)
	}
	defer rows.Close()

	journal := make(map[int64]string)
	for rows.Next() {
		var (
			version  int64
			checksum string
		)
		if err := rows.Scan(&version, &checksum); err != nil {
			return nil, fmt.Errorf("scan migration journal: %w", err)
		}
		journal[version] = checksum
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate migration journal: %w", err)
	}
	return journal, nil
}

// runChange выполняет скрипт и правку журнала одной транзакцией.
func runChange(ctx context.Context, conn *sql.Conn, change schemaChange, up bool) error {
	direction, script := "up", change.Up
	record := `INSERT INTO ordercore_schema_migrations (version, name, checksum, applied_at) VALUES ($1, $2, $3, NOW())`
	args := []any{change.Version, change.Name, change.Checksum}
	if !up {
		direction, script = "down", change.Down
		record = `DELETE FROM ordercore_schema_migrations WHERE version = $1`
		args = args[:1]
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s %s: %w", direction, change.label(), err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("run %s %s: %w", direction, change.label(), err)
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return fmt.Errorf("journal %s %s: %w", direction, change.label(), err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s %s: %w", direction, change.label(), err)
	}
	return nil
}

// planUp выбирает неприменённые версии по возрастанию.
func planUp(changes []schemaChange, journal map[int64]string, steps int) []schemaChange {
	var plan []schemaChange
	for _, change := range changes {
		if _, done := journal[change.Version]; done {
			continue
		}
		plan = append(plan, change)
		if steps > 0 && len(plan) == steps {
			break
		}
	}
	return plan
}

// planDown выбирает последние применённые версии по убыванию.
func planDown(changes []schemaChange, journal map[int64]string, steps int) ([]schemaChange, error) {
	if steps <= 0 {
		steps = 1
	}
	byVersion := make(map[int64]schemaChange, len(changes))
	for _, change := range changes {
		byVersion[change.Version] = change
	}

	applied := make([]int64, 0, len(journal))
	for version := range journal {
		applied = append(applied, version)
	}
	slices.Sort(applied)
	slices.Reverse(applied)

	plan := make([]schemaChange, 0, steps)
	for _, version := range applied[:min(steps, len(applied))] {
		change, ok := byVersion[version]
		if !ok {
			return nil, fmt.Errorf("cannot roll back version %d: no embedded migration", version)
		}
		plan = append(plan, change)
	}
	return plan, nil
}

func driftedVersions(changes []schemaChange, journal map[int64]string) []int64 {
	var drifted []int64
	for _, change := range changes {
		sum, done := journal[change.Version]
		if done && sum != "" && sum != change.Checksum {
			drifted = append(drifted, change.Version)
		}
	}
	return drifted
}

func summarize(changes []schemaChange, journal map[int64]string) MigrationState {
	state := MigrationState{Applied: len(journal), Drifted: driftedVersions(changes, journal)}
	for version := range journal {
		state.Version = max(state.Version, version)
	}
	state.Pending = len(planUp(changes, journal, 0))
	return state
}

// loadSchemaChanges собирает пары NNNN_name.up.sql / NNNN_name.down.sql.
func loadSchemaChanges(fsys fs.FS) ([]schemaChange, error) {
	entries, err := fs.ReadDir(fsys, schemaDir)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	byVersion := make(map[int64]*schemaChange)
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}
		m := schemaFileName.FindStringSubmatch(entry.Name())
		if m == nil {
			return nil, fmt.Errorf("invalid migration file name: %s", entry.Name())
		}
		version, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse version of %s: %w", entry.Name(), err)
		}

		raw, err := fs.ReadFile(fsys, path.Join(schemaDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		script := strings.TrimSpace(string(raw))
		if script == "" {
			return nil, fmt.Errorf("migration file is empty: %s", entry.Name())
		}

		change, ok := byVersion[version]
		if !ok {
			change = &schemaChange{Version: version, Name: m[2]}
			byVersion[version] = change
		}
		if change.Name != m[2] {
			return nil, fmt.Errorf("version %d has two names: %s and %s", version, change.Name, m[2])
		}

		target := &change.Up
		if m[3] == "down" {
			target = &change.Down
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate %s script for version %d", m[3], version)
		}
		*target = script
	}
	if len(byVersion) == 0 {
		return nil, errors.New("no migration files found")
	}

	changes := make([]schemaChange, 0, len(byVersion))
	for _, change := range byVersion {
		if change.Up == "" || change.Down == "" {
			return nil, fmt.Errorf("migration %s must have both up and down files", change.label())
		}
		sum := sha256.Sum256([]byte(change.Up))
		change.Checksum = hex.EncodeToString(sum[:])
		changes = append(changes, *change)
	}
	slices.SortFunc(changes, func(a, b schemaChange) int {
		return cmp.Compare(a.Version, b.Version)
	})
	return changes, nil
}
