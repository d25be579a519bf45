// Package migrations предоставляет обертку над goose для схемы журнала событий в PostgreSQL.
// SQL миграции встроены в бинарник.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed sql/*.sql
var embedded embed.FS

const migrationsDir = "sql"

var setupOnce sync.Once
var setupErr error

func setup() error {
	setupOnce.Do(func() {
		goose.SetBaseFS(embedded)
		setupErr = goose.SetDialect("postgres")
	})
	return setupErr
}

// MigrationStatus представляет статус миграции
type MigrationStatus struct {
	Version   int64
	Name      string
	AppliedAt *time.Time
	Status    string // "pending", "applied"
}

// Open открывает database/sql соединение через драйвер pgx
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// Collect возвращает встроенные миграции по возрастанию версии
func Collect() (goose.Migrations, error) {
	if err := setup(); err != nil {
		return nil, err
	}
	return goose.CollectMigrations(migrationsDir, 0, goose.MaxVersion)
}

// RunMigrations применяет все pending миграции
func RunMigrations(ctx context.Context, db *sql.DB) error {
	if err := setup(); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, migrationsDir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// RunMigrationsLimited применяет не более steps pending миграций
func RunMigrationsLimited(ctx context.Context, db *sql.DB, steps int) error {
	if steps <= 0 {
		return RunMigrations(ctx, db)
	}

	currentVersion, err := GetCurrentVersion(ctx, db)
	if err != nil {
		currentVersion = 0
	}

	migrations, err := Collect()
	if err != nil {
		return fmt.Errorf("failed to collect migrations: %w", err)
	}

	target, ok := targetVersion(migrations, currentVersion, steps)
	if !ok {
		return nil
	}

	if err := goose.UpToContext(ctx, db, migrationsDir, target); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// targetVersion возвращает версию, до которой нужно применить steps миграций
func targetVersion(migrations goose.Migrations, current int64, steps int) (int64, bool) {
	var pending []int64
	for _, m := range migrations {
		if m.Version > current {
			pending = append(pending, m.Version)
		}
	}
	if len(pending) == 0 {
		return 0, false
	}
	if steps > len(pending) {
		steps = len(pending)
	}
	return pending[steps-1], true
}

// RollbackMigrations откатывает N миграций
func RollbackMigrations(ctx context.Context, db *sql.DB, steps int64) error {
	currentVersion, err := GetCurrentVersion(ctx, db)
	if err != nil {
		return err
	}

	target := currentVersion - steps
	if target < 0 {
		target = 0
	}

	if err := goose.DownToContext(ctx, db, migrationsDir, target); err != nil {
		return fmt.Errorf("failed to rollback migrations: %w", err)
	}
	return nil
}

// GetMigrationStatus возвращает статус всех миграций
func GetMigrationStatus(ctx context.Context, db *sql.DB) ([]MigrationStatus, error) {
	migrations, err := Collect()
	if err != nil {
		return nil, fmt.Errorf("failed to collect migrations: %w", err)
	}

	currentVersion, err := GetCurrentVersion(ctx, db)
	if err != nil {
		currentVersion = 0
	}

	statuses := make([]MigrationStatus, 0, len(migrations))
	for _, migration := range migrations {
		status := MigrationStatus{
			Version: migration.Version,
			Name:    migration.Source,
			Status:  "pending",
		}

		if migration.Version <= currentVersion {
			var appliedAt time.Time
			err := db.QueryRowContext(ctx,
				"SELECT tstamp FROM goose_db_version WHERE version_id = $1 AND is_applied = true ORDER BY tstamp DESC LIMIT 1",
				migration.Version,
			).Scan(&appliedAt)
			if err == nil {
				status.AppliedAt = &appliedAt
				status.Status = "applied"
			}
		}

		statuses = append(statuses, status)
	}

	return statuses, nil
}

// GetCurrentVersion возвращает текущую версию БД
func GetCurrentVersion(ctx context.Context, db *sql.DB) (int64, error) {
	if err := setup(); err != nil {
		return 0, err
	}
	version, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}
	return version, nil
}
