package eventsourcing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/akriventsev/orderflow/framework/core"
)

const (
	pgUniqueViolation = "23505"

	pgInsertColumns = "id, aggregate_id, aggregate_type, event_type, schema_version, event_data, metadata, version, occurred_at"
	pgSelectColumns = "id, aggregate_id, aggregate_type, event_type, schema_version, event_data, metadata, version, position, occurred_at, created_at"
)

// PostgresEventStoreConfig конфигурация для PostgreSQL Event Store
type PostgresEventStoreConfig struct {
	DSN        string
	SchemaName string
	TableName  string
	MaxConns   int32
}

// Validate проверяет корректность конфигурации
func (c PostgresEventStoreConfig) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("DSN cannot be empty")
	}
	if c.TableName == "" {
		return fmt.Errorf("table name cannot be empty")
	}
	if c.SchemaName == "" {
		return fmt.Errorf("schema name cannot be empty")
	}
	return nil
}

// DefaultPostgresEventStoreConfig возвращает конфигурацию по умолчанию
func DefaultPostgresEventStoreConfig() PostgresEventStoreConfig {
	return PostgresEventStoreConfig{
		SchemaName: "public",
		TableName:  "event_store",
		MaxConns:   25,
	}
}

// PostgresEventStore реализация EventStore для PostgreSQL.
// Схема создается миграциями из framework/migrations.
type PostgresEventStore struct {
	config PostgresEventStoreConfig
	pool   *pgxpool.Pool
	table  string
}

// NewPostgresEventStore создает новый PostgreSQL Event Store
func NewPostgresEventStore(ctx context.Context, config PostgresEventStoreConfig) (*PostgresEventStore, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid postgres config: %w", err)
	}

	poolConfig, err := pgxpool.ParseConfig(config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	return NewPostgresEventStoreFromPool(pool, config), nil
}

// NewPostgresEventStoreFromPool создает хранилище поверх существующего пула
func NewPostgresEventStoreFromPool(pool *pgxpool.Pool, config PostgresEventStoreConfig) *PostgresEventStore {
	return &PostgresEventStore{
		config: config,
		pool:   pool,
		table:  pgx.Identifier{config.SchemaName, config.TableName}.Sanitize(),
	}
}

// Start запускает адаптер
func (s *PostgresEventStore) Start(ctx context.Context) error {
	return nil
}

// Stop закрывает пул соединений
func (s *PostgresEventStore) Stop(ctx context.Context) error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// IsRunning проверяет, запущен ли адаптер
func (s *PostgresEventStore) IsRunning() bool {
	return s.pool != nil
}

// Name возвращает имя компонента
func (s *PostgresEventStore) Name() string {
	return "postgres-event-store"
}

// Type возвращает тип компонента
func (s *PostgresEventStore) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// HealthCheck проверяет доступность PostgreSQL
func (s *PostgresEventStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Pool возвращает пул соединений для связанных хранилищ
func (s *PostgresEventStore) Pool() *pgxpool.Pool {
	return s.pool
}

// AppendEvents дописывает события в поток агрегата одной транзакцией.
// Запись в один поток сериализуется advisory lock по aggregateID.
func (s *PostgresEventStore) AppendEvents(ctx context.Context, aggregateID string, expectedVersion int64, events []StoredEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin append %s: %w", aggregateID, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, aggregateID); err != nil {
		return fmt.Errorf("lock stream %s: %w", aggregateID, err)
	}

	var current int64
	err = tx.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM `+s.table+` WHERE aggregate_id = $1`, aggregateID).Scan(&current)
	if err != nil {
		return fmt.Errorf("read stream version %s: %w", aggregateID, err)
	}
	if err := checkExpectedVersion(expectedVersion, current); err != nil {
		return err
	}

	insert := `INSERT INTO ` + s.table + ` (` + pgInsertColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	batch := &pgx.Batch{}
	for i, event := range events {
		batch.Queue(insert,
			event.ID, aggregateID, event.AggregateType, event.EventType, event.SchemaVersion,
			event.EventData, event.Metadata, current+int64(i)+1, event.OccurredAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: %s", ErrConcurrencyConflict, pgErr.Detail)
		}
		return fmt.Errorf("insert events %s: %w", aggregateID, err)
	}

	return tx.Commit(ctx)
}

// GetEvents возвращает события агрегата начиная с fromVersion
func (s *PostgresEventStore) GetEvents(ctx context.Context, aggregateID string, fromVersion int64) ([]StoredEvent, error) {
	return s.query(ctx,
		`SELECT `+pgSelectColumns+` FROM `+s.table+` WHERE aggregate_id = $1 AND version >= $2 ORDER BY version`,
		aggregateID, fromVersion)
}

// GetAllEvents возвращает события с позицией больше fromPosition
func (s *PostgresEventStore) GetAllEvents(ctx context.Context, fromPosition int64, limit int) ([]StoredEvent, error) {
	if limit <= 0 {
		limit = 1000
	}
	return s.query(ctx,
		`SELECT `+pgSelectColumns+` FROM `+s.table+` WHERE position > $1 ORDER BY position LIMIT $2`,
		fromPosition, limit)
}

func (s *PostgresEventStore) query(ctx context.Context, query string, args ...any) ([]StoredEvent, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	// порядок колонок совпадает с порядком полей StoredEvent
	events, err := pgx.CollectRows(rows, pgx.RowToStructByPos[StoredEvent])
	if err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}
	return events, nil
}
