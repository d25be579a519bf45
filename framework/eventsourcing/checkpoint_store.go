package eventsourcing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const checkpointTable = "relay_checkpoints"

// Checkpoint позиция именованного читателя журнала
type Checkpoint struct {
	Name      string
	Position  int64
	UpdatedAt time.Time
}

// CheckpointStore хранит последнюю обработанную глобальную позицию журнала
// для именованных читателей (ретранслятор).
type CheckpointStore interface {
	// Position возвращает 0, если позиция еще не сохранялась
	Position(ctx context.Context, name string) (int64, error)
	Advance(ctx context.Context, name string, position int64) error
	// Reset возвращает читателя к началу журнала
	Reset(ctx context.Context, name string) error
	List(ctx context.Context) ([]Checkpoint, error)
}

// PostgresCheckpointStore хранит позиции в таблице relay_checkpoints,
// которую создают миграции.
type PostgresCheckpointStore struct {
	pool *pgxpool.Pool
}

func NewPostgresCheckpointStore(pool *pgxpool.Pool) *PostgresCheckpointStore {
	return &PostgresCheckpointStore{pool: pool}
}

func (s *PostgresCheckpointStore) Position(ctx context.Context, name string) (int64, error) {
	var position int64
	row := s.pool.QueryRow(ctx, `SELECT position FROM `+checkpointTable+` WHERE name = $1`, name)
	switch err := row.Scan(&position); {
	case errors.Is(err, pgx.ErrNoRows):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("read checkpoint %q: %w", name, err)
	}
	return position, nil
}

func (s *PostgresCheckpointStore) Advance(ctx context.Context, name string, position int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+checkpointTable+` AS c (name, position, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE
		SET position = EXCLUDED.position, updated_at = NOW()
		WHERE c.position < EXCLUDED.position`, name, position)
	if err != nil {
		return fmt.Errorf("advance checkpoint %q to %d: %w", name, position, err)
	}
	return nil
}

func (s *PostgresCheckpointStore) Reset(ctx context.Context, name string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM `+checkpointTable+` WHERE name = $1`, name); err != nil {
		return fmt.Errorf("reset checkpoint %q: %w", name, err)
	}
	return nil
}

func (s *PostgresCheckpointStore) List(ctx context.Context) ([]Checkpoint, error) {
	rows, err := s.pool.Query(ctx, `SELECT name, position, updated_at FROM `+checkpointTable+` ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Checkpoint, error) {
		var cp Checkpoint
		err := row.Scan(&cp.Name, &cp.Position, &cp.UpdatedAt)
		return cp, err
	})
}

// MongoCheckpointStore хранит позиции в коллекции relay_checkpoints,
// имя читателя служит _id документа.
type MongoCheckpointStore struct {
	collection *mongo.Collection
}

type mongoCheckpoint struct {
	Name      string    `bson:"_id"`
	Position  int64     `bson:"position"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func NewMongoCheckpointStore(db *mongo.Database) *MongoCheckpointStore {
	return &MongoCheckpointStore{collection: db.Collection(checkpointTable)}
}

func (s *MongoCheckpointStore) Position(ctx context.Context, name string) (int64, error) {
	var doc mongoCheckpoint
	err := s.collection.FindOne(ctx, bson.M{"_id": name}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read checkpoint %q: %w", name, err)
	}
	return doc.Position, nil
}

func (s *MongoCheckpointStore) Advance(ctx context.Context, name string, position int64) error {
	// $max не дает позиции откатиться при гонке двух ретрансляторов
	update := bson.M{
		"$max": bson.M{"position": position},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	}
	if _, err := s.collection.UpdateByID(ctx, name, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("advance checkpoint %q to %d: %w", name, position, err)
	}
	return nil
}

func (s *MongoCheckpointStore) Reset(ctx context.Context, name string) error {
	if _, err := s.collection.DeleteOne(ctx, bson.M{"_id": name}); err != nil {
		return fmt.Errorf("reset checkpoint %q: %w", name, err)
	}
	return nil
}

func (s *MongoCheckpointStore) List(ctx context.Context) ([]Checkpoint, error) {
	cursor, err := s.collection.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	var docs []mongoCheckpoint
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	result := make([]Checkpoint, 0, len(docs))
	for _, doc := range docs {
		result = append(result, Checkpoint(doc))
	}
	return result, nil
}

// InMemoryCheckpointStore держит позиции в памяти процесса
type InMemoryCheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[string]Checkpoint
}

func NewInMemoryCheckpointStore() *InMemoryCheckpointStore {
	return &InMemoryCheckpointStore{checkpoints: make(map[string]Checkpoint)}
}

func (s *InMemoryCheckpointStore) Position(_ context.Context, name string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkpoints[name].Position, nil
}

func (s *InMemoryCheckpointStore) Advance(_ context.Context, name string, position int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cp, ok := s.checkpoints[name]; ok && cp.Position >= position {
		return nil
	}
	s.checkpoints[name] = Checkpoint{Name: name, Position: position, UpdatedAt: time.Now().UTC()}
	return nil
}

func (s *InMemoryCheckpointStore) Reset(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, name)
	return nil
}

func (s *InMemoryCheckpointStore) List(context.Context) ([]Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]Checkpoint, 0, len(s.checkpoints))
	for _, cp := range s.checkpoints {
		result = append(result, cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}
