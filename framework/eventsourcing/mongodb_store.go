package eventsourcing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/akriventsev/orderflow/framework/core"
)

// MongoDBEventStoreConfig конфигурация для MongoDB Event Store
type MongoDBEventStoreConfig struct {
	URI         string
	Database    string
	Collection  string
	Timeout     time.Duration
	MaxPoolSize uint64
	MinPoolSize uint64
}

// Validate проверяет корректность конфигурации
func (c MongoDBEventStoreConfig) Validate() error {
	if c.URI == "" {
		return fmt.Errorf("URI cannot be empty")
	}
	if c.Database == "" {
		return fmt.Errorf("database cannot be empty")
	}
	if c.Collection == "" {
		return fmt.Errorf("collection cannot be empty")
	}
	return nil
}

// DefaultMongoDBEventStoreConfig возвращает конфигурацию по умолчанию
func DefaultMongoDBEventStoreConfig() MongoDBEventStoreConfig {
	return MongoDBEventStoreConfig{
		URI:         "mongodb://localhost:27017",
		Database:    "orders",
		Collection:  "events",
		Timeout:     10 * time.Second,
		MaxPoolSize: 100,
		MinPoolSize: 10,
	}
}

type mongoEventDocument struct {
	ID            string            `bson:"_id"`
	AggregateID   string            `bson:"aggregate_id"`
	AggregateType string            `bson:"aggregate_type"`
	EventType     string            `bson:"event_type"`
	SchemaVersion int               `bson:"schema_version"`
	EventData     string            `bson:"event_data"`
	Metadata      map[string]string `bson:"metadata,omitempty"`
	Version       int64             `bson:"version"`
	Position      int64             `bson:"position"`
	OccurredAt    time.Time         `bson:"occurred_at"`
	CreatedAt     time.Time         `bson:"created_at"`
}

func (d mongoEventDocument) toStored() StoredEvent {
	return StoredEvent{
		ID:            d.ID,
		AggregateID:   d.AggregateID,
		AggregateType: d.AggregateType,
		EventType:     d.EventType,
		SchemaVersion: d.SchemaVersion,
		EventData:     []byte(d.EventData),
		Metadata:      d.Metadata,
		Version:       d.Version,
		Position:      d.Position,
		OccurredAt:    d.OccurredAt,
		CreatedAt:     d.CreatedAt,
	}
}

// MongoDBEventStore реализация EventStore для MongoDB.
// Уникальный индекс (aggregate_id, version) отсекает параллельные записи в один поток,
// глобальные позиции выделяются счетчиком в отдельной коллекции.
type MongoDBEventStore struct {
	config     MongoDBEventStoreConfig
	client     *mongo.Client
	collection *mongo.Collection
	counters   *mongo.Collection
}

// NewMongoDBEventStore создает новый MongoDB Event Store
func NewMongoDBEventStore(ctx context.Context, config MongoDBEventStoreConfig) (*MongoDBEventStore, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mongodb config: %w", err)
	}

	opts := options.Client().
		ApplyURI(config.URI).
		SetMaxPoolSize(config.MaxPoolSize).
		SetMinPoolSize(config.MinPoolSize).
		SetTimeout(config.Timeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(config.Database)
	store := &MongoDBEventStore{
		config:     config,
		client:     client,
		collection: db.Collection(config.Collection),
		counters:   db.Collection(config.Collection + "_counters"),
	}

	if err := store.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	return store, nil
}

func (s *MongoDBEventStore) ensureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "aggregate_id", Value: 1}, {Key: "version", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "position", Value: 1}},
		},
	}
	if _, err := s.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

// Start запускает адаптер
func (s *MongoDBEventStore) Start(ctx context.Context) error {
	return nil
}

// Stop отключает клиента
func (s *MongoDBEventStore) Stop(ctx context.Context) error {
	if s.client != nil {
		return s.client.Disconnect(ctx)
	}
	return nil
}

// IsRunning проверяет, запущен ли адаптер
func (s *MongoDBEventStore) IsRunning() bool {
	return s.client != nil
}

// Name возвращает имя компонента
func (s *MongoDBEventStore) Name() string {
	return "mongodb-event-store"
}

// Type возвращает тип компонента
func (s *MongoDBEventStore) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// HealthCheck проверяет доступность MongoDB
func (s *MongoDBEventStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Client возвращает клиента MongoDB для связанных хранилищ
func (s *MongoDBEventStore) Client() *mongo.Client {
	return s.client
}

// AppendEvents добавляет события в поток агрегата
func (s *MongoDBEventStore) AppendEvents(ctx context.Context, aggregateID string, expectedVersion int64, events []StoredEvent) error {
	if len(events) == 0 {
		return nil
	}

	currentVersion, err := s.currentVersion(ctx, aggregateID)
	if err != nil {
		return err
	}
	if err := checkExpectedVersion(expectedVersion, currentVersion); err != nil {
		return err
	}

	lastPosition, err := s.reservePositions(ctx, int64(len(events)))
	if err != nil {
		return err
	}
	firstPosition := lastPosition - int64(len(events)) + 1

	createdAt := time.Now().UTC()
	docs := make([]interface{}, 0, len(events))
	for i, event := range events {
		docs = append(docs, mongoEventDocument{
			ID:            event.ID,
			AggregateID:   aggregateID,
			AggregateType: event.AggregateType,
			EventType:     event.EventType,
			SchemaVersion: event.SchemaVersion,
			EventData:     string(event.EventData),
			Metadata:      event.Metadata,
			Version:       currentVersion + int64(i) + 1,
			Position:      firstPosition + int64(i),
			OccurredAt:    event.OccurredAt,
			CreatedAt:     createdAt,
		})
	}

	// Упорядоченная вставка: при конфликте на первом документе поток не меняется
	if _, err := s.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: stream %s changed concurrently", ErrConcurrencyConflict, aggregateID)
		}
		return fmt.Errorf("failed to insert events: %w", err)
	}

	return nil
}

func (s *MongoDBEventStore) currentVersion(ctx context.Context, aggregateID string) (int64, error) {
	opts := options.FindOne().
		SetSort(bson.D{{Key: "version", Value: -1}}).
		SetProjection(bson.D{{Key: "version", Value: 1}})

	var doc struct {
		Version int64 `bson:"version"`
	}
	err := s.collection.FindOne(ctx, bson.M{"aggregate_id": aggregateID}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to check version: %w", err)
	}
	return doc.Version, nil
}

func (s *MongoDBEventStore) reservePositions(ctx context.Context, n int64) (int64, error) {
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": "position"},
		bson.M{"$inc": bson.M{"seq": n}},
		opts,
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("failed to reserve positions: %w", err)
	}
	return counter.Seq, nil
}

// GetEvents возвращает события агрегата
func (s *MongoDBEventStore) GetEvents(ctx context.Context, aggregateID string, fromVersion int64) ([]StoredEvent, error) {
	filter := bson.M{"aggregate_id": aggregateID, "version": bson.M{"$gte": fromVersion}}
	opts := options.Find().SetSort(bson.D{{Key: "version", Value: 1}})
	return s.find(ctx, filter, opts)
}

// GetAllEvents возвращает события в порядке глобальной позиции
func (s *MongoDBEventStore) GetAllEvents(ctx context.Context, fromPosition int64, limit int) ([]StoredEvent, error) {
	filter := bson.M{"position": bson.M{"$gt": fromPosition}}
	opts := options.Find().SetSort(bson.D{{Key: "position", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.find(ctx, filter, opts)
}

func (s *MongoDBEventStore) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]StoredEvent, error) {
	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer cursor.Close(ctx)

	result := make([]StoredEvent, 0)
	for cursor.Next(ctx) {
		var doc mongoEventDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}
		result = append(result, doc.toStored())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return result, nil
}
