package readmodel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/akriventsev/orderflow/domain"
	"github.com/akriventsev/orderflow/infrastructure/idempotency"
)

// RedisStoreConfig конфигурация хранилища представлений в Redis
type RedisStoreConfig struct {
	KeyPrefix    string
	MarkerPrefix string
	MarkerTTL    time.Duration
}

// DefaultRedisStoreConfig возвращает конфигурацию по умолчанию
func DefaultRedisStoreConfig() RedisStoreConfig {
	return RedisStoreConfig{
		KeyPrefix:    "order:",
		MarkerPrefix: idempotency.DefaultKeyPrefix,
	}
}

// RedisStore хранит каждое представление в hash order:<id>
// с полями orderId, customerId, items (JSON), confirmed, lastSequence, updatedAt.
type RedisStore struct {
	client redis.UniversalClient
	config RedisStoreConfig
}

// NewRedisStore создает хранилище поверх существующего клиента
func NewRedisStore(client redis.UniversalClient, config RedisStoreConfig) *RedisStore {
	if config.KeyPrefix == "" {
		config.KeyPrefix = "order:"
	}
	if config.MarkerPrefix == "" {
		config.MarkerPrefix = idempotency.DefaultKeyPrefix
	}
	return &RedisStore{client: client, config: config}
}

func (s *RedisStore) key(orderID string) string {
	return s.config.KeyPrefix + orderID
}

func (s *RedisStore) Get(ctx context.Context, orderID string) (OrderView, bool, error) {
	fields, err := s.client.HGetAll(ctx, s.key(orderID)).Result()
	if err != nil {
		return OrderView{}, false, fmt.Errorf("redis hgetall: %w", err)
	}
	if len(fields) == 0 {
		return OrderView{}, false, nil
	}
	view, err := decodeHash(fields)
	if err != nil {
		return OrderView{}, false, fmt.Errorf("decode view %s: %w", orderID, err)
	}
	return view, true, nil
}

func (s *RedisStore) Save(ctx context.Context, view OrderView) error {
	fields, err := encodeHash(view)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, s.key(view.OrderID), fields).Err(); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

func (s *RedisStore) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.config.MarkerPrefix+eventID).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// SaveAndMark записывает представление и отметку в одной транзакции MULTI/EXEC
func (s *RedisStore) SaveAndMark(ctx context.Context, view OrderView, eventID string) error {
	fields, err := encodeHash(view)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key(view.OrderID), fields)
		pipe.Set(ctx, s.config.MarkerPrefix+eventID, idempotency.ProcessedValue, s.config.MarkerTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis tx: %w", err)
	}
	return nil
}

func encodeHash(view OrderView) (map[string]interface{}, error) {
	products := view.Products
	if products == nil {
		products = []domain.Product{}
	}
	items, err := json.Marshal(products)
	if err != nil {
		return nil, fmt.Errorf("marshal items: %w", err)
	}
	return map[string]interface{}{
		"orderId":      view.OrderID,
		"customerId":   view.CustomerID,
		"items":        string(items),
		"confirmed":    strconv.FormatBool(view.Confirmed),
		"lastSequence": strconv.FormatInt(view.LastSequence, 10),
		"updatedAt":    view.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}

func decodeHash(fields map[string]string) (OrderView, error) {
	view := OrderView{
		OrderID:    fields["orderId"],
		CustomerID: fields["customerId"],
		Products:   []domain.Product{},
	}
	if view.OrderID == "" {
		return OrderView{}, errors.New("missing orderId field")
	}
	if items := fields["items"]; items != "" {
		if err := json.Unmarshal([]byte(items), &view.Products); err != nil {
			return OrderView{}, fmt.Errorf("items: %w", err)
		}
	}
	if v := fields["confirmed"]; v != "" {
		confirmed, err := strconv.ParseBool(v)
		if err != nil {
			return OrderView{}, fmt.Errorf("confirmed: %w", err)
		}
		view.Confirmed = confirmed
	}
	if v := fields["lastSequence"]; v != "" {
		seq, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return OrderView{}, fmt.Errorf("lastSequence: %w", err)
		}
		view.LastSequence = seq
	}
	if v := fields["updatedAt"]; v != "" {
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return OrderView{}, fmt.Errorf("updatedAt: %w", err)
		}
		view.UpdatedAt = ts
	}
	return view, nil
}
