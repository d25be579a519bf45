package messagebus

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/akriventsev/orderflow/framework/core"
	"github.com/akriventsev/orderflow/framework/metrics"
	"github.com/akriventsev/orderflow/framework/transport"
)

// Bus MessageBus с управляемым жизненным циклом
type Bus interface {
	transport.MessageBus
	core.Lifecycle
	core.Component
}

// Dependencies общие зависимости адаптеров
type Dependencies struct {
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	RedisClient redis.UniversalClient
}

// Creator создает адаптер из типизированной конфигурации
type Creator func(config interface{}, deps Dependencies) (Bus, error)

// MessageBusFactory фабрика MessageBus адаптеров по имени брокера
type MessageBusFactory struct {
	creators map[string]Creator
	mu       sync.RWMutex
}

// NewMessageBusFactory создает фабрику со встроенными адаптерами
func NewMessageBusFactory() *MessageBusFactory {
	factory := &MessageBusFactory{
		creators: make(map[string]Creator),
	}

	_ = factory.Register("kafka", func(config interface{}, deps Dependencies) (Bus, error) {
		cfg, ok := config.(KafkaConfig)
		if !ok {
			return nil, fmt.Errorf("invalid Kafka config type: %T", config)
		}
		return NewKafkaAdapter(cfg, deps.Metrics, deps.Logger)
	})

	_ = factory.Register("nats", func(config interface{}, deps Dependencies) (Bus, error) {
		cfg, ok := config.(NATSConfig)
		if !ok {
			return nil, fmt.Errorf("invalid NATS config type: %T", config)
		}
		return NewNATSAdapter(cfg, deps.Metrics, deps.Logger)
	})

	_ = factory.Register("redis", func(config interface{}, deps Dependencies) (Bus, error) {
		cfg, ok := config.(RedisConfig)
		if !ok {
			return nil, fmt.Errorf("invalid Redis config type: %T", config)
		}
		if deps.RedisClient == nil {
			return nil, fmt.Errorf("redis message bus requires a redis client")
		}
		return NewRedisAdapter(cfg, deps.RedisClient, deps.Metrics, deps.Logger)
	})

	_ = factory.Register("inmemory", func(config interface{}, deps Dependencies) (Bus, error) {
		cfg, ok := config.(InMemoryConfig)
		if !ok {
			cfg = DefaultInMemoryConfig()
		}
		return NewInMemoryAdapter(cfg), nil
	})

	return factory
}

// Register регистрирует создатель адаптера
func (f *MessageBusFactory) Register(name string, creator Creator) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.creators[name]; exists {
		return fmt.Errorf("message bus type %s already registered", name)
	}
	f.creators[name] = creator
	return nil
}

// Create создает адаптер указанного типа
func (f *MessageBusFactory) Create(busType string, config interface{}, deps Dependencies) (Bus, error) {
	f.mu.RLock()
	creator, ok := f.creators[busType]
	f.mu.RUnlock()

	if !ok {
		return nil, core.Errorf(core.ErrInvalidConfig, "unknown message bus type: %s", busType)
	}
	return creator(config, deps)
}

// Types возвращает зарегистрированные типы
func (f *MessageBusFactory) Types() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	types := make([]string, 0, len(f.creators))
	for name := range f.creators {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}
