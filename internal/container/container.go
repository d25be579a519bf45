// Package container собирает сервис заказов из адаптеров, выбранных конфигурацией.
package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/akriventsev/orderflow/application"
	"github.com/akriventsev/orderflow/framework/adapters/messagebus"
	"github.com/akriventsev/orderflow/framework/core"
	"github.com/akriventsev/orderflow/framework/eventsourcing"
	"github.com/akriventsev/orderflow/framework/metrics"
	"github.com/akriventsev/orderflow/framework/migrations"
	"github.com/akriventsev/orderflow/framework/observability"
	"github.com/akriventsev/orderflow/framework/transport"
	"github.com/akriventsev/orderflow/infrastructure/codec"
	"github.com/akriventsev/orderflow/infrastructure/eventlog"
	"github.com/akriventsev/orderflow/infrastructure/idempotency"
	"github.com/akriventsev/orderflow/infrastructure/messaging"
	"github.com/akriventsev/orderflow/infrastructure/readmodel"
	"github.com/akriventsev/orderflow/internal/config"
)

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// Container владеет всеми компонентами сервиса и порядком их закрытия
type Container struct {
	Config  config.Config
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	EventStore  eventsourcing.EventStore
	Checkpoints eventsourcing.CheckpointStore
	Views       readmodel.Store
	Cache       idempotency.Cache
	Bus         messagebus.Bus
	Codec       *codec.Codec
	Log         *eventlog.Repository

	Commands   *application.CommandHandler
	Queries    *application.QueryService
	Projection *application.ProjectionEngine
	Consumer   *application.ProjectionConsumer
	// Relay nil, если RELAY_ENABLED=false
	Relay *application.Relay

	redis   redis.UniversalClient
	checks  map[string]observability.HealthCheckFunc
	closers []closer
}

// Build создает адаптеры и связывает их с прикладным слоем.
// При ошибке уже открытые ресурсы закрываются.
func Build(ctx context.Context, cfg config.Config, m *metrics.Metrics, logger *slog.Logger) (*Container, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Container{
		Config:  cfg,
		Logger:  logger,
		Metrics: m,
		Codec:   codec.New(codec.OrderRegistry()),
		checks:  make(map[string]observability.HealthCheckFunc),
	}
	built := false
	defer func() {
		if !built {
			_ = c.Close(context.Background())
		}
	}()

	if cfg.UsesRedis() {
		c.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		c.onClose("redis", func(context.Context) error { return c.redis.Close() })
		c.checks["redis"] = func(ctx context.Context) error { return c.redis.Ping(ctx).Err() }
	}

	if err := c.buildEventStore(ctx); err != nil {
		return nil, err
	}
	if err := c.buildReadModel(); err != nil {
		return nil, err
	}
	c.buildCache()
	if err := c.buildBus(ctx); err != nil {
		return nil, err
	}

	c.Log = eventlog.NewRepository(c.EventStore, c.Codec)
	publisher := messaging.NewEventPublisher(c.Bus, c.Codec, cfg.Subject)

	c.Commands = application.NewCommandHandler(c.Log, publisher, application.CommandHandlerConfig{
		OptimisticConcurrency: cfg.OptimisticConcurrency,
	}, m, logger)
	c.Queries = application.NewQueryService(c.Views, m)
	c.Projection = application.NewProjectionEngine(c.Views, c.Cache, application.ProjectionConfig{
		SequenceGuard: cfg.Projection.SequenceGuard,
		AtomicMarking: cfg.Projection.AtomicMarking,
	}, m, logger)
	c.Consumer = application.NewProjectionConsumer(c.Bus, c.Codec, c.Projection, cfg.Subject, transport.BatchOptions{
		MaxMessages: cfg.Projection.BatchSize,
		MaxWait:     cfg.Projection.BatchWait,
	}, m, logger)

	if cfg.Relay.Enabled {
		c.Relay = application.NewRelay(c.EventStore, c.Checkpoints, c.Log, publisher, application.RelayConfig{
			Name:      application.DefaultRelayConfig().Name,
			BatchSize: cfg.Relay.BatchSize,
			Interval:  cfg.Relay.Interval,
		}, m, logger)
	}

	built = true
	logger.Info("container built", "adapters", cfg.String())
	return c, nil
}

func (c *Container) buildEventStore(ctx context.Context) error {
	cfg := c.Config
	switch cfg.EventStore {
	case config.BackendPostgres:
		if cfg.Postgres.Migrate {
			if err := migrate(ctx, cfg.Postgres.DSN); err != nil {
				return err
			}
		}
		storeCfg := eventsourcing.DefaultPostgresEventStoreConfig()
		storeCfg.DSN = cfg.Postgres.DSN
		storeCfg.SchemaName = cfg.Postgres.Schema
		storeCfg.TableName = cfg.Postgres.Table
		storeCfg.MaxConns = cfg.Postgres.MaxConns
		store, err := eventsourcing.NewPostgresEventStore(ctx, storeCfg)
		if err != nil {
			return core.Wrap(err, core.ErrPersistenceFailure, "open postgres event store")
		}
		c.EventStore = store
		c.Checkpoints = eventsourcing.NewPostgresCheckpointStore(store.Pool())
		c.checks["event_store"] = store.HealthCheck
		c.onClose("postgres", store.Stop)

	case config.BackendMongo:
		storeCfg := eventsourcing.DefaultMongoDBEventStoreConfig()
		storeCfg.URI = cfg.Mongo.URI
		storeCfg.Database = cfg.Mongo.Database
		storeCfg.Collection = cfg.Mongo.Collection
		storeCfg.Timeout = cfg.Mongo.Timeout
		store, err := eventsourcing.NewMongoDBEventStore(ctx, storeCfg)
		if err != nil {
			return core.Wrap(err, core.ErrPersistenceFailure, "open mongodb event store")
		}
		c.EventStore = store
		c.Checkpoints = eventsourcing.NewMongoCheckpointStore(store.Client().Database(cfg.Mongo.Database))
		c.checks["event_store"] = store.HealthCheck
		c.onClose("mongodb", store.Stop)

	default:
		c.EventStore = eventsourcing.NewInMemoryEventStore(eventsourcing.DefaultInMemoryEventStoreConfig())
		c.Checkpoints = eventsourcing.NewInMemoryCheckpointStore()
	}
	return nil
}

func (c *Container) buildReadModel() error {
	cfg := c.Config
	switch cfg.ReadModel {
	case config.BackendRedis:
		storeCfg := readmodel.DefaultRedisStoreConfig()
		storeCfg.MarkerTTL = cfg.Projection.IdempotencyTTL
		c.Views = readmodel.NewRedisStore(c.redis, storeCfg)
	case config.BackendPebble:
		store, err := readmodel.NewPebbleStore(cfg.Pebble.Dir, cfg.Pebble.Sync)
		if err != nil {
			return core.Wrap(err, core.ErrPersistenceFailure, "open pebble read model")
		}
		c.Views = store
		c.onClose("pebble", func(context.Context) error { return store.Close() })
	default:
		c.Views = readmodel.NewInMemoryStore()
	}
	return nil
}

func (c *Container) buildCache() {
	if c.Config.IdempotencyStore == config.BackendRedis {
		cacheCfg := idempotency.DefaultRedisCacheConfig()
		cacheCfg.TTL = c.Config.Projection.IdempotencyTTL
		c.Cache = idempotency.NewRedisCache(c.redis, cacheCfg)
		return
	}
	c.Cache = idempotency.NewInMemoryCache(c.Config.Projection.IdempotencyTTL)
}

func (c *Container) buildBus(ctx context.Context) error {
	busType, busCfg := BusConfig(c.Config)
	bus, err := messagebus.NewMessageBusFactory().Create(busType, busCfg, messagebus.Dependencies{
		Metrics:     c.Metrics,
		Logger:      c.Logger,
		RedisClient: c.redis,
	})
	if err != nil {
		return err
	}
	if err := bus.Start(ctx); err != nil {
		return fmt.Errorf("start %s: %w", bus.Name(), err)
	}
	c.Bus = bus
	c.onClose(bus.Name(), bus.Stop)
	if hc, ok := bus.(core.HealthCheckable); ok {
		c.checks["broker"] = hc.HealthCheck
	}
	return nil
}

// Rebuild проецирует весь журнал в модель чтения, минуя брокер
func (c *Container) Rebuild(ctx context.Context) (application.BatchResult, error) {
	opts := eventsourcing.DefaultReplayOptions()
	opts.StopOnError = false
	return c.Projection.Rebuild(ctx, c.EventStore, c.Log, opts)
}

// BusConfig переводит BROKER и связанные переменные в тип и конфигурацию фабрики
func BusConfig(cfg config.Config) (string, interface{}) {
	switch cfg.Broker {
	case config.BackendKafka:
		kc := messagebus.DefaultKafkaConfig()
		kc.Brokers = cfg.Kafka.Brokers
		kc.GroupID = cfg.Kafka.GroupID
		kc.BatchSize = cfg.Projection.BatchSize
		return "kafka", kc
	case config.BackendNATS:
		nc := messagebus.DefaultNATSConfig()
		nc.URL = cfg.NATS.URL
		nc.Stream = cfg.NATS.Stream
		nc.Durable = cfg.NATS.Durable
		return "nats", nc
	case config.BackendRedis:
		rc := messagebus.DefaultRedisConfig()
		rc.Addr = cfg.Redis.Addr
		rc.Password = cfg.Redis.Password
		rc.DB = cfg.Redis.DB
		return "redis", rc
	default:
		return "inmemory", messagebus.DefaultInMemoryConfig()
	}
}

func migrate(ctx context.Context, dsn string) error {
	db, err := migrations.Open(dsn)
	if err != nil {
		return core.Wrap(err, core.ErrPersistenceFailure, "open migrations connection")
	}
	defer db.Close()
	if err := migrations.RunMigrations(ctx, db); err != nil {
		return core.Wrap(err, core.ErrPersistenceFailure, "apply migrations")
	}
	return nil
}

func (c *Container) onClose(name string, fn func(ctx context.Context) error) {
	c.closers = append(c.closers, closer{name: name, fn: fn})
}

// HealthChecks проверки внешних зависимостей для HealthManager
func (c *Container) HealthChecks() map[string]observability.HealthCheckFunc {
	out := make(map[string]observability.HealthCheckFunc, len(c.checks))
	for name, fn := range c.checks {
		out[name] = fn
	}
	return out
}

// Close закрывает ресурсы в обратном порядке открытия
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		cl := c.closers[i]
		if err := cl.fn(ctx); err != nil {
			c.Logger.Warn("close failed", "component", cl.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", cl.name, err))
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
