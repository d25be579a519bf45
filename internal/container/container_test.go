package container

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/orderflow/domain"
	"github.com/akriventsev/orderflow/framework/adapters/messagebus"
	"github.com/akriventsev/orderflow/framework/core"
	"github.com/akriventsev/orderflow/internal/config"
)

func memoryConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func TestBuild_InMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig(t)
	cfg.Relay.Enabled = true

	c, err := Build(ctx, cfg, nil, nil)
	require.NoError(t, err)
	defer c.Close(ctx)

	require.NotNil(t, c.Relay)
	assert.Equal(t, core.ComponentTypeWorker, c.Relay.Type())
	assert.Equal(t, core.ComponentTypeProjection, c.Consumer.Type())
	bus, ok := c.Bus.(*messagebus.InMemoryAdapter)
	require.True(t, ok)

	id, err := c.Commands.CreateOrder(ctx, "customer-1")
	require.NoError(t, err)
	require.NoError(t, c.Commands.AddProduct(ctx, id, domain.Product{
		ProductID: "p-1", Name: "Keyboard", Price: decimal.RequireFromString("49.90"), Quantity: 2,
	}))
	require.NoError(t, c.Commands.ConfirmOrder(ctx, id))

	n, err := bus.Poll(ctx, cfg.Subject, 0, c.Consumer.HandleMessages)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	view, err := c.Queries.GetOrderView(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "customer-1", view.CustomerID)
	assert.True(t, view.Confirmed)
	assert.Len(t, view.Products, 1)
	assert.True(t, view.Total().Equal(decimal.RequireFromString("99.80")))

	// повторная публикация журнала не меняет представление
	relayed, err := c.Relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, relayed)
	_, err = bus.Poll(ctx, cfg.Subject, 0, c.Consumer.HandleMessages)
	require.NoError(t, err)

	again, err := c.Queries.GetOrderView(ctx, id)
	require.NoError(t, err)
	assert.Len(t, again.Products, 1)
}

func TestBuild_RelayDisabledByDefault(t *testing.T) {
	ctx := context.Background()
	c, err := Build(ctx, memoryConfig(t), nil, nil)
	require.NoError(t, err)
	defer c.Close(ctx)

	assert.Nil(t, c.Relay)
	assert.Empty(t, c.HealthChecks())
}

func TestBuild_PebbleReadModel(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig(t)
	cfg.ReadModel = config.BackendPebble
	cfg.Pebble.Dir = t.TempDir()

	c, err := Build(ctx, cfg, nil, nil)
	require.NoError(t, err)

	id, err := c.Commands.CreateOrder(ctx, "customer-2")
	require.NoError(t, err)
	bus := c.Bus.(*messagebus.InMemoryAdapter)
	_, err = bus.Poll(ctx, cfg.Subject, 0, c.Consumer.HandleMessages)
	require.NoError(t, err)

	view, err := c.Queries.GetOrderView(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "customer-2", view.CustomerID)
	require.NoError(t, c.Close(ctx))
}

func TestBuild_FailureClosesOpenedResources(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig(t)
	cfg.ReadModel = config.BackendPebble
	cfg.Pebble.Dir = t.TempDir()
	cfg.Broker = config.BackendKafka
	cfg.Kafka.Brokers = nil

	var (
		c   *Container
		err error
	)
	require.NotPanics(t, func() { c, err = Build(ctx, cfg, nil, nil) })
	require.Error(t, err)
	assert.True(t, core.HasCode(err, core.ErrInvalidConfig))
	assert.Nil(t, c)

	// каталог pebble освобожден: повторное открытие не упирается в блокировку
	cfg.Broker = config.BackendMemory
	c, err = Build(ctx, cfg, nil, nil)
	require.NoError(t, err)
	require.NoError(t, c.Close(ctx))
}

func TestBusConfig(t *testing.T) {
	cfg := memoryConfig(t)

	busType, busCfg := BusConfig(cfg)
	assert.Equal(t, "inmemory", busType)
	assert.IsType(t, messagebus.InMemoryConfig{}, busCfg)

	cfg.Broker = config.BackendKafka
	cfg.Kafka.Brokers = []string{"k1:9092"}
	busType, busCfg = BusConfig(cfg)
	assert.Equal(t, "kafka", busType)
	kc := busCfg.(messagebus.KafkaConfig)
	assert.Equal(t, []string{"k1:9092"}, kc.Brokers)
	assert.Equal(t, cfg.Kafka.GroupID, kc.GroupID)

	cfg.Broker = config.BackendNATS
	busType, busCfg = BusConfig(cfg)
	assert.Equal(t, "nats", busType)
	assert.Equal(t, cfg.NATS.Stream, busCfg.(messagebus.NATSConfig).Stream)

	cfg.Broker = config.BackendRedis
	busType, busCfg = BusConfig(cfg)
	assert.Equal(t, "redis", busType)
	assert.Equal(t, cfg.Redis.Addr, busCfg.(messagebus.RedisConfig).Addr)
}

func TestClose_ReverseOrderAndErrors(t *testing.T) {
	c := &Container{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	var order []string
	c.onClose("first", func(context.Context) error { order = append(order, "first"); return nil })
	c.onClose("second", func(context.Context) error {
		order = append(order, "second")
		return core.NewError(core.ErrPersistenceFailure, "boom")
	})

	err := c.Close(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "second")
	assert.Equal(t, []string{"second", "first"}, order)
	assert.NoError(t, c.Close(context.Background()))
}
