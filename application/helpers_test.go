package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/orderflow/domain"
	"github.com/akriventsev/orderflow/framework/adapters/messagebus"
	"github.com/akriventsev/orderflow/framework/eventsourcing"
	"github.com/akriventsev/orderflow/framework/transport"
	"github.com/akriventsev/orderflow/infrastructure/codec"
	"github.com/akriventsev/orderflow/infrastructure/eventlog"
	"github.com/akriventsev/orderflow/infrastructure/idempotency"
	"github.com/akriventsev/orderflow/infrastructure/messaging"
	"github.com/akriventsev/orderflow/infrastructure/readmodel"
)

type testEnv struct {
	store     *eventsourcing.InMemoryEventStore
	repo      *eventlog.Repository
	codec     *codec.Codec
	bus       *messagebus.InMemoryAdapter
	publisher *switchablePublisher
	views     *readmodel.InMemoryStore
	cache     *idempotency.InMemoryCache
	engine    *ProjectionEngine
	consumer  *ProjectionConsumer
	commands  *CommandHandler
	queries   *QueryService
}

type envOption func(*envSettings)

type envSettings struct {
	commands   CommandHandlerConfig
	projection ProjectionConfig
}

func withProjection(cfg ProjectionConfig) envOption {
	return func(s *envSettings) { s.projection = cfg }
}

func withCommands(cfg CommandHandlerConfig) envOption {
	return func(s *envSettings) { s.commands = cfg }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	settings := envSettings{
		commands:   DefaultCommandHandlerConfig(),
		projection: DefaultProjectionConfig(),
	}
	for _, opt := range opts {
		opt(&settings)
	}

	env := &testEnv{
		store: eventsourcing.NewInMemoryEventStore(eventsourcing.DefaultInMemoryEventStoreConfig()),
		codec: codec.New(codec.OrderRegistry()),
		bus:   messagebus.NewInMemoryAdapter(messagebus.DefaultInMemoryConfig()),
		views: readmodel.NewInMemoryStore(),
		cache: idempotency.NewInMemoryCache(0),
	}
	env.repo = eventlog.NewRepository(env.store, env.codec)
	env.publisher = &switchablePublisher{next: messaging.NewEventPublisher(env.bus, env.codec, messaging.DefaultSubject)}
	env.engine = NewProjectionEngine(env.views, env.cache, settings.projection, nil, nil)
	env.consumer = NewProjectionConsumer(env.bus, env.codec, env.engine, messaging.DefaultSubject, transport.DefaultBatchOptions(), nil, nil)
	env.commands = NewCommandHandler(env.repo, env.publisher, settings.commands, nil, nil,
		WithEventFactory(sequentialFactory()),
		WithOrderIDGenerator(sequentialIDs("order")),
	)
	env.queries = NewQueryService(env.views, nil)
	return env
}

// project доставляет все опубликованные сообщения в проекцию
func (e *testEnv) project(t *testing.T) {
	t.Helper()
	for e.bus.Pending(messaging.DefaultSubject) > 0 {
		_, err := e.bus.Poll(context.Background(), messaging.DefaultSubject, 10, e.consumer.HandleMessages)
		require.NoError(t, err)
	}
}

func (e *testEnv) logLen(orderID string) int {
	return e.store.Len(orderID)
}

func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func sequentialFactory() domain.EventFactory {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	tick := 0
	return domain.NewEventFactory(sequentialIDs("evt"), func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})
}

func widget() domain.Product {
	return domain.Product{ProductID: "p1", Name: "Widget", Price: decimal.RequireFromString("9.99"), Quantity: 2}
}

func gadget() domain.Product {
	return domain.Product{ProductID: "p2", Name: "Gadget", Price: decimal.NewFromInt(5), Quantity: 1}
}

// switchablePublisher отключает доставку для имитации недоступного брокера
type switchablePublisher struct {
	next  Publisher
	mu    sync.Mutex
	down  bool
	calls int
}

func (p *switchablePublisher) Publish(ctx context.Context, events []domain.Event) error {
	p.mu.Lock()
	p.calls++
	down := p.down
	p.mu.Unlock()
	if down {
		return errors.New("broker unavailable")
	}
	return p.next.Publish(ctx, events)
}

func (p *switchablePublisher) setDown(down bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.down = down
}

// flakyCache теряет заданное число отметок об обработке
type flakyCache struct {
	*idempotency.InMemoryCache
	mu        sync.Mutex
	dropMarks int
}

func (c *flakyCache) MarkProcessed(ctx context.Context, eventID string) error {
	c.mu.Lock()
	if c.dropMarks > 0 {
		c.dropMarks--
		c.mu.Unlock()
		return errors.New("cache unavailable")
	}
	c.mu.Unlock()
	return c.InMemoryCache.MarkProcessed(ctx, eventID)
}

// failingEventStore отказывает в записи
type failingEventStore struct {
	eventsourcing.EventStore
}

func (failingEventStore) AppendEvents(ctx context.Context, aggregateID string, expectedVersion int64, events []eventsourcing.StoredEvent) error {
	return errors.New("connection reset")
}

// interceptingLog вызывает hook после чтения истории, до записи
type interceptingLog struct {
	EventLog
	once sync.Once
	hook func()
}

func (l *interceptingLog) Load(ctx context.Context, orderID string) ([]domain.Event, error) {
	events, err := l.EventLog.Load(ctx, orderID)
	l.once.Do(func() {
		if l.hook != nil {
			l.hook()
		}
	})
	return events, err
}

func collectEvents(t *testing.T, env *testEnv) []domain.Event {
	t.Helper()
	var events []domain.Event
	_, err := env.bus.Poll(context.Background(), messaging.DefaultSubject, 0, func(ctx context.Context, msgs []*transport.Message) error {
		for _, m := range msgs {
			e, err := env.codec.Decode(m.Data)
			if err != nil {
				return err
			}
			events = append(events, e)
		}
		return nil
	})
	require.NoError(t, err)
	return events
}
