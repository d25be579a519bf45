package messagebus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/akriventsev/orderflow/framework/core"
	"github.com/akriventsev/orderflow/framework/metrics"
	"github.com/akriventsev/orderflow/framework/transport"
)

// NATSConfig конфигурация для NATS JetStream адаптера
type NATSConfig struct {
	URL               string
	Stream            string
	Durable           string
	MaxReconnects     int
	ReconnectWait     time.Duration
	ConnectionTimeout time.Duration
	AckWait           time.Duration
	// DuplicateWindow окно дедупликации публикаций по Nats-Msg-Id
	DuplicateWindow time.Duration
}

// Validate проверяет корректность конфигурации
func (c NATSConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("URL cannot be empty")
	}
	if !strings.HasPrefix(c.URL, "nats://") && !strings.HasPrefix(c.URL, "tls://") {
		return fmt.Errorf("URL must start with nats:// or tls://")
	}
	if c.Stream == "" {
		return fmt.Errorf("stream cannot be empty")
	}
	if c.Durable == "" {
		return fmt.Errorf("durable consumer name cannot be empty")
	}
	return nil
}

// DefaultNATSConfig возвращает конфигурацию NATS по умолчанию
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:               "nats://localhost:4222",
		Stream:            "ORDERS",
		Durable:           "order-projection",
		MaxReconnects:     10,
		ReconnectWait:     2 * time.Second,
		ConnectionTimeout: 5 * time.Second,
		AckWait:           30 * time.Second,
		DuplicateWindow:   2 * time.Minute,
	}
}

// NATSAdapter реализация MessageBus через NATS JetStream.
// Сообщение публикуется в subject "<subject>.<key>", pull consumer читает "<subject>.>".
type NATSAdapter struct {
	config  NATSConfig
	conn    *nats.Conn
	js      nats.JetStreamContext
	mu      sync.RWMutex
	streams map[string]bool
	running bool
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewNATSAdapter подключается к NATS и открывает JetStream контекст
func NewNATSAdapter(config NATSConfig, m *metrics.Metrics, logger *slog.Logger) (*NATSAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid nats config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(config.URL,
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.Timeout(config.ConnectionTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open JetStream context: %w", err)
	}

	return &NATSAdapter{
		config:  config,
		conn:    conn,
		js:      js,
		streams: make(map[string]bool),
		metrics: m,
		logger:  logger.With("component", "nats-adapter"),
	}, nil
}

// Start запускает адаптер (реализация core.Lifecycle)
func (n *NATSAdapter) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.running = true
	return nil
}

// Stop закрывает соединение после drain (реализация core.Lifecycle)
func (n *NATSAdapter) Stop(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.running {
		return nil
	}
	n.running = false
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return err
	}
	return nil
}

// IsRunning проверяет, запущен ли адаптер (реализация core.Lifecycle)
func (n *NATSAdapter) IsRunning() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.running
}

// Name возвращает имя компонента (реализация core.Component)
func (n *NATSAdapter) Name() string {
	return "nats-adapter"
}

// Type возвращает тип компонента (реализация core.Component)
func (n *NATSAdapter) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// HealthCheck проверяет соединение
func (n *NATSAdapter) HealthCheck(ctx context.Context) error {
	if !n.conn.IsConnected() {
		return fmt.Errorf("nats connection status: %s", n.conn.Status())
	}
	return nil
}

// ensureStream создает stream для subject, если его еще нет
func (n *NATSAdapter) ensureStream(subject string) error {
	n.mu.RLock()
	ready := n.streams[subject]
	n.mu.RUnlock()
	if ready {
		return nil
	}

	_, err := n.js.AddStream(&nats.StreamConfig{
		Name:       n.config.Stream,
		Subjects:   []string{subject + ".>"},
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		Duplicates: n.config.DuplicateWindow,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("failed to create stream %s: %w", n.config.Stream, err)
	}

	n.mu.Lock()
	n.streams[subject] = true
	n.mu.Unlock()
	return nil
}

// Publish публикует сообщение в JetStream.
// Заголовок event_id используется как Nats-Msg-Id для дедупликации на сервере.
func (n *NATSAdapter) Publish(ctx context.Context, msg *transport.Message) error {
	if err := n.ensureStream(msg.Subject); err != nil {
		return err
	}
	start := time.Now()

	nm := nats.NewMsg(msg.Subject + "." + msg.Key)
	nm.Data = msg.Data
	for k, v := range msg.Headers {
		nm.Header.Set(k, v)
	}

	opts := []nats.PubOpt{nats.Context(ctx)}
	if id := msg.Headers[transport.HeaderEventID]; id != "" {
		opts = append(opts, nats.MsgId(id))
	}

	_, err := n.js.PublishMsg(nm, opts...)
	n.metrics.RecordTransport(ctx, "nats", time.Since(start), err == nil)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// SubscribeBatch читает subject через durable pull consumer.
// Успешная пачка подтверждается Ack, неуспешная возвращается Nak для повторной доставки.
func (n *NATSAdapter) SubscribeBatch(ctx context.Context, subject string, opts transport.BatchOptions, handler transport.BatchHandler) error {
	if opts.MaxMessages <= 0 {
		opts = transport.DefaultBatchOptions()
	}
	if err := n.ensureStream(subject); err != nil {
		return err
	}

	sub, err := n.js.PullSubscribe(subject+".>", n.config.Durable,
		nats.BindStream(n.config.Stream),
		nats.AckExplicit(),
		nats.AckWait(n.config.AckWait),
		nats.DeliverAll(),
	)
	if err != nil {
		return fmt.Errorf("failed to create pull consumer: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	for {
		if ctx.Err() != nil {
			return nil
		}

		fetched, err := sub.Fetch(opts.MaxMessages, nats.MaxWait(opts.MaxWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, nats.ErrConnectionClosed) {
				return nil
			}
			n.logger.Error("fetch failed", "subject", subject, "error", err)
			continue
		}

		msgs := make([]*transport.Message, len(fetched))
		for i, m := range fetched {
			msgs[i] = fromNATSMessage(subject, m)
		}

		if err := handler(ctx, msgs); err != nil {
			n.logger.Error("batch handler failed", "subject", subject, "size", len(msgs), "error", err)
			for _, m := range fetched {
				_ = m.NakWithDelay(time.Second)
			}
			continue
		}

		for _, m := range fetched {
			if err := m.Ack(); err != nil {
				n.logger.Warn("ack failed", "subject", m.Subject, "error", err)
			}
		}
	}
}

func fromNATSMessage(subject string, m *nats.Msg) *transport.Message {
	msg := &transport.Message{
		Subject: subject,
		Key:     strings.TrimPrefix(m.Subject, subject+"."),
		Data:    m.Data,
		Headers: make(map[string]string, len(m.Header)),
	}
	for k := range m.Header {
		msg.Headers[k] = m.Header.Get(k)
	}
	return msg
}
