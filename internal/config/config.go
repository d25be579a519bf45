// Package config загружает конфигурацию сервиса заказов из переменных окружения.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/akriventsev/orderflow/framework/core"
)

// Варианты хранилищ и брокеров
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendRedis    = "redis"
	BackendPebble   = "pebble"
	BackendKafka    = "kafka"
	BackendNATS     = "nats"
)

// Config конфигурация сервиса
type Config struct {
	ServiceName     string        `env:"SERVICE_NAME" envDefault:"order-service"`
	Environment     string        `env:"ENVIRONMENT" envDefault:"development"`
	HTTPPort        int           `env:"HTTP_PORT" envDefault:"8080"`
	GRPCPort        int           `env:"GRPC_PORT" envDefault:"50051"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"json"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	EventStore       string `env:"EVENT_STORE" envDefault:"memory"`
	ReadModel        string `env:"READ_MODEL" envDefault:"memory"`
	IdempotencyStore string `env:"IDEMPOTENCY_STORE" envDefault:"memory"`
	Broker           string `env:"BROKER" envDefault:"memory"`
	Subject          string `env:"EVENTS_SUBJECT" envDefault:"orders"`

	OptimisticConcurrency bool `env:"OPTIMISTIC_CONCURRENCY" envDefault:"true"`

	Projection ProjectionConfig `envPrefix:"PROJECTION_"`
	Relay      RelayConfig      `envPrefix:"RELAY_"`
	Postgres   PostgresConfig   `envPrefix:"POSTGRES_"`
	Mongo      MongoConfig      `envPrefix:"MONGO_"`
	Redis      RedisConfig      `envPrefix:"REDIS_"`
	Pebble     PebbleConfig     `envPrefix:"PEBBLE_"`
	Kafka      KafkaConfig      `envPrefix:"KAFKA_"`
	NATS       NATSConfig       `envPrefix:"NATS_"`
	Tracing    TracingConfig    `envPrefix:"TRACING_"`
	Pprof      PprofConfig      `envPrefix:"PPROF_"`
}

// ProjectionConfig настройки проекции и потребителя
type ProjectionConfig struct {
	Enabled        bool          `env:"ENABLED" envDefault:"true"`
	SequenceGuard  bool          `env:"SEQUENCE_GUARD" envDefault:"true"`
	AtomicMarking  bool          `env:"ATOMIC_MARKING" envDefault:"false"`
	RebuildOnStart bool          `env:"REBUILD_ON_START" envDefault:"false"`
	BatchSize      int           `env:"BATCH_SIZE" envDefault:"100"`
	BatchWait      time.Duration `env:"BATCH_WAIT" envDefault:"1s"`
	// IdempotencyTTL время хранения отметок об обработке, 0 хранит бессрочно
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"168h"`
}

// RelayConfig настройки ретранслятора журнала
type RelayConfig struct {
	Enabled   bool          `env:"ENABLED" envDefault:"false"`
	Interval  time.Duration `env:"INTERVAL" envDefault:"5s"`
	BatchSize int           `env:"BATCH_SIZE" envDefault:"500"`
}

// PostgresConfig подключение к PostgreSQL
type PostgresConfig struct {
	DSN      string `env:"DSN"`
	Schema   string `env:"SCHEMA" envDefault:"public"`
	Table    string `env:"TABLE" envDefault:"event_store"`
	MaxConns int32  `env:"MAX_CONNS" envDefault:"25"`
	Migrate  bool   `env:"MIGRATE" envDefault:"true"`
}

// MongoConfig подключение к MongoDB
type MongoConfig struct {
	URI        string        `env:"URI" envDefault:"mongodb://localhost:27017"`
	Database   string        `env:"DATABASE" envDefault:"orders"`
	Collection string        `env:"COLLECTION" envDefault:"events"`
	Timeout    time.Duration `env:"TIMEOUT" envDefault:"10s"`
}

// RedisConfig подключение к Redis
type RedisConfig struct {
	Addr     string `env:"ADDR" envDefault:"localhost:6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

// PebbleConfig встроенное хранилище модели чтения
type PebbleConfig struct {
	Dir  string `env:"DIR" envDefault:"./data/readmodel"`
	Sync bool   `env:"SYNC" envDefault:"true"`
}

// KafkaConfig подключение к Kafka
type KafkaConfig struct {
	Brokers []string `env:"BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	GroupID string   `env:"GROUP_ID" envDefault:"order-projection"`
}

// NATSConfig подключение к NATS JetStream
type NATSConfig struct {
	URL     string `env:"URL" envDefault:"nats://localhost:4222"`
	Stream  string `env:"STREAM" envDefault:"ORDERS"`
	Durable string `env:"DURABLE" envDefault:"order-projection"`
}

// TracingConfig экспорт трассировки
type TracingConfig struct {
	Enabled      bool    `env:"ENABLED" envDefault:"false"`
	Exporter     string  `env:"EXPORTER" envDefault:"stdout"`
	Endpoint     string  `env:"ENDPOINT"`
	SamplingRate float64 `env:"SAMPLING_RATE" envDefault:"1.0"`
}

// PprofConfig отладочный сервер
type PprofConfig struct {
	Enabled bool   `env:"ENABLED" envDefault:"false"`
	Addr    string `env:"ADDR" envDefault:":6060"`
}

// Load читает конфигурацию из окружения и проверяет ее
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, core.Wrap(err, core.ErrInvalidConfig, "parse environment")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет допустимые значения и обязательные параметры выбранных адаптеров
func (c Config) Validate() error {
	checks := []struct {
		name    string
		value   string
		allowed []string
	}{
		{"EVENT_STORE", c.EventStore, []string{BackendMemory, BackendPostgres, BackendMongo}},
		{"READ_MODEL", c.ReadModel, []string{BackendMemory, BackendRedis, BackendPebble}},
		{"IDEMPOTENCY_STORE", c.IdempotencyStore, []string{BackendMemory, BackendRedis}},
		{"BROKER", c.Broker, []string{BackendMemory, BackendKafka, BackendNATS, BackendRedis}},
	}
	for _, check := range checks {
		if !contains(check.allowed, check.value) {
			return core.Errorf(core.ErrInvalidConfig, "%s=%q, expected one of %v", check.name, check.value, check.allowed)
		}
	}

	if c.EventStore == BackendPostgres && c.Postgres.DSN == "" {
		return core.NewError(core.ErrInvalidConfig, "POSTGRES_DSN is required for EVENT_STORE=postgres")
	}
	if c.Broker == BackendKafka && len(c.Kafka.Brokers) == 0 {
		return core.NewError(core.ErrInvalidConfig, "KAFKA_BROKERS is required for BROKER=kafka")
	}
	if c.HTTPPort <= 0 || c.GRPCPort <= 0 {
		return core.NewError(core.ErrInvalidConfig, "HTTP_PORT and GRPC_PORT must be positive")
	}
	if c.Projection.BatchSize <= 0 {
		return core.NewError(core.ErrInvalidConfig, "PROJECTION_BATCH_SIZE must be positive")
	}
	return nil
}

// UsesRedis сообщает, нужен ли клиент Redis
func (c Config) UsesRedis() bool {
	return c.ReadModel == BackendRedis || c.IdempotencyStore == BackendRedis || c.Broker == BackendRedis
}

// String краткое описание выбранных адаптеров для лога запуска
func (c Config) String() string {
	return fmt.Sprintf("event_store=%s read_model=%s idempotency=%s broker=%s", c.EventStore, c.ReadModel, c.IdempotencyStore, c.Broker)
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
