package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/akriventsev/orderflow/framework/core"
	"github.com/akriventsev/orderflow/framework/observability"
)

// GRPCConfig конфигурация для gRPC адаптера
type GRPCConfig struct {
	Port                  int
	MaxConcurrentStreams  uint32
	MaxReceiveMessageSize int
	ServiceName           string
}

// DefaultGRPCConfig возвращает конфигурацию gRPC по умолчанию
func DefaultGRPCConfig() GRPCConfig {
	return GRPCConfig{
		Port:                  50051,
		MaxConcurrentStreams:  100,
		MaxReceiveMessageSize: 4 * 1024 * 1024, // 4MB
		ServiceName:           "orderflow.OrderService",
	}
}

// GRPCAdapter gRPC сервер со стандартным health сервисом
type GRPCAdapter struct {
	config  GRPCConfig
	server  *grpc.Server
	health  *health.Server
	logger  *slog.Logger
	running bool
	mu      sync.RWMutex
}

// NewGRPCAdapter создает новый gRPC адаптер
func NewGRPCAdapter(config GRPCConfig, logger *slog.Logger) *GRPCAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "grpc-adapter")

	server := grpc.NewServer(
		grpc.MaxConcurrentStreams(config.MaxConcurrentStreams),
		grpc.MaxRecvMsgSize(config.MaxReceiveMessageSize),
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor(logger),
			observability.GRPCTracingInterceptor(),
			LoggingInterceptor(logger),
		),
	)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)
	hs.SetServingStatus(config.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	return &GRPCAdapter{
		config: config,
		server: server,
		health: hs,
		logger: logger,
	}
}

// Server возвращает grpc.Server для регистрации сервисов
func (g *GRPCAdapter) Server() *grpc.Server {
	return g.server
}

// SetServing переключает статус health сервиса
func (g *GRPCAdapter) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	g.health.SetServingStatus(g.config.ServiceName, st)
	g.health.SetServingStatus("", st)
}

// Start запускает адаптер (реализация core.Lifecycle)
func (g *GRPCAdapter) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return nil
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", g.config.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", g.config.Port, err)
	}
	g.running = true

	go func() {
		if err := g.server.Serve(ln); err != nil {
			g.logger.Error("grpc server failed", "error", err)
		}
	}()

	g.SetServing(true)
	g.logger.Info("grpc server started", "addr", ln.Addr().String())
	return nil
}

// Stop останавливает адаптер (реализация core.Lifecycle)
func (g *GRPCAdapter) Stop(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.running {
		return nil
	}
	g.running = false
	g.health.Shutdown()

	done := make(chan struct{})
	go func() {
		g.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		g.server.Stop()
	}
	return nil
}

// IsRunning проверяет, запущен ли адаптер (реализация core.Lifecycle)
func (g *GRPCAdapter) IsRunning() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.running
}

// Name возвращает имя компонента (реализация core.Component)
func (g *GRPCAdapter) Name() string {
	return "grpc-adapter"
}

// Type возвращает тип компонента (реализация core.Component)
func (g *GRPCAdapter) Type() core.ComponentType {
	return core.ComponentTypeTransport
}

// RecoveryInterceptor превращает panic в codes.Internal
func RecoveryInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("grpc handler panic", "method", info.FullMethod, "panic", r, "stack", string(debug.Stack()))
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}

// LoggingInterceptor логирует вызовы
func LoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("grpc call",
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"duration", time.Since(start),
		)
		return resp, err
	}
}
