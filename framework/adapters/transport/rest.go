// Package transport предоставляет REST и gRPC серверы сервиса.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/akriventsev/orderflow/framework/core"
	"github.com/akriventsev/orderflow/framework/observability"
)

// RESTConfig конфигурация для REST адаптера
type RESTConfig struct {
	Port            int
	ServiceName     string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultRESTConfig возвращает конфигурацию REST по умолчанию
func DefaultRESTConfig() RESTConfig {
	return RESTConfig{
		Port:            8080,
		ServiceName:     "order-service",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// RESTAdapter HTTP сервер на gin с трассировкой и correlation ID
type RESTAdapter struct {
	config  RESTConfig
	router  *gin.Engine
	server  *http.Server
	logger  *slog.Logger
	running bool
	mu      sync.RWMutex
}

// NewRESTAdapter создает новый REST адаптер
func NewRESTAdapter(config RESTConfig, logger *slog.Logger) *RESTAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "rest-adapter")

	router := gin.New()
	router.Use(
		gin.Recovery(),
		observability.HTTPTracingMiddleware(config.ServiceName),
		observability.CorrelationIDMiddleware(),
		RequestLogger(logger),
	)

	return &RESTAdapter{
		config: config,
		router: router,
		logger: logger,
	}
}

// Router возвращает gin router для регистрации маршрутов
func (r *RESTAdapter) Router() *gin.Engine {
	return r.router
}

// Start запускает адаптер (реализация core.Lifecycle)
func (r *RESTAdapter) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", r.config.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", r.config.Port, err)
	}

	r.server = &http.Server{
		Handler:           r.router,
		ReadHeaderTimeout: r.config.ReadTimeout,
		ReadTimeout:       r.config.ReadTimeout,
		WriteTimeout:      r.config.WriteTimeout,
	}
	r.running = true

	go func() {
		if err := r.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", "error", err)
		}
	}()

	r.logger.Info("http server started", "addr", ln.Addr().String())
	return nil
}

// Stop останавливает адаптер (реализация core.Lifecycle)
func (r *RESTAdapter) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return nil
	}
	r.running = false

	shutdownCtx, cancel := context.WithTimeout(ctx, r.config.ShutdownTimeout)
	defer cancel()
	return r.server.Shutdown(shutdownCtx)
}

// IsRunning проверяет, запущен ли адаптер (реализация core.Lifecycle)
func (r *RESTAdapter) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// Name возвращает имя компонента (реализация core.Component)
func (r *RESTAdapter) Name() string {
	return "rest-adapter"
}

// Type возвращает тип компонента (реализация core.Component)
func (r *RESTAdapter) Type() core.ComponentType {
	return core.ComponentTypeTransport
}

// RequestLogger логирует завершенные запросы
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"correlation_id", observability.ExtractCorrelationID(c.Request.Context()),
		)
	}
}

// StatusFor сопоставляет код ошибки HTTP статусу
func StatusFor(err error) int {
	switch core.CodeOf(err) {
	case core.ErrInvalidInput, core.ErrInvalidState:
		return http.StatusBadRequest
	case core.ErrOrderNotFound:
		return http.StatusNotFound
	case core.ErrConcurrencyConflict:
		return http.StatusConflict
	case core.ErrPersistenceFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteError отвечает JSON {"error": ...} со статусом по коду ошибки.
// Текст внутренних ошибок не раскрывается клиенту.
func WriteError(c *gin.Context, err error) {
	status := StatusFor(err)
	_ = c.Error(err)

	message := err.Error()
	var coded *core.Error
	if errors.As(err, &coded) {
		message = coded.Message
	}
	if status == http.StatusInternalServerError {
		message = "internal server error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": message, "code": core.CodeOf(err)})
}
