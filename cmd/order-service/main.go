package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/akriventsev/orderflow"
	"github.com/akriventsev/orderflow/application"
	"github.com/akriventsev/orderflow/framework/adapters/transport"
	"github.com/akriventsev/orderflow/framework/metrics"
	"github.com/akriventsev/orderflow/framework/observability"
	"github.com/akriventsev/orderflow/internal/config"
	"github.com/akriventsev/orderflow/internal/container"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat).With(
		"service", cfg.ServiceName,
		"version", orderflow.Version,
	)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("service stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracing, err := observability.NewTracingManager(observability.TracingConfig{
		Enabled:          cfg.Tracing.Enabled,
		ServiceName:      cfg.ServiceName,
		ServiceVersion:   orderflow.Version,
		Exporter:         cfg.Tracing.Exporter,
		ExporterEndpoint: cfg.Tracing.Endpoint,
		SamplingRate:     cfg.Tracing.SamplingRate,
		Environment:      cfg.Environment,
	})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	var down shutdown
	down.add(tracing.Stop)

	setup, err := metrics.SetupMetrics(&metrics.MetricsConfig{
		ExporterType:   "prometheus",
		ServiceName:    cfg.ServiceName,
		ServiceVersion: orderflow.Version,
		Environment:    cfg.Environment,
		RuntimeMetrics: true,
	})
	if err != nil {
		return down.run(cfg.ShutdownTimeout, fmt.Errorf("metrics: %w", err))
	}
	down.add(setup.Shutdown)
	m, err := metrics.NewMetricsWithProvider(setup.Provider)
	if err != nil {
		return down.run(cfg.ShutdownTimeout, fmt.Errorf("metrics: %w", err))
	}

	c, err := container.Build(ctx, cfg, m, logger)
	if err != nil {
		return down.run(cfg.ShutdownTimeout, fmt.Errorf("build container: %w", err))
	}
	down.add(c.Close)

	if cfg.Projection.RebuildOnStart {
		if _, err := c.Rebuild(ctx); err != nil {
			return down.run(cfg.ShutdownTimeout, fmt.Errorf("rebuild read model: %w", err))
		}
	}

	health := observability.NewHealthManager(observability.HealthConfig{
		EnablePprof: cfg.Pprof.Enabled,
		PprofAddr:   cfg.Pprof.Addr,
	})
	for name, check := range c.HealthChecks() {
		health.Register(name, check)
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	restCfg := transport.DefaultRESTConfig()
	restCfg.Port = cfg.HTTPPort
	restCfg.ServiceName = cfg.ServiceName
	rest := transport.NewRESTAdapter(restCfg, logger)
	rest.Router().GET("/health", health.HealthCheckHandler())
	rest.Router().GET("/metrics", gin.WrapH(setup.Handler))
	application.NewOrderHTTPHandler(c.Commands, c.Queries).Register(rest.Router())

	grpcCfg := transport.DefaultGRPCConfig()
	grpcCfg.Port = cfg.GRPCPort
	grpcServer := transport.NewGRPCAdapter(grpcCfg, logger)

	grpcStop := func(ctx context.Context) error {
		grpcServer.SetServing(false)
		return grpcServer.Stop(ctx)
	}
	for _, step := range []struct {
		start, stop func(context.Context) error
	}{
		{tracing.Start, nil},
		{health.Start, health.Stop},
		{rest.Start, rest.Stop},
		{grpcServer.Start, grpcStop},
	} {
		if err := step.start(ctx); err != nil {
			return down.run(cfg.ShutdownTimeout, err)
		}
		if step.stop != nil {
			down.add(step.stop)
		}
	}
	logger.Info("order service started", "http_port", cfg.HTTPPort, "grpc_port", cfg.GRPCPort, "adapters", cfg.String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	if cfg.Projection.Enabled {
		g.Go(func() error { return c.Consumer.Run(gctx) })
	}
	if c.Relay != nil {
		g.Go(func() error { return c.Relay.Run(gctx) })
	}
	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	logger.Info("shutting down")
	return down.run(cfg.ShutdownTimeout, runErr)
}

// shutdown останавливает запущенные компоненты в обратном порядке
type shutdown struct {
	steps []func(context.Context) error
}

func (s *shutdown) add(step func(context.Context) error) {
	s.steps = append(s.steps, step)
}

func (s *shutdown) run(timeout time.Duration, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	errs := []error{cause}
	for i := len(s.steps) - 1; i >= 0; i-- {
		errs = append(errs, s.steps[i](ctx))
	}
	s.steps = nil
	return errors.Join(errs...)
}
