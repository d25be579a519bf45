// Copyright 2024 Potter Framework Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthConfig конфигурация health checks и pprof
type HealthConfig struct {
	CheckTimeout time.Duration
	EnablePprof  bool
	PprofAddr    string
}

// DefaultHealthConfig возвращает конфигурацию по умолчанию
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		CheckTimeout: 5 * time.Second,
		PprofAddr:    ":6060",
	}
}

// HealthCheckFunc проверка отдельной зависимости
type HealthCheckFunc func(ctx context.Context) error

// HealthManager реестр health checks хранилищ и брокеров
type HealthManager struct {
	config      HealthConfig
	checks      map[string]HealthCheckFunc
	pprofServer *http.Server
	mu          sync.RWMutex
}

// HealthCheckResult итоговый ответ /health
type HealthCheckResult struct {
	Status    string                 `json:"status"`
	Checks    map[string]CheckResult `json:"checks"`
	Timestamp time.Time              `json:"timestamp"`
}

// CheckResult результат отдельной проверки
type CheckResult struct {
	Status   string        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
}

// NewHealthManager создает новый HealthManager
func NewHealthManager(config HealthConfig) *HealthManager {
	if config.CheckTimeout <= 0 {
		config.CheckTimeout = DefaultHealthConfig().CheckTimeout
	}
	return &HealthManager{
		config: config,
		checks: make(map[string]HealthCheckFunc),
	}
}

// Register регистрирует проверку под именем компонента
func (hm *HealthManager) Register(name string, check HealthCheckFunc) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[name] = check
}

// Check выполняет все проверки
func (hm *HealthManager) Check(ctx context.Context) HealthCheckResult {
	ctx, cancel := context.WithTimeout(ctx, hm.config.CheckTimeout)
	defer cancel()

	hm.mu.RLock()
	names := make([]string, 0, len(hm.checks))
	for name := range hm.checks {
		names = append(names, name)
	}
	checks := make(map[string]HealthCheckFunc, len(hm.checks))
	for k, v := range hm.checks {
		checks[k] = v
	}
	hm.mu.RUnlock()
	sort.Strings(names)

	result := HealthCheckResult{
		Status:    "healthy",
		Checks:    make(map[string]CheckResult, len(names)),
		Timestamp: time.Now().UTC(),
	}
	for _, name := range names {
		start := time.Now()
		err := checks[name](ctx)

		cr := CheckResult{Status: "healthy", Duration: time.Since(start)}
		if err != nil {
			cr.Status = "unhealthy"
			cr.Message = err.Error()
			result.Status = "unhealthy"
		}
		result.Checks[name] = cr
	}
	return result
}

// HealthCheckHandler возвращает Gin handler для health check
func (hm *HealthManager) HealthCheckHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		result := hm.Check(c.Request.Context())
		if result.Status != "healthy" {
			c.JSON(http.StatusServiceUnavailable, result)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// Start запускает pprof server, если он включен
func (hm *HealthManager) Start(ctx context.Context) error {
	if !hm.config.EnablePprof {
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	hm.mu.Lock()
	hm.pprofServer = &http.Server{
		Addr:              hm.config.PprofAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := hm.pprofServer
	hm.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("pprof server failed: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop останавливает pprof server
func (hm *HealthManager) Stop(ctx context.Context) error {
	hm.mu.Lock()
	srv := hm.pprofServer
	hm.pprofServer = nil
	hm.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
