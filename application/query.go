package application

import (
	"context"
	"time"

	"github.com/akriventsev/orderflow/framework/core"
	"github.com/akriventsev/orderflow/framework/metrics"
	"github.com/akriventsev/orderflow/framework/observability"
	"github.com/akriventsev/orderflow/infrastructure/readmodel"
)

// QueryService чтение представлений заказов
type QueryService struct {
	views   readmodel.Store
	metrics *metrics.Metrics
}

// NewQueryService создает сервис запросов
func NewQueryService(views readmodel.Store, m *metrics.Metrics) *QueryService {
	return &QueryService{views: views, metrics: m}
}

// GetOrderView возвращает представление заказа.
// Пока проекция не обработала OrderCreated, заказ считается не найденным.
func (q *QueryService) GetOrderView(ctx context.Context, orderID string) (readmodel.OrderView, error) {
	start := time.Now()
	view, err := observability.TraceQuery(ctx, "GetOrderView", func(ctx context.Context) (readmodel.OrderView, error) {
		view, found, err := q.views.Get(ctx, orderID)
		if err != nil {
			return readmodel.OrderView{}, core.Wrap(err, core.ErrPersistenceFailure, "read order view")
		}
		if !found {
			return readmodel.OrderView{}, core.Errorf(core.ErrOrderNotFound, "order %s not found", orderID)
		}
		return view, nil
	})
	q.metrics.RecordQuery(ctx, "GetOrderView", time.Since(start), err == nil)
	return view, err
}
