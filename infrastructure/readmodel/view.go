// Package readmodel хранит представления заказов, построенные проекцией.
package readmodel

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/akriventsev/orderflow/domain"
)

// OrderView представление заказа для чтения.
// LastSequence порядковый номер последнего примененного события заказа.
type OrderView struct {
	OrderID      string           `json:"orderId"`
	CustomerID   string           `json:"customerId"`
	Products     []domain.Product `json:"products"`
	Confirmed    bool             `json:"confirmed"`
	LastSequence int64            `json:"lastSequence"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

// NewOrderView возвращает пустое представление заказа
func NewOrderView(orderID string) OrderView {
	return OrderView{OrderID: orderID, Products: []domain.Product{}}
}

// Total сумма заказа
func (v OrderView) Total() decimal.Decimal {
	return domain.Total(v.Products)
}

// Clone возвращает копию с независимым списком позиций
func (v OrderView) Clone() OrderView {
	products := make([]domain.Product, len(v.Products))
	copy(products, v.Products)
	v.Products = products
	return v
}

// Store хранилище представлений: одна запись на orderId.
type Store interface {
	// Get возвращает представление и false, если заказ еще не спроецирован
	Get(ctx context.Context, orderID string) (OrderView, bool, error)
	Save(ctx context.Context, view OrderView) error
}

// MarkingStore хранилище, которое сохраняет представление вместе с отметкой
// обработки события в одной атомарной записи.
type MarkingStore interface {
	Store
	IsProcessed(ctx context.Context, eventID string) (bool, error)
	SaveAndMark(ctx context.Context, view OrderView, eventID string) error
}
