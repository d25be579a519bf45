// Package domain содержит агрегат заказа: состояние, события и правила.
//
// Выполнение команды является чистой функцией (state, cmd) -> (state', events).
// Состояние восстанавливается только сверткой событий журнала.
package domain

import (
	"fmt"
	"slices"
	"strings"

	"github.com/akriventsev/orderflow/framework/core"
)

// Ошибки бизнес-правил
var (
	ErrOrderNotFound    = core.NewError(core.ErrOrderNotFound, "order not found")
	ErrOrderExists      = core.NewError(core.ErrInvalidState, "order already exists")
	ErrOrderConfirmed   = core.NewError(core.ErrInvalidState, "cannot add item to confirmed order")
	ErrAlreadyConfirmed = core.NewError(core.ErrInvalidState, "order already confirmed")
	ErrEmptyOrder       = core.NewError(core.ErrInvalidState, "cannot confirm empty order")
	ErrCustomerRequired = core.NewError(core.ErrInvalidInput, "customerId is required")
	ErrOrderIDRequired  = core.NewError(core.ErrInvalidInput, "orderId is required")
)

// State состояние заказа, полученное сверткой событий.
// Version равен порядковому номеру последнего примененного события.
type State struct {
	OrderID    string
	CustomerID string
	Products   []Product
	Confirmed  bool
	Version    int64
}

// Exists возвращает true, если заказ был создан
func (s State) Exists() bool {
	return s.Version > 0
}

// Apply сворачивает одно историческое событие без проверок.
// Неизвестный вариант означает ошибку программы.
func (s State) Apply(e Event) State {
	switch p := e.Payload.(type) {
	case OrderCreated:
		s.OrderID = e.OrderID
		s.CustomerID = p.CustomerID
		s.Products = nil
		s.Confirmed = false
	case ItemAdded:
		s.Products = append(slices.Clip(s.Products), p.Product)
	case OrderConfirmed:
		s.Confirmed = true
	default:
		panic(fmt.Sprintf("domain: unexpected event payload %T", e.Payload))
	}

	if e.Sequence > 0 {
		s.Version = e.Sequence
	} else {
		s.Version++
	}
	return s
}

// Replay восстанавливает состояние из последовательности событий
func Replay(events []Event) State {
	var s State
	for _, e := range events {
		s = s.Apply(e)
	}
	return s
}

// Command закрытое множество команд агрегата
type Command interface {
	Name() string
	command()
}

// CreateOrder создать заказ
type CreateOrder struct {
	OrderID    string
	CustomerID string
}

// AddProduct добавить позицию
type AddProduct struct {
	Product Product
}

// ConfirmOrder подтвердить заказ
type ConfirmOrder struct{}

func (CreateOrder) Name() string  { return "CreateOrder" }
func (AddProduct) Name() string   { return "AddProduct" }
func (ConfirmOrder) Name() string { return "ConfirmOrder" }

func (CreateOrder) command()  {}
func (AddProduct) command()   {}
func (ConfirmOrder) command() {}

// Decide проверяет команду против состояния и возвращает новые события
func Decide(f EventFactory, s State, cmd Command) ([]Event, error) {
	next := s.Version + 1

	switch c := cmd.(type) {
	case CreateOrder:
		if s.Exists() {
			return nil, ErrOrderExists
		}
		if strings.TrimSpace(c.OrderID) == "" {
			return nil, ErrOrderIDRequired
		}
		if strings.TrimSpace(c.CustomerID) == "" {
			return nil, ErrCustomerRequired
		}
		return []Event{f.NewEvent(c.OrderID, next, OrderCreated{CustomerID: c.CustomerID})}, nil
	case AddProduct:
		if !s.Exists() {
			return nil, ErrOrderNotFound
		}
		if s.Confirmed {
			return nil, ErrOrderConfirmed
		}
		// содержимое позиции проверяет вызывающий, до загрузки агрегата
		return []Event{f.NewEvent(s.OrderID, next, ItemAdded{Product: c.Product})}, nil
	case ConfirmOrder:
		if !s.Exists() {
			return nil, ErrOrderNotFound
		}
		if s.Confirmed {
			return nil, ErrAlreadyConfirmed
		}
		if len(s.Products) == 0 {
			return nil, ErrEmptyOrder
		}
		return []Event{f.NewEvent(s.OrderID, next, OrderConfirmed{})}, nil
	default:
		panic(fmt.Sprintf("domain: unexpected command %T", cmd))
	}
}

// Execute выполняет команду: решение и свертка новых событий в состояние
func Execute(f EventFactory, s State, cmd Command) (State, []Event, error) {
	events, err := Decide(f, s, cmd)
	if err != nil {
		return s, nil, err
	}
	for _, e := range events {
		s = s.Apply(e)
	}
	return s, events, nil
}
