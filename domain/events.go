package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType тег варианта события
type EventType string

const (
	EventTypeOrderCreated   EventType = "OrderCreated"
	EventTypeItemAdded      EventType = "ItemAdded"
	EventTypeOrderConfirmed EventType = "OrderConfirmed"
)

// SchemaVersion текущая версия схемы всех вариантов
const SchemaVersion = 1

// Event доменное событие заказа.
// Общие поля хранятся в конверте, данные варианта в Payload.
type Event struct {
	ID            string
	OrderID       string
	Sequence      int64
	Timestamp     time.Time
	SchemaVersion int
	Payload       Payload
}

// Type возвращает тег варианта
func (e Event) Type() EventType {
	return e.Payload.EventType()
}

// Payload закрытое множество вариантов события.
// Реализации существуют только в этом пакете.
type Payload interface {
	EventType() EventType
	sealed()
}

// OrderCreated заказ создан
type OrderCreated struct {
	CustomerID string `json:"customerId"`
}

// ItemAdded в заказ добавлена позиция
type ItemAdded struct {
	Product Product `json:"product"`
}

// OrderConfirmed заказ подтвержден
type OrderConfirmed struct{}

func (OrderCreated) EventType() EventType   { return EventTypeOrderCreated }
func (ItemAdded) EventType() EventType      { return EventTypeItemAdded }
func (OrderConfirmed) EventType() EventType { return EventTypeOrderConfirmed }

func (OrderCreated) sealed()   {}
func (ItemAdded) sealed()      {}
func (OrderConfirmed) sealed() {}

// EventFactory назначает событиям идентификатор и время создания.
type EventFactory struct {
	newID func() string
	now   func() time.Time
}

// NewEventFactory создает фабрику с заданными генераторами
func NewEventFactory(newID func() string, now func() time.Time) EventFactory {
	return EventFactory{newID: newID, now: now}
}

// DefaultEventFactory uuid идентификаторы и UTC время
func DefaultEventFactory() EventFactory {
	return NewEventFactory(uuid.NewString, func() time.Time { return time.Now().UTC() })
}

// NewEvent создает событие с очередным порядковым номером агрегата
func (f EventFactory) NewEvent(orderID string, sequence int64, payload Payload) Event {
	if f.newID == nil || f.now == nil {
		f = DefaultEventFactory()
	}
	return Event{
		ID:            f.newID(),
		OrderID:       orderID,
		Sequence:      sequence,
		Timestamp:     f.now(),
		SchemaVersion: SchemaVersion,
		Payload:       payload,
	}
}
