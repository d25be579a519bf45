// Package orderflow сервис заказов на event sourcing с разделением записи и чтения.
//
// Состав:
//   - domain: агрегат заказа и чистая функция Execute
//   - application: обработчик команд, проекция, запросы, ретранслятор журнала
//   - infrastructure: кодек событий, журнал, модель чтения, кэш идемпотентности
//   - framework: хранилища событий, брокеры, транспорт, метрики и трассировка
//
// Запуск:
//
//	EVENT_STORE=postgres POSTGRES_DSN=postgres://... BROKER=kafka go run ./cmd/order-service
package orderflow

// Версия сервиса
const (
	Version = "1.0.0"
	Major   = 1
	Minor   = 0
	Patch   = 0
)

// Metadata содержит метаданные о сервисе
type Metadata struct {
	Name        string
	Version     string
	Description string
	License     string
}

// GetMetadata возвращает метаданные сервиса
func GetMetadata() Metadata {
	return Metadata{
		Name:        "orderflow",
		Version:     Version,
		Description: "Event-sourced order service with at-least-once projections",
		License:     "MIT",
	}
}
