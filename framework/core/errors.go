// Package core предоставляет систему ошибок и базовые интерфейсы компонентов сервиса.
package core

import (
	"errors"
	"fmt"
)

// Коды ошибок сервиса заказов
const (
	ErrInvalidInput        = "INVALID_INPUT"
	ErrOrderNotFound       = "ORDER_NOT_FOUND"
	ErrInvalidState        = "INVALID_STATE"
	ErrPersistenceFailure  = "PERSISTENCE_FAILURE"
	ErrUnknownEventType    = "UNKNOWN_EVENT_TYPE"
	ErrPublishFailure      = "PUBLISH_FAILURE"
	ErrConcurrencyConflict = "CONCURRENCY_CONFLICT"
	ErrInvalidConfig       = "INVALID_CONFIG"
)

// Error ошибка с машиночитаемым кодом.
// Две ошибки с одинаковым кодом считаются эквивалентными для errors.Is.
type Error struct {
	Code    string
	Message string
	Cause   error
}

// Error реализует интерфейс error
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap возвращает причину ошибки
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is проверяет, соответствует ли ошибка коду
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// NewError создает новую ошибку с кодом
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf создает ошибку с кодом и форматированным сообщением
func Errorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap оборачивает существующую ошибку
func Wrap(err error, code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: err}
}

// CodeOf возвращает код первой ошибки с кодом в цепочке или пустую строку.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode проверяет, содержит ли цепочка ошибку с указанным кодом.
func HasCode(err error, code string) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Cause
	}
	return false
}
