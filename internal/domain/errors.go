package domain

import (
	"errors"
	"fmt"
)

// ErrorKind — общая таксономия ошибок ядра. Каждая компонента мапит свои
// сбои в один из этих видов; вид определяет, имеет ли смысл ретрай
// с другим роутингом или действие нужно бросать.
type ErrorKind string

const (
	KindInvalidState       ErrorKind = "INVALID_STATE"       // Нарушено предусловие (не одобрено, неизвестная система)
	KindActionFailed       ErrorKind = "ACTION_FAILED"       // Операция не поддерживается известной системой
	KindExternalAPIError   ErrorKind = "EXTERNAL_API_ERROR"  // Вызов адаптера провалился после всех ретраев
	KindCompensationFailed ErrorKind = "COMPENSATION_FAILED" // Откат не определен или сам провалился
	KindPolicyError        ErrorKind = "POLICY_ERROR"        // Политика риска отсутствует или повреждена
	KindCircuitOpen        ErrorKind = "CIRCUIT_OPEN"        // Resilience-слой отсек вызов
)

// OpError — ошибка операции ядра с видом и диагностическим контекстом.
type OpError struct {
	Kind       ErrorKind `json:"kind"`
	Target     string    `json:"target,omitempty"` // Целевая система, если применимо
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code,omitempty"` // Статус адаптера для диагностики
	Err        error     `json:"-"`
}

func (e *OpError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Target, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *OpError) Unwrap() error { return e.Err }

// NewOpError — общий конструктор.
func NewOpError(kind ErrorKind, target, msg string, cause error) *OpError {
	return &OpError{Kind: kind, Target: target, Message: msg, Err: cause}
}

// KindOf достает вид из цепочки ошибок. Неклассифицированные ошибки
// считаем внешними: так безопаснее для вызывающего.
func KindOf(err error) ErrorKind {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return KindExternalAPIError
}
