package connectors

import (
	"fmt"
	"time"
)

// AdapterError — типизированная ошибка вызова внешней системы.
// StatusCode сохраняется для диагностики; ядро мапит любую такую ошибку
// в единый вид EXTERNAL_API_ERROR.
type AdapterError struct {
	System     string
	Op         Operation
	StatusCode int
	Message    string
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("%s.%s failed [%d]: %s", e.System, e.Op, e.StatusCode, e.Message)
}

// NewUnsupported — система известна, но операция ею не поддерживается.
func NewUnsupported(system string, op Operation) *AdapterError {
	return &AdapterError{
		System:     system,
		Op:         op,
		StatusCode: 501,
		Message:    "operation not supported by this system",
	}
}

// ThrottleError — внешняя система попросила сбавить темп.
// RetryAfter обычно вычитан из заголовка Retry-After; resilience-слой
// использует его вместо стандартного экспоненциального бэкоффа.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }
