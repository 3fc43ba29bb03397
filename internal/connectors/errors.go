package connectors

import (
	"fmt"
	"time"
)

// ThrottleError возвращается коннектором, когда провайдер просит подождать
// (прочитал Retry-After). ReliabilityWrapper учитывает это в расчете задержки.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }

// DeclineError — бизнес-отказ провайдера (недостаточно средств, инструмент
// невалиден). Ретраить бессмысленно.
type DeclineError struct {
	Code    string
	Message string
}

func (e *DeclineError) Error() string {
	return fmt.Sprintf("provider decline %s: %s", e.Code, e.Message)
}
